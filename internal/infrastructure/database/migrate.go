package database

import (
	"embed"
	"fmt"

	"fandry/internal/config"

	"github.com/pressly/goose/v3"
	"gorm.io/gorm"
)

//go:embed migrations/*/*.sql
var migrations embed.FS

// Migrate applies the versioned SQL migrations with goose. Production deploys use this
// instead of AutoMigrate; the SQL mirrors the gorm models.
func Migrate(db *gorm.DB, cfg *config.DatabaseConfig) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(cfg.Driver); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}

	dir := "migrations/" + cfg.Driver
	if err := goose.Up(sqlDB, dir); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// MigrationStatus prints applied/pending migrations.
func MigrationStatus(db *gorm.DB, cfg *config.DatabaseConfig) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect(cfg.Driver); err != nil {
		return err
	}
	return goose.Status(sqlDB, "migrations/"+cfg.Driver)
}
