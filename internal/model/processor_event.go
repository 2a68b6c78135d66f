package model

import (
	"time"

	"gorm.io/datatypes"
)

// ProcessorEvent stores verified webhook deliveries; (provider, event_id) dedupes redeliveries.
type ProcessorEvent struct {
	ID              int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Provider        string         `gorm:"type:varchar(20);not null;uniqueIndex:ux_processor_events_provider_event,priority:1" json:"provider"`
	EventID         string         `gorm:"type:varchar(128);not null;uniqueIndex:ux_processor_events_provider_event,priority:2" json:"event_id"`
	EventType       string         `gorm:"type:varchar(100);not null;index" json:"event_type"`
	SessionID       string         `gorm:"type:varchar(128);index" json:"session_id"`
	Payload         datatypes.JSON `json:"payload"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
	ProcessingError string         `gorm:"type:text" json:"processing_error,omitempty"`
	CreatedAt       time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ProcessorEvent) TableName() string {
	return "processor_events"
}
