package idgen

import (
	"fmt"
	"sync"
	"time"
)

// Snowflake layout, 64 bits:
//
//	0 | 41 bits ms since epoch | 10 bits worker id | 12 bits sequence
//
// Numbers derived from it are unique per worker and roughly time ordered, which keeps
// the varchar unique indexes on order_no / transaction_no append-friendly.
const (
	epoch          = int64(1704067200000) // 2024-01-01 00:00:00 UTC
	workerIDBits   = 10
	sequenceBits   = 12
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

const (
	PrefixOrder       = "ORD"
	PrefixTransaction = "TXN"
	PrefixPurchase    = "PUR"
	PrefixRefund      = "REF"
)

type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

func NewSnowflake(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, fmt.Errorf("worker id must be within 0-%d, got %d", maxWorkerID, workerID)
	}
	return &Snowflake{workerID: workerID}, nil
}

// Init sets the worker id of the package-level generator. Only the first call has an effect.
func Init(workerID int64) error {
	var err error
	once.Do(func() {
		defaultGenerator, err = NewSnowflake(workerID)
	})
	return err
}

// NextID falls back to worker 1 when Init was never called.
func NextID() int64 {
	_ = Init(1)
	return defaultGenerator.Generate()
}

func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()

	if now == s.timestamp {
		s.sequence = (s.sequence + 1) & maxSequence
		if s.sequence == 0 {
			// sequence exhausted for this millisecond
			for now <= s.timestamp {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}

	s.timestamp = now

	return ((now - epoch) << timestampShift) |
		(s.workerID << workerIDShift) |
		s.sequence
}

// GenerateNo builds a business number such as ORD20261019143052-7281733632.
// The full snowflake id is kept so numbers stay unique within a millisecond burst.
func GenerateNo(prefix string) string {
	id := NextID()
	return fmt.Sprintf("%s%s-%d", prefix, time.Now().UTC().Format("20060102150405"), id)
}

func GenerateOrderNo() string {
	return GenerateNo(PrefixOrder)
}

func GenerateTransactionNo() string {
	return GenerateNo(PrefixTransaction)
}

func GeneratePurchaseNo() string {
	return GenerateNo(PrefixPurchase)
}
