package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/flowarb/arbitrage-core/internal/observability"
	"github.com/flowarb/arbitrage-core/internal/types"
)

// Store wraps a *gorm.DB with the repository methods the core needs.
// Callers never issue raw SQL outside this package. cache is optional: a
// nil cache just means every read goes straight to Postgres.
type Store struct {
	db     *gorm.DB
	cache  *Cache
	logger *observability.Logger
}

// SetCache attaches a read-through cache to the store's snapshot queries.
// Safe to call once after Open/OpenWithDB; nil disables caching again.
func (s *Store) SetCache(cache *Cache, logger *observability.Logger) {
	s.cache = cache
	s.logger = logger
}

// Open connects to Postgres, creates the partitioned orders parent table
// and runs AutoMigrate for every model in AllModels (which excludes
// OrderRecord). dsn
// follows libpq's key=value or URL form.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return openStore(db)
}

// OpenWithDB wraps an already-constructed *gorm.DB, for tests that supply
// an in-memory or dockertest-backed connection.
func OpenWithDB(db *gorm.DB) (*Store, error) {
	return openStore(db)
}

func openStore(db *gorm.DB) (*Store, error) {
	ctx := context.Background()
	if err := ensureOrdersParentTable(ctx, db); err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("underlying db: %w", err)
	}
	return sqlDB.Close()
}

// SaveOpportunity upserts a detected opportunity. The opportunity's ID is
// always pre-assigned by the detector, so a plain gorm Save would treat
// every call as an update against a row that doesn't exist yet and
// silently affect zero rows; clause.OnConflict is what actually inserts
// on first write and updates on status transitions afterward.
func (s *Store) SaveOpportunity(ctx context.Context, opp types.Opportunity) error {
	record := NewOpportunityRecord(opp)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("save opportunity: %w", err)
	}
	return nil
}

// RecentOpportunities returns the most recently detected opportunities,
// newest first, bounded by limit. Served from the cache when one is
// attached and warm; a cache error or miss falls straight through to
// Postgres rather than failing the read.
func (s *Store) RecentOpportunities(ctx context.Context, limit int) ([]OpportunityRecord, error) {
	key := recentOpportunitiesKey(limit)
	if s.cache != nil {
		var cached []OpportunityRecord
		if hit, err := s.cache.getJSON(ctx, key, &cached); err != nil {
			s.warnCache(ctx, "cache read failed, falling back to postgres", err)
		} else if hit {
			return cached, nil
		}
	}

	var records []OpportunityRecord
	err := s.db.WithContext(ctx).Order("detected_ts DESC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("recent opportunities: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.setJSON(ctx, key, records); err != nil {
			s.warnCache(ctx, "cache write failed", err)
		}
	}
	return records, nil
}

// SaveExecution records a completed execution attempt.
func (s *Store) SaveExecution(ctx context.Context, result types.ExecutionResult) error {
	record := NewExecutionRecord(result)
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("save execution: %w", err)
	}
	return nil
}

// RecentExecutions returns the most recently completed executions, newest
// first, bounded by limit. Same cache-then-postgres shape as
// RecentOpportunities.
func (s *Store) RecentExecutions(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	key := recentExecutionsKey(limit)
	if s.cache != nil {
		var cached []ExecutionRecord
		if hit, err := s.cache.getJSON(ctx, key, &cached); err != nil {
			s.warnCache(ctx, "cache read failed, falling back to postgres", err)
		} else if hit {
			return cached, nil
		}
	}

	var records []ExecutionRecord
	err := s.db.WithContext(ctx).Order("end_ts DESC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("recent executions: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.setJSON(ctx, key, records); err != nil {
			s.warnCache(ctx, "cache write failed", err)
		}
	}
	return records, nil
}

func (s *Store) warnCache(ctx context.Context, msg string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.Warn(ctx, msg, map[string]interface{}{"error": err.Error()})
}

// SaveOrder upserts an order leg's current state, keyed on (client_id,
// created_ts), so saving the same leg again updates its row. The
// execution engine does not call it; cmd/arbitrage-core saves each leg's
// final state once an execution attempt completes.
func (s *Store) SaveOrder(ctx context.Context, o types.Order) error {
	if err := EnsureOrderPartition(ctx, s.db, o.CreatedTS); err != nil {
		return err
	}
	record := NewOrderRecord(o)
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&record).Error
	if err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}

// OrderByClientID looks up a single order leg by its idempotency key.
func (s *Store) OrderByClientID(ctx context.Context, clientID uuid.UUID) (OrderRecord, error) {
	var record OrderRecord
	err := s.db.WithContext(ctx).Where("client_id = ?", clientID).First(&record).Error
	if err != nil {
		return OrderRecord{}, fmt.Errorf("order by client id: %w", err)
	}
	return record, nil
}

// Audit appends a single audit log entry. payload is marshaled to JSON;
// no row is ever updated or deleted after insertion.
func (s *Store) Audit(ctx context.Context, actor, action string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	record := AuditLogRecord{TS: time.Now(), Actor: actor, Action: action, Payload: string(raw)}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// DB exposes the underlying connection for callers that need a capability
// this package doesn't wrap (e.g. a one-off administrative query).
func (s *Store) DB() *gorm.DB {
	return s.db
}
