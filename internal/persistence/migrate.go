package persistence

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ensureOrdersParentTable declares the orders table itself as range-
// partitioned by created_ts. AutoMigrate has no notion of declarative
// partitioning, so the parent table is created with raw SQL once, up
// front; AutoMigrate can then be pointed at OrderRecord afterward to
// reconcile columns on top of it without touching the partitioning clause.
func ensureOrdersParentTable(ctx context.Context, db *gorm.DB) error {
	stmt := `CREATE TABLE IF NOT EXISTS orders (
		client_id uuid NOT NULL,
		venue_order_id text,
		venue text NOT NULL,
		instrument text NOT NULL,
		side text NOT NULL,
		type text NOT NULL,
		qty varchar(64) NOT NULL,
		price varchar(64),
		state text NOT NULL,
		filled_qty varchar(64) NOT NULL,
		avg_fill_price varchar(64),
		created_ts timestamptz NOT NULL,
		updated_ts timestamptz NOT NULL,
		PRIMARY KEY (client_id, created_ts)
	) PARTITION BY RANGE (created_ts)`
	if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
		return fmt.Errorf("create orders parent table: %w", err)
	}
	return nil
}

// EnsureOrderPartition creates the day partition for ts if it doesn't
// already exist. Postgres native partitioning is declarative (the parent
// table is declared PARTITION BY RANGE once, in the initial migration);
// this only creates the child partitions as new days are written to,
// since the core can't know the full date range up front.
func EnsureOrderPartition(ctx context.Context, db *gorm.DB, ts time.Time) error {
	day := ts.UTC().Truncate(24 * time.Hour)
	next := day.Add(24 * time.Hour)
	partition := fmt.Sprintf("orders_%s", day.Format("20060102"))

	stmt := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF orders FOR VALUES FROM ('%s') TO ('%s')`,
		partition, day.Format(time.RFC3339), next.Format(time.RFC3339),
	)
	if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
		return fmt.Errorf("ensure order partition %s: %w", partition, err)
	}
	return nil
}

// Migrator tracks which schema migrations have run, recording rollbacks
// against the same row rather than deleting it, so the audit trail of
// what happened to the schema is never lost.
type Migrator struct {
	db *gorm.DB
}

func NewMigrator(db *gorm.DB) *Migrator {
	return &Migrator{db: db}
}

// Apply records that a migration identified by version ran, unless it is
// already recorded.
func (m *Migrator) Apply(ctx context.Context, version, description string) error {
	var existing MigrationRecord
	err := m.db.WithContext(ctx).Where("version = ?", version).First(&existing).Error
	if err == nil {
		return nil // already applied
	}
	if err != gorm.ErrRecordNotFound {
		return fmt.Errorf("check migration %s: %w", version, err)
	}
	record := MigrationRecord{Version: version, Description: description, AppliedAt: time.Now()}
	if err := m.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("record migration %s: %w", version, err)
	}
	return nil
}

// Rollback marks a previously applied migration as rolled back by
// stamping rolled_back_at; it does not attempt to reverse the schema
// change itself, that's the caller's responsibility.
func (m *Migrator) Rollback(ctx context.Context, version string) error {
	now := time.Now()
	result := m.db.WithContext(ctx).Model(&MigrationRecord{}).
		Where("version = ? AND rolled_back_at IS NULL", version).
		Update("rolled_back_at", &now)
	if result.Error != nil {
		return fmt.Errorf("rollback migration %s: %w", version, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("migration %s not found or already rolled back", version)
	}
	return nil
}

// Applied returns every migration recorded, in apply order.
func (m *Migrator) Applied(ctx context.Context) ([]MigrationRecord, error) {
	var records []MigrationRecord
	err := m.db.WithContext(ctx).Order("applied_at ASC").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	return records, nil
}
