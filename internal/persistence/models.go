// Package persistence is the core's write path for everything that must
// outlive a process restart: detected opportunities, completed
// executions, the order book of record, and an append-only audit trail.
// Decimal fields are stored as their canonical string form rather than
// float columns, following the teacher's own big.Int-as-varchar
// convention for values that must round-trip exactly.
package persistence

import (
	"time"

	"github.com/google/uuid"

	"github.com/flowarb/arbitrage-core/internal/types"
)

// OpportunityRecord is the durable form of a detected opportunity.
type OpportunityRecord struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	Instrument     string    `gorm:"index;not null"`
	BuyVenue       string    `gorm:"not null"`
	SellVenue      string    `gorm:"not null"`
	ProfitPct      string    `gorm:"type:varchar(64);not null"`
	Confidence     string    `gorm:"type:varchar(64);not null"`
	DetectedTS     time.Time `gorm:"index;not null"`
	ExpiresTS      time.Time `gorm:"not null"`
	Status         string    `gorm:"index;not null"`
}

func (OpportunityRecord) TableName() string { return "arbitrage_opportunities" }

func NewOpportunityRecord(opp types.Opportunity) OpportunityRecord {
	return OpportunityRecord{
		ID:         opp.ID,
		Instrument: string(opp.Instrument),
		BuyVenue:   string(opp.BuyVenue),
		SellVenue:  string(opp.SellVenue),
		ProfitPct:  opp.ExpectedProfitPct.String(),
		Confidence: opp.Confidence.String(),
		DetectedTS: opp.DetectedTS,
		ExpiresTS:  opp.ExpiresTS,
		Status:     string(opp.Status),
	}
}

// ExecutionRecord is the durable form of a completed (or abandoned)
// execution attempt.
type ExecutionRecord struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	OpportunityID  uuid.UUID `gorm:"type:uuid;index;not null"`
	BuyOrderID     string    `gorm:"not null"`
	SellOrderID    string    `gorm:"not null"`
	ExecutedQty    string    `gorm:"type:varchar(64);not null"`
	RealizedProfit string    `gorm:"type:varchar(64);not null"`
	SlippagePct    string    `gorm:"type:varchar(64);not null"`
	EndTS          time.Time `gorm:"index;not null"`
}

func (ExecutionRecord) TableName() string { return "arbitrage_executions" }

func NewExecutionRecord(result types.ExecutionResult) ExecutionRecord {
	return ExecutionRecord{
		OpportunityID:  result.OpportunityID,
		BuyOrderID:     result.BuyOrder.ClientID.String(),
		SellOrderID:    result.SellOrder.ClientID.String(),
		ExecutedQty:    result.ExecutedQty.String(),
		RealizedProfit: result.RealizedProfit.String(),
		SlippagePct:    result.SlippagePct.String(),
		EndTS:          result.EndTS,
	}
}

// OrderRecord is the durable form of a single venue order leg. The table
// is range-partitioned by day on created_ts; EnsureOrderPartition (see
// migrate.go) creates the child partition for a given day.
type OrderRecord struct {
	ClientID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	VenueOrderID string    `gorm:"index"`
	Venue        string    `gorm:"not null"`
	Instrument   string    `gorm:"index;not null"`
	Side         string    `gorm:"not null"`
	Type         string    `gorm:"not null"`
	Qty          string    `gorm:"type:varchar(64);not null"`
	Price        string    `gorm:"type:varchar(64)"`
	State        string    `gorm:"index;not null"`
	FilledQty    string    `gorm:"type:varchar(64);not null"`
	AvgFillPrice string    `gorm:"type:varchar(64)"`
	CreatedTS    time.Time `gorm:"primaryKey;not null"`
	UpdatedTS    time.Time `gorm:"not null"`
}

func (OrderRecord) TableName() string { return "orders" }

func NewOrderRecord(o types.Order) OrderRecord {
	return OrderRecord{
		ClientID:     o.ClientID,
		VenueOrderID: o.VenueOrderID,
		Venue:        string(o.Venue),
		Instrument:   string(o.Instrument),
		Side:         string(o.Side),
		Type:         string(o.Type),
		Qty:          o.Qty.String(),
		Price:        o.Price.String(),
		State:        string(o.State),
		FilledQty:    o.FilledQty.String(),
		AvgFillPrice: o.AvgFillPrice.String(),
		CreatedTS:    o.CreatedTS,
		UpdatedTS:    o.UpdatedTS,
	}
}

// AuditLogRecord is one append-only entry in the audit trail. Rows are
// never updated or deleted by application code.
type AuditLogRecord struct {
	ID      uint64    `gorm:"primaryKey;autoIncrement"`
	TS      time.Time `gorm:"index;not null"`
	Actor   string    `gorm:"not null"`
	Action  string    `gorm:"index;not null"`
	Payload string    `gorm:"type:jsonb"`
}

func (AuditLogRecord) TableName() string { return "audit_log" }

// MigrationRecord tracks schema migrations applied against this database,
// including whether one was later rolled back.
type MigrationRecord struct {
	Version     string     `gorm:"primaryKey"`
	Description string     `gorm:"not null"`
	AppliedAt   time.Time  `gorm:"not null"`
	RolledBackAt *time.Time `gorm:"column:rolled_back_at"`
}

func (MigrationRecord) TableName() string { return "schema_migrations" }

// AllModels lists every model AutoMigrate should know about. OrderRecord
// is deliberately excluded: its parent table must be declared
// `PARTITION BY RANGE` at creation time via raw SQL (see
// ensureOrdersParentTable in migrate.go) before AutoMigrate can safely
// reconcile its columns.
func AllModels() []interface{} {
	return []interface{}{
		&OpportunityRecord{},
		&ExecutionRecord{},
		&AuditLogRecord{},
		&MigrationRecord{},
	}
}
