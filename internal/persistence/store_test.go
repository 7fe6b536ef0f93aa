package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/flowarb/arbitrage-core/internal/types"
)

// newMockStore wires a Store to a sqlmock connection instead of a live
// Postgres instance, mirroring the teacher's MySQLRecorder test setup
// (sqlmock.New + gorm.Open against the mock driver, skipping
// AutoMigrate so expectations stay scoped to the call under test).
func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	return &Store{db: gormDB}, mock
}

func TestSaveOpportunityUpsertsOnConflict(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO "arbitrage_opportunities" .*ON CONFLICT`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	opp := types.Opportunity{
		ID:                uuid.New(),
		Instrument:        "BTC-USDT",
		BuyVenue:          "binanceA",
		SellVenue:         "binanceB",
		ExpectedProfitPct: decimal.NewFromFloat(1.5),
		Confidence:        decimal.NewFromFloat(0.8),
		DetectedTS:        time.Now(),
		ExpiresTS:         time.Now().Add(time.Minute),
		Status:            types.OpportunityStatusDetected,
	}

	err := store.SaveOpportunity(context.Background(), opp)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveExecutionInsertsRecord(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "arbitrage_executions"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(uuid.New().String()))
	mock.ExpectCommit()

	result := types.ExecutionResult{
		OpportunityID:  uuid.New(),
		ExecutedQty:    decimal.NewFromInt(1),
		RealizedProfit: decimal.NewFromFloat(12.5),
		SlippagePct:    decimal.NewFromFloat(0.1),
		EndTS:          time.Now(),
	}

	err := store.SaveExecution(context.Background(), result)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditAppendsEntry(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "audit_log"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	err := store.Audit(context.Background(), "risk-supervisor", "halt", map[string]string{"reason": "daily loss limit"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureOrderPartitionIssuesCreateTable(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS orders_`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := EnsureOrderPartition(context.Background(), store.db, time.Now())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigratorApplyIsIdempotent(t *testing.T) {
	t.Parallel()
	store, mock := newMockStore(t)
	m := NewMigrator(store.db)

	mock.ExpectQuery(`SELECT \* FROM "schema_migrations"`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "schema_migrations"`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("0001_init"))
	mock.ExpectCommit()
	// Second Apply finds the recorded version and inserts nothing.
	mock.ExpectQuery(`SELECT \* FROM "schema_migrations"`).
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("0001_init"))

	err := m.Apply(context.Background(), "0001_init", "initial schema")
	require.NoError(t, err)
	err = m.Apply(context.Background(), "0001_init", "initial schema")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
