package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/smallbiznis/classpay/internal/payment/domain"
	"github.com/smallbiznis/classpay/internal/testutil"
)

func newPayment(t *testing.T, id snowflake.ID, intentID string) *domain.Payment {
	t.Helper()
	p, err := domain.NewPendingPayment(domain.NewPayment{
		ID:          id,
		Amount:      decimal.RequireFromString("49.99"),
		Currency:    "EUR",
		StudentID:   "stu-1",
		ClassID:     "class-1",
		Description: "Term fee",
		LineItems: []domain.LineItem{
			{Description: "Tuition", UnitPrice: decimal.RequireFromString("24.99"), Quantity: 2},
			{Description: "Registration", UnitPrice: decimal.RequireFromString("0.01"), Quantity: 1},
		},
		Now: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
	}, intentID, 24*time.Hour)
	require.NoError(t, err)
	return p
}

func TestInsertAndFind(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLiteDB(t)
	r := Provide()

	p := newPayment(t, 101, "pi_101")
	require.NoError(t, r.Insert(ctx, db, p))

	got, err := r.FindByID(ctx, db, 101)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Amount.Equal(p.Amount))
	assert.Equal(t, domain.StatePending, got.State)
	assert.Equal(t, "pi_101", got.IntentID())
	assert.Len(t, got.LineItems, 2)
	assert.Equal(t, domain.KindEnrollment, got.Kind())

	missing, err := r.FindByID(ctx, db, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFindByIntentIDForUpdate(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLiteDB(t)
	r := Provide()
	require.NoError(t, r.Insert(ctx, db, newPayment(t, 102, "pi_102")))

	err := db.Transaction(func(tx *gorm.DB) error {
		got, err := r.FindByIntentIDForUpdate(ctx, tx, "pi_102")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, snowflake.ID(102), got.ID)

		none, err := r.FindByIntentIDForUpdate(ctx, tx, "pi_missing")
		require.NoError(t, err)
		assert.Nil(t, none)
		return nil
	})
	require.NoError(t, err)
}

func TestMarkInvoicedIsConditional(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLiteDB(t)
	r := Provide()

	p := newPayment(t, 103, "pi_103")
	require.NoError(t, r.Insert(ctx, db, p))

	ok, err := r.MarkInvoiced(ctx, db, p.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok, "pending payment must not be invoiced")

	_, err = p.ApplyEvent(domain.GatewayEvent{Type: domain.EventTypeSucceeded, IntentID: "pi_103", ChargeID: "ch_1"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, r.UpdateState(ctx, db, p))

	ok, err = r.MarkInvoiced(ctx, db, p.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.MarkInvoiced(ctx, db, p.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	count, err := r.CountUninvoiced(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestPendingEnrollments(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLiteDB(t)
	r := Provide()

	p := newPayment(t, 104, "pi_104")
	require.NoError(t, r.Insert(ctx, db, p))
	_, err := p.ApplyEvent(domain.GatewayEvent{Type: domain.EventTypeSucceeded, IntentID: "pi_104"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, r.UpdateState(ctx, db, p))

	items, err := r.ListPendingEnrollments(ctx, db, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)

	ok, err := r.MarkEnrollmentApplied(ctx, db, p.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = r.MarkEnrollmentApplied(ctx, db, p.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	items, err = r.ListPendingEnrollments(ctx, db, 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestInsertEventDedupes(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewSQLiteDB(t)
	r := Provide()

	record := &domain.EventRecord{
		ID:              1,
		Provider:        "stripe",
		ProviderEventID: "evt_1",
		EventType:       domain.EventTypeSucceeded,
		IntentID:        "pi_1",
		Payload:         datatypes.JSON(`{"id":"evt_1"}`),
		ReceivedAt:      time.Now().UTC(),
	}
	inserted, err := r.InsertEvent(ctx, db, record)
	require.NoError(t, err)
	assert.True(t, inserted)

	record.ID = 2
	inserted, err = r.InsertEvent(ctx, db, record)
	require.NoError(t, err)
	assert.False(t, inserted)

	found, err := r.FindEvent(ctx, db, "stripe", "evt_1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, snowflake.ID(1), found.ID)
	assert.Nil(t, found.ProcessedAt)

	require.NoError(t, r.MarkProcessed(ctx, db, found.ID, time.Now().UTC()))
	found, err = r.FindEvent(ctx, db, "stripe", "evt_1")
	require.NoError(t, err)
	assert.NotNil(t, found.ProcessedAt)
}

func TestInsertEventRendersDialectConflictClause(t *testing.T) {
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "classpay:classpay@tcp(127.0.0.1:3306)/classpay?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true})
	require.NoError(t, err)

	var rendered string
	require.NoError(t, db.Callback().Create().After("gorm:create").Register("test:capture_sql", func(tx *gorm.DB) {
		rendered = tx.Statement.SQL.String()
	}))

	_, err = Provide().InsertEvent(context.Background(), db, &domain.EventRecord{
		ID:              1,
		Provider:        "stripe",
		ProviderEventID: "evt_1",
		EventType:       domain.EventTypeSucceeded,
		Payload:         datatypes.JSON(`{"id":"evt_1"}`),
		ReceivedAt:      time.Now().UTC(),
	})
	require.NoError(t, err)

	assert.Contains(t, rendered, "INSERT INTO `payment_events`")
	assert.Contains(t, rendered, "ON DUPLICATE KEY UPDATE")
	assert.NotContains(t, rendered, "ON CONFLICT")
}
