package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/classpay/internal/payment/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const paymentColumns = `id, amount, currency, method, state, student_id, class_id, description,
	gateway_intent_id, gateway_charge_id, failure_reason, invoiced, enrollment_applied_at,
	refunded_at, line_items, created_at, updated_at, expires_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	if payment.LineItems == nil {
		payment.LineItems = []domain.LineItem{}
	}
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.Amount,
		payment.Currency,
		payment.Method,
		payment.State,
		payment.StudentID,
		payment.ClassID,
		payment.Description,
		payment.GatewayIntentID,
		payment.GatewayChargeID,
		payment.FailureReason,
		payment.Invoiced,
		payment.EnrollmentAppliedAt,
		payment.RefundedAt,
		payment.LineItems,
		payment.CreatedAt,
		payment.UpdatedAt,
		payment.ExpiresAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// FindByIDForUpdate must run inside a transaction.
func (r *repo) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	return r.lockOne(ctx, db, "id = ?", id)
}

func (r *repo) FindByIntentIDForUpdate(ctx context.Context, db *gorm.DB, intentID string) (*domain.Payment, error) {
	return r.lockOne(ctx, db, "gateway_intent_id = ?", intentID)
}

func (r *repo) lockOne(ctx context.Context, db *gorm.DB, where string, arg any) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(where, arg).
		Take(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) UpdateState(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET state = ?, gateway_charge_id = ?, failure_reason = ?, refunded_at = ?, updated_at = ?
		 WHERE id = ?`,
		payment.State,
		payment.GatewayChargeID,
		payment.FailureReason,
		payment.RefundedAt,
		payment.UpdatedAt,
		payment.ID,
	).Error
}

func (r *repo) UpdateLineItems(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET amount = ?, line_items = ?, updated_at = ?
		 WHERE id = ? AND state = ?`,
		payment.Amount,
		payment.LineItems,
		payment.UpdatedAt,
		payment.ID,
		domain.StatePending,
	).Error
}

// MarkInvoiced flips the flag only for a SUCCESS record that is not yet invoiced.
func (r *repo) MarkInvoiced(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET invoiced = ?, updated_at = ?
		 WHERE id = ? AND invoiced = ? AND state = ?`,
		true,
		at,
		id,
		false,
		domain.StateSuccess,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkEnrollmentApplied(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET enrollment_applied_at = ?
		 WHERE id = ? AND enrollment_applied_at IS NULL`,
		at,
		id,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListPendingEnrollments returns settled class payments whose enrollment
// marker is unset. The scan takes no row locks.
func (r *repo) ListPendingEnrollments(ctx context.Context, db *gorm.DB, limit int) ([]domain.Payment, error) {
	var items []domain.Payment
	err := db.WithContext(ctx).
		Where("state = ? AND class_id IS NOT NULL AND enrollment_applied_at IS NULL", domain.StateSuccess).
		Order("updated_at ASC, id ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListUninvoiced(ctx context.Context, db *gorm.DB, settledBefore time.Time, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT id
		 FROM payments
		 WHERE state = ? AND invoiced = ? AND updated_at <= ?
		 ORDER BY updated_at ASC, id ASC
		 LIMIT ?`,
		domain.StateSuccess,
		false,
		settledBefore,
		limit,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *repo) CountUninvoiced(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(*)
		 FROM payments
		 WHERE state = ? AND invoiced = ?`,
		domain.StateSuccess,
		false,
	).Scan(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *repo) FindEvent(ctx context.Context, db *gorm.DB, provider string, providerEventID string) (*domain.EventRecord, error) {
	var item domain.EventRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, provider, provider_event_id, event_type, gateway_intent_id,
			payload, received_at, processed_at
		 FROM payment_events
		 WHERE provider = ? AND provider_event_id = ?
		 LIMIT 1`,
		provider,
		providerEventID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// InsertEvent records a delivery; false means the provider event id was
// already recorded. gorm renders the conflict clause for the active dialect.
func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.EventRecord) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_events
		 SET processed_at = ?
		 WHERE id = ?`,
		processedAt,
		id,
	).Error
}
