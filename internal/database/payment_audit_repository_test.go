package database

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vacationrental/booking-backend/internal/models"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestPaymentAuditLog(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPaymentAuditRepository(db, quietLogger())

		audit := models.NewPaymentAudit(models.PaymentEventReconciliationMismatch, models.PaymentSourceStripeWebhook).
			SetPaymentIntent("pi_1").
			SetEvent("evt_1")
		match := audit.SetAmounts(104400, 99900, "chf")
		require.False(t, match)

		mock.ExpectExec(`INSERT INTO payment_audits`).
			WithArgs(audit.ID, nil, "pi_1", "evt_1",
				"reconciliation_mismatch", "stripe_webhook",
				int64(104400), int64(99900), "chf", false,
				sqlmock.AnyArg(),
				sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
				sqlmock.AnyArg(), sqlmock.AnyArg(),
				sqlmock.AnyArg(), false, sqlmock.AnyArg(),
				sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
				sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Log(ctx, audit))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Fills ID and timestamp", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPaymentAuditRepository(db, quietLogger())

		mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnResult(sqlmock.NewResult(0, 1))

		audit := &models.PaymentAudit{EventType: models.PaymentEventWebhookReceived, EventSource: models.PaymentSourceStripeWebhook}
		require.NoError(t, repo.Log(ctx, audit))
		assert.NotEqual(t, uuid.Nil, audit.ID)
		assert.False(t, audit.CreatedAt.IsZero())
	})

	t.Run("Nil audit", func(t *testing.T) {
		db, _ := newMockDB(t)
		repo := NewPaymentAuditRepository(db, quietLogger())
		assert.Error(t, repo.Log(ctx, nil))
	})

	t.Run("Database Error", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPaymentAuditRepository(db, quietLogger())

		mock.ExpectExec(`INSERT INTO payment_audits`).WillReturnError(fmt.Errorf("disk full"))

		err := repo.Log(ctx, models.NewPaymentAudit(models.PaymentEventInitiated, models.PaymentSourceBackend))
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to log payment audit")
	})
}

func TestPaymentAuditReads(t *testing.T) {
	ctx := context.Background()
	columns := []string{"id", "payment_intent_id", "event_type", "event_source", "amounts_match", "is_duplicate", "created_at"}

	t.Run("GetByPaymentIntentID", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPaymentAuditRepository(db, quietLogger())
		now := time.Now()

		mock.ExpectQuery(`SELECT \* FROM payment_audits\s+WHERE payment_intent_id = \$1`).
			WithArgs("pi_1").
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow(uuid.New().String(), "pi_1", "payment_initiated", "backend", nil, false, now).
				AddRow(uuid.New().String(), "pi_1", "payment_success", "stripe_webhook", true, false, now))

		audits, err := repo.GetByPaymentIntentID(ctx, "pi_1")
		require.NoError(t, err)
		require.Len(t, audits, 2)
		assert.Equal(t, models.PaymentEventSuccess, audits[1].EventType)
		require.NotNil(t, audits[1].AmountsMatch)
		assert.True(t, *audits[1].AmountsMatch)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("GetAmountMismatches", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPaymentAuditRepository(db, quietLogger())

		mock.ExpectQuery(`WHERE amounts_match = FALSE`).
			WithArgs(20).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow(uuid.New().String(), "pi_9", "reconciliation_mismatch", "stripe_webhook", false, false, time.Now()))

		audits, err := repo.GetAmountMismatches(ctx, 20)
		require.NoError(t, err)
		require.Len(t, audits, 1)
		assert.Equal(t, models.PaymentEventReconciliationMismatch, audits[0].EventType)
	})

	t.Run("Query Error", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewPaymentAuditRepository(db, quietLogger())

		mock.ExpectQuery(`WHERE amounts_match = FALSE`).WillReturnError(fmt.Errorf("timeout"))

		audits, err := repo.GetAmountMismatches(ctx, 20)
		assert.Error(t, err)
		assert.Nil(t, audits)
	})
}
