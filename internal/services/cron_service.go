package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/vacationrental/booking-backend/internal/database"
	"github.com/vacationrental/booking-backend/internal/metrics"
)

const sweepBatchSize = 100

// CronService manages scheduled background jobs
type CronService struct {
	cron       *cron.Cron
	store      BookingStore
	alerts     OperatorNotifier
	schedule   string
	staleAfter time.Duration
	logger     *logrus.Logger
	now        func() time.Time
}

// NewCronService creates a new CronService
func NewCronService(store BookingStore, alerts OperatorNotifier, schedule string, staleAfter time.Duration, logger *logrus.Logger) *CronService {
	// Seconds precision: "0 */5 * * * *" = every 5 minutes
	c := cron.New(cron.WithSeconds())

	return &CronService{
		cron:       c,
		store:      store,
		alerts:     alerts,
		schedule:   schedule,
		staleAfter: staleAfter,
		logger:     logger,
		now:        time.Now,
	}
}

// Start starts all cron jobs
func (s *CronService) Start() error {
	s.logger.Info("Starting cron service...")

	_, err := s.cron.AddFunc(s.schedule, s.sweepStaleBookingsJob)
	if err != nil {
		return fmt.Errorf("failed to schedule stale booking sweep: %w", err)
	}
	s.logger.WithFields(logrus.Fields{
		"schedule":    s.schedule,
		"stale_after": s.staleAfter.String(),
	}).Info("✓ Scheduled: Stale processing_booking sweep")

	s.cron.Start()
	s.logger.Info("✓ Cron service started successfully")
	return nil
}

// Stop stops all cron jobs and waits for a running job to finish
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("✓ Cron service stopped")
}

func (s *CronService) sweepStaleBookingsJob() {
	startTime := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	moved, err := s.SweepStaleBookings(ctx)
	if err != nil {
		s.logger.WithError(err).Error("[CRON] Stale booking sweep failed")
		return
	}
	if moved > 0 {
		s.logger.WithFields(logrus.Fields{
			"moved":    moved,
			"duration": time.Since(startTime).String(),
		}).Warn("[CRON] Moved stale bookings to manual review")
	}
}

// SweepStaleBookings moves bookings stuck in processing_booking (a crash or timeout
// between payment and reservation) to manual_review and alerts for each one. Returns
// the number of bookings moved.
func (s *CronService) SweepStaleBookings(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.staleAfter)
	stale, err := s.store.ListStaleProcessing(ctx, cutoff, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	moved := 0
	for i := range stale {
		booking := &stale[i]
		reason := fmt.Sprintf("reservation not completed within %s of payment", s.staleAfter)

		err := s.store.MarkStaleForManualReview(ctx, booking.StripePaymentIntentID, reason, cutoff)
		if errors.Is(err, database.ErrStatusConflict) {
			// Finished, parked or reopened since it was listed
			continue
		}
		if err != nil {
			s.logger.WithError(err).WithField("payment_intent_id", booking.StripePaymentIntentID).Error("Failed to park stale booking")
			continue
		}

		moved++
		metrics.ManualReviewTotal.WithLabelValues("stale_processing").Inc()
		s.alerts.NotifyOperator(ctx, SeverityCritical, "Paid booking stuck before reservation", mergeContext(
			bookingAlertContext(booking, ToMinorUnits(booking.GrandTotal)),
			map[string]interface{}{"reason": reason, "last_update": booking.UpdatedAt.Format(time.RFC3339)},
		))
	}
	return moved, nil
}

// RunSweepNow runs the stale booking sweep immediately
func (s *CronService) RunSweepNow(ctx context.Context) (int, error) {
	s.logger.Info("[MANUAL] Running stale booking sweep now...")
	return s.SweepStaleBookings(ctx)
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
	}
}
