package services

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vacationrental/booking-backend/internal/models"
)

type fakeTaskClient struct {
	tasks []*asynq.Task
	opts  [][]asynq.Option
	err   error
}

func (f *fakeTaskClient) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return nil, f.err
	}
	return &asynq.TaskInfo{ID: "pi_123", Queue: reservationQueue}, nil
}

func TestReservationQueue_Enqueue(t *testing.T) {
	client := &fakeTaskClient{}
	queue := NewReservationQueue(client, 0, quietLogger())

	require.NoError(t, queue.EnqueueReservation(context.Background(), "pi_123"))

	require.Len(t, client.tasks, 1)
	assert.Equal(t, TypeReservationCreate, client.tasks[0].Type())
	assert.JSONEq(t, `{"payment_intent_id":"pi_123"}`, string(client.tasks[0].Payload()))
	assert.Contains(t, client.opts[0], asynq.TaskID("pi_123"))
}

func TestReservationQueue_DuplicateTaskIsOK(t *testing.T) {
	client := &fakeTaskClient{err: asynq.ErrTaskIDConflict}
	queue := NewReservationQueue(client, 0, quietLogger())

	assert.NoError(t, queue.EnqueueReservation(context.Background(), "pi_123"))
}

func TestReservationQueue_EnqueueError(t *testing.T) {
	client := &fakeTaskClient{err: errors.New("redis: connection refused")}
	queue := NewReservationQueue(client, 0, quietLogger())

	assert.Error(t, queue.EnqueueReservation(context.Background(), "pi_123"))
}

type fakeCompleter struct {
	booking *models.Booking
	err     error
	ids     []string
}

func (f *fakeCompleter) CompleteReservation(_ context.Context, pi string) (*models.Booking, error) {
	f.ids = append(f.ids, pi)
	return f.booking, f.err
}

func TestReservationTaskHandler(t *testing.T) {
	parked := pendingBooking("pi_123")
	parked.BookingStatus = models.BookingStatusManualReview

	tests := []struct {
		name      string
		payload   string
		completer *fakeCompleter
		wantErr   bool
		wantSkip  bool
	}{
		{name: "confirmed", payload: `{"payment_intent_id":"pi_123"}`, completer: &fakeCompleter{booking: pendingBooking("pi_123")}},
		{name: "parked for review is not retried", payload: `{"payment_intent_id":"pi_123"}`, completer: &fakeCompleter{booking: parked, err: errBoom}},
		{name: "store failure is retried", payload: `{"payment_intent_id":"pi_123"}`, completer: &fakeCompleter{err: errBoom}, wantErr: true},
		{name: "malformed payload", payload: `{`, completer: &fakeCompleter{}, wantErr: true, wantSkip: true},
		{name: "missing id", payload: `{}`, completer: &fakeCompleter{}, wantErr: true, wantSkip: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewReservationTaskHandler(tt.completer, quietLogger())
			err := handler.ProcessTask(context.Background(), asynq.NewTask(TypeReservationCreate, []byte(tt.payload)))

			if !tt.wantErr {
				assert.NoError(t, err)
				assert.Equal(t, []string{"pi_123"}, tt.completer.ids)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantSkip, errors.Is(err, asynq.SkipRetry))
		})
	}
}
