package finalizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/Domenick1991/flightbooking/internal/kafka"
	"github.com/Domenick1991/flightbooking/internal/metrics"
	"github.com/Domenick1991/flightbooking/internal/repository"
	"github.com/Domenick1991/flightbooking/internal/service/booking"
	"github.com/rs/zerolog"
)

type Result string

const (
	ResultCompleted Result = "completed"
	ResultCancelled Result = "cancelled"
	ResultNoop      Result = "noop"
	ResultLocked    Result = "locked"
	ResultFailed    Result = "failed"
)

type Runner interface {
	Finalize(ctx context.Context, task domain.FinalizeTask) (Result, error)
}

type Compensator interface {
	Compensate(ctx context.Context, b domain.Booking, reason domain.CompensationReason) (booking.Outcome, error)
}

type Locker interface {
	AcquireFinalizeLock(ctx context.Context, bookingID int64, ttl time.Duration) (string, bool, error)
	ReleaseFinalizeLock(ctx context.Context, bookingID int64, token string) error
}

type Finalizer struct {
	bookings    repository.BookingRepository
	flights     repository.FlightRepository
	compensator Compensator
	locker      Locker
	lockTTL     time.Duration
	producer    Producer
	eventsTopic string
	metrics     *metrics.Metrics
	log         zerolog.Logger
	now         func() time.Time
}

type Option func(*Finalizer)

func WithLocker(locker Locker, ttl time.Duration) Option {
	return func(f *Finalizer) {
		f.locker = locker
		f.lockTTL = ttl
	}
}

// WithEvents publishes a booking.completed event for every completion.
func WithEvents(producer Producer, topic string) Option {
	return func(f *Finalizer) {
		f.producer = producer
		f.eventsTopic = topic
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Finalizer) {
		f.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(f *Finalizer) {
		f.now = now
	}
}

func New(bookings repository.BookingRepository, flights repository.FlightRepository, compensator Compensator, log zerolog.Logger, opts ...Option) *Finalizer {
	f := &Finalizer{
		bookings:    bookings,
		flights:     flights,
		compensator: compensator,
		log:         log.With().Str("component", "finalizer").Logger(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Finalize resolves a PROCESSING booking once its delay has elapsed: the
// flight is re-read and the booking either completes or is compensated.
// A booking that is no longer PROCESSING is left alone. The returned error
// is non-nil only when the booking could not be driven to a terminal
// status at all and stays PROCESSING for the sweep.
func (f *Finalizer) Finalize(ctx context.Context, task domain.FinalizeTask) (result Result, err error) {
	defer func() { f.metrics.ObserveFinalizer(string(result)) }()

	log := f.log.With().
		Int64("booking_id", task.BookingID).
		Int64("flight_id", task.FlightID).
		Int64("user_id", task.UserID).
		Logger()

	if f.locker != nil {
		token, ok, lockErr := f.locker.AcquireFinalizeLock(ctx, task.BookingID, f.lockTTL)
		switch {
		case lockErr != nil:
			log.Warn().Err(lockErr).Msg("finalize lock unavailable, continuing on status checks alone")
		case !ok:
			log.Debug().Msg("booking is being finalized elsewhere")
			return ResultLocked, nil
		default:
			defer func() {
				if err := f.locker.ReleaseFinalizeLock(context.WithoutCancel(ctx), task.BookingID, token); err != nil {
					log.Warn().Err(err).Msg("release finalize lock")
				}
			}()
		}
	}

	b, err := f.bookings.FindProcessing(ctx, task.FlightID, task.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Debug().Msg("no processing booking, nothing to finalize")
			return ResultNoop, nil
		}
		return f.abort(ctx, task.Booking(), fmt.Errorf("find processing booking: %w", err), log)
	}
	// A redelivered task for an earlier booking of the same pair must not
	// resolve a newer booking whose own delay has not elapsed.
	if task.BookingID != 0 && b.ID != task.BookingID {
		log.Info().Int64("processing_booking_id", b.ID).Msg("task belongs to an earlier booking, nothing to finalize")
		return ResultNoop, nil
	}

	flight, err := f.flights.GetByID(ctx, task.FlightID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return f.compensate(ctx, *b, domain.ReasonFlightMissing, log)
		}
		return f.abort(ctx, *b, fmt.Errorf("load flight: %w", err), log)
	}

	now := f.now()
	f.persistCompletion(ctx, flight, now, log)

	if !flight.IsUpcoming(now) {
		log.Info().Str("flight_status", string(flight.Status)).Msg("flight no longer bookable")
		return f.compensate(ctx, *b, domain.ReasonFlightUnavailable, log)
	}

	completed, err := f.bookings.Transition(ctx, b.ID, domain.BookingStatusProcessing, domain.BookingStatusCompleted,
		domain.FinalizationDone, domain.ReasonNone)
	if err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			log.Info().Msg("booking resolved concurrently")
			return ResultNoop, nil
		}
		return f.abort(ctx, *b, fmt.Errorf("complete booking: %w", err), log)
	}

	log.Info().Msg("booking completed")
	f.publishCompleted(ctx, *completed, log)
	return ResultCompleted, nil
}

func (f *Finalizer) compensate(ctx context.Context, b domain.Booking, reason domain.CompensationReason, log zerolog.Logger) (Result, error) {
	outcome, err := f.compensator.Compensate(ctx, b, reason)
	if err != nil {
		return f.abort(ctx, b, fmt.Errorf("compensate %s: %w", reason, err), log)
	}
	if outcome == booking.OutcomeSkipped {
		return ResultNoop, nil
	}
	return ResultCancelled, nil
}

// abort makes a best-effort attempt to cancel and refund the booking after
// an unexpected error.
func (f *Finalizer) abort(ctx context.Context, b domain.Booking, cause error, log zerolog.Logger) (Result, error) {
	log.Error().Err(cause).Msg("finalize failed, cancelling booking")

	outcome, err := f.compensator.Compensate(context.WithoutCancel(ctx), b, domain.ReasonFinalizeFailed)
	if err != nil {
		log.Error().Err(err).Msg("best-effort cancel failed, booking left PROCESSING")
		return ResultFailed, errors.Join(cause, err)
	}
	if outcome == booking.OutcomeSkipped {
		return ResultNoop, nil
	}
	return ResultCancelled, nil
}

func (f *Finalizer) publishCompleted(ctx context.Context, b domain.Booking, log zerolog.Logger) {
	if f.producer == nil || f.eventsTopic == "" {
		return
	}
	event := kafka.BookingEvent{
		Type:       kafka.EventBookingCompleted,
		BookingID:  b.ID,
		FlightID:   b.FlightID,
		UserID:     b.UserID,
		Status:     b.Status,
		Amount:     b.TicketPrice,
		OccurredAt: f.now(),
	}
	if err := f.producer.Publish(ctx, f.eventsTopic, event.Key(), event); err != nil {
		log.Warn().Err(err).Msg("publish booking completed")
	}
}

// persistCompletion records APPROVED -> COMPLETED for a flight that has
// already landed.
func (f *Finalizer) persistCompletion(ctx context.Context, flight *domain.Flight, now time.Time, log zerolog.Logger) {
	if !flight.NeedsCompletion(now) {
		return
	}
	if _, err := f.flights.Transition(ctx, flight.ID, domain.FlightStatusApproved, domain.FlightStatusCompleted, nil); err != nil &&
		!errors.Is(err, repository.ErrStaleStatus) {
		log.Warn().Err(err).Msg("persist flight completion")
		return
	}
	flight.Status = domain.FlightStatusCompleted
}
