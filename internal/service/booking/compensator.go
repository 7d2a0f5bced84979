package booking

import (
	"context"
	"errors"
	"time"

	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/Domenick1991/flightbooking/internal/kafka"
	"github.com/Domenick1991/flightbooking/internal/metrics"
	"github.com/Domenick1991/flightbooking/internal/repository"
	"github.com/rs/zerolog"
)

type Outcome string

const (
	OutcomeRefunded      Outcome = "refunded"
	OutcomeRefundPending Outcome = "refund_pending"
	OutcomeNoRefund      Outcome = "no_refund"
	OutcomeSkipped       Outcome = "skipped"
)

// Compensator is the single place a booking is driven to CANCELLED or
// REFUNDED and its ticket price credited back.
type Compensator struct {
	bookings    repository.BookingRepository
	ledger      Ledger
	producer    Producer
	eventsTopic string
	metrics     *metrics.Metrics
	log         zerolog.Logger
	now         func() time.Time
}

type CompensatorOption func(*Compensator)

func WithCompensatorEvents(producer Producer, topic string) CompensatorOption {
	return func(c *Compensator) {
		c.producer = producer
		c.eventsTopic = topic
	}
}

func WithCompensatorMetrics(m *metrics.Metrics) CompensatorOption {
	return func(c *Compensator) {
		c.metrics = m
	}
}

func NewCompensator(bookings repository.BookingRepository, ledger Ledger, log zerolog.Logger, opts ...CompensatorOption) *Compensator {
	c := &Compensator{
		bookings: bookings,
		ledger:   ledger,
		log:      log.With().Str("component", "compensator").Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compensate moves booking to reason.TargetStatus() and, for refundable
// reasons, credits the ticket price back. The status change and the
// REFUND_PENDING marker are committed before the ledger is called, so a
// failed or interrupted credit is left for the sweep to retry. If the
// booking already left its status, another path compensated it and nothing
// is credited.
func (c *Compensator) Compensate(ctx context.Context, b domain.Booking, reason domain.CompensationReason) (Outcome, error) {
	target := reason.TargetStatus()
	if !b.Status.CanTransitionTo(target) {
		c.metrics.ObserveCompensation(string(reason), string(OutcomeSkipped))
		return OutcomeSkipped, nil
	}

	state := domain.FinalizationDone
	if reason.Refundable() {
		state = domain.FinalizationRefundPending
	}

	log := c.log.With().
		Int64("booking_id", b.ID).
		Int64("flight_id", b.FlightID).
		Int64("user_id", b.UserID).
		Str("reason", string(reason)).
		Logger()

	updated, err := c.bookings.Transition(ctx, b.ID, b.Status, target, state, reason)
	if err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			log.Info().Msg("booking already resolved, skipping compensation")
			c.metrics.ObserveCompensation(string(reason), string(OutcomeSkipped))
			return OutcomeSkipped, nil
		}
		return "", err
	}

	if !reason.Refundable() {
		log.Warn().Str("amount", b.TicketPrice.StringFixed(2)).Msg("booking cancelled without refund: flight no longer exists")
		c.publish(ctx, kafka.EventBookingAnomaly, *updated, reason)
		c.metrics.ObserveCompensation(string(reason), string(OutcomeNoRefund))
		return OutcomeNoRefund, nil
	}

	outcome := c.credit(ctx, *updated, reason, log)
	return outcome, nil
}

// RetryRefund re-attempts the credit of a REFUND_PENDING finalization.
func (c *Compensator) RetryRefund(ctx context.Context, f domain.Finalization) Outcome {
	b := domain.Booking{
		ID:          f.BookingID,
		FlightID:    f.FlightID,
		UserID:      f.UserID,
		TicketPrice: f.TicketPrice,
		Status:      f.BookingStatus,
	}
	log := c.log.With().
		Int64("booking_id", f.BookingID).
		Int64("user_id", f.UserID).
		Int("attempt", f.Attempts+1).
		Str("reason", string(f.Reason)).
		Logger()
	return c.credit(ctx, b, f.Reason, log)
}

func (c *Compensator) credit(ctx context.Context, b domain.Booking, reason domain.CompensationReason, log zerolog.Logger) Outcome {
	if err := c.ledger.Credit(ctx, b.UserID, b.TicketPrice); err != nil {
		log.Error().Err(err).Str("amount", b.TicketPrice.StringFixed(2)).Msg("refund credit failed, left for retry")
		if err := c.bookings.SetFinalizationState(ctx, b.ID, domain.FinalizationRefundPending, err.Error()); err != nil {
			log.Error().Err(err).Msg("record refund failure")
		}
		c.publish(ctx, kafka.EventRefundFailed, b, reason)
		c.metrics.ObserveCompensation(string(reason), string(OutcomeRefundPending))
		return OutcomeRefundPending
	}

	if err := c.bookings.SetFinalizationState(ctx, b.ID, domain.FinalizationDone, ""); err != nil {
		// The credit went through; a stale REFUND_PENDING row would credit twice.
		log.Error().Err(err).Msg("refund credited but finalization not marked done")
	}

	log.Info().Str("amount", b.TicketPrice.StringFixed(2)).Msg("refund credited")
	eventType := kafka.EventBookingCancelled
	if b.Status == domain.BookingStatusRefunded {
		eventType = kafka.EventBookingRefunded
	}
	c.publish(ctx, eventType, b, reason)
	c.metrics.ObserveCompensation(string(reason), string(OutcomeRefunded))
	return OutcomeRefunded
}

func (c *Compensator) publish(ctx context.Context, eventType kafka.EventType, b domain.Booking, reason domain.CompensationReason) {
	if c.producer == nil || c.eventsTopic == "" {
		return
	}
	event := kafka.BookingEvent{
		Type:       eventType,
		BookingID:  b.ID,
		FlightID:   b.FlightID,
		UserID:     b.UserID,
		Status:     b.Status,
		Reason:     reason,
		Amount:     b.TicketPrice,
		OccurredAt: c.now(),
	}
	if err := c.producer.Publish(ctx, c.eventsTopic, event.Key(), event); err != nil {
		c.log.Warn().Err(err).Int64("booking_id", b.ID).Str("event", string(eventType)).Msg("publish booking event")
	}
}
