package booking

import (
	"context"
	"errors"
	"time"

	"github.com/Domenick1991/flightbooking/internal/apperr"
	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/Domenick1991/flightbooking/internal/kafka"
	"github.com/Domenick1991/flightbooking/internal/ledger"
	"github.com/Domenick1991/flightbooking/internal/metrics"
	"github.com/Domenick1991/flightbooking/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type BookingUseCase interface {
	CreateBooking(ctx context.Context, input CreateBookingInput) (*domain.Booking, error)
	GetBooking(ctx context.Context, id int64) (*domain.Booking, error)
	ListUserBookings(ctx context.Context, userID int64) ([]domain.Booking, error)
	ListFlightBookings(ctx context.Context, flightID int64) ([]domain.Booking, error)
	RefundFlight(ctx context.Context, bookings []domain.Booking) RefundSummary
}

type Ledger interface {
	Balance(ctx context.Context, userID int64) (decimal.Decimal, error)
	Debit(ctx context.Context, userID int64, amount decimal.Decimal) error
	Credit(ctx context.Context, userID int64, amount decimal.Decimal) error
}

// FinalizeScheduler hands a persisted booking to the finalizer.
type FinalizeScheduler interface {
	Schedule(ctx context.Context, task domain.FinalizeTask) error
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value any) error
}

type CreateBookingInput struct {
	FlightID int64 `json:"flight_id" validate:"required,gt=0"`
	UserID   int64 `json:"user_id" validate:"required,gt=0"`
}

type RefundSummary struct {
	Refunded      []int64 `json:"refunded"`
	RefundPending []int64 `json:"refund_pending"`
	Skipped       []int64 `json:"skipped"`
}

type BookingService struct {
	bookings      repository.BookingRepository
	flights       repository.FlightRepository
	ledger        Ledger
	scheduler     FinalizeScheduler
	compensator   *Compensator
	producer      Producer
	eventsTopic   string
	finalizeDelay time.Duration
	validate      *validator.Validate
	metrics       *metrics.Metrics
	log           zerolog.Logger
	now           func() time.Time
}

type BookingServiceOption func(*BookingService)

func WithEvents(producer Producer, topic string) BookingServiceOption {
	return func(s *BookingService) {
		s.producer = producer
		s.eventsTopic = topic
	}
}

func WithMetrics(m *metrics.Metrics) BookingServiceOption {
	return func(s *BookingService) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) BookingServiceOption {
	return func(s *BookingService) {
		s.now = now
	}
}

func NewBookingService(
	bookings repository.BookingRepository,
	flights repository.FlightRepository,
	ledger Ledger,
	scheduler FinalizeScheduler,
	compensator *Compensator,
	finalizeDelay time.Duration,
	log zerolog.Logger,
	opts ...BookingServiceOption,
) *BookingService {
	service := &BookingService{
		bookings:      bookings,
		flights:       flights,
		ledger:        ledger,
		scheduler:     scheduler,
		compensator:   compensator,
		finalizeDelay: finalizeDelay,
		validate:      validator.New(),
		log:           log.With().Str("component", "booking_orchestrator").Logger(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// CreateBooking admits a booking: the balance is checked and debited
// synchronously, the booking is stored as PROCESSING with a finalization
// timer, and the result is left to the finalizer. Any failure before the
// booking row exists leaves no booking and no debit behind.
func (s *BookingService) CreateBooking(ctx context.Context, input CreateBookingInput) (_ *domain.Booking, err error) {
	defer func() { s.metrics.ObserveAdmission(admissionOutcome(err)) }()

	if err := s.validate.Struct(input); err != nil {
		return nil, apperr.FromValidator(err)
	}

	log := s.log.With().Int64("flight_id", input.FlightID).Int64("user_id", input.UserID).Logger()

	flight, err := s.flights.GetByID(ctx, input.FlightID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("flight", input.FlightID)
		}
		return nil, apperr.Internal("failed to load flight", err)
	}

	if !flight.IsUpcoming(s.now()) {
		return nil, apperr.InvalidState("flight not bookable",
			[]string{string(domain.FlightStatusApproved) + " and upcoming"}, string(flight.Status))
	}

	existing, err := s.bookings.FindActive(ctx, input.FlightID, input.UserID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.Internal("failed to check existing bookings", err)
	}
	if existing != nil {
		return nil, apperr.Conflict("user already has an active booking for this flight").
			WithDetails(map[string]any{"booking_id": existing.ID, "status": existing.Status})
	}

	price := flight.TicketPrice

	balance, err := s.ledger.Balance(ctx, input.UserID)
	if err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			return nil, apperr.NotFound("user", input.UserID)
		}
		return nil, apperr.Upstream("failed to read user balance", err)
	}
	if balance.LessThan(price) {
		return nil, apperr.InsufficientFunds(balance.StringFixed(2), price.StringFixed(2))
	}

	if err := s.ledger.Debit(ctx, input.UserID, price); err != nil {
		return nil, apperr.Upstream("failed to debit user balance", err)
	}

	now := s.now()
	booking := &domain.Booking{
		FlightID:    input.FlightID,
		UserID:      input.UserID,
		TicketPrice: price,
	}
	dueAt := now.Add(s.finalizeDelay)
	if err := s.bookings.CreateProcessing(ctx, booking, dueAt); err != nil {
		s.reverseDebit(ctx, input.UserID, price, log)
		if errors.Is(err, repository.ErrDuplicateActiveBooking) {
			return nil, apperr.Conflict("user already has an active booking for this flight")
		}
		return nil, apperr.Internal("failed to create booking", err)
	}

	log = log.With().Int64("booking_id", booking.ID).Logger()
	log.Info().Str("amount", price.StringFixed(2)).Time("due_at", dueAt).Msg("booking admitted")

	task := domain.FinalizeTask{
		BookingID:   booking.ID,
		FlightID:    booking.FlightID,
		UserID:      booking.UserID,
		TicketPrice: booking.TicketPrice,
		DueAt:       dueAt,
	}
	if err := s.scheduler.Schedule(ctx, task); err != nil {
		// The finalization row is already durable; the sweep picks it up.
		log.Warn().Err(err).Msg("schedule finalizer, leaving it to the sweep")
	}

	s.publish(ctx, kafka.EventBookingAdmitted, *booking)
	return booking, nil
}

// reverseDebit gives the money back when the booking row could not be
// written after a successful debit.
func (s *BookingService) reverseDebit(ctx context.Context, userID int64, amount decimal.Decimal, log zerolog.Logger) {
	if err := s.ledger.Credit(context.WithoutCancel(ctx), userID, amount); err != nil {
		log.Error().Err(err).Str("amount", amount.StringFixed(2)).Msg("reverse debit after failed booking insert")
		return
	}
	log.Info().Str("amount", amount.StringFixed(2)).Msg("debit reversed")
}

func (s *BookingService) GetBooking(ctx context.Context, id int64) (*domain.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("booking", id)
		}
		return nil, apperr.Internal("failed to load booking", err)
	}
	return booking, nil
}

func (s *BookingService) ListUserBookings(ctx context.Context, userID int64) ([]domain.Booking, error) {
	if userID <= 0 {
		return nil, apperr.Validation("user_id must be positive", nil)
	}
	bookings, err := s.bookings.ListByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Internal("failed to list bookings", err)
	}
	return bookings, nil
}

func (s *BookingService) ListFlightBookings(ctx context.Context, flightID int64) ([]domain.Booking, error) {
	if flightID <= 0 {
		return nil, apperr.Validation("flight_id must be positive", nil)
	}
	bookings, err := s.bookings.ListByFlight(ctx, flightID)
	if err != nil {
		return nil, apperr.Internal("failed to list bookings", err)
	}
	return bookings, nil
}

// RefundFlight compensates the completed bookings of a cancelled flight.
// A refund that cannot be credited now stays queued for the sweep and is
// reported under RefundPending.
func (s *BookingService) RefundFlight(ctx context.Context, bookings []domain.Booking) RefundSummary {
	summary := RefundSummary{
		Refunded:      make([]int64, 0),
		RefundPending: make([]int64, 0),
		Skipped:       make([]int64, 0),
	}
	for _, b := range bookings {
		outcome, err := s.compensator.Compensate(ctx, b, domain.ReasonFlightCancelled)
		if err != nil {
			s.log.Error().Err(err).Int64("booking_id", b.ID).Msg("compensate cancelled flight booking")
			summary.Skipped = append(summary.Skipped, b.ID)
			continue
		}
		switch outcome {
		case OutcomeRefunded:
			summary.Refunded = append(summary.Refunded, b.ID)
		case OutcomeRefundPending:
			summary.RefundPending = append(summary.RefundPending, b.ID)
		default:
			summary.Skipped = append(summary.Skipped, b.ID)
		}
	}
	return summary
}

func (s *BookingService) publish(ctx context.Context, eventType kafka.EventType, b domain.Booking) {
	if s.producer == nil || s.eventsTopic == "" {
		return
	}
	event := kafka.BookingEvent{
		Type:       eventType,
		BookingID:  b.ID,
		FlightID:   b.FlightID,
		UserID:     b.UserID,
		Status:     b.Status,
		Amount:     b.TicketPrice,
		OccurredAt: s.now(),
	}
	if err := s.producer.Publish(ctx, s.eventsTopic, event.Key(), event); err != nil {
		s.log.Warn().Err(err).Int64("booking_id", b.ID).Msg("publish booking event")
	}
}

func admissionOutcome(err error) string {
	if err == nil {
		return "accepted"
	}
	return string(apperr.As(err).Code)
}

var _ BookingUseCase = (*BookingService)(nil)
