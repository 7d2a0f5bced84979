package flights

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/Domenick1991/flightbooking/internal/apperr"
	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/Domenick1991/flightbooking/internal/kafka"
	"github.com/Domenick1991/flightbooking/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type FlightUseCase interface {
	Create(ctx context.Context, input CreateFlightInput) (*domain.Flight, error)
	GetByID(ctx context.Context, id int64) (*domain.FlightView, error)
	List(ctx context.Context, filter domain.FlightFilter) ([]domain.FlightView, error)
	Pending(ctx context.Context) ([]domain.Flight, error)
	Tabs(ctx context.Context) (*domain.FlightTabs, error)
	Approve(ctx context.Context, id int64) (*domain.Flight, error)
	Reject(ctx context.Context, id int64, reason string) (*domain.Flight, error)
	Update(ctx context.Context, id int64, input UpdateFlightInput) (*domain.Flight, error)
	Cancel(ctx context.Context, id int64) (*Cancellation, error)
	Delete(ctx context.Context, id int64) error
}

type FlightCache interface {
	GetFlights(ctx context.Context) ([]domain.Flight, error)
	SetFlights(ctx context.Context, flights []domain.Flight) error
	InvalidateFlights(ctx context.Context) error
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value any) error
}

type CreateFlightInput struct {
	Name             string          `json:"name" validate:"required,max=200"`
	AirlineID        int64           `json:"airline_id" validate:"required,gt=0"`
	DistanceKM       int             `json:"distance_km" validate:"required,gt=0"`
	DurationMinutes  int             `json:"duration_minutes" validate:"required,gt=0"`
	DepartureTime    time.Time       `json:"departure_time" validate:"required"`
	DepartureAirport string          `json:"departure_airport" validate:"required,max=200"`
	ArrivalAirport   string          `json:"arrival_airport" validate:"required,max=200"`
	TicketPrice      decimal.Decimal `json:"ticket_price"`
	CreatedBy        int64           `json:"created_by" validate:"required,gt=0"`
}

type UpdateFlightInput struct {
	Name             *string          `json:"name" validate:"omitempty,min=1,max=200"`
	DistanceKM       *int             `json:"distance_km" validate:"omitempty,gt=0"`
	DurationMinutes  *int             `json:"duration_minutes" validate:"omitempty,gt=0"`
	DepartureTime    *time.Time       `json:"departure_time"`
	DepartureAirport *string          `json:"departure_airport" validate:"omitempty,min=1,max=200"`
	ArrivalAirport   *string          `json:"arrival_airport" validate:"omitempty,min=1,max=200"`
	TicketPrice      *decimal.Decimal `json:"ticket_price"`
}

// Cancellation is what an admin cancel leaves behind: the completed
// bookings that are owed a refund and the users to notify.
type Cancellation struct {
	Flight        *domain.Flight   `json:"flight"`
	Bookings      []domain.Booking `json:"-"`
	AffectedUsers []int64          `json:"affected_users"`
}

type FlightService struct {
	repo               repository.FlightRepository
	bookings           repository.BookingRepository
	cache              FlightCache
	producer           Producer
	notificationsTopic string
	validate           *validator.Validate
	log                zerolog.Logger
	now                func() time.Time
}

type FlightServiceOption func(*FlightService)

func WithCache(cache FlightCache) FlightServiceOption {
	return func(s *FlightService) {
		s.cache = cache
	}
}

func WithNotifications(producer Producer, topic string) FlightServiceOption {
	return func(s *FlightService) {
		s.producer = producer
		s.notificationsTopic = topic
	}
}

func WithClock(now func() time.Time) FlightServiceOption {
	return func(s *FlightService) {
		s.now = now
	}
}

func NewFlightService(repo repository.FlightRepository, bookings repository.BookingRepository, log zerolog.Logger, opts ...FlightServiceOption) *FlightService {
	s := &FlightService{
		repo:     repo,
		bookings: bookings,
		validate: validator.New(),
		log:      log.With().Str("component", "flight_service").Logger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FlightService) Create(ctx context.Context, input CreateFlightInput) (*domain.Flight, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, apperr.FromValidator(err)
	}
	details := map[string]any{}
	if strings.TrimSpace(input.Name) == "" {
		details["name"] = "required"
	}
	if !input.DepartureTime.After(s.now()) {
		details["departure_time"] = "must be in the future"
	}
	if !input.TicketPrice.IsPositive() {
		details["ticket_price"] = "gt=0"
	}
	if len(details) > 0 {
		return nil, apperr.Validation("invalid request", details)
	}

	flight := &domain.Flight{
		Name:             strings.TrimSpace(input.Name),
		AirlineID:        input.AirlineID,
		DistanceKM:       input.DistanceKM,
		DurationMinutes:  input.DurationMinutes,
		DepartureTime:    input.DepartureTime.UTC(),
		DepartureAirport: input.DepartureAirport,
		ArrivalAirport:   input.ArrivalAirport,
		TicketPrice:      input.TicketPrice.Round(2),
		CreatedBy:        input.CreatedBy,
	}
	if err := s.repo.Create(ctx, flight); err != nil {
		return nil, apperr.Internal("failed to create flight", err)
	}

	s.invalidate(ctx)
	s.log.Info().Int64("flight_id", flight.ID).Int64("created_by", flight.CreatedBy).Msg("flight created")
	return flight, nil
}

func (s *FlightService) GetByID(ctx context.Context, id int64) (*domain.FlightView, error) {
	flight, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	s.persistCompletion(ctx, flight, now)
	view := domain.NewFlightView(*flight, now)
	return &view, nil
}

// List serves the unfiltered listing from cache when it can. Flights are
// ordered by departure time.
func (s *FlightService) List(ctx context.Context, filter domain.FlightFilter) ([]domain.FlightView, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.Validation("unknown flight status", map[string]any{"status": filter.Status})
	}

	cacheable := filter.IsEmpty() && s.cache != nil
	if cacheable {
		cached, err := s.cache.GetFlights(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("read flights cache")
		}
		if cached != nil {
			return s.observe(ctx, cached), nil
		}
	}

	flights, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, apperr.Internal("failed to list flights", err)
	}
	if cacheable {
		if err := s.cache.SetFlights(ctx, flights); err != nil {
			s.log.Warn().Err(err).Msg("write flights cache")
		}
	}
	return s.observe(ctx, flights), nil
}

func (s *FlightService) Pending(ctx context.Context) ([]domain.Flight, error) {
	flights, err := s.repo.ListPending(ctx)
	if err != nil {
		return nil, apperr.Internal("failed to list pending flights", err)
	}
	return flights, nil
}

// Tabs splits approved flights by phase and appends cancelled and completed
// ones. Approved flights found to have landed are persisted as COMPLETED.
func (s *FlightService) Tabs(ctx context.Context) (*domain.FlightTabs, error) {
	tabs := &domain.FlightTabs{
		Upcoming:           make([]domain.FlightView, 0),
		Ongoing:            make([]domain.FlightView, 0),
		CompletedCancelled: make([]domain.FlightView, 0),
	}
	now := s.now()
	seen := make(map[int64]struct{})

	for _, status := range []domain.FlightStatus{domain.FlightStatusApproved, domain.FlightStatusOngoing} {
		flights, err := s.repo.ListByStatus(ctx, status)
		if err != nil {
			return nil, apperr.Internal("failed to list flights", err)
		}
		for i := range flights {
			f := &flights[i]
			switch f.Phase(now) {
			case domain.FlightPhaseUpcoming:
				tabs.Upcoming = append(tabs.Upcoming, domain.NewFlightView(*f, now))
			case domain.FlightPhaseOngoing:
				tabs.Ongoing = append(tabs.Ongoing, domain.NewFlightView(*f, now))
			case domain.FlightPhaseCompleted:
				s.persistCompletion(ctx, f, now)
				tabs.CompletedCancelled = append(tabs.CompletedCancelled, domain.NewFlightView(*f, now))
				seen[f.ID] = struct{}{}
			}
		}
	}

	for _, status := range []domain.FlightStatus{domain.FlightStatusCancelled, domain.FlightStatusCompleted} {
		flights, err := s.repo.ListByStatus(ctx, status)
		if err != nil {
			return nil, apperr.Internal("failed to list flights", err)
		}
		for _, f := range flights {
			if _, ok := seen[f.ID]; ok {
				continue
			}
			tabs.CompletedCancelled = append(tabs.CompletedCancelled, domain.NewFlightView(f, now))
		}
	}
	return tabs, nil
}

func (s *FlightService) Approve(ctx context.Context, id int64) (*domain.Flight, error) {
	return s.transition(ctx, id, domain.FlightStatusPending, domain.FlightStatusApproved, nil)
}

func (s *FlightService) Reject(ctx context.Context, id int64, reason string) (*domain.Flight, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperr.Validation("rejection reason is required when rejecting", map[string]any{"rejection_reason": "required"})
	}
	return s.transition(ctx, id, domain.FlightStatusPending, domain.FlightStatusRejected, &reason)
}

// Update edits a REJECTED flight and resubmits it for approval.
func (s *FlightService) Update(ctx context.Context, id int64, input UpdateFlightInput) (*domain.Flight, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, apperr.FromValidator(err)
	}
	details := map[string]any{}
	if input.DepartureTime != nil && !input.DepartureTime.After(s.now()) {
		details["departure_time"] = "must be in the future"
	}
	if input.TicketPrice != nil && !input.TicketPrice.IsPositive() {
		details["ticket_price"] = "gt=0"
	}
	if len(details) > 0 {
		return nil, apperr.Validation("invalid request", details)
	}

	flight, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if flight.Status != domain.FlightStatusRejected {
		return nil, invalidStatus("only rejected flights can be updated", flight.Status, domain.FlightStatusRejected)
	}

	input.changes().Apply(flight)
	updated, err := s.repo.UpdateRejected(ctx, flight)
	if err != nil {
		return nil, s.transitionError(ctx, id, err, domain.FlightStatusRejected)
	}

	s.invalidate(ctx)
	s.log.Info().Int64("flight_id", id).Msg("rejected flight resubmitted")
	return updated, nil
}

// Cancel cancels an upcoming approved flight. Refunding the returned
// bookings is left to the caller; whatever the caller misses is refunded
// by the finalization sweep.
func (s *FlightService) Cancel(ctx context.Context, id int64) (*Cancellation, error) {
	flight, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if flight.Status != domain.FlightStatusApproved || !flight.IsUpcoming(s.now()) {
		return nil, apperr.InvalidState("only upcoming approved flights can be cancelled",
			[]string{string(domain.FlightStatusApproved) + " and upcoming"}, string(flight.Status))
	}

	cancelled, err := s.repo.Transition(ctx, id, domain.FlightStatusApproved, domain.FlightStatusCancelled, nil)
	if err != nil {
		return nil, s.transitionError(ctx, id, err, domain.FlightStatusApproved)
	}
	s.invalidate(ctx)

	// The cancel is already committed. Bookings that cannot be listed here
	// are still COMPLETED on a CANCELLED flight and the sweep refunds them.
	completed, err := s.bookings.ListByFlight(ctx, id, domain.BookingStatusCompleted)
	if err != nil {
		s.log.Error().Err(err).Int64("flight_id", id).Msg("list bookings of cancelled flight, refunds deferred to sweep")
		completed = []domain.Booking{}
	}

	result := &Cancellation{
		Flight:        cancelled,
		Bookings:      completed,
		AffectedUsers: affectedUsers(completed),
	}
	s.log.Info().Int64("flight_id", id).Int("affected_users", len(result.AffectedUsers)).Msg("flight cancelled")
	s.notifyCancelled(ctx, cancelled, result.AffectedUsers)
	return result, nil
}

// Delete removes the flight with its bookings and ratings.
func (s *FlightService) Delete(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.NotFound("flight", id)
		}
		return apperr.Internal("failed to delete flight", err)
	}
	s.invalidate(ctx)
	s.log.Info().Int64("flight_id", id).Msg("flight deleted")
	return nil
}

func (s *FlightService) transition(ctx context.Context, id int64, from, to domain.FlightStatus, reason *string) (*domain.Flight, error) {
	flight, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !flight.Status.CanTransitionTo(to) || flight.Status != from {
		return nil, invalidStatus("flight cannot move to "+string(to), flight.Status, from)
	}

	updated, err := s.repo.Transition(ctx, id, from, to, reason)
	if err != nil {
		return nil, s.transitionError(ctx, id, err, from)
	}

	s.invalidate(ctx)
	s.log.Info().Int64("flight_id", id).Str("from", string(from)).Str("to", string(to)).Msg("flight status changed")
	return updated, nil
}

// transitionError reports a lost compare-and-set with the status that won.
func (s *FlightService) transitionError(ctx context.Context, id int64, err error, required domain.FlightStatus) error {
	if !errors.Is(err, repository.ErrStaleStatus) {
		return apperr.Internal("failed to update flight", err)
	}
	current, loadErr := s.load(ctx, id)
	if loadErr != nil {
		return loadErr
	}
	return invalidStatus("flight status changed concurrently", current.Status, required)
}

func (s *FlightService) load(ctx context.Context, id int64) (*domain.Flight, error) {
	flight, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("flight", id)
		}
		return nil, apperr.Internal("failed to load flight", err)
	}
	return flight, nil
}

func (s *FlightService) observe(ctx context.Context, flights []domain.Flight) []domain.FlightView {
	now := s.now()
	for i := range flights {
		s.persistCompletion(ctx, &flights[i], now)
	}
	return domain.NewFlightViews(flights, now)
}

// persistCompletion records APPROVED -> COMPLETED once a flight has landed.
// Repeated calls converge: a lost race means someone else already did it.
func (s *FlightService) persistCompletion(ctx context.Context, flight *domain.Flight, now time.Time) {
	if !flight.NeedsCompletion(now) {
		return
	}
	_, err := s.repo.Transition(ctx, flight.ID, domain.FlightStatusApproved, domain.FlightStatusCompleted, nil)
	if err != nil && !errors.Is(err, repository.ErrStaleStatus) {
		s.log.Warn().Err(err).Int64("flight_id", flight.ID).Msg("persist flight completion")
		return
	}
	flight.Status = domain.FlightStatusCompleted
	s.invalidate(ctx)
}

func (s *FlightService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateFlights(ctx); err != nil {
		s.log.Warn().Err(err).Msg("invalidate flights cache")
	}
}

func (s *FlightService) notifyCancelled(ctx context.Context, flight *domain.Flight, users []int64) {
	if s.producer == nil || s.notificationsTopic == "" {
		return
	}
	notice := kafka.FlightCancelledNotice{
		Type:       kafka.EventFlightCancelled,
		FlightID:   flight.ID,
		FlightName: flight.Name,
		UserIDs:    users,
		OccurredAt: s.now(),
	}
	if err := s.producer.Publish(ctx, s.notificationsTopic, strconv.FormatInt(flight.ID, 10), notice); err != nil {
		s.log.Warn().Err(err).Int64("flight_id", flight.ID).Msg("publish flight cancelled notice")
	}
}

func (in UpdateFlightInput) changes() domain.FlightChanges {
	changes := domain.FlightChanges{
		Name:             in.Name,
		DistanceKM:       in.DistanceKM,
		DurationMinutes:  in.DurationMinutes,
		DepartureAirport: in.DepartureAirport,
		ArrivalAirport:   in.ArrivalAirport,
		TicketPrice:      in.TicketPrice,
	}
	if in.DepartureTime != nil {
		utc := in.DepartureTime.UTC()
		changes.DepartureTime = &utc
	}
	return changes
}

func invalidStatus(message string, actual domain.FlightStatus, required ...domain.FlightStatus) error {
	names := make([]string, len(required))
	for i, r := range required {
		names[i] = string(r)
	}
	return apperr.InvalidState(message, names, string(actual))
}

func affectedUsers(bookings []domain.Booking) []int64 {
	users := make([]int64, 0, len(bookings))
	seen := make(map[int64]struct{}, len(bookings))
	for _, b := range bookings {
		if _, ok := seen[b.UserID]; ok {
			continue
		}
		seen[b.UserID] = struct{}{}
		users = append(users, b.UserID)
	}
	return users
}

var _ FlightUseCase = (*FlightService)(nil)
