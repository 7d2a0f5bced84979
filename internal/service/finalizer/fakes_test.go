package finalizer

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/Domenick1991/flightbooking/internal/repository"
	"github.com/shopspring/decimal"
)

type memFlights struct {
	mu      sync.Mutex
	flights map[int64]*domain.Flight
	getErr  error
}

func newMemFlights(flights ...domain.Flight) *memFlights {
	m := &memFlights{flights: make(map[int64]*domain.Flight)}
	for i := range flights {
		f := flights[i]
		m.flights[f.ID] = &f
	}
	return m
}

func (m *memFlights) Create(_ context.Context, flight *domain.Flight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	flight.ID = int64(len(m.flights) + 1)
	flight.Status = domain.FlightStatusPending
	f := *flight
	m.flights[f.ID] = &f
	return nil
}

func (m *memFlights) GetByID(_ context.Context, id int64) (*domain.Flight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	f, ok := m.flights[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *f
	return &out, nil
}

func (m *memFlights) List(_ context.Context, filter domain.FlightFilter) ([]domain.Flight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Flight, 0, len(m.flights))
	for _, f := range m.flights {
		if filter.Status != "" && f.Status != filter.Status {
			continue
		}
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DepartureTime.Before(out[j].DepartureTime) })
	return out, nil
}

func (m *memFlights) ListByStatus(ctx context.Context, status domain.FlightStatus) ([]domain.Flight, error) {
	return m.List(ctx, domain.FlightFilter{Status: status})
}

func (m *memFlights) ListPending(ctx context.Context) ([]domain.Flight, error) {
	return m.List(ctx, domain.FlightFilter{Status: domain.FlightStatusPending})
}

func (m *memFlights) Transition(_ context.Context, id int64, from, to domain.FlightStatus, reason *string) (*domain.Flight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.flights[id]
	if !ok || f.Status != from {
		return nil, repository.ErrStaleStatus
	}
	f.Status = to
	f.RejectionReason = reason
	out := *f
	return &out, nil
}

func (m *memFlights) UpdateRejected(_ context.Context, flight *domain.Flight) (*domain.Flight, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.flights[flight.ID]
	if !ok || f.Status != domain.FlightStatusRejected {
		return nil, repository.ErrStaleStatus
	}
	updated := *flight
	updated.Status = domain.FlightStatusPending
	updated.RejectionReason = nil
	m.flights[flight.ID] = &updated
	out := updated
	return &out, nil
}

func (m *memFlights) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.flights[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.flights, id)
	return nil
}

type memBookings struct {
	mu            sync.Mutex
	nextID        int64
	bookings      map[int64]*domain.Booking
	finalizations map[int64]*domain.Finalization
	findErr       error
	// failNext fails the next Transition into the given status once.
	failNext map[domain.BookingStatus]error
	// flights backs ListUnrefunded; nil means no flight is cancelled.
	flights *memFlights
}

func newMemBookings() *memBookings {
	return &memBookings{
		bookings:      make(map[int64]*domain.Booking),
		finalizations: make(map[int64]*domain.Finalization),
	}
}

func (m *memBookings) CreateProcessing(_ context.Context, booking *domain.Booking, dueAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.FlightID == booking.FlightID && b.UserID == booking.UserID && b.Status.IsActive() {
			return repository.ErrDuplicateActiveBooking
		}
	}
	m.nextID++
	booking.ID = m.nextID
	booking.Status = domain.BookingStatusProcessing
	b := *booking
	m.bookings[b.ID] = &b
	m.finalizations[b.ID] = &domain.Finalization{BookingID: b.ID, State: domain.FinalizationScheduled, DueAt: dueAt}
	return nil
}

func (m *memBookings) GetByID(_ context.Context, id int64) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *b
	return &out, nil
}

func (m *memBookings) find(flightID, userID int64, match func(domain.BookingStatus) bool) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.FlightID == flightID && b.UserID == userID && match(b.Status) {
			out := *b
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memBookings) FindActive(_ context.Context, flightID, userID int64) (*domain.Booking, error) {
	return m.find(flightID, userID, domain.BookingStatus.IsActive)
}

func (m *memBookings) FindProcessing(_ context.Context, flightID, userID int64) (*domain.Booking, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.find(flightID, userID, func(s domain.BookingStatus) bool { return s == domain.BookingStatusProcessing })
}

func (m *memBookings) ListByUser(_ context.Context, userID int64) ([]domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Booking, 0)
	for _, b := range m.bookings {
		if b.UserID == userID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *memBookings) ListByFlight(_ context.Context, flightID int64, statuses ...domain.BookingStatus) ([]domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Booking, 0)
	for _, b := range m.bookings {
		if b.FlightID != flightID {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, b.Status) {
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memBookings) HasCompleted(ctx context.Context, flightID, userID int64) (bool, error) {
	_, err := m.find(flightID, userID, func(s domain.BookingStatus) bool { return s == domain.BookingStatusCompleted })
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (m *memBookings) Transition(_ context.Context, id int64, from, to domain.BookingStatus, state domain.FinalizationState, reason domain.CompensationReason) (*domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failNext[to]; ok {
		delete(m.failNext, to)
		return nil, err
	}
	b, ok := m.bookings[id]
	if !ok || b.Status != from {
		return nil, repository.ErrStaleStatus
	}
	b.Status = to
	f, ok := m.finalizations[id]
	if !ok {
		f = &domain.Finalization{BookingID: id}
		m.finalizations[id] = f
	}
	f.State = state
	f.Reason = reason
	f.Attempts = 0
	f.LastError = ""
	out := *b
	return &out, nil
}

func (m *memBookings) SetFinalizationState(_ context.Context, bookingID int64, state domain.FinalizationState, lastErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.finalizations[bookingID]
	if !ok {
		return repository.ErrNotFound
	}
	f.State = state
	f.LastError = lastErr
	if lastErr != "" {
		f.Attempts++
	}
	return nil
}

func (m *memBookings) ListDueFinalizations(_ context.Context, now time.Time, maxRefundAttempts, limit int) ([]domain.Finalization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Finalization, 0)
	for id, f := range m.finalizations {
		due := f.State == domain.FinalizationScheduled && !f.DueAt.After(now)
		retry := f.State == domain.FinalizationRefundPending && f.Attempts < maxRefundAttempts
		if !due && !retry {
			continue
		}
		b := m.bookings[id]
		row := *f
		row.FlightID = b.FlightID
		row.UserID = b.UserID
		row.TicketPrice = b.TicketPrice
		row.BookingStatus = b.Status
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BookingID < out[j].BookingID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memBookings) ListUnrefunded(ctx context.Context, limit int) ([]domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Booking, 0)
	if m.flights == nil {
		return out, nil
	}
	for _, b := range m.bookings {
		if b.Status != domain.BookingStatusCompleted {
			continue
		}
		f, err := m.flights.GetByID(ctx, b.FlightID)
		if err != nil || f.Status != domain.FlightStatusCancelled {
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memBookings) failTransitionOnce(to domain.BookingStatus, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext == nil {
		m.failNext = make(map[domain.BookingStatus]error)
	}
	m.failNext[to] = err
}

func (m *memBookings) status(id int64) domain.BookingStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bookings[id].Status
}

func (m *memBookings) finalization(id int64) domain.Finalization {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.finalizations[id]
}

func containsStatus(statuses []domain.BookingStatus, s domain.BookingStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// memLedger applies debits and credits atomically per user.
type memLedger struct {
	mu        sync.Mutex
	balances  map[int64]decimal.Decimal
	creditErr error
	credits   int
}

func newMemLedger(balances map[int64]string) *memLedger {
	l := &memLedger{balances: make(map[int64]decimal.Decimal)}
	for id, b := range balances {
		l.balances[id] = decimal.RequireFromString(b)
	}
	return l
}

func (l *memLedger) Balance(_ context.Context, userID int64) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID], nil
}

func (l *memLedger) Debit(_ context.Context, userID int64, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[userID].LessThan(amount) {
		return errors.New("insufficient balance")
	}
	l.balances[userID] = l.balances[userID].Sub(amount)
	return nil
}

func (l *memLedger) Credit(_ context.Context, userID int64, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.creditErr != nil {
		return l.creditErr
	}
	l.credits++
	l.balances[userID] = l.balances[userID].Add(amount)
	return nil
}

func (l *memLedger) setCreditErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.creditErr = err
}

func (l *memLedger) balance(userID int64) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID].StringFixed(2)
}

// recordingScheduler keeps scheduled tasks for the test to run by hand.
type recordingScheduler struct {
	mu    sync.Mutex
	tasks []domain.FinalizeTask
}

func (s *recordingScheduler) Schedule(_ context.Context, task domain.FinalizeTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
	return nil
}

type recordingRunner struct {
	mu    sync.Mutex
	tasks []domain.FinalizeTask
	done  chan domain.FinalizeTask
}

func newRecordingRunner() *recordingRunner {
	return &recordingRunner{done: make(chan domain.FinalizeTask, 16)}
}

func (r *recordingRunner) Finalize(_ context.Context, task domain.FinalizeTask) (Result, error) {
	r.mu.Lock()
	r.tasks = append(r.tasks, task)
	r.mu.Unlock()
	r.done <- task
	return ResultCompleted, nil
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
