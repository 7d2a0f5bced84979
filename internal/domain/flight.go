package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type FlightStatus string

const (
	FlightStatusPending   FlightStatus = "PENDING"
	FlightStatusApproved  FlightStatus = "APPROVED"
	FlightStatusRejected  FlightStatus = "REJECTED"
	FlightStatusCancelled FlightStatus = "CANCELLED"
	FlightStatusOngoing   FlightStatus = "ONGOING"
	FlightStatusCompleted FlightStatus = "COMPLETED"
)

// flightTransitions lists every legal source -> target pair. REJECTED returns to
// PENDING only through an edit, never through approval.
var flightTransitions = map[FlightStatus][]FlightStatus{
	FlightStatusPending:  {FlightStatusApproved, FlightStatusRejected},
	FlightStatusRejected: {FlightStatusPending},
	FlightStatusApproved: {FlightStatusCancelled, FlightStatusOngoing, FlightStatusCompleted},
	FlightStatusOngoing:  {FlightStatusCompleted},
}

func (s FlightStatus) Valid() bool {
	switch s {
	case FlightStatusPending, FlightStatusApproved, FlightStatusRejected,
		FlightStatusCancelled, FlightStatusOngoing, FlightStatusCompleted:
		return true
	}
	return false
}

func (s FlightStatus) CanTransitionTo(next FlightStatus) bool {
	for _, allowed := range flightTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Flight struct {
	ID               int64           `json:"id"`
	Name             string          `json:"name"`
	AirlineID        int64           `json:"airline_id"`
	DistanceKM       int             `json:"distance_km"`
	DurationMinutes  int             `json:"duration_minutes"`
	DepartureTime    time.Time       `json:"departure_time"`
	DepartureAirport string          `json:"departure_airport"`
	ArrivalAirport   string          `json:"arrival_airport"`
	TicketPrice      decimal.Decimal `json:"ticket_price"`
	CreatedBy        int64           `json:"created_by"`
	Status           FlightStatus    `json:"status"`
	RejectionReason  *string         `json:"rejection_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// ArrivalTime is the end of the flight window: departure plus duration.
func (f Flight) ArrivalTime() time.Time {
	return f.DepartureTime.Add(time.Duration(f.DurationMinutes) * time.Minute)
}

func (f Flight) IsUpcoming(now time.Time) bool {
	return f.Status == FlightStatusApproved && now.Before(f.DepartureTime)
}

func (f Flight) IsOngoing(now time.Time) bool {
	if f.Status != FlightStatusApproved && f.Status != FlightStatusOngoing {
		return false
	}
	return !now.Before(f.DepartureTime) && now.Before(f.ArrivalTime())
}

func (f Flight) IsCompleted(now time.Time) bool {
	return f.Status == FlightStatusCompleted || !now.Before(f.ArrivalTime())
}

// RemainingMinutes is the whole number of minutes left in the air, or 0 when
// the flight is not ongoing.
func (f Flight) RemainingMinutes(now time.Time) int {
	if !f.IsOngoing(now) {
		return 0
	}
	remaining := int(f.ArrivalTime().Sub(now) / time.Minute)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// NeedsCompletion reports whether an observer must persist APPROVED -> COMPLETED.
func (f Flight) NeedsCompletion(now time.Time) bool {
	return f.Status == FlightStatusApproved && f.IsCompleted(now)
}

type FlightPhase string

const (
	FlightPhaseUpcoming  FlightPhase = "upcoming"
	FlightPhaseOngoing   FlightPhase = "ongoing"
	FlightPhaseCompleted FlightPhase = "completed"
	FlightPhaseNone      FlightPhase = ""
)

func (f Flight) Phase(now time.Time) FlightPhase {
	switch {
	case f.IsUpcoming(now):
		return FlightPhaseUpcoming
	case f.IsOngoing(now):
		return FlightPhaseOngoing
	case f.IsCompleted(now):
		return FlightPhaseCompleted
	default:
		return FlightPhaseNone
	}
}

type FlightFilter struct {
	Name      string
	AirlineID int64
	Status    FlightStatus
}

func (f FlightFilter) IsEmpty() bool {
	return f.Name == "" && f.AirlineID == 0 && f.Status == ""
}

// FlightChanges carries the editable fields of a rejected flight; nil means keep.
type FlightChanges struct {
	Name             *string
	DistanceKM       *int
	DurationMinutes  *int
	DepartureTime    *time.Time
	DepartureAirport *string
	ArrivalAirport   *string
	TicketPrice      *decimal.Decimal
}

func (c FlightChanges) Apply(f *Flight) {
	if c.Name != nil {
		f.Name = *c.Name
	}
	if c.DistanceKM != nil {
		f.DistanceKM = *c.DistanceKM
	}
	if c.DurationMinutes != nil {
		f.DurationMinutes = *c.DurationMinutes
	}
	if c.DepartureTime != nil {
		f.DepartureTime = *c.DepartureTime
	}
	if c.DepartureAirport != nil {
		f.DepartureAirport = *c.DepartureAirport
	}
	if c.ArrivalAirport != nil {
		f.ArrivalAirport = *c.ArrivalAirport
	}
	if c.TicketPrice != nil {
		f.TicketPrice = *c.TicketPrice
	}
}

// FlightTabs groups flights the way the dashboard shows them.
type FlightTabs struct {
	Upcoming           []FlightView `json:"upcoming"`
	Ongoing            []FlightView `json:"ongoing"`
	CompletedCancelled []FlightView `json:"completed_cancelled"`
}

// FlightView is a flight as listed to clients, with its time-derived phase.
type FlightView struct {
	Flight
	IsUpcoming       bool `json:"is_upcoming"`
	IsOngoing        bool `json:"is_ongoing"`
	IsCompleted      bool `json:"is_completed"`
	RemainingMinutes *int `json:"remaining_minutes,omitempty"`
}

func NewFlightView(f Flight, now time.Time) FlightView {
	v := FlightView{
		Flight:      f,
		IsUpcoming:  f.IsUpcoming(now),
		IsOngoing:   f.IsOngoing(now),
		IsCompleted: f.IsCompleted(now),
	}
	if v.IsOngoing {
		remaining := f.RemainingMinutes(now)
		v.RemainingMinutes = &remaining
	}
	return v
}

func NewFlightViews(flights []Flight, now time.Time) []FlightView {
	views := make([]FlightView, 0, len(flights))
	for _, f := range flights {
		views = append(views, NewFlightView(f, now))
	}
	return views
}
