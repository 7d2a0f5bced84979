package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type BookingStatus string

const (
	BookingStatusPending    BookingStatus = "PENDING"
	BookingStatusProcessing BookingStatus = "PROCESSING"
	BookingStatusCompleted  BookingStatus = "COMPLETED"
	BookingStatusCancelled  BookingStatus = "CANCELLED"
	BookingStatusRefunded   BookingStatus = "REFUNDED"
)

var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:    {BookingStatusProcessing, BookingStatusCancelled},
	BookingStatusProcessing: {BookingStatusCompleted, BookingStatusCancelled},
	BookingStatusCompleted:  {BookingStatusRefunded},
}

// ActiveBookingStatuses are the statuses that block another purchase of the
// same flight by the same user.
var ActiveBookingStatuses = []BookingStatus{
	BookingStatusPending,
	BookingStatusProcessing,
	BookingStatusCompleted,
}

func (s BookingStatus) CanTransitionTo(next BookingStatus) bool {
	for _, allowed := range bookingTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s BookingStatus) IsActive() bool {
	for _, active := range ActiveBookingStatuses {
		if s == active {
			return true
		}
	}
	return false
}

func (s BookingStatus) IsTerminal() bool {
	return s == BookingStatusCancelled || s == BookingStatusRefunded
}

type Booking struct {
	ID          int64           `json:"id"`
	FlightID    int64           `json:"flight_id"`
	UserID      int64           `json:"user_id"`
	TicketPrice decimal.Decimal `json:"ticket_price"`
	Status      BookingStatus   `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	// Flight is filled only by listings that join the flight row.
	Flight *Flight `json:"flight,omitempty"`
}
