package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type FinalizationState string

const (
	FinalizationScheduled     FinalizationState = "SCHEDULED"
	FinalizationRefundPending FinalizationState = "REFUND_PENDING"
	FinalizationDone          FinalizationState = "DONE"
)

// FinalizeTask is what gets handed to the finalizer once a booking is admitted.
type FinalizeTask struct {
	BookingID   int64           `json:"booking_id"`
	FlightID    int64           `json:"flight_id"`
	UserID      int64           `json:"user_id"`
	TicketPrice decimal.Decimal `json:"ticket_price"`
	DueAt       time.Time       `json:"due_at"`
}

// Finalization is the persisted timer row kept next to a booking.
type Finalization struct {
	BookingID     int64
	FlightID      int64
	UserID        int64
	TicketPrice   decimal.Decimal
	BookingStatus BookingStatus
	State         FinalizationState
	Reason        CompensationReason
	DueAt         time.Time
	Attempts      int
	LastError     string
}

func (f Finalization) Task() FinalizeTask {
	return FinalizeTask{
		BookingID:   f.BookingID,
		FlightID:    f.FlightID,
		UserID:      f.UserID,
		TicketPrice: f.TicketPrice,
		DueAt:       f.DueAt,
	}
}

type CompensationReason string

const (
	ReasonNone              CompensationReason = ""
	ReasonFlightUnavailable CompensationReason = "FLIGHT_UNAVAILABLE"
	ReasonFlightMissing     CompensationReason = "FLIGHT_MISSING"
	ReasonFinalizeFailed    CompensationReason = "FINALIZE_FAILED"
	ReasonFlightCancelled   CompensationReason = "FLIGHT_CANCELLED"
)

// TargetStatus is where a compensated booking ends up.
func (r CompensationReason) TargetStatus() BookingStatus {
	if r == ReasonFlightCancelled {
		return BookingStatusRefunded
	}
	return BookingStatusCancelled
}

// Refundable is false only when there is no flight left to refund against.
func (r CompensationReason) Refundable() bool {
	return r != ReasonFlightMissing && r != ReasonNone
}

// Booking is the PROCESSING booking the task was scheduled for.
func (t FinalizeTask) Booking() Booking {
	return Booking{
		ID:          t.BookingID,
		FlightID:    t.FlightID,
		UserID:      t.UserID,
		TicketPrice: t.TicketPrice,
		Status:      BookingStatusProcessing,
	}
}
