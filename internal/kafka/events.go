package kafka

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventBookingAdmitted  EventType = "booking.admitted"
	EventBookingCompleted EventType = "booking.completed"
	EventBookingCancelled EventType = "booking.cancelled"
	EventBookingRefunded  EventType = "booking.refunded"
	EventRefundFailed     EventType = "booking.refund_failed"
	EventFlightCancelled  EventType = "flight.cancelled"
	EventBookingAnomaly   EventType = "booking.anomaly"
)

type BookingEvent struct {
	Type       EventType                 `json:"type"`
	BookingID  int64                     `json:"booking_id"`
	FlightID   int64                     `json:"flight_id"`
	UserID     int64                     `json:"user_id"`
	Status     domain.BookingStatus      `json:"status,omitempty"`
	Reason     domain.CompensationReason `json:"reason,omitempty"`
	Amount     decimal.Decimal           `json:"amount"`
	OccurredAt time.Time                 `json:"occurred_at"`
}

// Key groups events by booking.
func (e BookingEvent) Key() string {
	return strconv.FormatInt(e.BookingID, 10)
}

// FlightCancelledNotice tells the notification sink which users lost a flight.
type FlightCancelledNotice struct {
	Type       EventType `json:"type"`
	FlightID   int64     `json:"flight_id"`
	FlightName string    `json:"flight_name"`
	UserIDs    []int64   `json:"user_ids"`
	OccurredAt time.Time `json:"occurred_at"`
}

func TaskKey(task domain.FinalizeTask) string {
	return strconv.FormatInt(task.BookingID, 10)
}

func DecodeFinalizeTask(msg kafka.Message) (domain.FinalizeTask, error) {
	var task domain.FinalizeTask
	if err := json.Unmarshal(msg.Value, &task); err != nil {
		return domain.FinalizeTask{}, fmt.Errorf("decode finalize task: %w", err)
	}
	if task.BookingID == 0 {
		return domain.FinalizeTask{}, fmt.Errorf("decode finalize task: missing booking_id")
	}
	return task, nil
}

// DecodeNotification accepts either a booking event or a flight-cancelled notice.
func DecodeNotification(msg kafka.Message) (any, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(msg.Value, &head); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}

	if head.Type == EventFlightCancelled {
		var notice FlightCancelledNotice
		if err := json.Unmarshal(msg.Value, &notice); err != nil {
			return nil, fmt.Errorf("decode notification: %w", err)
		}
		return notice, nil
	}

	var event BookingEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	return event, nil
}
