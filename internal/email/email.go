package email

import (
	"context"
	"fmt"

	"github.com/Domenick1991/flightbooking/internal/kafka"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
)

// Sender is the notification sink. Delivery is a log line per recipient.
type Sender struct {
	log zerolog.Logger
}

func NewSender(log zerolog.Logger) *Sender {
	return &Sender{log: log.With().Str("component", "email").Logger()}
}

// Handle decodes a notifications topic message. Undecodable messages are
// logged and dropped so the consumer moves on.
func (s *Sender) Handle(ctx context.Context, msg kafkago.Message) error {
	decoded, err := kafka.DecodeNotification(msg)
	if err != nil {
		s.log.Warn().Err(err).Int64("offset", msg.Offset).Msg("drop notification")
		return nil
	}

	switch n := decoded.(type) {
	case kafka.FlightCancelledNotice:
		return s.SendFlightCancelled(ctx, n)
	case kafka.BookingEvent:
		return s.Send(ctx, n)
	default:
		return fmt.Errorf("unsupported notification %T", decoded)
	}
}

func (s *Sender) Send(_ context.Context, event kafka.BookingEvent) error {
	subject := subjectFor(event)
	if subject == "" {
		return nil
	}
	s.log.Info().
		Int64("user_id", event.UserID).
		Int64("booking_id", event.BookingID).
		Int64("flight_id", event.FlightID).
		Str("amount", event.Amount.StringFixed(2)).
		Str("subject", subject).
		Msg("send email")
	return nil
}

func (s *Sender) SendFlightCancelled(_ context.Context, notice kafka.FlightCancelledNotice) error {
	subject := fmt.Sprintf("Flight %s has been cancelled", notice.FlightName)
	for _, userID := range notice.UserIDs {
		s.log.Info().
			Int64("user_id", userID).
			Int64("flight_id", notice.FlightID).
			Str("subject", subject).
			Msg("send email")
	}
	return nil
}

func subjectFor(event kafka.BookingEvent) string {
	switch event.Type {
	case kafka.EventBookingAdmitted:
		return fmt.Sprintf("Booking #%d is being processed", event.BookingID)
	case kafka.EventBookingCompleted:
		return fmt.Sprintf("Booking #%d confirmed", event.BookingID)
	case kafka.EventBookingCancelled:
		return fmt.Sprintf("Booking #%d cancelled", event.BookingID)
	case kafka.EventBookingRefunded:
		return fmt.Sprintf("Booking #%d refunded", event.BookingID)
	default:
		// refund failures and anomalies are for operators, not customers
		return ""
	}
}
