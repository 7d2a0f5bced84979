package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type BookingRepository interface {
	CreateProcessing(ctx context.Context, booking *domain.Booking, dueAt time.Time) error
	GetByID(ctx context.Context, id int64) (*domain.Booking, error)
	FindActive(ctx context.Context, flightID, userID int64) (*domain.Booking, error)
	FindProcessing(ctx context.Context, flightID, userID int64) (*domain.Booking, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.Booking, error)
	ListByFlight(ctx context.Context, flightID int64, statuses ...domain.BookingStatus) ([]domain.Booking, error)
	HasCompleted(ctx context.Context, flightID, userID int64) (bool, error)

	Transition(ctx context.Context, id int64, from, to domain.BookingStatus, state domain.FinalizationState, reason domain.CompensationReason) (*domain.Booking, error)
	SetFinalizationState(ctx context.Context, bookingID int64, state domain.FinalizationState, lastErr string) error
	ListDueFinalizations(ctx context.Context, now time.Time, maxRefundAttempts, limit int) ([]domain.Finalization, error)
	ListUnrefunded(ctx context.Context, limit int) ([]domain.Booking, error)
}

type PGBookingRepository struct {
	db *pgxpool.Pool
}

func NewBookingRepository(db *pgxpool.Pool) BookingRepository {
	return &PGBookingRepository{db: db}
}

const bookingColumns = `b.id, b.flight_id, b.user_id, b.ticket_price, b.status, b.created_at, b.updated_at`

func scanBooking(row pgx.Row, b *domain.Booking) error {
	return row.Scan(&b.ID, &b.FlightID, &b.UserID, &b.TicketPrice, &b.Status, &b.CreatedAt, &b.UpdatedAt)
}

// CreateProcessing inserts a PROCESSING booking together with its
// finalization row, so a crash after commit never loses the timer.
func (r *PGBookingRepository) CreateProcessing(ctx context.Context, booking *domain.Booking, dueAt time.Time) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	booking.Status = domain.BookingStatusProcessing
	err = tx.QueryRow(ctx, `INSERT INTO bookings (flight_id, user_id, ticket_price, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		booking.FlightID, booking.UserID, booking.TicketPrice, booking.Status).
		Scan(&booking.ID, &booking.CreatedAt, &booking.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, activeBookingIndex) {
			return ErrDuplicateActiveBooking
		}
		return err
	}

	if _, err = tx.Exec(ctx, `INSERT INTO booking_finalizations (booking_id, due_at, state) VALUES ($1, $2, $3)`,
		booking.ID, dueAt, domain.FinalizationScheduled); err != nil {
		return fmt.Errorf("schedule finalization: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *PGBookingRepository) GetByID(ctx context.Context, id int64) (*domain.Booking, error) {
	return r.queryOne(ctx, `SELECT `+bookingColumns+` FROM bookings b WHERE b.id=$1`, id)
}

func (r *PGBookingRepository) FindActive(ctx context.Context, flightID, userID int64) (*domain.Booking, error) {
	return r.queryOne(ctx, `SELECT `+bookingColumns+` FROM bookings b
		WHERE b.flight_id=$1 AND b.user_id=$2 AND b.status = ANY($3)
		ORDER BY b.id DESC LIMIT 1`, flightID, userID, statusStrings(domain.ActiveBookingStatuses))
}

func (r *PGBookingRepository) FindProcessing(ctx context.Context, flightID, userID int64) (*domain.Booking, error) {
	return r.queryOne(ctx, `SELECT `+bookingColumns+` FROM bookings b
		WHERE b.flight_id=$1 AND b.user_id=$2 AND b.status=$3
		ORDER BY b.id DESC LIMIT 1`, flightID, userID, domain.BookingStatusProcessing)
}

func (r *PGBookingRepository) HasCompleted(ctx context.Context, flightID, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bookings WHERE flight_id=$1 AND user_id=$2 AND status=$3)`,
		flightID, userID, domain.BookingStatusCompleted).Scan(&exists)
	return exists, err
}

// ListByUser returns the user's bookings newest first, each with its flight.
func (r *PGBookingRepository) ListByUser(ctx context.Context, userID int64) ([]domain.Booking, error) {
	rows, err := r.db.Query(ctx, `SELECT `+bookingColumns+`, `+prefixed("f", flightColumns)+`
		FROM bookings b JOIN flights f ON f.id = b.flight_id
		WHERE b.user_id=$1
		ORDER BY b.created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bookings := make([]domain.Booking, 0)
	for rows.Next() {
		var (
			b domain.Booking
			f domain.Flight
		)
		if err := rows.Scan(&b.ID, &b.FlightID, &b.UserID, &b.TicketPrice, &b.Status, &b.CreatedAt, &b.UpdatedAt,
			&f.ID, &f.Name, &f.AirlineID, &f.DistanceKM, &f.DurationMinutes, &f.DepartureTime,
			&f.DepartureAirport, &f.ArrivalAirport, &f.TicketPrice, &f.CreatedBy, &f.Status, &f.RejectionReason,
			&f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, err
		}
		b.Flight = &f
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func (r *PGBookingRepository) ListByFlight(ctx context.Context, flightID int64, statuses ...domain.BookingStatus) ([]domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings b WHERE b.flight_id=$1`
	args := []any{flightID}
	if len(statuses) > 0 {
		query += ` AND b.status = ANY($2)`
		args = append(args, statusStrings(statuses))
	}
	rows, err := r.db.Query(ctx, query+` ORDER BY b.id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bookings := make([]domain.Booking, 0)
	for rows.Next() {
		var b domain.Booking
		if err := scanBooking(rows, &b); err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// Transition moves the booking from one status to another only if it is
// still in the expected status, and records the finalization state in the
// same transaction. ErrStaleStatus is returned when another writer won.
func (r *PGBookingRepository) Transition(ctx context.Context, id int64, from, to domain.BookingStatus, state domain.FinalizationState, reason domain.CompensationReason) (*domain.Booking, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var b domain.Booking
	row := tx.QueryRow(ctx, `UPDATE bookings b SET status=$3, updated_at=now()
		WHERE b.id=$1 AND b.status=$2
		RETURNING `+bookingColumns, id, from, to)
	if err := scanBooking(row, &b); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStaleStatus
		}
		return nil, err
	}

	if _, err := tx.Exec(ctx, `INSERT INTO booking_finalizations (booking_id, due_at, state, reason)
		VALUES ($1, now(), $2, $3)
		ON CONFLICT (booking_id) DO UPDATE
		SET state=EXCLUDED.state, reason=EXCLUDED.reason, attempts=0, last_error='', updated_at=now()`,
		id, state, reason); err != nil {
		return nil, fmt.Errorf("update finalization: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &b, nil
}

// SetFinalizationState records progress on a finalization row. A non-empty
// lastErr counts as a failed attempt.
func (r *PGBookingRepository) SetFinalizationState(ctx context.Context, bookingID int64, state domain.FinalizationState, lastErr string) error {
	cmd, err := r.db.Exec(ctx, `UPDATE booking_finalizations
		SET state=$2, last_error=$3, attempts = attempts + CASE WHEN $3 <> '' THEN 1 ELSE 0 END, updated_at=now()
		WHERE booking_id=$1`, bookingID, state, lastErr)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDueFinalizations returns scheduled rows whose due time has passed and
// refunds still waiting for a successful credit.
func (r *PGBookingRepository) ListDueFinalizations(ctx context.Context, now time.Time, maxRefundAttempts, limit int) ([]domain.Finalization, error) {
	rows, err := r.db.Query(ctx, `SELECT f.booking_id, b.flight_id, b.user_id, b.ticket_price, b.status,
			f.state, f.reason, f.due_at, f.attempts, f.last_error
		FROM booking_finalizations f JOIN bookings b ON b.id = f.booking_id
		WHERE (f.state=$1 AND f.due_at <= $2) OR (f.state=$3 AND f.attempts < $4)
		ORDER BY f.due_at
		LIMIT $5`,
		domain.FinalizationScheduled, now, domain.FinalizationRefundPending, maxRefundAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	due := make([]domain.Finalization, 0)
	for rows.Next() {
		var f domain.Finalization
		if err := rows.Scan(&f.BookingID, &f.FlightID, &f.UserID, &f.TicketPrice, &f.BookingStatus,
			&f.State, &f.Reason, &f.DueAt, &f.Attempts, &f.LastError); err != nil {
			return nil, err
		}
		due = append(due, f)
	}
	return due, rows.Err()
}

// ListUnrefunded returns completed bookings whose flight has since been
// cancelled. A refund that was interrupted before its booking left
// COMPLETED leaves no finalization row behind, so these are found by
// joining on the flight instead.
func (r *PGBookingRepository) ListUnrefunded(ctx context.Context, limit int) ([]domain.Booking, error) {
	rows, err := r.db.Query(ctx, `SELECT `+bookingColumns+`
		FROM bookings b JOIN flights f ON f.id = b.flight_id
		WHERE b.status=$1 AND f.status=$2
		ORDER BY b.id
		LIMIT $3`,
		domain.BookingStatusCompleted, domain.FlightStatusCancelled, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bookings := make([]domain.Booking, 0)
	for rows.Next() {
		var b domain.Booking
		if err := scanBooking(rows, &b); err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func (r *PGBookingRepository) queryOne(ctx context.Context, query string, args ...any) (*domain.Booking, error) {
	var b domain.Booking
	if err := scanBooking(r.db.QueryRow(ctx, query, args...), &b); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func statusStrings(statuses []domain.BookingStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return strings.Join(parts, ", ")
}

var _ BookingRepository = (*PGBookingRepository)(nil)
