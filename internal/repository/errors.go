package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	postgresUniqueValueViolationErrorCode = "23505"

	activeBookingIndex = "uq_bookings_active_flight_user"
	flightRatingIndex  = "unique_flight_user_rating"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrStaleStatus means the row was not in the expected status when the
	// compare-and-set update ran; another writer got there first.
	ErrStaleStatus = errors.New("status changed concurrently")

	ErrDuplicateActiveBooking = errors.New("user already has an active booking for this flight")
	ErrDuplicateRating        = errors.New("user already rated this flight")
)

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == postgresUniqueValueViolationErrorCode && pgErr.ConstraintName == constraint
}
