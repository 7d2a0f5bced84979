package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
)

func TestNewRepositories(t *testing.T) {
	pool := &pgxpool.Pool{}
	assert.NotNil(t, NewFlightRepository(pool))
	assert.NotNil(t, NewBookingRepository(pool))
	assert.NotNil(t, NewRatingRepository(pool))
}

func TestBuildFlightListQuery(t *testing.T) {
	tests := []struct {
		name      string
		filter    domain.FlightFilter
		wantWhere string
		wantArgs  []any
	}{
		{
			name:      "no filters",
			filter:    domain.FlightFilter{},
			wantWhere: "",
			wantArgs:  nil,
		},
		{
			name:      "name only",
			filter:    domain.FlightFilter{Name: "SU"},
			wantWhere: ` WHERE name ILIKE '%' || $1 || '%' ESCAPE '\'`,
			wantArgs:  []any{"SU"},
		},
		{
			name:      "all filters",
			filter:    domain.FlightFilter{Name: "SU", AirlineID: 7, Status: domain.FlightStatusApproved},
			wantWhere: ` WHERE name ILIKE '%' || $1 || '%' ESCAPE '\' AND airline_id = $2 AND status = $3`,
			wantArgs:  []any{"SU", int64(7), domain.FlightStatusApproved},
		},
		{
			name:      "wildcards match literally",
			filter:    domain.FlightFilter{Name: `50%_off\`},
			wantWhere: ` WHERE name ILIKE '%' || $1 || '%' ESCAPE '\'`,
			wantArgs:  []any{`50\%\_off\\`},
		},
		{
			name:      "airline and status",
			filter:    domain.FlightFilter{AirlineID: 3, Status: domain.FlightStatusPending},
			wantWhere: " WHERE airline_id = $1 AND status = $2",
			wantArgs:  []any{int64(3), domain.FlightStatusPending},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildFlightListQuery(tt.filter)
			want := "SELECT " + flightColumns + " FROM flights" + tt.wantWhere + " ORDER BY departure_time ASC"
			assert.Equal(t, want, query)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: activeBookingIndex}

	assert.True(t, isUniqueViolation(dup, activeBookingIndex))
	assert.True(t, isUniqueViolation(fmt.Errorf("insert: %w", dup), activeBookingIndex))
	assert.False(t, isUniqueViolation(dup, flightRatingIndex))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503", ConstraintName: activeBookingIndex}, activeBookingIndex))
	assert.False(t, isUniqueViolation(errors.New("boom"), activeBookingIndex))
	assert.False(t, isUniqueViolation(nil, activeBookingIndex))
}

func TestPrefixed(t *testing.T) {
	assert.Equal(t, "f.id, f.name", prefixed("f", "id, name"))
}
