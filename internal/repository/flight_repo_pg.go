package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type FlightRepository interface {
	Create(ctx context.Context, flight *domain.Flight) error
	GetByID(ctx context.Context, id int64) (*domain.Flight, error)
	List(ctx context.Context, filter domain.FlightFilter) ([]domain.Flight, error)
	ListByStatus(ctx context.Context, status domain.FlightStatus) ([]domain.Flight, error)
	ListPending(ctx context.Context) ([]domain.Flight, error)
	Transition(ctx context.Context, id int64, from, to domain.FlightStatus, reason *string) (*domain.Flight, error)
	UpdateRejected(ctx context.Context, flight *domain.Flight) (*domain.Flight, error)
	Delete(ctx context.Context, id int64) error
}

type PGFlightRepository struct {
	db *pgxpool.Pool
}

func NewFlightRepository(db *pgxpool.Pool) FlightRepository {
	return &PGFlightRepository{db: db}
}

const flightColumns = `id, name, airline_id, distance_km, duration_minutes, departure_time, departure_airport, arrival_airport, ticket_price, created_by, status, rejection_reason, created_at, updated_at`

func scanFlight(row pgx.Row, f *domain.Flight) error {
	return row.Scan(&f.ID, &f.Name, &f.AirlineID, &f.DistanceKM, &f.DurationMinutes, &f.DepartureTime,
		&f.DepartureAirport, &f.ArrivalAirport, &f.TicketPrice, &f.CreatedBy, &f.Status, &f.RejectionReason,
		&f.CreatedAt, &f.UpdatedAt)
}

func (r *PGFlightRepository) Create(ctx context.Context, flight *domain.Flight) error {
	flight.Status = domain.FlightStatusPending
	flight.RejectionReason = nil
	return r.db.QueryRow(ctx, `INSERT INTO flights (name, airline_id, distance_km, duration_minutes, departure_time, departure_airport, arrival_airport, ticket_price, created_by, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at`,
		flight.Name, flight.AirlineID, flight.DistanceKM, flight.DurationMinutes, flight.DepartureTime,
		flight.DepartureAirport, flight.ArrivalAirport, flight.TicketPrice, flight.CreatedBy, flight.Status).
		Scan(&flight.ID, &flight.CreatedAt, &flight.UpdatedAt)
}

func (r *PGFlightRepository) GetByID(ctx context.Context, id int64) (*domain.Flight, error) {
	var f domain.Flight
	if err := scanFlight(r.db.QueryRow(ctx, `SELECT `+flightColumns+` FROM flights WHERE id=$1`, id), &f); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

func (r *PGFlightRepository) List(ctx context.Context, filter domain.FlightFilter) ([]domain.Flight, error) {
	query, args := buildFlightListQuery(filter)
	return r.queryFlights(ctx, query, args...)
}

func (r *PGFlightRepository) ListByStatus(ctx context.Context, status domain.FlightStatus) ([]domain.Flight, error) {
	return r.queryFlights(ctx, `SELECT `+flightColumns+` FROM flights WHERE status=$1 ORDER BY departure_time`, status)
}

func (r *PGFlightRepository) ListPending(ctx context.Context) ([]domain.Flight, error) {
	return r.queryFlights(ctx, `SELECT `+flightColumns+` FROM flights WHERE status=$1 ORDER BY created_at DESC`, domain.FlightStatusPending)
}

// likeEscaper makes the name filter match wildcards literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// buildFlightListQuery applies the optional name/airline/status filters.
func buildFlightListQuery(filter domain.FlightFilter) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	if filter.Name != "" {
		args = append(args, likeEscaper.Replace(filter.Name))
		conditions = append(conditions, fmt.Sprintf(`name ILIKE '%%' || $%d || '%%' ESCAPE '\'`, len(args)))
	}
	if filter.AirlineID != 0 {
		args = append(args, filter.AirlineID)
		conditions = append(conditions, fmt.Sprintf("airline_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + flightColumns + ` FROM flights`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	return query + ` ORDER BY departure_time ASC`, args
}

func (r *PGFlightRepository) Transition(ctx context.Context, id int64, from, to domain.FlightStatus, reason *string) (*domain.Flight, error) {
	var f domain.Flight
	row := r.db.QueryRow(ctx, `UPDATE flights SET status=$3, rejection_reason=$4, updated_at=now()
		WHERE id=$1 AND status=$2
		RETURNING `+flightColumns, id, from, to, reason)
	if err := scanFlight(row, &f); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStaleStatus
		}
		return nil, err
	}
	return &f, nil
}

// UpdateRejected writes edited fields of a REJECTED flight and resubmits it as PENDING.
func (r *PGFlightRepository) UpdateRejected(ctx context.Context, flight *domain.Flight) (*domain.Flight, error) {
	var f domain.Flight
	row := r.db.QueryRow(ctx, `UPDATE flights SET name=$2, distance_km=$3, duration_minutes=$4, departure_time=$5,
		departure_airport=$6, arrival_airport=$7, ticket_price=$8, status=$9, rejection_reason=NULL, updated_at=now()
		WHERE id=$1 AND status=$10
		RETURNING `+flightColumns,
		flight.ID, flight.Name, flight.DistanceKM, flight.DurationMinutes, flight.DepartureTime,
		flight.DepartureAirport, flight.ArrivalAirport, flight.TicketPrice,
		domain.FlightStatusPending, domain.FlightStatusRejected)
	if err := scanFlight(row, &f); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrStaleStatus
		}
		return nil, err
	}
	return &f, nil
}

// Delete removes the flight; bookings, finalizations and ratings go with it.
func (r *PGFlightRepository) Delete(ctx context.Context, id int64) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM flights WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGFlightRepository) queryFlights(ctx context.Context, query string, args ...any) ([]domain.Flight, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	flights := make([]domain.Flight, 0)
	for rows.Next() {
		var f domain.Flight
		if err := scanFlight(rows, &f); err != nil {
			return nil, err
		}
		flights = append(flights, f)
	}
	return flights, rows.Err()
}

var _ FlightRepository = (*PGFlightRepository)(nil)
