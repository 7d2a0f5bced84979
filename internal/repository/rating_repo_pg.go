package repository

import (
	"context"
	"errors"

	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RatingRepository interface {
	Create(ctx context.Context, rating *domain.Rating) error
	GetByID(ctx context.Context, id int64) (*domain.Rating, error)
	ListByFlight(ctx context.Context, flightID int64) ([]domain.Rating, error)
	AverageForFlight(ctx context.Context, flightID int64) (float64, error)
}

type PGRatingRepository struct {
	db *pgxpool.Pool
}

func NewRatingRepository(db *pgxpool.Pool) RatingRepository {
	return &PGRatingRepository{db: db}
}

func (r *PGRatingRepository) Create(ctx context.Context, rating *domain.Rating) error {
	err := r.db.QueryRow(ctx, `INSERT INTO ratings (flight_id, user_id, rating, comment)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		rating.FlightID, rating.UserID, rating.Score, rating.Comment).
		Scan(&rating.ID, &rating.CreatedAt)
	if isUniqueViolation(err, flightRatingIndex) {
		return ErrDuplicateRating
	}
	return err
}

func (r *PGRatingRepository) GetByID(ctx context.Context, id int64) (*domain.Rating, error) {
	var rt domain.Rating
	err := r.db.QueryRow(ctx, `SELECT id, flight_id, user_id, rating, comment, created_at FROM ratings WHERE id=$1`, id).
		Scan(&rt.ID, &rt.FlightID, &rt.UserID, &rt.Score, &rt.Comment, &rt.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rt, nil
}

func (r *PGRatingRepository) ListByFlight(ctx context.Context, flightID int64) ([]domain.Rating, error) {
	rows, err := r.db.Query(ctx, `SELECT id, flight_id, user_id, rating, comment, created_at
		FROM ratings WHERE flight_id=$1 ORDER BY created_at DESC`, flightID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ratings := make([]domain.Rating, 0)
	for rows.Next() {
		var rt domain.Rating
		if err := rows.Scan(&rt.ID, &rt.FlightID, &rt.UserID, &rt.Score, &rt.Comment, &rt.CreatedAt); err != nil {
			return nil, err
		}
		ratings = append(ratings, rt)
	}
	return ratings, rows.Err()
}

func (r *PGRatingRepository) AverageForFlight(ctx context.Context, flightID int64) (float64, error) {
	var avg float64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(AVG(rating), 0)::float8 FROM ratings WHERE flight_id=$1`, flightID).Scan(&avg)
	return avg, err
}

var _ RatingRepository = (*PGRatingRepository)(nil)
