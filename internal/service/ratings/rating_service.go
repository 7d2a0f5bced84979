package ratings

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Domenick1991/flightbooking/internal/apperr"
	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/Domenick1991/flightbooking/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type RatingUseCase interface {
	Create(ctx context.Context, input CreateRatingInput) (*domain.Rating, error)
	GetByID(ctx context.Context, id int64) (*domain.Rating, error)
	ListForFlight(ctx context.Context, flightID int64) (*domain.FlightRatings, error)
}

type CreateRatingInput struct {
	FlightID int64   `json:"flight_id" validate:"required,gt=0"`
	UserID   int64   `json:"user_id" validate:"required,gt=0"`
	Rating   int     `json:"rating" validate:"required,min=1,max=5"`
	Comment  *string `json:"comment" validate:"omitempty,max=1000"`
}

type RatingService struct {
	ratings  repository.RatingRepository
	flights  repository.FlightRepository
	bookings repository.BookingRepository
	validate *validator.Validate
	log      zerolog.Logger
	now      func() time.Time
}

func NewRatingService(ratings repository.RatingRepository, flights repository.FlightRepository, bookings repository.BookingRepository, log zerolog.Logger) *RatingService {
	return &RatingService{
		ratings:  ratings,
		flights:  flights,
		bookings: bookings,
		validate: validator.New(),
		log:      log.With().Str("component", "rating_service").Logger(),
		now:      time.Now,
	}
}

// Create accepts one rating per user for a flight that has landed and that
// the user actually flew.
func (s *RatingService) Create(ctx context.Context, input CreateRatingInput) (*domain.Rating, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, apperr.FromValidator(err)
	}

	flight, err := s.flights.GetByID(ctx, input.FlightID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("flight", input.FlightID)
		}
		return nil, apperr.Internal("failed to load flight", err)
	}
	if flight.Status == domain.FlightStatusCancelled || !flight.IsCompleted(s.now()) {
		return nil, apperr.InvalidState("can only rate completed flights",
			[]string{string(domain.FlightStatusCompleted)}, string(flight.Status))
	}

	flown, err := s.bookings.HasCompleted(ctx, input.FlightID, input.UserID)
	if err != nil {
		return nil, apperr.Internal("failed to check bookings", err)
	}
	if !flown {
		return nil, apperr.Forbidden("you must book and complete this flight to rate it")
	}

	rating := &domain.Rating{
		FlightID: input.FlightID,
		UserID:   input.UserID,
		Score:    input.Rating,
		Comment:  trimComment(input.Comment),
	}
	if err := s.ratings.Create(ctx, rating); err != nil {
		if errors.Is(err, repository.ErrDuplicateRating) {
			return nil, apperr.Conflict("you have already rated this flight")
		}
		return nil, apperr.Internal("failed to create rating", err)
	}

	s.log.Info().Int64("rating_id", rating.ID).Int64("flight_id", rating.FlightID).Int64("user_id", rating.UserID).Msg("rating created")
	return rating, nil
}

func (s *RatingService) GetByID(ctx context.Context, id int64) (*domain.Rating, error) {
	rating, err := s.ratings.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound("rating", id)
		}
		return nil, apperr.Internal("failed to load rating", err)
	}
	return rating, nil
}

func (s *RatingService) ListForFlight(ctx context.Context, flightID int64) (*domain.FlightRatings, error) {
	ratings, err := s.ratings.ListByFlight(ctx, flightID)
	if err != nil {
		return nil, apperr.Internal("failed to list ratings", err)
	}
	average, err := s.ratings.AverageForFlight(ctx, flightID)
	if err != nil {
		return nil, apperr.Internal("failed to average ratings", err)
	}
	if ratings == nil {
		ratings = []domain.Rating{}
	}
	return &domain.FlightRatings{
		Ratings: ratings,
		Total:   len(ratings),
		Average: average,
	}, nil
}

func trimComment(comment *string) *string {
	if comment == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*comment)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

var _ RatingUseCase = (*RatingService)(nil)
