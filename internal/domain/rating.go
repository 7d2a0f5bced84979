package domain

import "time"

type Rating struct {
	ID        int64     `json:"id"`
	FlightID  int64     `json:"flight_id"`
	UserID    int64     `json:"user_id"`
	Score     int       `json:"rating"`
	Comment   *string   `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type FlightRatings struct {
	Ratings []Rating `json:"ratings"`
	Total   int      `json:"total"`
	Average float64  `json:"average_rating"`
}
