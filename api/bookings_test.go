package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Domenick1991/flightbooking/internal/apperr"
	"github.com/Domenick1991/flightbooking/internal/domain"
	"github.com/Domenick1991/flightbooking/internal/service/booking"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockBookingUseCase is a mock implementation of booking.BookingUseCase
type MockBookingUseCase struct {
	mock.Mock
}

func (m *MockBookingUseCase) CreateBooking(ctx context.Context, input booking.CreateBookingInput) (*domain.Booking, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookingUseCase) GetBooking(ctx context.Context, id int64) (*domain.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *MockBookingUseCase) ListUserBookings(ctx context.Context, userID int64) ([]domain.Booking, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]domain.Booking), args.Error(1)
}

func (m *MockBookingUseCase) ListFlightBookings(ctx context.Context, flightID int64) ([]domain.Booking, error) {
	args := m.Called(ctx, flightID)
	return args.Get(0).([]domain.Booking), args.Error(1)
}

func (m *MockBookingUseCase) RefundFlight(ctx context.Context, bookings []domain.Booking) booking.RefundSummary {
	args := m.Called(ctx, bookings)
	return args.Get(0).(booking.RefundSummary)
}

type bookingEnvelope struct {
	Message string         `json:"message"`
	Booking domain.Booking `json:"booking"`
}

func TestBookingHandler_create(t *testing.T) {
	mockService := &MockBookingUseCase{}
	handler := NewBookingHandler(mockService)

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	input := booking.CreateBookingInput{FlightID: 1, UserID: 7}
	body, _ := json.Marshal(createBookingRequest{FlightID: 1, UserID: 7})
	c.Request = httptest.NewRequest("POST", "/bookings", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	created := &domain.Booking{
		ID:          1,
		FlightID:    1,
		UserID:      7,
		TicketPrice: decimal.RequireFromString("100.00"),
		Status:      domain.BookingStatusProcessing,
	}

	mockService.On("CreateBooking", c.Request.Context(), input).Return(created, nil)

	handler.create(c)

	assert.Equal(t, http.StatusAccepted, w.Code)

	var response bookingEnvelope
	err := json.Unmarshal(w.Body.Bytes(), &response)
	assert.NoError(t, err)
	assert.Equal(t, domain.BookingStatusProcessing, response.Booking.Status)
	assert.True(t, response.Booking.TicketPrice.Equal(decimal.RequireFromString("100")))

	mockService.AssertExpectations(t)
}

func TestBookingHandler_create_errors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   apperr.Code
	}{
		{name: "duplicate", err: apperr.Conflict("booking already exists"), status: http.StatusConflict, code: apperr.CodeConflict},
		{name: "insufficient funds", err: apperr.InsufficientFunds("10.00", "100.00"), status: http.StatusConflict, code: apperr.CodeInsufficientFunds},
		{name: "ledger down", err: apperr.Upstream("account ledger unavailable", nil), status: http.StatusBadGateway, code: apperr.CodeUpstream},
		{name: "not bookable", err: apperr.InvalidState("flight not bookable", []string{"APPROVED"}, "CANCELLED"), status: http.StatusBadRequest, code: apperr.CodeInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &MockBookingUseCase{}
			handler := NewBookingHandler(mockService)

			gin.SetMode(gin.TestMode)
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			body, _ := json.Marshal(createBookingRequest{FlightID: 1, UserID: 7})
			c.Request = httptest.NewRequest("POST", "/bookings", bytes.NewReader(body))
			c.Request.Header.Set("Content-Type", "application/json")

			mockService.On("CreateBooking", c.Request.Context(), mock.Anything).Return(nil, tt.err)

			handler.create(c)

			assert.Equal(t, tt.status, w.Code)
			var response errorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Equal(t, tt.code, response.Code)
		})
	}
}

func TestBookingHandler_create_badBody(t *testing.T) {
	mockService := &MockBookingUseCase{}
	handler := NewBookingHandler(mockService)

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/bookings", bytes.NewReader([]byte("{")))
	c.Request.Header.Set("Content-Type", "application/json")

	handler.create(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockService.AssertNotCalled(t, "CreateBooking", mock.Anything, mock.Anything)
}

func TestBookingHandler_get(t *testing.T) {
	mockService := &MockBookingUseCase{}
	handler := NewBookingHandler(mockService)

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Params = gin.Params{{Key: "id", Value: "5"}}
	c.Request = httptest.NewRequest("GET", "/bookings/5", nil)

	mockService.On("GetBooking", c.Request.Context(), int64(5)).
		Return(&domain.Booking{ID: 5, Status: domain.BookingStatusCompleted}, nil)

	handler.get(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var response bookingEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, domain.BookingStatusCompleted, response.Booking.Status)
}

func TestBookingHandler_listByUser(t *testing.T) {
	mockService := &MockBookingUseCase{}
	handler := NewBookingHandler(mockService)

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Params = gin.Params{{Key: "user_id", Value: "7"}}
	c.Request = httptest.NewRequest("GET", "/bookings/user/7", nil)

	bookings := []domain.Booking{
		{ID: 2, UserID: 7, Flight: &domain.Flight{ID: 1, Name: "SU-100"}},
		{ID: 1, UserID: 7},
	}
	mockService.On("ListUserBookings", c.Request.Context(), int64(7)).Return(bookings, nil)

	handler.listByUser(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var response struct {
		Bookings []domain.Booking `json:"bookings"`
		Total    int              `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, 2, response.Total)
	require.NotNil(t, response.Bookings[0].Flight)
	assert.Equal(t, "SU-100", response.Bookings[0].Flight.Name)
}

func TestBookingHandler_listByFlight(t *testing.T) {
	mockService := &MockBookingUseCase{}
	handler := NewBookingHandler(mockService)

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Params = gin.Params{{Key: "flight_id", Value: "1"}}
	c.Request = httptest.NewRequest("GET", "/bookings/flight/1", nil)

	mockService.On("ListFlightBookings", c.Request.Context(), int64(1)).Return([]domain.Booking{{ID: 3}}, nil)

	handler.listByFlight(c)

	assert.Equal(t, http.StatusOK, w.Code)
	mockService.AssertExpectations(t)
}
