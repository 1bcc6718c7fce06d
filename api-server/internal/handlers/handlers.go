package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/rshare/ride-booking-system/api-server/internal/auth"
	"github.com/rshare/ride-booking-system/api-server/internal/receipt"
	"github.com/rshare/ride-booking-system/api-server/internal/service"
	"github.com/rshare/ride-booking-system/shared/models"
	"github.com/rshare/ride-booking-system/shared/validation"
	"go.uber.org/zap"
)

// Notifier pushes session snapshots to connected clients
type Notifier interface {
	PublishState(state *models.SessionState)
	PublishSessionEnded(sessionID, reason string)
	Serve(w http.ResponseWriter, r *http.Request, sessionID string, initial *models.SessionState) error
}

// Handler contains HTTP handlers for the API
type Handler struct {
	sessions service.SessionService
	tokens   *auth.SessionTokens
	notifier Notifier
	logger   *zap.Logger
	loc      *time.Location
	now      func() time.Time
}

// NewHandler creates a new Handler instance. loc is the zone travel dates
// are checked in.
func NewHandler(sessions service.SessionService, tokens *auth.SessionTokens, notifier Notifier, logger *zap.Logger, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{
		sessions: sessions,
		tokens:   tokens,
		notifier: notifier,
		logger:   logger,
		loc:      loc,
		now:      time.Now,
	}
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error  string            `json:"error"`
	Kind   models.ErrorKind  `json:"kind,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Error: message})
}

// respondValidation replies 400 for a request rejected before dispatch
func respondValidation(w http.ResponseWriter, err error) {
	cmdErr := models.NewCommandError(err)
	respondJSON(w, http.StatusBadRequest, ErrorResponse{Error: cmdErr.Message, Kind: cmdErr.Kind, Fields: cmdErr.Fields})
}

// AuthError replies to requests the session token middleware refused
func AuthError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, auth.ErrWrongSession) {
		respondError(w, http.StatusForbidden, "Token does not belong to this session")
		return
	}
	respondError(w, http.StatusUnauthorized, "Missing or invalid session token")
}

// StatusForKind maps a command error kind to its HTTP status
func StatusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.ErrorKindValidation, models.ErrorKindInvalidPhone, models.ErrorKindInvalidCode, models.ErrorKindDeclined:
		return http.StatusUnprocessableEntity
	case models.ErrorKindCooldown:
		return http.StatusTooManyRequests
	case models.ErrorKindGateway:
		return http.StatusBadGateway
	case models.ErrorKindNotFound:
		return http.StatusNotFound
	case models.ErrorKindInvalidState, models.ErrorKindConfirmed, models.ErrorKindInFlight, models.ErrorKindUnavailable:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, service.ErrSessionNotFound) {
		respondError(w, http.StatusNotFound, "Session not found")
		return
	}
	h.logger.Error("Session service failed", zap.String("path", r.URL.Path), zap.Error(err))
	respondError(w, http.StatusBadGateway, "The booking service is temporarily unavailable")
}

// dispatch sends a command to the session and writes the outcome
func (h *Handler) dispatch(w http.ResponseWriter, r *http.Request, cmd models.SessionCommand) {
	sessionID := mux.Vars(r)["id"]
	if id := r.Header.Get("Idempotency-Key"); id != "" {
		cmd.ID = id
	}

	resp, err := h.sessions.Dispatch(r.Context(), sessionID, cmd)
	switch {
	case errors.Is(err, service.ErrCommandPending):
		respondJSON(w, http.StatusAccepted, resp)
		return
	case err != nil:
		h.serviceError(w, r, err)
		return
	}

	h.notifier.PublishState(resp.State)

	if resp.Result != nil && resp.Result.Error != nil {
		if resp.Result.Error.RetryAfterSeconds > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(resp.Result.Error.RetryAfterSeconds))
		}
		respondJSON(w, StatusForKind(resp.Result.Error.Kind), resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// CreateSession handles POST /api/sessions
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	state, err := h.sessions.StartSession(r.Context())
	if err != nil {
		h.logger.Error("Failed to start session", zap.Error(err))
		respondError(w, http.StatusBadGateway, "Could not start a booking session")
		return
	}

	token, expiresAt, err := h.tokens.Issue(state.SessionID)
	if err != nil {
		h.logger.Error("Failed to issue session token", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Could not start a booking session")
		return
	}

	h.logger.Info("Session started", zap.String("sessionID", state.SessionID))
	respondJSON(w, http.StatusCreated, models.CreateSessionResponse{
		SessionID: state.SessionID,
		Token:     token,
		ExpiresAt: expiresAt,
		State:     state,
	})
}

// GetSession handles GET /api/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	state, err := h.sessions.GetState(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// CancelSession handles DELETE /api/sessions/{id}
func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	if err := h.sessions.Cancel(r.Context(), sessionID); err != nil {
		h.serviceError(w, r, err)
		return
	}
	h.notifier.PublishSessionEnded(sessionID, models.EndReasonCancelled)
	respondJSON(w, http.StatusOK, map[string]string{"message": "Session cancelled"})
}

// RequestCodeRequest is the body of POST /login/code
type RequestCodeRequest struct {
	CountryCode string `json:"countryCode"`
	Phone       string `json:"phone"`
}

// RequestCode handles POST /api/sessions/{id}/login/code
func (h *Handler) RequestCode(w http.ResponseWriter, r *http.Request) {
	var req RequestCodeRequest
	if !decode(w, r, &req) {
		return
	}
	if req.CountryCode == "" {
		req.CountryCode = models.DefaultCountryCode
	}
	if _, err := validation.Phone(req.CountryCode, req.Phone); err != nil {
		respondValidation(w, err)
		return
	}
	h.dispatch(w, r, models.SessionCommand{Kind: models.CommandRequestCode, CountryCode: req.CountryCode, Phone: req.Phone})
}

// VerifyCodeRequest is the body of POST /login/verify
type VerifyCodeRequest struct {
	Code string `json:"code"`
}

// VerifyCode handles POST /api/sessions/{id}/login/verify
func (h *Handler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req VerifyCodeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := validation.Code(req.Code); err != nil {
		respondValidation(w, err)
		return
	}
	h.dispatch(w, r, models.SessionCommand{Kind: models.CommandConfirmCode, Code: req.Code})
}

// ResetLogin handles POST /api/sessions/{id}/login/reset
func (h *Handler) ResetLogin(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, models.SessionCommand{Kind: models.CommandResetLogin})
}

// FederatedSignInRequest is the body of POST /login/federated
type FederatedSignInRequest struct {
	IDToken string `json:"idToken"`
}

// FederatedSignIn handles POST /api/sessions/{id}/login/federated
func (h *Handler) FederatedSignIn(w http.ResponseWriter, r *http.Request) {
	var req FederatedSignInRequest
	if !decode(w, r, &req) {
		return
	}
	if req.IDToken == "" {
		respondError(w, http.StatusBadRequest, "ID token is required")
		return
	}
	h.dispatch(w, r, models.SessionCommand{Kind: models.CommandFederatedSignIn, IDToken: req.IDToken})
}

// SubmitTrip handles POST /api/sessions/{id}/trip
func (h *Handler) SubmitTrip(w http.ResponseWriter, r *http.Request) {
	var form models.TripForm
	if !decode(w, r, &form) {
		return
	}
	if _, err := validation.Trip(form, h.now().In(h.loc)); err != nil {
		respondValidation(w, err)
		return
	}
	h.dispatch(w, r, models.SessionCommand{Kind: models.CommandSubmitTrip, Trip: &form})
}

// SortRequest is the body of POST /vehicles/sort
type SortRequest struct {
	By models.SortKey `json:"by"`
}

// SortVehicles handles POST /api/sessions/{id}/vehicles/sort
func (h *Handler) SortVehicles(w http.ResponseWriter, r *http.Request) {
	var req SortRequest
	if !decode(w, r, &req) {
		return
	}
	if !req.By.IsValid() {
		respondError(w, http.StatusBadRequest, "Sort must be one of rating, departure or price")
		return
	}
	h.dispatch(w, r, models.SessionCommand{Kind: models.CommandSortOffers, SortBy: req.By})
}

// SelectVehicle handles POST /api/sessions/{id}/vehicles/{vehicleId}/select
func (h *Handler) SelectVehicle(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, models.SessionCommand{Kind: models.CommandSelectVehicle, VehicleID: mux.Vars(r)["vehicleId"]})
}

// ToggleSeat handles POST /api/sessions/{id}/seats/{seatId}/toggle
func (h *Handler) ToggleSeat(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, models.SessionCommand{Kind: models.CommandToggleSeat, SeatID: mux.Vars(r)["seatId"]})
}

// ConfirmSeats handles POST /api/sessions/{id}/seats/confirm
func (h *Handler) ConfirmSeats(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, models.SessionCommand{Kind: models.CommandConfirmSeats})
}

// ProceedToPayment handles POST /api/sessions/{id}/summary/proceed
func (h *Handler) ProceedToPayment(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, models.SessionCommand{Kind: models.CommandProceedToPayment})
}

// PaymentMethodRequest is the body of PUT /payment/method
type PaymentMethodRequest struct {
	Method models.PaymentMethod `json:"method"`
}

// SelectPaymentMethod handles PUT /api/sessions/{id}/payment/method
func (h *Handler) SelectPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req PaymentMethodRequest
	if !decode(w, r, &req) {
		return
	}
	if !req.Method.IsValid() {
		respondValidation(w, &models.ValidationError{
			Message: "Please select a supported payment method.",
			Fields:  map[string]string{validation.FieldMethod: "Please select a supported payment method."},
		})
		return
	}
	h.dispatch(w, r, models.SessionCommand{Kind: models.CommandSelectPaymentMethod, Method: req.Method})
}

// UpdatePaymentDetails handles PUT /api/sessions/{id}/payment/details.
// Only the fields in the body change.
func (h *Handler) UpdatePaymentDetails(w http.ResponseWriter, r *http.Request) {
	var update models.PaymentDetailsUpdate
	if !decode(w, r, &update) {
		return
	}
	h.dispatch(w, r, models.SessionCommand{Kind: models.CommandUpdatePaymentDetails, Details: &update})
}

// SubmitPayment handles POST /api/sessions/{id}/payment/submit
func (h *Handler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, models.SessionCommand{Kind: models.CommandSubmitPayment})
}

// Back handles POST /api/sessions/{id}/back
func (h *Handler) Back(w http.ResponseWriter, r *http.Request) {
	h.dispatch(w, r, models.SessionCommand{Kind: models.CommandBack})
}

// GetReceipt handles GET /api/sessions/{id}/receipt
func (h *Handler) GetReceipt(w http.ResponseWriter, r *http.Request) {
	state, err := h.sessions.GetState(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.serviceError(w, r, err)
		return
	}

	pdf, name, err := receipt.Build(state.Confirmation)
	if errors.Is(err, receipt.ErrNotConfirmed) {
		respondJSON(w, http.StatusConflict, ErrorResponse{Error: "Booking is not confirmed yet", Kind: models.ErrorKindInvalidState})
		return
	}
	if err != nil {
		h.logger.Error("Failed to build receipt", zap.String("sessionID", state.SessionID), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Could not create the receipt")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(pdf)
}

// SessionWebSocket handles GET /api/sessions/{id}/ws
func (h *Handler) SessionWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	state, err := h.sessions.GetState(r.Context(), sessionID)
	if err != nil {
		h.serviceError(w, r, err)
		return
	}
	if err := h.notifier.Serve(w, r, sessionID, state); err != nil {
		// the upgrader has already replied
		h.logger.Warn("WebSocket upgrade failed", zap.String("sessionID", sessionID), zap.Error(err))
	}
}

// CountryCodes handles GET /api/country-codes
func (h *Handler) CountryCodes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"default": models.DefaultCountryCode,
		"codes":   models.CountryCodes,
	})
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}
