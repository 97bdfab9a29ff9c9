package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"abuse-gateway/internal/gate"
	"abuse-gateway/internal/models"
	"abuse-gateway/internal/revocation"
	"abuse-gateway/internal/util"
)

var (
	ErrInvalidInput = errors.New("invalid input")
)

// defaultBlanketHorizon bounds a blanket revocation when the caller does
// not say how long it must hold. Long enough to outlast any token issued
// before the incident.
const defaultBlanketHorizon = 30 * 24 * time.Hour

// GatewayHandler exposes the gateway's own bookkeeping operations:
// revocations and counter resets. The guarded business endpoints live in
// the platform services that embed the gate middleware.
type GatewayHandler struct {
	gate        *gate.Gate
	revocations revocation.Store
	decoder     gate.CredentialDecoder
	logger      *zap.Logger
}

func NewGatewayHandler(g *gate.Gate, revocations revocation.Store, decoder gate.CredentialDecoder, logger *zap.Logger) *GatewayHandler {
	return &GatewayHandler{
		gate:        g,
		revocations: revocations,
		decoder:     decoder,
		logger:      logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{Success: true, Data: data, Message: message}
}

func errorResponse(err error, message string) Response {
	return Response{Success: false, Error: err.Error(), Message: message}
}

// RegisterRoutes registers the bookkeeping routes
func (h *GatewayHandler) RegisterRoutes(router chi.Router) {
	router.Route("/revocations", func(r chi.Router) {
		r.Post("/", h.RevokeToken)
		r.Post("/principal", h.RevokePrincipal)
	})
	router.Post("/limits/reset", h.ResetCounter)
}

// RevokeTokenRequest invalidates a single credential. ExpiresAt is only
// needed when the token cannot be decoded; the decoded expiry wins.
type RevokeTokenRequest struct {
	Token       string    `json:"token"`
	PrincipalID string    `json:"principal_id,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// RevokeToken handles single-token revocation (logout, stolen token)
func (h *GatewayHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req RevokeTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.Token == "" {
		h.respondWithError(w, http.StatusBadRequest, ErrInvalidInput, "Token is required")
		return
	}

	principalID := req.PrincipalID
	expiresAt := req.ExpiresAt
	if h.decoder != nil {
		if claims, err := h.decoder.Decode(req.Token); err == nil && claims != nil {
			if principalID == "" {
				principalID = claims.Subject
			}
			if !claims.ExpiresAt.IsZero() {
				expiresAt = claims.ExpiresAt
			}
		}
	}
	if expiresAt.IsZero() {
		h.respondWithError(w, http.StatusBadRequest, ErrInvalidInput,
			"Token expiry could not be determined; provide expires_at")
		return
	}

	tokenID := revocation.TokenIdentity(req.Token)
	if err := h.revocations.Revoke(ctx, tokenID, principalID, expiresAt, parseReason(req.Reason)); err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to revoke token")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Token revoked"))
	h.logger.Info("Token revoked via HTTP",
		util.String("principal_id", principalID),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "RevokeToken"),
	)
}

// RevokePrincipalRequest blanket-revokes every credential of a principal.
type RevokePrincipalRequest struct {
	PrincipalID  string `json:"principal_id"`
	Reason       string `json:"reason,omitempty"`
	HorizonHours int    `json:"horizon_hours,omitempty"`
}

// RevokePrincipal handles blanket revocation (security incident)
func (h *GatewayHandler) RevokePrincipal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req RevokePrincipalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.PrincipalID == "" {
		h.respondWithError(w, http.StatusBadRequest, ErrInvalidInput, "Principal ID is required")
		return
	}

	horizon := time.Now().Add(defaultBlanketHorizon)
	if req.HorizonHours > 0 {
		horizon = time.Now().Add(time.Duration(req.HorizonHours) * time.Hour)
	}

	reason := parseReason(req.Reason)
	if req.Reason == "" {
		reason = models.ReasonSecurityIncident
	}

	if err := h.revocations.RevokeAll(ctx, req.PrincipalID, reason, horizon); err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to revoke principal tokens")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "All tokens revoked for principal"))
	h.logger.Info("Principal tokens revoked via HTTP",
		util.String("principal_id", req.PrincipalID),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "RevokePrincipal"),
	)
}

// ResetCounterRequest clears a rate counter after a successful guarded
// operation (e.g. the login service calls this on successful login).
type ResetCounterRequest struct {
	Identity string `json:"identity"`
	Policy   string `json:"policy"`
}

// ResetCounter handles early counter reset
func (h *GatewayHandler) ResetCounter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ResetCounterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.Identity == "" || req.Policy == "" {
		h.respondWithError(w, http.StatusBadRequest, ErrInvalidInput, "Identity and policy are required")
		return
	}

	if err := h.gate.Reset(ctx, req.Identity, req.Policy); err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err, "Failed to reset counter")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Counter reset"))
}

func parseReason(raw string) models.RevocationReason {
	switch models.RevocationReason(raw) {
	case models.ReasonUserLogout, models.ReasonSecurityIncident,
		models.ReasonPasswordChange, models.ReasonAdminAction:
		return models.RevocationReason(raw)
	default:
		return models.ReasonUserLogout
	}
}

func (h *GatewayHandler) respondWithJSON(w http.ResponseWriter, status int, payload Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", util.ErrorField(err))
	}
}

func (h *GatewayHandler) respondWithError(w http.ResponseWriter, status int, err error, message string) {
	h.respondWithJSON(w, status, errorResponse(err, message))
}
