package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authorizeRequest struct {
	Token        string `json:"token"`
	RequiredRole Role   `json:"required_role"`
}

type statusResponse struct {
	Status    string `json:"status"`
	Token     string `json:"token,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	ExpiresIn int64  `json:"expires_in,omitempty"`
	Message   string `json:"message"`
	TraceID   string `json:"trace_id,omitempty"`
}

type authorizeResponse struct {
	Allowed bool `json:"allowed"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body credentialsRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	if err := h.service.Register(r.Context(), body.Username, body.Password); err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, statusResponse{Status: "success", Message: "user registered successfully"})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body credentialsRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	tokens, err := h.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		var lockedErr ErrLoginLocked
		if errors.As(err, &lockedErr) {
			retryAfter := int(time.Until(lockedErr.Until).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeJSON(w, http.StatusTooManyRequests, statusResponse{Status: "error", Message: "login temporarily locked"})
			return
		}
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Status:    "success",
		Token:     tokens.AccessToken,
		TokenType: tokens.TokenType,
		ExpiresIn: tokens.ExpiresIn,
		Message:   "login successful",
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	if err := h.service.Logout(r.Context(), token); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Authorize answers allow/deny for a token and role. Only transient and
// internal failures produce a non-200 status.
func (h *Handler) Authorize(w http.ResponseWriter, r *http.Request) {
	var body authorizeRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.RequiredRole == "" {
		body.RequiredRole = RoleUser
	}

	_, err := h.service.Authorize(r.Context(), body.Token, body.RequiredRole)
	switch KindOf(err) {
	case KindUnauthorized, KindForbidden:
		writeJSON(w, http.StatusOK, authorizeResponse{Allowed: false})
	default:
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, authorizeResponse{Allowed: true})
	}
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"username":   claims.Subject,
		"role":       claims.Role,
		"expires_at": claims.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

func (h *Handler) Admin(w http.ResponseWriter, r *http.Request) {
	claims, _ := ClaimsFromContext(r.Context())
	writeJSON(w, http.StatusOK, statusResponse{Status: "success", Message: "welcome to the admin panel, " + claims.Subject})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeServiceError(w http.ResponseWriter, err error) {
	var authErr *Error
	if !errors.As(err, &authErr) {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, msgInternalFailure)
		return
	}

	status := http.StatusInternalServerError
	switch authErr.Kind {
	case KindInvalidInput:
		status = http.StatusBadRequest
	case KindConflict:
		status = http.StatusConflict
	case KindUnauthorized:
		status = http.StatusUnauthorized
	case KindForbidden:
		status = http.StatusForbidden
	case KindTransient:
		status = http.StatusServiceUnavailable
	}

	if authErr.Kind == KindTransient || authErr.Kind == KindInternal {
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("trace_id", authErr.TraceID)
			scope.SetTag("error_kind", string(authErr.Kind))
			sentry.CaptureException(authErr)
		})
	}

	writeJSON(w, status, statusResponse{Status: "error", Message: authErr.Message, TraceID: authErr.TraceID})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, statusResponse{Status: "error", Message: message})
}
