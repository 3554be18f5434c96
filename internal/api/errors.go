package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/digkill/genledger/internal/provider"
	"github.com/digkill/genledger/internal/service"
)

const (
	defaultBodyLimit = 1 << 20
	// Generate requests may carry up to ten inline reference images.
	generateBodyLimit = 64 << 20
)

type errorResponse struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, provider.ErrInvalidParams),
		errors.Is(err, service.ErrPromoInvalid),
		errors.Is(err, service.ErrPromoExhausted):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrPromoAlreadyRedeemed):
		return http.StatusConflict
	case errors.Is(err, service.ErrProviderUnavailable):
		// Missing provider credentials are a server-side fault.
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps service errors to statuses. Unexpected errors are logged and hidden.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError && !errors.Is(err, service.ErrProviderUnavailable) {
		s.log.Error("handler error", "method", r.Method, "path", r.URL.Path, "err", err)
		writeErrorMessage(w, status, "internal error")
		return
	}
	writeErrorMessage(w, status, err.Error())
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, limit int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid json: %v", service.ErrInvalidRequest, err)
	}
	return nil
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, defaultBodyLimit))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", service.ErrInvalidRequest, err)
	}
	return body, nil
}

func parseID(value string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", service.ErrInvalidRequest, value)
	}
	return id, nil
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}
