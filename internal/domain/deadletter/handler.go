package deadletter

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"clinical-coding/internal/middleware"
	"clinical-coding/internal/platform/logger"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, svc *Service) {
	r.Route("/deadletters", func(dr chi.Router) {
		dr.Get("/", listHandler(svc))
		dr.Get("/{deadLetterID}", getHandler(svc))
		dr.Post("/{deadLetterID}/retry", retryHandler(svc))
	})
}

// recordResponse es un dead-letter.
type recordResponse struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload" swaggertype:"object"`
	Error       string          `json:"error,omitempty"`
	Attempts    int             `json:"attempts"`
	Status      Status          `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
	LastTriedAt *time.Time      `json:"lastTriedAt,omitempty"`
}

// listHandler godoc
// @Summary Listar dead-letters
// @Tags deadletters
// @Produce json
// @Param status query string false "pending | resolved | quarantined"
// @Param limit query int false "Máximo de resultados (default 100, máx 1000)"
// @Success 200 {array} recordResponse
// @Failure 400 {string} string "invalid status"
// @Failure 401 {string} string "unauthorized"
// @Router /deadletters [get]
func listHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authenticated(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		limit := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}

		items, err := svc.List(r.Context(), Status(strings.TrimSpace(r.URL.Query().Get("status"))), limit)
		if err != nil {
			writeError(w, r, err)
			return
		}

		out := make([]recordResponse, 0, len(items))
		for _, rec := range items {
			out = append(out, toRecordResponse(rec))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// getHandler godoc
// @Summary Obtener dead-letter
// @Tags deadletters
// @Produce json
// @Param deadLetterID path string true "ID del dead-letter"
// @Success 200 {object} recordResponse
// @Failure 401 {string} string "unauthorized"
// @Failure 404 {string} string "not found"
// @Router /deadletters/{deadLetterID} [get]
func getHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authenticated(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		rec, err := svc.GetByID(r.Context(), chi.URLParam(r, "deadLetterID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toRecordResponse(rec))
	}
}

// retryHandler godoc
// @Summary Reintentar un dead-letter
// @Description Reprocesa el payload. El contador de intentos sube aunque falle.
// @Tags deadletters
// @Produce json
// @Param deadLetterID path string true "ID del dead-letter"
// @Success 200 {object} recordResponse
// @Failure 400 {string} string "malformed payload"
// @Failure 401 {string} string "unauthorized"
// @Failure 404 {string} string "not found"
// @Failure 502 {string} string "retry failed"
// @Router /deadletters/{deadLetterID}/retry [post]
func retryHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authenticated(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		rec, err := svc.Retry(r.Context(), chi.URLParam(r, "deadLetterID"))
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, toRecordResponse(rec))
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidInput), errors.Is(err, ErrMalformed):
			writeError(w, r, err)
		case rec.ID != "":
			// el intento quedó registrado; el proceso falló
			http.Error(w, "retry failed: "+err.Error(), http.StatusBadGateway)
		default:
			writeError(w, r, err)
		}
	}
}

func authenticated(r *http.Request) bool {
	claims, ok := middleware.GetClaims(r.Context())
	return ok && strings.TrimSpace(claims.UserID) != ""
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrMalformed):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		logger.FromContext(r.Context()).Error("request failed", map[string]any{"error": err})
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func toRecordResponse(rec Record) recordResponse {
	payload := json.RawMessage(rec.Payload)
	if !json.Valid(payload) {
		b, _ := json.Marshal(string(rec.Payload))
		payload = b
	}
	return recordResponse{
		ID:          rec.ID,
		Kind:        rec.Kind,
		Payload:     payload,
		Error:       rec.Error,
		Attempts:    rec.Attempts,
		Status:      rec.Status,
		CreatedAt:   rec.CreatedAt,
		LastTriedAt: rec.LastTriedAt,
	}
}

// writeJSON está duplicado intencionalmente en handlers de distintos módulos
// para evitar crear paquetes/helpers compartidos demasiado pronto.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
