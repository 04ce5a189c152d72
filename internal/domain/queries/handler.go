package queries

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"clinical-coding/internal/middleware"
	"clinical-coding/internal/platform/logger"
	"clinical-coding/internal/ports/auth"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, svc *Service) {
	coder := middleware.RequireRole(auth.RoleCoder)

	r.With(coder).Post("/episodes/{episodeID}/queries", createQueryHandler(svc))
	r.Get("/episodes/{episodeID}/queries", listQueriesHandler(svc))

	r.Route("/queries/{queryID}", func(qr chi.Router) {
		qr.Get("/", getQueryHandler(svc))
		qr.Post("/response", recordResponseHandler(svc))
	})
}

type createQueryRequest struct {
	ToClinician string `json:"toClinician"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
}

type responseRequest struct {
	Responder    string `json:"responder"`
	ResponseText string `json:"responseText"`
}

// queryResponse es una consulta al clínico.
type queryResponse struct {
	ID                string     `json:"id"`
	EpisodeID         string     `json:"episodeId"`
	ToClinician       string     `json:"toClinician"`
	Subject           string     `json:"subject"`
	Body              string     `json:"body"`
	CreatedBy         string     `json:"createdBy"`
	CreatedAt         time.Time  `json:"createdAt"`
	ExternalReference string     `json:"externalReference,omitempty"`
	ResponseText      string     `json:"responseText,omitempty"`
	RespondedBy       string     `json:"respondedBy,omitempty"`
	RespondedAt       *time.Time `json:"respondedAt,omitempty"`
}

// createQueryHandler godoc
// @Summary Crear consulta al clínico
// @Description Guarda la consulta y la envía al flujo externo. Si el envío falla la consulta queda creada igual.
// @Tags queries
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param episodeID path string true "ID del episodio"
// @Param payload body createQueryRequest true "Consulta"
// @Success 201 {object} queryResponse
// @Failure 400 {string} string "invalid json / invalid input"
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {string} string "forbidden"
// @Failure 404 {string} string "not found"
// @Router /episodes/{episodeID}/queries [post]
func createQueryHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := middleware.GetClaims(r.Context())

		var req createQueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		q, err := svc.Create(r.Context(), CreateInput{
			EpisodeID:   chi.URLParam(r, "episodeID"),
			ToClinician: req.ToClinician,
			Subject:     req.Subject,
			Body:        req.Body,
			CreatedBy:   claims.UserID,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toQueryResponse(q))
	}
}

// listQueriesHandler godoc
// @Summary Listar consultas del episodio
// @Tags queries
// @Produce json
// @Param episodeID path string true "ID del episodio"
// @Success 200 {array} queryResponse
// @Failure 401 {string} string "unauthorized"
// @Router /episodes/{episodeID}/queries [get]
func listQueriesHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authenticated(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		items, err := svc.ListByEpisode(r.Context(), chi.URLParam(r, "episodeID"))
		if err != nil {
			writeError(w, r, err)
			return
		}

		out := make([]queryResponse, 0, len(items))
		for _, q := range items {
			out = append(out, toQueryResponse(q))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// getQueryHandler godoc
// @Summary Obtener consulta
// @Tags queries
// @Produce json
// @Param queryID path string true "ID de la consulta"
// @Success 200 {object} queryResponse
// @Failure 401 {string} string "unauthorized"
// @Failure 404 {string} string "not found"
// @Router /queries/{queryID} [get]
func getQueryHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authenticated(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		q, err := svc.GetByID(r.Context(), chi.URLParam(r, "queryID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toQueryResponse(q))
	}
}

// recordResponseHandler godoc
// @Summary Registrar respuesta del clínico
// @Description Solo guarda la respuesta. La re-sugerencia corre por el webhook firmado.
// @Tags queries
// @Accept json
// @Param queryID path string true "ID de la consulta"
// @Param payload body responseRequest true "Respuesta"
// @Success 204 {string} string "no content"
// @Failure 400 {string} string "invalid json"
// @Failure 401 {string} string "unauthorized"
// @Failure 404 {string} string "not found"
// @Router /queries/{queryID}/response [post]
func recordResponseHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req responseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		responder := strings.TrimSpace(req.Responder)
		if responder == "" {
			responder = claims.UserID
		}

		if _, _, err := svc.RecordResponse(r.Context(), chi.URLParam(r, "queryID"), responder, req.ResponseText); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func authenticated(r *http.Request) bool {
	claims, ok := middleware.GetClaims(r.Context())
	return ok && strings.TrimSpace(claims.UserID) != ""
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		logger.FromContext(r.Context()).Error("request failed", map[string]any{"error": err})
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func toQueryResponse(q Query) queryResponse {
	return queryResponse{
		ID:                q.ID,
		EpisodeID:         q.EpisodeID,
		ToClinician:       q.ToClinician,
		Subject:           q.Subject,
		Body:              q.Body,
		CreatedBy:         q.CreatedBy,
		CreatedAt:         q.CreatedAt,
		ExternalReference: q.ExternalReference,
		ResponseText:      q.ResponseText,
		RespondedBy:       q.RespondedBy,
		RespondedAt:       q.RespondedAt,
	}
}

// writeJSON está duplicado intencionalmente en handlers de distintos módulos
// para evitar crear paquetes/helpers compartidos demasiado pronto.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
