package reverts

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"clinical-coding/internal/domain/coding"
	"clinical-coding/internal/domain/episodes"
	"clinical-coding/internal/middleware"
	"clinical-coding/internal/platform/logger"
	"clinical-coding/internal/ports/auth"

	"github.com/go-chi/chi/v5"
)

func RegisterRoutes(r chi.Router, svc *Service) {
	reviewer := middleware.RequireRole(auth.RoleReviewer)

	r.Route("/episodes/{episodeID}/revert-requests", func(rr chi.Router) {
		rr.With(reviewer).Post("/", requestRevertHandler(svc))
		rr.Get("/", listRequestsHandler(svc))

		rr.With(reviewer).Post("/{requestID}/approve", resolveHandler(svc, StatusApproved))
		rr.With(reviewer).Post("/{requestID}/reject", resolveHandler(svc, StatusRejected))
	})

	// Revert directo (sin segundo revisor)
	r.With(reviewer).Post("/episodes/{episodeID}/revert", directRevertHandler(svc))
}

type revertRequest struct {
	AuditID string `json:"auditId"`
	Notes   string `json:"notes"`
}

type resolveRequest struct {
	Notes string `json:"notes"`
}

// requestResponse es una solicitud de revert.
type requestResponse struct {
	ID          string     `json:"id"`
	EpisodeID   string     `json:"episodeId"`
	AuditID     string     `json:"auditId"`
	RequestedBy string     `json:"requestedBy"`
	RequestedAt time.Time  `json:"requestedAt"`
	Notes       string     `json:"notes,omitempty"`
	Status      Status     `json:"status"`
	ResolvedBy  string     `json:"resolvedBy,omitempty"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty"`
}

type codesResponse struct {
	EpisodeID  string             `json:"episodeId"`
	Diagnoses  []coding.Diagnosis `json:"diagnoses"`
	Procedures []coding.Procedure `json:"procedures"`
}

type resolveResponse struct {
	Request requestResponse `json:"request"`
	Codes   codesResponse   `json:"codes"`
}

// requestRevertHandler godoc
// @Summary Solicitar revert de una re-sugerencia
// @Description Crea una solicitud Pending para volver los códigos al snapshot previo de la entrada de audit. Requiere rol Reviewer; otra persona debe aprobarla.
// @Tags reverts
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param Authorization header string false "Bearer token en producción"
// @Param episodeID path string true "ID del episodio"
// @Param payload body revertRequest true "Entrada de audit a revertir"
// @Success 201 {object} requestResponse
// @Failure 400 {string} string "invalid json / entrada no revertible"
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {string} string "forbidden"
// @Failure 404 {string} string "not found"
// @Router /episodes/{episodeID}/revert-requests [post]
func requestRevertHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := middleware.GetClaims(r.Context())

		var req revertRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.AuditID) == "" {
			http.Error(w, "auditId required", http.StatusBadRequest)
			return
		}

		out, err := svc.RequestRevert(r.Context(), RequestInput{
			EpisodeID:   chi.URLParam(r, "episodeID"),
			AuditID:     req.AuditID,
			RequestedBy: claims.UserID,
			Notes:       req.Notes,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toRequestResponse(out))
	}
}

// listRequestsHandler godoc
// @Summary Listar solicitudes de revert del episodio
// @Tags reverts
// @Produce json
// @Param episodeID path string true "ID del episodio"
// @Success 200 {array} requestResponse
// @Failure 401 {string} string "unauthorized"
// @Router /episodes/{episodeID}/revert-requests [get]
func listRequestsHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetClaims(r.Context())
		if !ok || strings.TrimSpace(claims.UserID) == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		items, err := svc.ListByEpisode(r.Context(), chi.URLParam(r, "episodeID"))
		if err != nil {
			writeError(w, r, err)
			return
		}

		out := make([]requestResponse, 0, len(items))
		for _, req := range items {
			out = append(out, toRequestResponse(req))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// resolveHandler godoc
// @Summary Aprobar o rechazar una solicitud de revert
// @Description El revisor debe ser distinto de quien pidió el revert (403 si no). 409 si ya estaba resuelta.
// @Tags reverts
// @Accept json
// @Produce json
// @Param episodeID path string true "ID del episodio"
// @Param requestID path string true "ID de la solicitud"
// @Param payload body resolveRequest false "Notas"
// @Success 200 {object} resolveResponse
// @Failure 400 {string} string "la solicitud no corresponde al episodio"
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {string} string "forbidden"
// @Failure 404 {string} string "not found"
// @Failure 409 {string} string "already resolved"
// @Router /episodes/{episodeID}/revert-requests/{requestID}/approve [post]
// @Router /episodes/{episodeID}/revert-requests/{requestID}/reject [post]
func resolveHandler(svc *Service, outcome Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := middleware.GetClaims(r.Context())

		var req resolveRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
				http.Error(w, "invalid json", http.StatusBadRequest)
				return
			}
		}

		out, ep, err := svc.ResolveRevert(r.Context(), ResolveInput{
			EpisodeID: chi.URLParam(r, "episodeID"),
			RequestID: chi.URLParam(r, "requestID"),
			Approver:  claims.UserID,
			Outcome:   outcome,
			Notes:     req.Notes,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, resolveResponse{
			Request: toRequestResponse(out),
			Codes:   toCodesResponse(ep),
		})
	}
}

// directRevertHandler godoc
// @Summary Revert directo
// @Description Aplica el snapshot previo de la entrada de audit sin solicitud previa. Requiere rol Reviewer.
// @Tags reverts
// @Accept json
// @Produce json
// @Param episodeID path string true "ID del episodio"
// @Param payload body revertRequest true "Entrada de audit a revertir"
// @Success 200 {object} codesResponse
// @Failure 400 {string} string "entrada no revertible"
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {string} string "forbidden"
// @Failure 404 {string} string "not found"
// @Router /episodes/{episodeID}/revert [post]
func directRevertHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := middleware.GetClaims(r.Context())

		var req revertRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}

		ep, err := svc.Revert(r.Context(), chi.URLParam(r, "episodeID"), req.AuditID, claims.UserID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toCodesResponse(ep))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrBadState), errors.Is(err, ErrNotRevertable):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		logger.FromContext(r.Context()).Error("request failed", map[string]any{"error": err})
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func toRequestResponse(req Request) requestResponse {
	return requestResponse{
		ID:          req.ID,
		EpisodeID:   req.EpisodeID,
		AuditID:     req.AuditID,
		RequestedBy: req.RequestedBy,
		RequestedAt: req.RequestedAt,
		Notes:       req.Notes,
		Status:      req.Status,
		ResolvedBy:  req.ResolvedBy,
		ResolvedAt:  req.ResolvedAt,
	}
}

func toCodesResponse(ep episodes.Episode) codesResponse {
	codes := ep.Codes()
	return codesResponse{
		EpisodeID:  ep.ID,
		Diagnoses:  codes.Diagnoses,
		Procedures: codes.Procedures,
	}
}

// writeJSON está duplicado intencionalmente en handlers de distintos módulos
// para evitar crear paquetes/helpers compartidos demasiado pronto.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
