package episodes

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"clinical-coding/internal/domain/audit"
	"clinical-coding/internal/domain/coding"
	"clinical-coding/internal/middleware"
	"clinical-coding/internal/platform/logger"
	"clinical-coding/internal/ports/auth"

	"github.com/go-chi/chi/v5"
)

const maxUploadBytes = 10 << 20

func RegisterRoutes(r chi.Router, svc *Service) {
	coder := middleware.RequireRole(auth.RoleCoder)
	reviewer := middleware.RequireRole(auth.RoleReviewer)

	r.Route("/episodes", func(er chi.Router) {
		er.With(coder).Post("/", createEpisodeHandler(svc))
		er.Get("/", listEpisodesHandler(svc))

		// Helpers sin persistencia
		er.With(coder).Post("/suggest", suggestHandler(svc))
		er.With(coder).Post("/compare-upload", compareUploadHandler(svc))

		er.Get("/{episodeID}", getEpisodeHandler(svc))
		er.Get("/{episodeID}/code-diff", codeDiffHandler(svc))

		// Workflow
		er.With(coder).Post("/{episodeID}/submit", submitHandler(svc))
		er.With(reviewer).Post("/{episodeID}/approve", reviewHandler(svc, StatusApproved))
		er.With(reviewer).Post("/{episodeID}/reject", reviewHandler(svc, StatusRejected))
	})

	r.Route("/export", func(xr chi.Router) {
		xr.Get("/episodes.csv", exportCSVHandler(svc))
		xr.Get("/episodes.json", exportJSONHandler(svc))
	})
}

type createEpisodeRequest struct {
	NHSNumber     string `json:"nhsNumber"`
	PatientName   string `json:"patientName"`
	AdmissionDate string `json:"admissionDate"` // YYYY-MM-DD o RFC3339
	DischargeDate string `json:"dischargeDate"` // opcional
	Specialty     string `json:"specialty"`
	SourceText    string `json:"sourceText"`
}

type reviewRequest struct {
	Notes string `json:"notes"`
}

// episodeResponse es un episodio con sus códigos actuales.
type episodeResponse struct {
	ID            string             `json:"id"`
	NHSNumber     string             `json:"nhsNumber"`
	PatientName   string             `json:"patientName"`
	AdmissionDate time.Time          `json:"admissionDate"`
	DischargeDate *time.Time         `json:"dischargeDate,omitempty"`
	Specialty     string             `json:"specialty"`
	SourceText    string             `json:"sourceText"`
	Diagnoses     []coding.Diagnosis `json:"diagnoses"`
	Procedures    []coding.Procedure `json:"procedures"`
	Status        Status             `json:"status"`
	CreatedBy     string             `json:"createdBy,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
	SubmittedBy   string             `json:"submittedBy,omitempty"`
	SubmittedAt   *time.Time         `json:"submittedAt,omitempty"`
	ReviewedBy    string             `json:"reviewedBy,omitempty"`
	ReviewedAt    *time.Time         `json:"reviewedAt,omitempty"`
	ReviewNotes   string             `json:"reviewNotes,omitempty"`
}

// codeDiffResponse es la última re-sugerencia aplicada.
type codeDiffResponse struct {
	AuditID     string             `json:"auditId"`
	Timestamp   time.Time          `json:"timestamp"`
	PerformedBy string             `json:"performedBy"`
	OldDx       []coding.Diagnosis `json:"oldDx"`
	OldPx       []coding.Procedure `json:"oldPx"`
	NewDx       []coding.Diagnosis `json:"newDx"`
	NewPx       []coding.Procedure `json:"newPx"`
	DxAdded     []string           `json:"dxAdded"`
	DxRemoved   []string           `json:"dxRemoved"`
	PxAdded     []string           `json:"pxAdded"`
	PxRemoved   []string           `json:"pxRemoved"`
}

type compareResponse struct {
	OldSource CodeSource     `json:"oldSource"`
	Old       coding.CodeSet `json:"old"`
	New       coding.CodeSet `json:"new"`
	DxAdded   []string       `json:"dxAdded"`
	DxRemoved []string       `json:"dxRemoved"`
	PxAdded   []string       `json:"pxAdded"`
	PxRemoved []string       `json:"pxRemoved"`
}

// createEpisodeHandler godoc
// @Summary Crear episodio con sugerencia
// @Description Crea un episodio en Draft y le asigna los códigos sugeridos por el motor. Requiere rol Coder.
// @Tags episodes
// @Accept json
// @Produce json
// @Param X-Debug-User-ID header string false "Solo en modo dev, ID de usuario para depuración"
// @Param X-Debug-Roles header string false "Solo en modo dev, roles CSV (Coder,Reviewer)"
// @Param Authorization header string false "Bearer token en producción"
// @Param payload body createEpisodeRequest true "Datos del episodio"
// @Success 201 {object} episodeResponse
// @Failure 400 {string} string "invalid json / reglas de negocio"
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {string} string "forbidden"
// @Failure 502 {string} string "suggestion engine unavailable"
// @Router /episodes [post]
func createEpisodeHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := middleware.GetClaims(r.Context())

		in, ok := decodeCreate(w, r)
		if !ok {
			return
		}

		ep, err := svc.Create(r.Context(), claims.UserID, in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toEpisodeResponse(ep))
	}
}

// suggestHandler godoc
// @Summary Sugerir códigos sin guardar
// @Tags episodes
// @Accept json
// @Produce json
// @Param payload body createEpisodeRequest true "Datos del episodio"
// @Success 200 {object} episodeResponse
// @Failure 400 {string} string "invalid json / reglas de negocio"
// @Failure 502 {string} string "suggestion engine unavailable"
// @Router /episodes/suggest [post]
func suggestHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		in, ok := decodeCreate(w, r)
		if !ok {
			return
		}

		ep, err := svc.Suggest(r.Context(), in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toEpisodeResponse(ep))
	}
}

// compareUploadHandler godoc
// @Summary Comparar códigos de un documento contra la sugerencia
// @Description multipart: `file` (narrativa), `codes` opcional (JSON o CSV), `specialty` opcional. No persiste.
// @Tags episodes
// @Accept mpfd
// @Produce json
// @Param file formData file true "Narrativa clínica"
// @Param codes formData file false "Códigos actuales (JSON o CSV)"
// @Param specialty formData string false "Especialidad"
// @Success 200 {object} compareResponse
// @Failure 400 {string} string "file required"
// @Router /episodes/compare-upload [post]
func compareUploadHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			http.Error(w, "invalid multipart form", http.StatusBadRequest)
			return
		}

		narrative, err := formText(r, "file")
		if err != nil || strings.TrimSpace(narrative) == "" {
			http.Error(w, "file required", http.StatusBadRequest)
			return
		}
		codes, _ := formText(r, "codes")

		cmp, err := svc.CompareUpload(r.Context(), CompareInput{
			Narrative: narrative,
			CodesText: codes,
			Specialty: r.FormValue("specialty"),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, compareResponse{
			OldSource: cmp.OldSource,
			Old:       cmp.Old,
			New:       cmp.New,
			DxAdded:   cmp.Diff.DxAdded,
			DxRemoved: cmp.Diff.DxRemoved,
			PxAdded:   cmp.Diff.PxAdded,
			PxRemoved: cmp.Diff.PxRemoved,
		})
	}
}

// listEpisodesHandler godoc
// @Summary Listar episodios
// @Tags episodes
// @Produce json
// @Param status query string false "Draft|Submitted|Approved|Rejected"
// @Param from query string false "admissionDate mínima (YYYY-MM-DD)"
// @Param to query string false "admissionDate máxima (YYYY-MM-DD)"
// @Param limit query int false "Máximo (1-500). Por defecto 100"
// @Success 200 {array} episodeResponse
// @Failure 400 {string} string "Parámetros de filtro inválidos"
// @Failure 401 {string} string "unauthorized"
// @Router /episodes [get]
func listEpisodesHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authenticated(w, r) {
			return
		}

		filter, err := parseListFilter(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		items, err := svc.List(r.Context(), filter)
		if err != nil {
			writeError(w, r, err)
			return
		}

		out := make([]episodeResponse, 0, len(items))
		for _, ep := range items {
			out = append(out, toEpisodeResponse(ep))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// getEpisodeHandler godoc
// @Summary Obtener episodio
// @Tags episodes
// @Produce json
// @Param episodeID path string true "ID del episodio"
// @Success 200 {object} episodeResponse
// @Failure 401 {string} string "unauthorized"
// @Failure 404 {string} string "episode not found"
// @Router /episodes/{episodeID} [get]
func getEpisodeHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authenticated(w, r) {
			return
		}

		ep, err := svc.GetByID(r.Context(), chi.URLParam(r, "episodeID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toEpisodeResponse(ep))
	}
}

// codeDiffHandler godoc
// @Summary Diff de la última re-sugerencia
// @Description Lee la última entrada ReSuggestionApplied del audit log del episodio.
// @Tags episodes
// @Produce json
// @Param episodeID path string true "ID del episodio"
// @Success 200 {object} codeDiffResponse
// @Failure 401 {string} string "unauthorized"
// @Failure 404 {string} string "not found"
// @Router /episodes/{episodeID}/code-diff [get]
func codeDiffHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authenticated(w, r) {
			return
		}

		e, change, err := svc.CodeDiff(r.Context(), chi.URLParam(r, "episodeID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toCodeDiffResponse(e, change))
	}
}

// submitHandler godoc
// @Summary Enviar episodio a revisión
// @Tags episodes
// @Produce json
// @Param episodeID path string true "ID del episodio"
// @Success 200 {object} episodeResponse
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {string} string "forbidden"
// @Failure 404 {string} string "episode not found"
// @Failure 409 {string} string "invalid transition"
// @Router /episodes/{episodeID}/submit [post]
func submitHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := middleware.GetClaims(r.Context())

		ep, err := svc.Submit(r.Context(), chi.URLParam(r, "episodeID"), claims.UserID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toEpisodeResponse(ep))
	}
}

// reviewHandler godoc
// @Summary Aprobar o rechazar episodio
// @Description Requiere rol Reviewer. Body opcional con notas.
// @Tags episodes
// @Accept json
// @Produce json
// @Param episodeID path string true "ID del episodio"
// @Param payload body reviewRequest false "Notas de revisión"
// @Success 200 {object} episodeResponse
// @Failure 401 {string} string "unauthorized"
// @Failure 403 {string} string "forbidden"
// @Failure 404 {string} string "episode not found"
// @Failure 409 {string} string "invalid transition"
// @Router /episodes/{episodeID}/approve [post]
// @Router /episodes/{episodeID}/reject [post]
func reviewHandler(svc *Service, to Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, _ := middleware.GetClaims(r.Context())

		var req reviewRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
				http.Error(w, "invalid json", http.StatusBadRequest)
				return
			}
		}

		id := chi.URLParam(r, "episodeID")
		var (
			ep  Episode
			err error
		)
		if to == StatusApproved {
			ep, err = svc.Approve(r.Context(), id, claims.UserID, req.Notes)
		} else {
			ep, err = svc.Reject(r.Context(), id, claims.UserID, req.Notes)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toEpisodeResponse(ep))
	}
}

func decodeCreate(w http.ResponseWriter, r *http.Request) (CreateInput, bool) {
	var req createEpisodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return CreateInput{}, false
	}

	admission, err := parseDate(req.AdmissionDate)
	if err != nil || admission == nil {
		http.Error(w, "admissionDate must be YYYY-MM-DD", http.StatusBadRequest)
		return CreateInput{}, false
	}
	discharge, err := parseDate(req.DischargeDate)
	if err != nil {
		http.Error(w, "dischargeDate must be YYYY-MM-DD", http.StatusBadRequest)
		return CreateInput{}, false
	}

	return CreateInput{
		NHSNumber:     req.NHSNumber,
		PatientName:   req.PatientName,
		AdmissionDate: *admission,
		DischargeDate: discharge,
		Specialty:     req.Specialty,
		SourceText:    req.SourceText,
	}, true
}

func parseListFilter(r *http.Request) (ListFilter, error) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	filter := ListFilter{Limit: limit}

	if v := strings.TrimSpace(r.URL.Query().Get("status")); v != "" {
		st := Status(v)
		if !st.Valid() {
			return ListFilter{}, errors.New("status must be Draft|Submitted|Approved|Rejected")
		}
		filter.Status = st
	}

	from, err := parseDate(r.URL.Query().Get("from"))
	if err != nil {
		return ListFilter{}, errors.New("from must be YYYY-MM-DD")
	}
	to, err := parseDate(r.URL.Query().Get("to"))
	if err != nil {
		return ListFilter{}, errors.New("to must be YYYY-MM-DD")
	}
	filter.From = from
	filter.To = to

	return filter, nil
}

func parseDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}

// formText lee un campo multipart como archivo o, si no hay archivo, como valor.
func formText(r *http.Request, name string) (string, error) {
	f, _, err := r.FormFile(name)
	if err == nil {
		defer f.Close()
		b, err := io.ReadAll(f)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	if !errors.Is(err, http.ErrMissingFile) {
		return "", err
	}
	return r.FormValue(name), nil
}

func authenticated(w http.ResponseWriter, r *http.Request) bool {
	claims, ok := middleware.GetClaims(r.Context())
	if !ok || strings.TrimSpace(claims.UserID) == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ErrSuggestionUnavailable):
		http.Error(w, "suggestion engine unavailable", http.StatusBadGateway)
	default:
		logger.FromContext(r.Context()).Error("request failed", map[string]any{"error": err})
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func toEpisodeResponse(ep Episode) episodeResponse {
	codes := ep.Codes()
	return episodeResponse{
		ID:            ep.ID,
		NHSNumber:     ep.NHSNumber,
		PatientName:   ep.PatientName,
		AdmissionDate: ep.AdmissionDate,
		DischargeDate: ep.DischargeDate,
		Specialty:     ep.Specialty,
		SourceText:    ep.SourceText,
		Diagnoses:     codes.Diagnoses,
		Procedures:    codes.Procedures,
		Status:        ep.Status,
		CreatedBy:     ep.CreatedBy,
		CreatedAt:     ep.CreatedAt,
		UpdatedAt:     ep.UpdatedAt,
		SubmittedBy:   ep.SubmittedBy,
		SubmittedAt:   ep.SubmittedAt,
		ReviewedBy:    ep.ReviewedBy,
		ReviewedAt:    ep.ReviewedAt,
		ReviewNotes:   ep.ReviewNotes,
	}
}

func toCodeDiffResponse(e audit.Entry, c audit.CodeChange) codeDiffResponse {
	return codeDiffResponse{
		AuditID:     e.ID,
		Timestamp:   e.Timestamp,
		PerformedBy: e.PerformedBy,
		OldDx:       c.OldDx,
		OldPx:       c.OldPx,
		NewDx:       c.NewDx,
		NewPx:       c.NewPx,
		DxAdded:     c.DxAdded,
		DxRemoved:   c.DxRemoved,
		PxAdded:     c.PxAdded,
		PxRemoved:   c.PxRemoved,
	}
}

// writeJSON está duplicado intencionalmente en handlers de distintos módulos
// para evitar crear paquetes/helpers compartidos demasiado pronto.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
