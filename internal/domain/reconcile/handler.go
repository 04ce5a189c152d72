package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

const maxWebhookBody = 1 << 20

// Capturer guarda una respuesta que no se pudo reconciliar para reintentar
// después. deadletter.Service lo implementa.
type Capturer interface {
	Capture(ctx context.Context, resp Response, cause error) error
}

// RegisterWebhook monta el webhook firmado del flujo externo. No pasa por el
// middleware de auth: la autenticidad la da la firma HMAC.
func RegisterWebhook(r chi.Router, rec *Reconciler, secret string, capture Capturer) {
	r.Post("/webhooks/flow/queries/{queryID}/response", webhookHandler(rec, []byte(secret), capture))
}

type webhookBody struct {
	Responder    string `json:"responder"`
	ResponseText string `json:"responseText"`
}

// webhookHandler godoc
// @Summary Webhook de respuesta del clínico
// @Description Verifica la firma HMAC-SHA256 del body (header X-Signature: sha256=<hex>), registra la respuesta y re-sugiere códigos. Si falla un paso posterior a la firma la respuesta queda en dead-letter.
// @Tags webhooks
// @Accept json
// @Param X-Signature header string true "sha256=<hex del HMAC del body>"
// @Param queryID path string true "ID de la consulta"
// @Param payload body webhookBody true "Respuesta del clínico"
// @Success 204 {string} string "aplicado"
// @Success 202 {string} string "debounce o encolado para reintento"
// @Failure 400 {string} string "invalid body"
// @Failure 401 {string} string "unauthorized"
// @Failure 404 {string} string "not found"
// @Router /webhooks/flow/queries/{queryID}/response [post]
func webhookHandler(rec *Reconciler, secret []byte, capture Capturer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}

		if err := VerifySignature(secret, raw, r.Header.Get(SignatureHeader)); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		resp := parseWebhookBody(raw)
		resp.QueryID = chi.URLParam(r, "queryID")

		res, err := rec.Reconcile(r.Context(), resp)
		switch {
		case err == nil:
		case errors.Is(err, ErrQueryNotFound):
			http.Error(w, "not found", http.StatusNotFound)
			return
		case errors.Is(err, ErrInvalidInput):
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		default:
			rec.log.Error("reconcile failed", map[string]any{
				"query_id": resp.QueryID,
				"error":    err.Error(),
			})
			if capture == nil {
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if cerr := capture.Capture(context.WithoutCancel(r.Context()), resp, err); cerr != nil {
				rec.log.Error("dead-letter capture failed", map[string]any{
					"query_id": resp.QueryID,
					"error":    cerr.Error(),
				})
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusAccepted)
			return
		}

		if res.Outcome == OutcomeSkippedDebounce {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// parseWebhookBody acepta JSON {responder, responseText}; si no es JSON o no
// trae responseText, el body completo es el texto.
func parseWebhookBody(raw []byte) Response {
	var b webhookBody
	if err := json.Unmarshal(raw, &b); err == nil && strings.TrimSpace(b.ResponseText) != "" {
		return Response{
			Responder:    strings.TrimSpace(b.Responder),
			ResponseText: b.ResponseText,
		}
	}
	return Response{
		Responder:    strings.TrimSpace(b.Responder),
		ResponseText: strings.TrimSpace(string(raw)),
	}
}
