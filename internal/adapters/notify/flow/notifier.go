// Package flow envía las consultas al clínico a un webhook HTTP (Power Automate Flow).
package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinical-coding/internal/platform/httpclient"
	"clinical-coding/internal/ports/notify"
)

var ErrNotConfigured = errors.New("flow webhook url not configured")

type payload struct {
	EpisodeID string    `json:"episodeId"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedBy string    `json:"createdBy"`
	CreatedOn time.Time `json:"createdOn"`
}

type Notifier struct {
	http *httpclient.Client
	url  string
}

func New(webhookURL string, timeout time.Duration) (*Notifier, error) {
	webhookURL = strings.TrimSpace(webhookURL)
	if webhookURL == "" {
		return nil, ErrNotConfigured
	}
	return &Notifier{http: httpclient.New(timeout), url: webhookURL}, nil
}

// NotifyQuery devuelve "HTTP <status>" siempre que haya habido respuesta,
// también cuando el status no es 2xx.
func (n *Notifier) NotifyQuery(ctx context.Context, q notify.QueryNotification) (string, error) {
	status, err := n.http.PostJSON(ctx, n.url, nil, payload{
		EpisodeID: q.EpisodeID,
		To:        q.To,
		Subject:   q.Subject,
		Body:      q.Body,
		CreatedBy: q.CreatedBy,
		CreatedOn: q.CreatedAt.UTC(),
	})

	ref := ""
	if status > 0 {
		ref = fmt.Sprintf("HTTP %d", status)
	}
	if err != nil {
		return ref, fmt.Errorf("flow notify query %s: %w", q.QueryID, err)
	}
	return ref, nil
}
