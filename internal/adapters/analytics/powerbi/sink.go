// Package powerbi empuja filas a un dataset push de Power BI.
package powerbi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"clinical-coding/internal/platform/httpclient"
	"clinical-coding/internal/ports/analytics"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	defaultAPIBase = "https://api.powerbi.com/v1.0/myorg"
	scope          = "https://analysis.windows.net/powerbi/api/.default"
)

var ErrNotConfigured = errors.New("powerbi sink not configured")

type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	WorkspaceID  string
	DatasetID    string

	// Opcionales (tests / nubes soberanas).
	TokenURL string
	APIBase  string
	Timeout  time.Duration
}

func (c Config) IsConfigured() bool {
	return strings.TrimSpace(c.TenantID) != "" &&
		strings.TrimSpace(c.ClientID) != "" &&
		strings.TrimSpace(c.ClientSecret) != "" &&
		strings.TrimSpace(c.WorkspaceID) != "" &&
		strings.TrimSpace(c.DatasetID) != ""
}

type Sink struct {
	http      *httpclient.Client
	tokens    oauth2.TokenSource
	apiBase   string
	workspace string
	dataset   string
}

func New(cfg Config) (*Sink, error) {
	if !cfg.IsConfigured() {
		return nil, ErrNotConfigured
	}

	client := httpclient.New(cfg.Timeout).WithRetries(2, 500*time.Millisecond)

	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", url.PathEscape(cfg.TenantID))
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{scope},
	}
	// el token source vive lo que vive el sink; reutiliza el token hasta que expira
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, client.HTTP)

	apiBase := strings.TrimRight(cfg.APIBase, "/")
	if apiBase == "" {
		apiBase = defaultAPIBase
	}

	return &Sink{
		http:      client,
		tokens:    cc.TokenSource(tokenCtx),
		apiBase:   apiBase,
		workspace: cfg.WorkspaceID,
		dataset:   cfg.DatasetID,
	}, nil
}

func (s *Sink) PushRows(ctx context.Context, table string, rows []analytics.Row) error {
	if len(rows) == 0 {
		return nil
	}

	tok, err := s.tokens.Token()
	if err != nil {
		return fmt.Errorf("powerbi token: %w", err)
	}

	endpoint := fmt.Sprintf("%s/groups/%s/datasets/%s/tables/%s/rows",
		s.apiBase, url.PathEscape(s.workspace), url.PathEscape(s.dataset), url.PathEscape(table))

	headers := map[string]string{"Authorization": "Bearer " + tok.AccessToken}
	body := map[string]any{"rows": rows}
	if err := s.http.DoJSON(ctx, http.MethodPost, endpoint, headers, body, nil); err != nil {
		return fmt.Errorf("powerbi push rows %s: %w", table, err)
	}
	return nil
}
