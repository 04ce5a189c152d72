package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultTimeout = 10 * time.Second
	userAgent      = "clinical-coding"
	maxBody        = 1 << 20
)

// Client envuelve *http.Client con helpers JSON para los adapters salientes
// (IdP, Power BI, Flow).
type Client struct {
	HTTP    *http.Client
	BaseURL string // opcional; si se define, DoJSON puede recibir paths relativos

	// Reintentos ante 429, 5xx o fallo de transporte. 0 = un solo intento.
	Retries int
	Backoff time.Duration
}

func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{HTTP: &http.Client{Timeout: timeout}}
}

func NewWithBaseURL(baseURL string, timeout time.Duration) (*Client, error) {
	c := New(timeout)
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return c, nil
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	c.BaseURL = strings.TrimRight(baseURL, "/")
	return c, nil
}

// WithRetries configura reintentos con backoff lineal (backoff * intento).
func (c *Client) WithRetries(n int, backoff time.Duration) *Client {
	if n < 0 {
		n = 0
	}
	c.Retries = n
	c.Backoff = backoff
	return c
}

// HTTPError representa una respuesta no-2xx.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http error: status=%d", e.StatusCode)
	}
	return fmt.Sprintf("http error: status=%d body=%s", e.StatusCode, e.Body)
}

// StatusCode devuelve el status de un *HTTPError envuelto en err, o 0.
func StatusCode(err error) int {
	var he *HTTPError
	if errors.As(err, &he) {
		return he.StatusCode
	}
	return 0
}

// DoJSON envía in como JSON (si no es nil) y decodifica la respuesta en out
// (si no es nil). pathOrURL puede ser relativo cuando hay BaseURL.
// Devuelve *HTTPError si el status no es 2xx.
func (c *Client) DoJSON(ctx context.Context, method, pathOrURL string, headers map[string]string, in, out any) error {
	_, err := c.do(ctx, method, pathOrURL, headers, in, out)
	return err
}

// PostJSON es DoJSON para webhooks: devuelve el status aunque no sea 2xx
// (0 si el request ni siquiera salió).
func (c *Client) PostJSON(ctx context.Context, pathOrURL string, headers map[string]string, in any) (int, error) {
	return c.do(ctx, http.MethodPost, pathOrURL, headers, in, nil)
}

func (c *Client) do(ctx context.Context, method, pathOrURL string, headers map[string]string, in, out any) (int, error) {
	if c == nil || c.HTTP == nil {
		return 0, errors.New("httpclient: nil client")
	}

	fullURL, err := c.resolveURL(pathOrURL)
	if err != nil {
		return 0, err
	}

	var payload []byte
	if in != nil {
		if payload, err = json.Marshal(in); err != nil {
			return 0, fmt.Errorf("httpclient: marshal json: %w", err)
		}
	}

	var (
		status int
		raw    []byte
	)
	for attempt := 0; ; attempt++ {
		status, raw, err = c.once(ctx, method, fullURL, headers, payload)
		if !c.retryable(ctx, status, err) || attempt >= c.Retries {
			break
		}
		if werr := sleep(ctx, c.Backoff*time.Duration(attempt+1)); werr != nil {
			return status, werr
		}
	}
	if err != nil {
		return 0, err
	}

	if status < 200 || status >= 300 {
		return status, &HTTPError{StatusCode: status, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil || len(raw) == 0 {
		return status, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return status, fmt.Errorf("httpclient: unmarshal json: %w", err)
	}
	return status, nil
}

func (c *Client) once(ctx context.Context, method, fullURL string, headers map[string]string, payload []byte) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, body)
	if err != nil {
		return 0, nil, fmt.Errorf("httpclient: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		if strings.TrimSpace(k) == "" {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("httpclient: do request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	return resp.StatusCode, raw, nil
}

func (c *Client) retryable(ctx context.Context, status int, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		return true
	}
	return status == http.StatusTooManyRequests || status >= 500
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) resolveURL(pathOrURL string) (string, error) {
	pathOrURL = strings.TrimSpace(pathOrURL)
	if pathOrURL == "" {
		return "", errors.New("httpclient: empty url")
	}
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		return pathOrURL, nil
	}
	if c.BaseURL == "" {
		return "", errors.New("httpclient: relative path requires BaseURL")
	}
	if !strings.HasPrefix(pathOrURL, "/") {
		pathOrURL = "/" + pathOrURL
	}
	return c.BaseURL + pathOrURL, nil
}
