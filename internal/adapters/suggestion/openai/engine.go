// Package openai sugiere códigos con un modelo de chat (OpenAI o Azure OpenAI).
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinical-coding/internal/domain/coding"
	"clinical-coding/internal/platform/logger"
	"clinical-coding/internal/ports/suggestion"

	goopenai "github.com/sashabaranov/go-openai"
)

const (
	DefaultDeployment = "gpt-4o-mini"
	DefaultAPIVersion = "2024-02-15-preview"

	systemPrompt = "You output only JSON without commentary."
)

// ChatClient lo implementa *goopenai.Client.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
}

type Config struct {
	APIKey string
	// Endpoint de Azure OpenAI. Vacío = API pública de OpenAI.
	Endpoint   string
	Deployment string
	APIVersion string
}

// NewClient arma el cliente según Config. Con Endpoint usa el esquema de Azure
// (el deployment hace de modelo).
func NewClient(cfg Config) (*goopenai.Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: api key required")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return goopenai.NewClient(cfg.APIKey), nil
	}

	c := goopenai.DefaultAzureConfig(cfg.APIKey, strings.TrimRight(cfg.Endpoint, "/"))
	if cfg.APIVersion != "" {
		c.APIVersion = cfg.APIVersion
	} else {
		c.APIVersion = DefaultAPIVersion
	}
	deployment := deploymentOrDefault(cfg.Deployment)
	c.AzureModelMapperFunc = func(string) string { return deployment }
	return goopenai.NewClientWithConfig(c), nil
}

type Engine struct {
	client ChatClient
	model  string
	log    logger.Logger
}

func New(client ChatClient, deployment string, log logger.Logger) *Engine {
	return &Engine{
		client: client,
		model:  deploymentOrDefault(deployment),
		log:    log.With(map[string]any{"component": "openai-engine"}),
	}
}

func (e *Engine) Suggest(ctx context.Context, ep suggestion.EpisodeContext) (coding.CodeSet, error) {
	resp, err := e.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: e.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: goopenai.ChatMessageRoleUser, Content: buildPrompt(ep)},
		},
		Temperature: 0.1,
		ResponseFormat: &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return coding.CodeSet{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return coding.CodeSet{}, errors.New("openai: no choices")
	}

	out, err := parseCompletion(resp.Choices[0].Message.Content)
	if err != nil {
		return coding.CodeSet{}, err
	}

	e.log.Debug("model suggestion", map[string]any{
		"episode_id": ep.EpisodeID,
		"dx":         len(out.Diagnoses),
		"px":         len(out.Procedures),
	})
	return out, nil
}

func buildPrompt(ep suggestion.EpisodeContext) string {
	var b strings.Builder
	b.WriteString("You are a UK clinical coding assistant. Map text to ICD-10 (diagnoses) and OPCS-4 (procedures).\n")
	b.WriteString(`Return strict JSON: {"diagnoses":[{"code":"","description":"","isPrimary":true}],"procedures":[{"code":"","description":"","performedOn":"YYYY-MM-DD or null"}]}`)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Specialty: %s\n", ep.Specialty)
	discharge := ""
	if ep.DischargeDate != nil {
		discharge = ep.DischargeDate.Format("2006-01-02")
	}
	fmt.Fprintf(&b, "Admission: %s Discharge: %s\n", ep.AdmissionDate.Format("2006-01-02"), discharge)
	b.WriteString("Source text:\n")
	b.WriteString(ep.Narrative)
	b.WriteString("\n")
	return b.String()
}

type completion struct {
	Diagnoses []struct {
		Code        string `json:"code"`
		Description string `json:"description"`
		IsPrimary   bool   `json:"isPrimary"`
	} `json:"diagnoses"`
	Procedures []struct {
		Code        string  `json:"code"`
		Description string  `json:"description"`
		PerformedOn *string `json:"performedOn"`
	} `json:"procedures"`
}

// parseCompletion descarta entradas sin código. Una fecha que no se entiende
// queda en nil.
func parseCompletion(content string) (coding.CodeSet, error) {
	var c completion
	if err := json.Unmarshal([]byte(content), &c); err != nil {
		return coding.CodeSet{}, fmt.Errorf("openai: invalid json content: %w", err)
	}

	out := coding.CodeSet{
		Diagnoses:  make([]coding.Diagnosis, 0, len(c.Diagnoses)),
		Procedures: make([]coding.Procedure, 0, len(c.Procedures)),
	}
	for _, d := range c.Diagnoses {
		code := strings.TrimSpace(d.Code)
		if code == "" {
			continue
		}
		out.Diagnoses = append(out.Diagnoses, coding.Diagnosis{Code: code, Description: d.Description, IsPrimary: d.IsPrimary})
	}
	for _, p := range c.Procedures {
		code := strings.TrimSpace(p.Code)
		if code == "" {
			continue
		}
		out.Procedures = append(out.Procedures, coding.Procedure{Code: code, Description: p.Description, PerformedOn: parseDate(p.PerformedOn)})
	}
	return out, nil
}

func parseDate(s *string) *time.Time {
	if s == nil {
		return nil
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, strings.TrimSpace(*s)); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func deploymentOrDefault(d string) string {
	if strings.TrimSpace(d) == "" {
		return DefaultDeployment
	}
	return strings.TrimSpace(d)
}
