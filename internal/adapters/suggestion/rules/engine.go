// Package rules es el motor de sugerencias por palabras clave. No depende de
// nada externo y nunca falla.
package rules

import (
	"context"
	"strings"
	"time"

	"clinical-coding/internal/domain/coding"
	"clinical-coding/internal/platform/logger"
	"clinical-coding/internal/ports/suggestion"
)

type dxRule struct {
	keywords []string
	dx       coding.Diagnosis
}

type pxRule struct {
	keywords []string
	code     string
	desc     string
}

var dxRules = []dxRule{
	{[]string{"pneumonia"}, coding.Diagnosis{Code: "J18.1", Description: "Lobar pneumonia, unspecified", IsPrimary: true}},
	{[]string{"copd", "chronic obstructive"}, coding.Diagnosis{Code: "J44.9", Description: "Chronic obstructive pulmonary disease, unspecified"}},
}

var pxRules = []pxRule{
	{[]string{"chest x-ray", "cxr"}, "U20.1", "Diagnostic X-ray of chest"},
	{[]string{"nebulis"}, "E85.3", "Nebulisation therapy"},
	{[]string{"oxygen"}, "E85.2", "Administration of oxygen therapy"},
}

type Engine struct {
	log logger.Logger
	now func() time.Time
}

func New(log logger.Logger) *Engine {
	return &Engine{
		log: log.With(map[string]any{"component": "rules-engine"}),
		now: time.Now,
	}
}

func (e *Engine) Suggest(ctx context.Context, ep suggestion.EpisodeContext) (coding.CodeSet, error) {
	text := strings.ToLower(ep.Narrative)
	out := coding.CodeSet{
		Diagnoses:  []coding.Diagnosis{},
		Procedures: []coding.Procedure{},
	}

	for _, r := range dxRules {
		if containsAny(text, r.keywords) {
			out.Diagnoses = append(out.Diagnoses, r.dx)
		}
	}

	for _, r := range pxRules {
		if containsAny(text, r.keywords) {
			on := e.now().UTC()
			out.Procedures = append(out.Procedures, coding.Procedure{Code: r.code, Description: r.desc, PerformedOn: &on})
		}
	}

	e.log.Info("rule-based suggestion", map[string]any{
		"episode_id": ep.EpisodeID,
		"dx":         len(out.Diagnoses),
		"px":         len(out.Procedures),
	})
	return out, nil
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
