package coding

import (
	"encoding/csv"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/samber/lo"
)

var (
	// ICD-10: letra + 2 dígitos + sufijo opcional (A41.9, J13, J44.1)
	icdPattern = regexp.MustCompile(`\b[A-TV-Z][0-9]{2}(?:\.[0-9A-Za-z]+)?\b`)
	// OPCS-4: letra + 2 dígitos + . + 1 carácter (H33.8, K35.1)
	opcsPattern = regexp.MustCompile(`\b[A-Z][0-9]{2}\.[0-9A-Z]\b`)

	blankLines  = regexp.MustCompile(`\r?\n(?:[ \t]*\r?\n)+`)
	dxCSVHeader = regexp.MustCompile(`(?i)^\s*code\s*,\s*description\s*,\s*isprimary`)
	pxCSVHeader = regexp.MustCompile(`(?i)^\s*code\s*,\s*description\s*,\s*performedon`)
	dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05"}
)

type uploadCodes struct {
	Diagnoses  *[]uploadDiagnosis `json:"diagnoses"`
	Procedures *[]uploadProcedure `json:"procedures"`
}

type uploadDiagnosis struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	IsPrimary   bool   `json:"isPrimary"`
}

type uploadProcedure struct {
	Code        string  `json:"code"`
	Description string  `json:"description"`
	PerformedOn *string `json:"performedOn"`
}

// ParseCodeList interpreta una lista de códigos subida por el usuario.
// Acepta JSON {"diagnoses":[...],"procedures":[...]} o CSV en dos bloques
// separados por una línea en blanco, con headers Code,Description,IsPrimary y
// Code,Description,PerformedOn. ok=false si no se reconoce ningún formato.
func ParseCodeList(text string) (CodeSet, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return CodeSet{}, false
	}

	if set, ok := parseJSONCodes(text); ok {
		return set, true
	}
	return parseCSVCodes(text)
}

func parseJSONCodes(text string) (CodeSet, bool) {
	var in uploadCodes
	if err := json.Unmarshal([]byte(text), &in); err != nil {
		return CodeSet{}, false
	}
	if in.Diagnoses == nil && in.Procedures == nil {
		return CodeSet{}, false
	}

	set := CodeSet{Diagnoses: []Diagnosis{}, Procedures: []Procedure{}}
	if in.Diagnoses != nil {
		for _, d := range *in.Diagnoses {
			set.Diagnoses = append(set.Diagnoses, Diagnosis{
				Code:        strings.TrimSpace(d.Code),
				Description: d.Description,
				IsPrimary:   d.IsPrimary,
			})
		}
	}
	if in.Procedures != nil {
		for _, p := range *in.Procedures {
			var on *time.Time
			if p.PerformedOn != nil {
				on = parseDate(*p.PerformedOn)
			}
			set.Procedures = append(set.Procedures, Procedure{
				Code:        strings.TrimSpace(p.Code),
				Description: p.Description,
				PerformedOn: on,
			})
		}
	}
	return set, true
}

func parseCSVCodes(text string) (CodeSet, bool) {
	set := CodeSet{Diagnoses: []Diagnosis{}, Procedures: []Procedure{}}

	for _, block := range blankLines.Split(text, -1) {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}

		r := csv.NewReader(strings.NewReader(block))
		r.FieldsPerRecord = -1
		r.TrimLeadingSpace = true
		records, err := r.ReadAll()
		if err != nil || len(records) == 0 {
			continue
		}

		header := strings.Join(records[0], ",")
		switch {
		case dxCSVHeader.MatchString(header):
			for _, rec := range records[1:] {
				set.Diagnoses = append(set.Diagnoses, Diagnosis{
					Code:        strings.TrimSpace(cell(rec, 0)),
					Description: cell(rec, 1),
					IsPrimary:   strings.EqualFold(strings.TrimSpace(cell(rec, 2)), "true"),
				})
			}
		case pxCSVHeader.MatchString(header):
			for _, rec := range records[1:] {
				set.Procedures = append(set.Procedures, Procedure{
					Code:        strings.TrimSpace(cell(rec, 0)),
					Description: cell(rec, 1),
					PerformedOn: parseDate(cell(rec, 2)),
				})
			}
		}
	}

	if set.IsEmpty() {
		return CodeSet{}, false
	}
	return set, true
}

// GuessCodesFromText extrae códigos con regex simples del texto narrativo.
// El primer ICD-10 encontrado se marca como primario.
func GuessCodesFromText(narrative string) CodeSet {
	icd := lo.UniqBy(icdPattern.FindAllString(narrative, -1), NormalizeCode)
	opcs := lo.UniqBy(opcsPattern.FindAllString(narrative, -1), NormalizeCode)

	return CodeSet{
		Diagnoses: lo.Map(icd, func(c string, i int) Diagnosis {
			return Diagnosis{Code: c, IsPrimary: i == 0}
		}),
		Procedures: lo.Map(opcs, func(c string, _ int) Procedure {
			return Procedure{Code: c}
		}),
	}
}

func cell(rec []string, i int) string {
	if i < len(rec) {
		return rec[i]
	}
	return ""
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
