package coding

import (
	"strings"

	"github.com/samber/lo"
)

// Delta es el resultado de comparar dos colecciones de códigos.
// La clave de comparación es solo el string del código (case-insensitive);
// descripción y metadata se ignoran.
type Delta struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// SetDiff son los deltas de diagnósticos y procedimientos juntos.
type SetDiff struct {
	DxAdded   []string `json:"dxAdded"`
	DxRemoved []string `json:"dxRemoved"`
	PxAdded   []string `json:"pxAdded"`
	PxRemoved []string `json:"pxRemoved"`
}

func (d SetDiff) IsEmpty() bool {
	return len(d.DxAdded) == 0 && len(d.DxRemoved) == 0 && len(d.PxAdded) == 0 && len(d.PxRemoved) == 0
}

// Diff es la única implementación del differ: la usan compare-upload, el
// reconciliador y el audit log.
func Diff(oldCodes, newCodes []string) Delta {
	oldKeys := keySet(oldCodes)
	newKeys := keySet(newCodes)

	return Delta{
		Added:   missingFrom(newCodes, oldKeys),
		Removed: missingFrom(oldCodes, newKeys),
	}
}

func DiffDiagnoses(oldDx, newDx []Diagnosis) Delta {
	return Diff(DiagnosisCodes(oldDx), DiagnosisCodes(newDx))
}

func DiffProcedures(oldPx, newPx []Procedure) Delta {
	return Diff(ProcedureCodes(oldPx), ProcedureCodes(newPx))
}

// DiffSets compara dos code sets completos.
func DiffSets(oldSet, newSet CodeSet) SetDiff {
	dx := DiffDiagnoses(oldSet.Diagnoses, newSet.Diagnoses)
	px := DiffProcedures(oldSet.Procedures, newSet.Procedures)
	return SetDiff{
		DxAdded:   dx.Added,
		DxRemoved: dx.Removed,
		PxAdded:   px.Added,
		PxRemoved: px.Removed,
	}
}

func DiagnosisCodes(in []Diagnosis) []string {
	return lo.Map(in, func(d Diagnosis, _ int) string { return d.Code })
}

func ProcedureCodes(in []Procedure) []string {
	return lo.Map(in, func(p Procedure, _ int) string { return p.Code })
}

// NormalizeCode es la clave de comparación de un código.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func keySet(codes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		if k := NormalizeCode(c); k != "" {
			out[k] = struct{}{}
		}
	}
	return out
}

// missingFrom devuelve los códigos de src (sin duplicados, en orden de aparición)
// cuya clave no está en other.
func missingFrom(src []string, other map[string]struct{}) []string {
	unique := lo.UniqBy(
		lo.Filter(src, func(c string, _ int) bool { return NormalizeCode(c) != "" }),
		NormalizeCode,
	)
	out := lo.Filter(unique, func(c string, _ int) bool {
		_, ok := other[NormalizeCode(c)]
		return !ok
	})
	return lo.Map(out, func(c string, _ int) string { return strings.TrimSpace(c) })
}
