package coding

import "time"

// Diagnosis es un código ICD-10 asignado a un episodio.
type Diagnosis struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	IsPrimary   bool   `json:"isPrimary"`
}

// Procedure es un código OPCS-4 asignado a un episodio.
type Procedure struct {
	Code        string     `json:"code"`
	Description string     `json:"description"`
	PerformedOn *time.Time `json:"performedOn"`
}

// CodeSet agrupa diagnósticos y procedimientos.
// Se reemplaza siempre completo (nunca se parchea campo por campo).
type CodeSet struct {
	Diagnoses  []Diagnosis `json:"diagnoses"`
	Procedures []Procedure `json:"procedures"`
}

func (c CodeSet) IsEmpty() bool {
	return len(c.Diagnoses) == 0 && len(c.Procedures) == 0
}

// Clone devuelve una copia que no comparte slices con el original.
func (c CodeSet) Clone() CodeSet {
	out := CodeSet{
		Diagnoses:  make([]Diagnosis, len(c.Diagnoses)),
		Procedures: make([]Procedure, len(c.Procedures)),
	}
	copy(out.Diagnoses, c.Diagnoses)
	for i, p := range c.Procedures {
		if p.PerformedOn != nil {
			t := *p.PerformedOn
			p.PerformedOn = &t
		}
		out.Procedures[i] = p
	}
	return out
}
