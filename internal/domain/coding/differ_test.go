package coding

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiff_PneumoniaScenario(t *testing.T) {
	oldSet := CodeSet{
		Diagnoses: []Diagnosis{{Code: "J18.1", Description: "Lobar pneumonia, unspecified", IsPrimary: true}},
	}
	newSet := CodeSet{
		Diagnoses: []Diagnosis{
			{Code: "J18.1", Description: "Lobar pneumonia, unspecified", IsPrimary: true},
			{Code: "J44.9", Description: "Chronic obstructive pulmonary disease, unspecified"},
		},
		Procedures: []Procedure{
			{Code: "U20.1", Description: "Diagnostic X-ray of chest"},
			{Code: "E85.3", Description: "Nebulisation therapy"},
			{Code: "E85.2", Description: "Administration of oxygen therapy"},
		},
	}

	d := DiffSets(oldSet, newSet)

	assert.Equal(t, []string{"J44.9"}, d.DxAdded)
	assert.Empty(t, d.DxRemoved)
	assert.Equal(t, []string{"U20.1", "E85.3", "E85.2"}, d.PxAdded)
	assert.Empty(t, d.PxRemoved)
	assert.False(t, d.IsEmpty())
}

func TestDiff_IgnoresCaseAndDescription(t *testing.T) {
	d := DiffDiagnoses(
		[]Diagnosis{{Code: "j18.1", Description: "old text"}},
		[]Diagnosis{{Code: " J18.1 ", Description: "new text", IsPrimary: true}},
	)

	assert.Empty(t, d.Added)
	assert.Empty(t, d.Removed)
}

func TestDiff_DuplicatesAndBlanks(t *testing.T) {
	d := Diff([]string{"A01", "", "a01"}, []string{"B02", "b02", "  "})

	assert.Equal(t, []string{"B02"}, d.Added)
	assert.Equal(t, []string{"A01"}, d.Removed)
}

func TestDiff_EmptyInputs(t *testing.T) {
	d := DiffSets(CodeSet{}, CodeSet{})
	assert.True(t, d.IsEmpty())
}

// Para cualquier par de code sets: added ∩ removed = ∅ y
// aplicar added/removed sobre old reconstruye new (por código).
func TestDiff_Properties(t *testing.T) {
	pool := []string{"A41.9", "J13", "J18.1", "J44.9", "I10", "E11.9", "N39.0", "j13", "i10"}
	rng := rand.New(rand.NewSource(42))

	pick := func() []string {
		n := rng.Intn(len(pool) + 1)
		out := make([]string, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, pool[rng.Intn(len(pool))])
		}
		return out
	}

	for i := 0; i < 500; i++ {
		oldCodes, newCodes := pick(), pick()
		d := Diff(oldCodes, newCodes)

		added := keySet(d.Added)
		for k := range keySet(d.Removed) {
			_, both := added[k]
			require.False(t, both, "code %s both added and removed (old=%v new=%v)", k, oldCodes, newCodes)
		}

		rebuilt := keySet(oldCodes)
		for k := range keySet(d.Removed) {
			delete(rebuilt, k)
		}
		for k := range added {
			rebuilt[k] = struct{}{}
		}
		require.Equal(t, keySet(newCodes), rebuilt, "old=%v new=%v", oldCodes, newCodes)
	}
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "J18.1", NormalizeCode("  j18.1\t"))
	assert.Equal(t, "", NormalizeCode(strings.Repeat(" ", 3)))
}

func TestCodeSet_CloneDoesNotShare(t *testing.T) {
	set := GuessCodesFromText("J18.1 and U20.1")
	cp := set.Clone()
	cp.Diagnoses[0].Code = "X99"

	assert.Equal(t, "J18.1", set.Diagnoses[0].Code)
}
