package memory

import (
	"context"
	"strconv"
	"testing"
	"time"

	"clinical-coding/internal/domain/audit"
	"clinical-coding/internal/domain/coding"
	"clinical-coding/internal/domain/episodes"
	"clinical-coding/internal/domain/reverts"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEpisodeRepo_ApplyCodesReplacesWholeSet(t *testing.T) {
	ctx := context.Background()
	repo := NewEpisodeRepo()
	require.NoError(t, repo.Create(ctx, episodes.Episode{
		ID:         "ep-1",
		SourceText: "pneumonia",
		Diagnoses:  []coding.Diagnosis{{Code: "J18.1"}, {Code: "J44.9"}},
		Procedures: []coding.Procedure{{Code: "E85.2"}},
	}))

	narrative := "pneumonia\n\nmore"
	ep, err := repo.ApplyCodes(ctx, "ep-1", episodes.CodeUpdate{
		Codes:     coding.CodeSet{Diagnoses: []coding.Diagnosis{{Code: "J18.1"}}},
		Narrative: &narrative,
		At:        time.Unix(100, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"J18.1"}, coding.DiagnosisCodes(ep.Diagnoses))
	assert.Empty(t, ep.Procedures)
	assert.Equal(t, narrative, ep.SourceText)

	// Update de workflow no pisa códigos
	ep.Status = episodes.StatusApproved
	ep.Diagnoses = nil
	ep.SourceText = ""
	require.NoError(t, repo.Update(ctx, ep))

	got, err := repo.GetByID(ctx, "ep-1")
	require.NoError(t, err)
	assert.Equal(t, episodes.StatusApproved, got.Status)
	assert.Equal(t, []string{"J18.1"}, coding.DiagnosisCodes(got.Diagnoses))
	assert.Equal(t, narrative, got.SourceText)

	// lo devuelto no comparte memoria con el repo
	got.Diagnoses[0].Code = "X00"
	again, _ := repo.GetByID(ctx, "ep-1")
	assert.Equal(t, "J18.1", again.Diagnoses[0].Code)

	_, err = repo.ApplyCodes(ctx, "nope", episodes.CodeUpdate{})
	assert.ErrorIs(t, err, episodes.ErrNotFound)
}

func TestEpisodeRepo_ApplyCodesRespectsCancellation(t *testing.T) {
	repo := NewEpisodeRepo()
	require.NoError(t, repo.Create(context.Background(), episodes.Episode{ID: "ep-1", Diagnoses: []coding.Diagnosis{{Code: "J18.1"}}}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := repo.ApplyCodes(ctx, "ep-1", episodes.CodeUpdate{})
	assert.ErrorIs(t, err, context.Canceled)

	ep, _ := repo.GetByID(context.Background(), "ep-1")
	assert.Len(t, ep.Diagnoses, 1)
}

func TestEpisodeRepo_ListFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewEpisodeRepo()
	day := func(d int) time.Time { return time.Date(2025, 1, d, 0, 0, 0, 0, time.UTC) }

	require.NoError(t, repo.Create(ctx, episodes.Episode{ID: "a", Status: episodes.StatusDraft, AdmissionDate: day(1), CreatedAt: day(1)}))
	require.NoError(t, repo.Create(ctx, episodes.Episode{ID: "b", Status: episodes.StatusSubmitted, AdmissionDate: day(5), CreatedAt: day(5)}))
	require.NoError(t, repo.Create(ctx, episodes.Episode{ID: "c", Status: episodes.StatusDraft, AdmissionDate: day(9), CreatedAt: day(9)}))

	all, err := repo.List(ctx, episodes.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, ids(all))

	drafts, _ := repo.List(ctx, episodes.ListFilter{Status: episodes.StatusDraft})
	assert.Equal(t, []string{"c", "a"}, ids(drafts))

	from, to := day(2), day(9)
	ranged, _ := repo.List(ctx, episodes.ListFilter{From: &from, To: &to, Limit: 1})
	assert.Equal(t, []string{"c"}, ids(ranged))
}

func ids(in []episodes.Episode) []string {
	out := make([]string, 0, len(in))
	for _, e := range in {
		out = append(out, e.ID)
	}
	return out
}

func TestAuditRepo_OrderingAndLast(t *testing.T) {
	ctx := context.Background()
	repo := NewAuditRepo()
	ts := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	entry := func(id string, at time.Time, action audit.Action) audit.Entry {
		return audit.Entry{ID: id, Timestamp: at, Action: action, EntityType: audit.EntityEpisode, EntityID: "ep-1"}
	}
	require.NoError(t, repo.Append(ctx, entry("1", ts, audit.ActionReSuggestionApplied)))
	require.NoError(t, repo.Append(ctx, entry("2", ts, audit.ActionReSuggestionApplied)))
	require.NoError(t, repo.Append(ctx, entry("3", ts.Add(-time.Minute), audit.ActionReSuggestionApplied)))
	require.NoError(t, repo.Append(ctx, entry("4", ts.Add(time.Minute), audit.ActionEpisodeSubmitted)))

	assert.Error(t, repo.Append(ctx, entry("1", ts, audit.ActionEpisodeCreated)))

	recent, err := repo.ListRecent(ctx, 3)
	require.NoError(t, err)
	got := make([]string, 0, len(recent))
	for _, e := range recent {
		got = append(got, e.ID)
	}
	assert.Equal(t, []string{"4", "2", "1"}, got)

	last, err := repo.LastForEntity(ctx, audit.EntityEpisode, "ep-1", audit.ActionReSuggestionApplied)
	require.NoError(t, err)
	assert.Equal(t, "2", last.ID)

	_, err = repo.LastForEntity(ctx, audit.EntityEpisode, "ep-2", audit.ActionReSuggestionApplied)
	assert.ErrorIs(t, err, audit.ErrNotFound)
}

func TestAuditRepo_IndexByID(t *testing.T) {
	ctx := context.Background()
	repo := NewAuditRepo()
	ts := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 500; i++ {
		require.NoError(t, repo.Append(ctx, audit.Entry{
			ID:         "a-" + strconv.Itoa(i),
			Timestamp:  ts.Add(time.Duration(i) * time.Second),
			Action:     audit.ActionReSuggestionApplied,
			EntityType: audit.EntityEpisode,
			EntityID:   "ep-1",
		}))
	}

	got, err := repo.GetByID(ctx, "a-250")
	require.NoError(t, err)
	assert.Equal(t, ts.Add(250*time.Second), got.Timestamp)

	// un duplicado rechazado no pisa el índice
	assert.Error(t, repo.Append(ctx, audit.Entry{ID: "a-250", Action: audit.ActionEpisodeCreated}))
	got, err = repo.GetByID(ctx, "a-250")
	require.NoError(t, err)
	assert.Equal(t, audit.ActionReSuggestionApplied, got.Action)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, audit.ErrNotFound)
	assert.Error(t, repo.Append(ctx, audit.Entry{ID: " "}))
}

func TestRevertRepo_ResolveOnlyFromPending(t *testing.T) {
	ctx := context.Background()
	repo := NewRevertRepo()
	require.NoError(t, repo.Create(ctx, reverts.Request{ID: "r-1", EpisodeID: "ep-1", Status: reverts.StatusPending}))

	req, err := repo.Resolve(ctx, "r-1", reverts.StatusApproved, "rev-2", time.Unix(10, 0))
	require.NoError(t, err)
	assert.Equal(t, reverts.StatusApproved, req.Status)
	assert.Equal(t, "rev-2", req.ResolvedBy)

	_, err = repo.Resolve(ctx, "r-1", reverts.StatusRejected, "rev-3", time.Unix(11, 0))
	assert.ErrorIs(t, err, reverts.ErrConflict)

	_, err = repo.Resolve(ctx, "r-x", reverts.StatusRejected, "rev-3", time.Unix(11, 0))
	assert.ErrorIs(t, err, reverts.ErrNotFound)
}
