package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"cognihub/internal/logging"
)

func newTestResearchStore(t *testing.T) *ResearchStore {
	t.Helper()
	s, err := NewResearchStore(filepath.Join(t.TempDir(), "research.db"), logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycleAndMonotonicStatus(t *testing.T) {
	s := newTestResearchStore(t)
	ctx := context.Background()

	id, err := s.CreateRun(ctx, "chat-1", "why is the sky blue", "research",
		RunSettings{UseDocs: true, Rounds: 3})
	require.NoError(t, err)

	run, err := s.GetRun(ctx, id)
	require.NoError(t, err)
	require.Equal(t, RunStatusRunning, run.Status)
	require.True(t, run.Settings.UseDocs)
	require.Equal(t, 3, run.Settings.Rounds)

	require.NoError(t, s.SetRunDone(ctx, id, "Rayleigh scattering."))
	run, err = s.GetRun(ctx, id)
	require.NoError(t, err)
	require.Equal(t, RunStatusDone, run.Status)
	require.Equal(t, "Rayleigh scattering.", run.FinalAnswer)

	// Terminal runs must never flip back or change.
	require.NoError(t, s.SetRunError(ctx, id, "late failure"))
	run, err = s.GetRun(ctx, id)
	require.NoError(t, err)
	require.Equal(t, RunStatusDone, run.Status)
	require.Empty(t, run.Error)
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestResearchStore(t)
	_, err := s.GetRun(context.Background(), "no-such-run")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTraceAppendOnlyOrder(t *testing.T) {
	s := newTestResearchStore(t)
	ctx := context.Background()

	id, err := s.CreateRun(ctx, "", "q", "research", RunSettings{})
	require.NoError(t, err)

	for _, step := range []string{"start", "plan", "round_begin", "round_end", "done"} {
		require.NoError(t, s.AddTrace(ctx, id, step, map[string]any{"step": step}))
	}

	trace, err := s.GetTrace(ctx, id, 100, 0)
	require.NoError(t, err)
	require.Len(t, trace, 5)
	require.Equal(t, "start", trace[0].Step)
	require.Equal(t, "done", trace[4].Step)
	for i := 1; i < len(trace); i++ {
		require.Greater(t, trace[i].ID, trace[i-1].ID)
	}
}

func TestReplaceSourcesIsWholesale(t *testing.T) {
	s := newTestResearchStore(t)
	ctx := context.Background()

	id, err := s.CreateRun(ctx, "", "q", "research", RunSettings{})
	require.NoError(t, err)

	round1 := []Source{
		{RunID: id, SourceType: "doc", RefID: "1", Score: 0.9, Snippet: "first"},
		{RunID: id, SourceType: "web", RefID: "2", Score: 0.5, Snippet: "second"},
	}
	require.NoError(t, s.ReplaceSources(ctx, id, round1))

	round2 := []Source{
		{RunID: id, SourceType: "doc", RefID: "3", Score: 0.7, Snippet: "third"},
	}
	require.NoError(t, s.ReplaceSources(ctx, id, round2))

	got, err := s.GetSources(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 1, "sources are a snapshot, not an append log")
	require.Equal(t, "3", got[0].RefID)
}

func TestSetSourceFlagReordersSources(t *testing.T) {
	s := newTestResearchStore(t)
	ctx := context.Background()

	id, err := s.CreateRun(ctx, "", "q", "research", RunSettings{})
	require.NoError(t, err)

	require.NoError(t, s.ReplaceSources(ctx, id, []Source{
		{RunID: id, SourceType: "doc", RefID: "1", Score: 0.9, Snippet: "best"},
		{RunID: id, SourceType: "doc", RefID: "2", Score: 0.5, Snippet: "middling"},
		{RunID: id, SourceType: "web", RefID: "3", Score: 0.8, Snippet: "noisy"},
	}))

	got, err := s.GetSources(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "1", got[0].RefID, "score orders an unflagged snapshot")

	// Pin the weakest source and exclude the noisy one.
	yes := true
	require.NoError(t, s.SetSourceFlag(ctx, id, got[2].ID, &yes, nil))
	require.NoError(t, s.SetSourceFlag(ctx, id, got[1].ID, nil, &yes))

	got, err = s.GetSources(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "2", got[0].RefID, "pinned sources sort first")
	require.True(t, got[0].Pinned)
	require.Equal(t, "3", got[2].RefID, "excluded sources sort last")
	require.True(t, got[2].Excluded)

	// Both flags nil is a no-op, not an error.
	require.NoError(t, s.SetSourceFlag(ctx, id, got[0].ID, nil, nil))
}

func TestReplaceClaimsCapsAndDefaults(t *testing.T) {
	s := newTestResearchStore(t)
	ctx := context.Background()

	id, err := s.CreateRun(ctx, "", "q", "research", RunSettings{})
	require.NoError(t, err)

	long := make([]byte, 3000)
	for i := range long {
		long[i] = 'x'
	}
	claims := []Claim{
		{RunID: id, Claim: string(long), Status: "bogus-status", Citations: []string{"D1"}},
		{RunID: id, Claim: "water boils at 100C", Status: ClaimSupported, Citations: []string{"D1"}},
	}
	require.NoError(t, s.ReplaceClaims(ctx, id, claims))

	got, err := s.GetClaims(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Len(t, got[0].Claim, 1800)
	require.Equal(t, ClaimUnclear, got[0].Status, "unknown status defaults to unclear")
	require.Equal(t, ClaimSupported, got[1].Status)
	require.Equal(t, []string{"D1"}, got[1].Citations)
}

func TestListRunsFiltersByChat(t *testing.T) {
	s := newTestResearchStore(t)
	ctx := context.Background()

	_, err := s.CreateRun(ctx, "chat-a", "q1", "research", RunSettings{})
	require.NoError(t, err)
	_, err = s.CreateRun(ctx, "chat-b", "q2", "research", RunSettings{})
	require.NoError(t, err)

	runs, err := s.ListRuns(ctx, "chat-a", 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "q1", runs[0].Query)

	all, err := s.ListRuns(ctx, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
}
