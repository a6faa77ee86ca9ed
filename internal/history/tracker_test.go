package history

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sferrors "github.com/Iron-Ham/stepflow/internal/errors"
)

func openTracker(t *testing.T, ids ...string) (*Tracker, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow_state.json")
	tr, err := Open(path, ids, nil)
	require.NoError(t, err)
	return tr, path
}

func TestOpen_MissingFile(t *testing.T) {
	tr, path := openTracker(t, "s1", "s2")

	assert.Equal(t, map[string]Status{"s1": StatusPending, "s2": StatusPending}, tr.Statuses())
	assert.Empty(t, tr.CompletionLog())
	_, ok := tr.LastCompletedChronological()
	assert.False(t, ok)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "opening must not create the record")
}

func TestSetStatus_CompletedAppendsToLog(t *testing.T) {
	tr, _ := openTracker(t, "s1", "s2")

	require.NoError(t, tr.SetStatus("s1", StatusCompleted))
	require.NoError(t, tr.SetStatus("s2", StatusCompleted))
	require.NoError(t, tr.SetStatus("s2", StatusCompleted))
	require.NoError(t, tr.SetStatus("s1", StatusPending))

	assert.Equal(t, []string{"s1", "s2", "s2"}, tr.CompletionLog())
	assert.Equal(t, 2, tr.CompletionCount("s2"))
	last, ok := tr.LastCompletedChronological()
	require.True(t, ok)
	assert.Equal(t, "s2", last)

	st, err := tr.Status("s1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, st)
}

func TestSetStatus_Persists(t *testing.T) {
	tr, path := openTracker(t, "b", "a")

	require.NoError(t, tr.SetStatus("a", StatusCompleted))
	require.NoError(t, tr.SetStatus("b", StatusSkipped))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "skipped", raw["b"])
	assert.Equal(t, "completed", raw["a"])
	assert.Equal(t, []any{"a"}, raw[CompletionOrderKey])

	// Definition order first, completion log last.
	text := string(data)
	assert.Less(t, strings.Index(text, `"b"`), strings.Index(text, `"a"`))
	assert.Less(t, strings.Index(text, `"a"`), strings.Index(text, CompletionOrderKey))

	reopened, err := Open(path, []string{"b", "a"}, nil)
	require.NoError(t, err)
	assert.Equal(t, tr.Statuses(), reopened.Statuses())
	assert.Equal(t, tr.CompletionLog(), reopened.CompletionLog())
}

func TestSetStatus_UnknownStep(t *testing.T) {
	tr, _ := openTracker(t, "s1")

	err := tr.SetStatus("nope", StatusCompleted)
	assert.ErrorIs(t, err, sferrors.ErrStepNotFound)
	assert.Empty(t, tr.CompletionLog())
}

func TestSetStatus_InvalidStatus(t *testing.T) {
	tr, _ := openTracker(t, "s1")

	assert.Error(t, tr.SetStatus("s1", Status("done")))
	st, _ := tr.Status("s1")
	assert.Equal(t, StatusPending, st)
}

func TestOpen_LegacyRecordWithoutLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflow_state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"s1": "completed", "s2": "awaiting_decision"}`), 0644))

	tr, err := Open(path, []string{"s1", "s2", "s3"}, nil)
	require.NoError(t, err)

	assert.Equal(t, map[string]Status{
		"s1": StatusCompleted,
		"s2": StatusAwaitingDecision,
		"s3": StatusPending,
	}, tr.Statuses())
	assert.Empty(t, tr.CompletionLog())
}

func TestOpen_KeepsUnknownSteps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workflow_state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"old": "skipped_conditional", "s1": "pending", "_completion_order": []}`), 0644))

	tr, err := Open(path, []string{"s1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "old"}, tr.StepIDs())

	require.NoError(t, tr.SetStatus("s1", StatusCompleted))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"old": "skipped_conditional"`)
}

func TestOpen_Corrupted(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"malformed json", `{"s1": `},
		{"unknown status", `{"s1": "finished"}`},
		{"non-string status", `{"s1": 3}`},
		{"log not a list", `{"s1": "pending", "_completion_order": "s1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "workflow_state.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			_, err := Open(path, []string{"s1"}, nil)
			assert.ErrorIs(t, err, sferrors.ErrHistoryCorrupted)
		})
	}
}

func TestPopLastCompletion(t *testing.T) {
	tr, path := openTracker(t, "a", "b")
	for _, id := range []string{"a", "b", "a", "b"} {
		require.NoError(t, tr.SetStatus(id, StatusCompleted))
	}

	ok, err := tr.PopLastCompletion("a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"a", "b", "b"}, tr.CompletionLog())

	ok, err = tr.PopLastCompletion("c")
	require.NoError(t, err)
	assert.False(t, ok)

	reopened, err := Open(path, []string{"a", "b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "b"}, reopened.CompletionLog())
}

func TestRecordSkip_DoesNotTouchLog(t *testing.T) {
	tr, _ := openTracker(t, "a", "b", "c")
	require.NoError(t, tr.SetStatus("a", StatusCompleted))

	require.NoError(t, tr.RecordSkip("c", "skip_to_c", map[string]Status{
		"a": StatusSkipped,
		"b": StatusSkipped,
		"c": StatusPending,
	}))

	assert.Equal(t, map[string]Status{"a": StatusSkipped, "b": StatusSkipped, "c": StatusPending}, tr.Statuses())
	assert.Equal(t, []string{"a"}, tr.CompletionLog())

	err := tr.RecordSkip("c", "skip_to_c_2", map[string]Status{"a": StatusPending, "zzz": StatusPending})
	assert.ErrorIs(t, err, sferrors.ErrStepNotFound)
	st, _ := tr.Status("a")
	assert.Equal(t, StatusSkipped, st, "a rejected batch must not apply partially")
	assert.Len(t, tr.Skips(), 1)
}

func TestRevertSkip_RestoresStatusesAcrossReopen(t *testing.T) {
	tr, path := openTracker(t, "a", "b", "c")
	require.NoError(t, tr.SetStatus("a", StatusCompleted))
	require.NoError(t, tr.RecordSkip("c", "skip_to_c", map[string]Status{
		"a": StatusSkipped,
		"b": StatusSkipped,
		"c": StatusPending,
	}))

	reopened, err := Open(path, []string{"a", "b", "c"}, nil)
	require.NoError(t, err)
	rec, ok := reopened.PendingSkip()
	require.True(t, ok)
	assert.Equal(t, "c", rec.Target)
	assert.Equal(t, "skip_to_c", rec.Snapshot)
	assert.Equal(t, 1, rec.Completions)

	got, err := reopened.RevertSkip()
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.Equal(t, map[string]Status{"a": StatusCompleted, "b": StatusPending, "c": StatusPending}, reopened.Statuses())
	assert.Empty(t, reopened.Skips())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), SkipsKey)

	_, err = reopened.RevertSkip()
	assert.True(t, sferrors.IsNotFound(err))
}

func TestPendingSkip_HiddenByLaterCompletion(t *testing.T) {
	tr, _ := openTracker(t, "a", "b")
	require.NoError(t, tr.RecordSkip("b", "skip_to_b", map[string]Status{
		"a": StatusSkipped,
		"b": StatusPending,
	}))
	_, ok := tr.PendingSkip()
	require.True(t, ok)

	require.NoError(t, tr.SetStatus("b", StatusCompleted))
	_, ok = tr.PendingSkip()
	assert.False(t, ok, "a completion after the skip is the most recent change")

	popped, err := tr.PopLastCompletion("b")
	require.NoError(t, err)
	require.True(t, popped)
	_, ok = tr.PendingSkip()
	assert.True(t, ok)
}

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"pending", "completed", "skipped", "awaiting_decision", "skipped_conditional"} {
		st, err := ParseStatus(s)
		require.NoError(t, err)
		assert.Equal(t, s, st.String())
	}
	_, err := ParseStatus("running")
	assert.ErrorIs(t, err, sferrors.ErrInvalidInput)
}
