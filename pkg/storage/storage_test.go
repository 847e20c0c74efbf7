package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	domain "github.com/dshills/flowgraph/pkg/domain/execution"
	"github.com/dshills/flowgraph/pkg/domain/types"
	flowerrors "github.com/dshills/flowgraph/pkg/errors"
	"github.com/dshills/flowgraph/pkg/workflow"
)

func sampleWorkflow(id types.WorkflowID) *workflow.Workflow {
	w := workflow.New()
	w.ID = id
	w.Name = "Summarizer"
	input := workflow.NewNode("input_0", "input", workflow.Position{X: 10, Y: 20})
	input.Data.Params["text"] = "Hello"
	llm := workflow.NewNode("openai_0", "openai", workflow.Position{X: 200, Y: 20})
	llm.Data.Params["prompt"] = "Summarize: {{ input_0.text }}"
	w.Nodes = []workflow.Node{input, llm}
	w.Edges = []workflow.Edge{{
		ID: "edge_1", Source: "input_0", Target: "openai_0",
		Type: workflow.DefaultEdgeType, Animated: true,
	}}
	return w
}

// repositories runs fn against both workflow repository implementations.
func repositories(t *testing.T, fn func(t *testing.T, repo workflow.Repository)) {
	t.Run("filesystem", func(t *testing.T) {
		repo, err := NewFilesystemWorkflowRepository(t.TempDir())
		require.NoError(t, err)
		fn(t, repo)
	})
	t.Run("sqlite", func(t *testing.T) {
		repo, err := NewSQLiteRepository(context.Background(), filepath.Join(t.TempDir(), "flowgraph.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = repo.Close() })
		fn(t, repo)
	})
}

func TestWorkflowRepository_RoundTrip(t *testing.T) {
	repositories(t, func(t *testing.T, repo workflow.Repository) {
		ctx := context.Background()
		w := sampleWorkflow("wf-1")
		require.NoError(t, repo.Save(ctx, w))

		got, err := repo.Load(ctx, "wf-1")
		require.NoError(t, err)
		if diff := cmp.Diff(w, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}

		w.Name = "Renamed"
		w.Status = workflow.StatusPublished
		require.NoError(t, repo.Save(ctx, w))

		list, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "Renamed", list[0].Name)
		assert.Equal(t, workflow.StatusPublished, list[0].Status)
		assert.Equal(t, 2, list[0].NodeCount)
	})
}

func TestWorkflowRepository_NotFoundAndDelete(t *testing.T) {
	repositories(t, func(t *testing.T, repo workflow.Repository) {
		ctx := context.Background()

		_, err := repo.Load(ctx, "missing")
		assert.True(t, errors.Is(err, workflow.ErrWorkflowNotFound))

		require.NoError(t, repo.Save(ctx, sampleWorkflow("wf-2")))
		require.NoError(t, repo.Delete(ctx, "wf-2"))
		_, err = repo.Load(ctx, "wf-2")
		assert.True(t, errors.Is(err, workflow.ErrWorkflowNotFound))
		assert.True(t, errors.Is(repo.Delete(ctx, "wf-2"), workflow.ErrWorkflowNotFound))
	})
}

func TestWorkflowRepository_RejectsBadIDs(t *testing.T) {
	repositories(t, func(t *testing.T, repo workflow.Repository) {
		ctx := context.Background()
		assert.Error(t, repo.Save(ctx, sampleWorkflow("")))
		assert.Error(t, repo.Save(ctx, sampleWorkflow("../escape")))
		_, err := repo.Load(ctx, "a/b")
		assert.Error(t, err)
	})
}

func TestFilesystemRepository_RejectsInvalidDocument(t *testing.T) {
	base := t.TempDir()
	repo, err := NewFilesystemWorkflowRepository(base)
	require.NoError(t, err)

	bad := `{"id":"wf-bad","name":"x","nodes":[{"id":"n","position":{"x":0,"y":0}}],"edges":[]}`
	require.NoError(t, os.WriteFile(filepath.Join(base, "workflows", "wf-bad.json"), []byte(bad), 0o644))
	require.NoError(t, repo.Save(context.Background(), sampleWorkflow("wf-good")))

	_, err = repo.Load(context.Background(), "wf-bad")
	require.Error(t, err)
	assert.True(t, errors.Is(err, flowerrors.ErrValidation))

	list, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1, "unreadable documents are skipped")
	assert.Equal(t, types.WorkflowID("wf-good"), list[0].ID)
}

func TestFilesystemRepository_WritesReadableJSON(t *testing.T) {
	base := t.TempDir()
	repo, err := NewFilesystemWorkflowRepository(base)
	require.NoError(t, err)

	w := sampleWorkflow("wf-markup")
	w.Nodes[1].Data.Params["prompt"] = "Compare <a> & <b>"
	require.NoError(t, repo.Save(context.Background(), w))

	data, err := os.ReadFile(filepath.Join(base, "workflows", "wf-markup.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Compare <a> & <b>"`)

	got, err := repo.Load(context.Background(), "wf-markup")
	require.NoError(t, err)
	assert.Equal(t, "Compare <a> & <b>", got.Nodes[1].Data.Params["prompt"])
}

func sampleReport(workflowID types.WorkflowID, started time.Time) *domain.RunReport {
	r := domain.NewRunReport(workflowID, "Summarizer")
	r.StartedAt = started
	r.Order = []types.NodeID{"input_0", "openai_0"}

	ok := domain.NewNodeResult("input_0", "input")
	ok.Start(map[string]any{"text": "Hello"})
	ok.Complete(map[string]any{"text": "Hello"})
	ok.Attempts = 1

	failed := domain.NewNodeResult("openai_0", "openai")
	failed.Start(map[string]any{"prompt": "Summarize: Hello"})
	failed.Fail(flowerrors.NewNodeExecutionError("openai_0", "openai", errors.New("rate limited")))
	failed.Attempts = 3

	r.PerNode["input_0"] = ok
	r.PerNode["openai_0"] = failed
	r.Finish(false)
	return r
}

func TestSQLiteRepository_Runs(t *testing.T) {
	ctx := context.Background()
	repo, err := NewSQLiteRepository(ctx, filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer func() { _ = repo.Close() }()

	base := time.Now().Add(-time.Hour)
	first := sampleReport("wf-1", base)
	second := sampleReport("wf-1", base.Add(time.Minute))
	other := sampleReport("wf-2", base.Add(2*time.Minute))
	for _, r := range []*domain.RunReport{first, second, other} {
		require.NoError(t, repo.SaveRun(ctx, r))
	}

	loaded, err := repo.LoadRun(ctx, first.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusPartial, loaded.OverallStatus)
	require.Contains(t, loaded.PerNode, types.NodeID("openai_0"))
	assert.Equal(t, flowerrors.KindNodeExecution, loaded.PerNode["openai_0"].Error.Kind)
	assert.Equal(t, "Hello", loaded.PerNode["input_0"].Output["text"])
	assert.Equal(t, first.Order, loaded.Order)

	all, err := repo.ListRuns(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, other.RunID, all[0].RunID, "newest first")

	forWF, err := repo.ListRuns(ctx, "wf-1", 1)
	require.NoError(t, err)
	require.Len(t, forWF, 1)
	assert.Equal(t, second.RunID, forWF[0].RunID)
	assert.Equal(t, 2, forWF[0].NodeCount)

	failures, err := repo.NodeFailures(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"openai": 3}, failures)

	_, err = repo.LoadRun(ctx, "nope")
	assert.True(t, errors.Is(err, domain.ErrRunNotFound))
}

func TestSQLiteRepository_ReopenKeepsSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	repo, err := NewSQLiteRepository(ctx, path)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, sampleWorkflow("wf-1")))
	require.NoError(t, repo.Close())

	repo, err = NewSQLiteRepository(ctx, path)
	require.NoError(t, err)
	defer func() { _ = repo.Close() }()

	var version int
	require.NoError(t, repo.db.QueryRow("SELECT MAX(version) FROM migrations").Scan(&version))
	assert.Equal(t, MigrationVersion, version)

	_, err = repo.Load(ctx, "wf-1")
	assert.NoError(t, err)
}

func TestKeyringCredentialStore(t *testing.T) {
	keyring.MockInit()
	store := NewKeyringCredentialStore(nil)

	require.NoError(t, store.Set("openai_api_key", "sk-test"))
	require.NoError(t, store.Set("other", "v"))

	got, err := store.Get("openai_api_key")
	require.NoError(t, err)
	assert.Equal(t, "sk-test", got)

	keys, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"openai_api_key", "other"}, keys)

	require.NoError(t, store.Delete("other"))
	keys, err = store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"openai_api_key"}, keys)

	_, err = store.Get("other")
	assert.True(t, errors.Is(err, ErrCredentialNotFound))
	assert.True(t, errors.Is(store.Delete("other"), ErrCredentialNotFound))
	assert.Error(t, store.Set("", "x"))
	assert.Error(t, store.Set(indexKey, "x"))
	assert.Error(t, store.Set("bad key", "x"))
}

func BenchmarkSQLiteRepository_SaveLoad(b *testing.B) {
	ctx := context.Background()
	repo, err := NewSQLiteRepository(ctx, filepath.Join(b.TempDir(), "bench.db"))
	require.NoError(b, err)
	defer func() { _ = repo.Close() }()

	w := sampleWorkflow("bench")
	for i := 0; i < 100; i++ {
		n := workflow.NewNode(workflow.FormatName("transform", i), "transform", workflow.Position{X: float64(i)})
		n.Data.Params["expression"] = "a + 1"
		w.Nodes = append(w.Nodes, n)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := repo.Save(ctx, w); err != nil {
			b.Fatal(err)
		}
		if _, err := repo.Load(ctx, "bench"); err != nil {
			b.Fatal(err)
		}
	}
}
