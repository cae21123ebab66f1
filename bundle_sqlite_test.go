package lifeline

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/stretchr/testify/require"

	"github.com/perola/lifeline/internal/testutil"
	"github.com/perola/lifeline/pkg/api"
	"github.com/perola/lifeline/pkg/entity"
)

// TestSQLiteBundle_DurableAcrossRestart shows that instance history and
// staged effects survive a simulated process restart, provided lifecycles
// are re-registered on startup.
func TestSQLiteBundle_DurableAcrossRestart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbPath := filepath.Join(t.TempDir(), "lifeline_bundle.db")
	dsn := "file:" + dbPath + "?_journal=WAL"

	// Phase 1: create an instance and complete it. The staged effects land
	// on the durable queue but no worker processes them.

	db1, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)

	bundle1, err := NewSQLiteBundle(db1, Config{
		Notifier:   &testutil.FakeNotifier{},
		Projection: &testutil.FakeProjection{},
	})
	require.NoError(t, err)
	require.NoError(t, bundle1.Engine.RegisterLifecycle(entity.ProjectLifecycle()))

	snap, err := bundle1.Engine.CreateInstance(ctx, api.EntityProject, "proj-1", "alice", map[string]any{
		"name":     "migration",
		"owner_id": "alice",
	})
	require.NoError(t, err)

	_, err = bundle1.Engine.DeliverSignal(ctx, snap.ID, Command{Signal: entity.SignalComplete, RequestedBy: "alice"})
	require.NoError(t, err)

	// Simulate a crash before any effect is delivered.
	require.NoError(t, db1.Close())

	// Phase 2: restart with a fresh DB handle. Lifecycle definitions are
	// in-memory only and must be re-registered before recovery.

	db2, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	defer db2.Close()

	notifier := &testutil.FakeNotifier{}
	projection := &testutil.FakeProjection{}
	bundle2, err := NewSQLiteBundle(db2, Config{
		Notifier:   notifier,
		Projection: projection,
	})
	require.NoError(t, err)
	require.NoError(t, bundle2.Engine.RegisterLifecycle(entity.ProjectLifecycle()))

	n, err := RecoverInstances(ctx, bundle2.Engine)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	recovered, err := bundle2.Engine.GetInstance(ctx, snap.ID)
	require.NoError(t, err)
	require.Equal(t, entity.ProjStatusCompleted, recovered.Status)
	require.EqualValues(t, 2, recovered.Version)

	// Drain the durable queue: seed effect plus the completion's two effects.
	for i := 0; i < 3; i++ {
		processed, err := bundle2.Worker.ProcessOne(ctx)
		require.NoError(t, err)
		require.True(t, processed, "task %d", i)
	}

	require.Len(t, notifier.ByTemplate("project-completed"), 1)
	last := projection.Last()
	require.NotNil(t, last)
	require.Equal(t, entity.ProjStatusCompleted, last.Status)
}
