package lifeline

import (
	"database/sql"

	"github.com/perola/lifeline/internal/engine"
	"github.com/perola/lifeline/internal/taskqueue"
	workerpkg "github.com/perola/lifeline/pkg/worker"
)

// WorkerBundle wires together an Engine, a durable task queue, and a Worker
// that delivers the engine's staged side effects from that queue.
//
// For now, we only provide a SQLite-backed bundle.
type WorkerBundle struct {
	Engine Engine
	Worker *workerpkg.Worker

	// queue is kept unexported for now; it is primarily useful for internal
	// inspection and tests. The public API focuses on Engine and Worker.
	queue taskqueue.Queue
}

// NewSQLiteBundle constructs a durable Engine + Queue + Worker combo sharing
// the same SQLite database. Instance history and queued effect tasks are
// persisted in the provided *sql.DB, so effects staged before a crash are
// delivered after restart.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:lifeline.db?_journal=WAL")
//	bundle, err := lifeline.NewSQLiteBundle(db, lifeline.Config{Notifier: mailer})
//	// register lifecycles on bundle.Engine, recover, then
//	// run bundle.Worker in one or more goroutines
func NewSQLiteBundle(db *sql.DB, cfg Config) (*WorkerBundle, error) {
	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}

	ec := cfg.engineConfig()
	ec.Queue = q

	disp, err := engine.NewSQLiteDispatcher(db, ec)
	if err != nil {
		return nil, err
	}

	w := workerpkg.New(disp, q, disp.Invoker())

	return &WorkerBundle{
		Engine: disp,
		Worker: w,
		queue:  q,
	}, nil
}
