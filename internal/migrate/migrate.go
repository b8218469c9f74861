// Package migrate runs versioned schema migrations over every chat record
// in the object store.
//
// Migrations form an ordered, append-only registry. A single version
// counter, persisted outside the chat namespace, records how many of them
// have been applied. On every load the runner applies the missing suffix of
// the registry: for each step it iterates all chat records, transforms
// them, dispatches the resulting puts as one group and joins the group
// before moving to the next step. The counter only advances once every step
// has completed without error.
//
// A failed step aborts the batch with the counter unchanged, so the next
// load retries from the same point. Because a crash can land between a
// step's puts and the counter write, partially applied steps are a real
// scenario: migrations MUST be idempotent and total over structurally valid
// legacy records.
//
// Migrations operate on the raw JSON document (map[string]any), not on
// domain.Chat, because their whole point is to understand shapes older than
// the current struct.
package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mkaretsos/go-chat-data/internal/store"
)

// VersionKey is the meta-namespace key holding the applied-migration count.
const VersionKey = "chats-version"

// ErrVersionRegression is returned when the persisted counter exceeds the
// registry length, i.e. the process is running with an older registry than
// the one that wrote the store.
var ErrVersionRegression = errors.New("migrate: persisted version exceeds registry length")

var migrationSteps = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "chat_migration_steps_total",
		Help: "Total number of chat migration steps attempted, by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(migrationSteps)
}

// Migration is a single schema step: a pure, idempotent transform from the
// record shape at version N to the shape at version N+1.
type Migration struct {
	// Name identifies the step in logs.
	Name string
	// Apply transforms one raw chat document. It must not fail for
	// structurally valid legacy records.
	Apply func(record map[string]any) (map[string]any, error)
}

// Registry is the ordered, append-only list of migrations. Its length is
// the current schema version.
type Registry struct {
	steps []Migration
}

// NewRegistry builds a registry from steps in application order.
func NewRegistry(steps ...Migration) *Registry {
	return &Registry{steps: steps}
}

// Append adds a step at the end of the registry. Existing positions never
// change; released steps are never removed or reordered.
func (r *Registry) Append(m Migration) {
	r.steps = append(r.steps, m)
}

// Len reports the schema version the registry describes.
func (r *Registry) Len() int { return len(r.steps) }

// Runner applies a registry to the chat records in a store.
type Runner struct {
	chats    store.Store
	meta     store.Store
	registry *Registry
	log      zerolog.Logger
}

// NewRunner wires a runner over the chats namespace, the meta namespace
// holding the version counter, and the migration registry.
func NewRunner(chats, meta store.Store, registry *Registry, log zerolog.Logger) *Runner {
	return &Runner{chats: chats, meta: meta, registry: registry, log: log}
}

// Version reads the persisted applied-migration count. An absent counter
// means a fresh store at version 0.
func (r *Runner) Version(ctx context.Context) (int, error) {
	raw, err := r.meta.Get(ctx, VersionKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("migrate: decode version counter: %w", err)
	}
	return v, nil
}

// Run applies every registered migration the store has not seen yet.
// It returns nil when the store is already current.
func (r *Runner) Run(ctx context.Context) error {
	version, err := r.Version(ctx)
	if err != nil {
		return err
	}
	target := r.registry.Len()
	if version > target {
		return fmt.Errorf("%w: have %d, registry has %d", ErrVersionRegression, version, target)
	}
	if version == target {
		return nil
	}

	r.log.Info().Int("from", version).Int("to", target).Msg("running chat migrations")

	for step := version; step < target; step++ {
		if err := r.runStep(ctx, r.registry.steps[step]); err != nil {
			migrationSteps.WithLabelValues("failed").Inc()
			// Counter stays at the pre-batch value; the next load retries
			// from the same point.
			return fmt.Errorf("migrate: step %d (%s): %w", step, r.registry.steps[step].Name, err)
		}
		migrationSteps.WithLabelValues("applied").Inc()
	}

	raw, err := json.Marshal(target)
	if err != nil {
		return err
	}
	if err := r.meta.Put(ctx, VersionKey, raw); err != nil {
		return fmt.Errorf("migrate: persist version counter: %w", err)
	}
	r.log.Info().Int("version", target).Msg("chat migrations complete")
	return nil
}

// runStep transforms every chat record through one migration, dispatching
// all puts for the step and joining them as a group.
func (r *Runner) runStep(ctx context.Context, m Migration) error {
	g, gctx := errgroup.WithContext(ctx)

	err := r.chats.Iterate(ctx, func(key string, value []byte) error {
		var record map[string]any
		if err := json.Unmarshal(value, &record); err != nil {
			return fmt.Errorf("decode record %q: %w", key, err)
		}
		updated, err := m.Apply(record)
		if err != nil {
			return fmt.Errorf("transform record %q: %w", key, err)
		}
		out, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("encode record %q: %w", key, err)
		}
		g.Go(func() error {
			return r.chats.Put(gctx, key, out)
		})
		return nil
	})

	// Always join dispatched puts, even when iteration itself failed.
	if werr := g.Wait(); err == nil {
		err = werr
	}
	return err
}
