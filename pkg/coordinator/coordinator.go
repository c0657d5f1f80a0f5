// Package coordinator implements the All-Switch Coordinator: it fans a
// push or pull out across a selected set of artifact kinds in the
// fixed dependency order spec.md §4.6 names, running each kind to
// completion (via its Bulk Driver) before starting the next, and
// aggregates a single human-readable summary across all of them.
package coordinator

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/cuemby/dxsync/pkg/bulkdriver"
	"github.com/cuemby/dxsync/pkg/log"
	"github.com/cuemby/dxsync/pkg/metrics"
	"github.com/cuemby/dxsync/pkg/types"
)

// Unit bundles one kind's Bulk Driver. The Driver itself decides,
// per run, whether to delegate to its Helper's whole-kind All or
// Modified batch method — the Coordinator just invokes it once per
// kind, in dependency order.
type Unit struct {
	Driver *bulkdriver.Driver
}

// Coordinator runs a selected set of kinds' Bulk Drivers in dependency
// order.
type Coordinator struct {
	units  map[types.Kind]Unit
	logger zerolog.Logger
}

// New returns a Coordinator over the given per-kind units. Kinds with
// no registered unit are silently skipped by a run that selects them —
// callers decide which kinds exist for a given working directory.
func New(units map[types.Kind]Unit) *Coordinator {
	return &Coordinator{units: units, logger: log.WithComponent("coordinator")}
}

// PullAll runs PullAll for every kind in kinds, in spec.md §4.6's pull
// dependency order, aggregating one summary across all of them. A
// nil kinds selects every kind in types.PullOrder that has a registered
// unit; a kind absent from types.PullOrder is never run.
func (c *Coordinator) PullAll(ctx context.Context, kinds []types.Kind, opts types.Options) (types.Summary, error) {
	total := types.Summary{Op: "pulled"}
	for _, kind := range order(types.PullOrder, kinds) {
		unit, ok := c.units[kind]
		if !ok {
			continue
		}
		timer := metrics.NewTimer()
		summary, err := unit.Driver.PullAll(ctx, opts)
		timer.ObserveDurationVec(metrics.RunDuration, string(kind), "pull")
		if err != nil {
			c.logger.Error().Err(err).Str("kind", string(kind)).Msg("pull failed for kind")
			total.RecordFailure(string(kind), err)
			continue
		}
		total.Merge(summary)
		c.logger.Info().Str("kind", string(kind)).Str("summary", summary.String()).Msg("kind pull complete")
	}
	return total, nil
}

// PushAll runs PushAll for every kind in kinds, in spec.md §4.6's push
// dependency order (the reverse of pull), aggregating one summary.
func (c *Coordinator) PushAll(ctx context.Context, kinds []types.Kind, opts types.Options) (types.Summary, error) {
	total := types.Summary{Op: "pushed"}
	for _, kind := range order(types.PushOrder(), kinds) {
		unit, ok := c.units[kind]
		if !ok {
			continue
		}

		timer := metrics.NewTimer()
		summary, err := unit.Driver.PushAll(ctx, opts)
		timer.ObserveDurationVec(metrics.RunDuration, string(kind), "push")
		if err != nil {
			c.logger.Error().Err(err).Str("kind", string(kind)).Msg("push failed for kind")
			total.RecordFailure(string(kind), err)
			continue
		}
		total.Merge(summary)
		c.logger.Info().Str("kind", string(kind)).Str("summary", summary.String()).Msg("kind push complete")
	}
	return total, nil
}

// order intersects dependencyOrder with a caller-requested subset,
// preserving dependencyOrder's sequence. A nil/empty selected means
// "every kind dependencyOrder names". Each kind appears at most once,
// at its first position, even where an alias lists it twice; selected
// kinds absent from dependencyOrder are dropped.
func order(dependencyOrder []types.Kind, selected []types.Kind) []types.Kind {
	if len(selected) == 0 {
		selected = dependencyOrder
	}
	want := make(map[types.Kind]bool, len(selected))
	for _, k := range selected {
		want[k] = true
	}
	out := make([]types.Kind, 0, len(dependencyOrder))
	for _, k := range dependencyOrder {
		if want[k] {
			out = append(out, k)
			want[k] = false
		}
	}
	return out
}
