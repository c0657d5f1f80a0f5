package main

import (
	"fmt"
	"time"

	"github.com/cuemby/dxsync/pkg/bulkdriver"
	"github.com/cuemby/dxsync/pkg/coordinator"
	"github.com/cuemby/dxsync/pkg/events"
	"github.com/cuemby/dxsync/pkg/fsadapter"
	"github.com/cuemby/dxsync/pkg/hashstore"
	"github.com/cuemby/dxsync/pkg/helper"
	"github.com/cuemby/dxsync/pkg/httpclient"
	"github.com/cuemby/dxsync/pkg/metrics"
	"github.com/cuemby/dxsync/pkg/preflight"
	"github.com/cuemby/dxsync/pkg/restadapter"
	"github.com/cuemby/dxsync/pkg/types"
)

// globalFlags is every persistent/shared flag a subcommand reads to
// build an app. It is populated by cobra before RunE runs.
type globalFlags struct {
	workdir     string
	tenant      string
	username    string
	password    string
	concurrency int64
	verbose     bool

	asset            bool
	category         bool
	content          bool
	contentType      bool
	layout           bool
	publishingSource bool
	rendition        bool
	allAuthoring     bool
	ignoreTimestamps bool
	dryRun           bool
}

// selectedKinds maps the spec's kind-selection flags to the kinds the
// CLI run should touch. --All-authoring overrides the individual
// flags and selects every kind.
func (g globalFlags) selectedKinds() []types.Kind {
	if g.allAuthoring {
		return types.AllKinds()
	}
	var kinds []types.Kind
	if g.asset {
		kinds = append(kinds, types.KindAsset)
	}
	if g.category {
		kinds = append(kinds, types.KindCategory)
	}
	if g.content {
		kinds = append(kinds, types.KindContent)
	}
	if g.contentType {
		kinds = append(kinds, types.KindContentType)
	}
	if g.layout {
		kinds = append(kinds, types.KindLayout)
	}
	if g.publishingSource {
		kinds = append(kinds, types.KindPublishingSource)
	}
	if g.rendition {
		kinds = append(kinds, types.KindRendition)
	}
	return kinds
}

// app bundles every component a run needs, built once per CLI
// invocation from globalFlags.
type app struct {
	coord     *coordinator.Coordinator
	helpers   map[types.Kind]*helper.Helper
	hashes    *hashstore.Store
	collector *metrics.Collector
	kinds     []types.Kind
	opts      types.Options
}

// kindOnDiskView reports the subset of the shared Hash Store's known
// paths that also exist on disk under one kind's directory, so the
// metrics Collector — built for one store per kind — gets a
// per-kind-accurate sample from the module's single shared store.
type kindOnDiskView struct {
	hashes *hashstore.Store
	fs     *fsadapter.Adapter
	kind   types.Kind
}

func (v kindOnDiskView) ListKnownPaths() []string {
	local, err := v.fs.Enumerate(v.kind)
	if err != nil {
		return nil
	}
	want := make(map[string]struct{}, len(local))
	for _, path := range local {
		want[path] = struct{}{}
	}

	var out []string
	for _, path := range v.hashes.ListKnownPaths() {
		if _, ok := want[path]; ok {
			out = append(out, path)
		}
	}
	return out
}

// buildApp wires the Hash Store, HTTP Client, and one Helper/Bulk
// Driver pair per selected kind into a Coordinator, the same
// leaf-to-root order the components were built in.
func buildApp(g globalFlags) (*app, error) {
	if g.tenant == "" {
		return nil, fmt.Errorf("--tenant is required")
	}

	n, err := fsadapter.CleanOrphanedTemp(g.workdir)
	if err != nil {
		return nil, fmt.Errorf("clean orphaned temp files: %w", err)
	}
	if n > 0 {
		rootLogger.Info().Int("count", n).Msg("removed orphaned temp files from a prior run")
	}

	hashes, err := hashstore.Open(hashstore.Config{WorkDir: g.workdir})
	if err != nil {
		return nil, fmt.Errorf("open hash store: %w", err)
	}

	client := httpclient.New(httpclient.Config{
		BaseURL:  g.tenant,
		Username: g.username,
		Password: g.password,
	})

	checker := preflight.NewTenantChecker(g.tenant).WithAuth(g.username, g.password)
	result := preflight.Run(cliCtx, checker, preflight.DefaultConfig())
	if !result.Healthy {
		return nil, fmt.Errorf("tenant %s unreachable: %s", g.tenant, result.Message)
	}

	fs := fsadapter.New(fsadapter.Config{WorkDir: g.workdir})

	kinds := g.selectedKinds()
	units := make(map[types.Kind]coordinator.Unit, len(kinds))
	helpers := make(map[types.Kind]*helper.Helper, len(kinds))
	collector := metrics.NewCollector()
	for _, kind := range kinds {
		rest := restadapter.New(client, kind)
		var asset *restadapter.AssetAdapter
		if kind.IsBinary() {
			asset = restadapter.NewAssetAdapter(client)
		}

		h := helper.New(helper.Deps{
			Kind:   kind,
			Rest:   rest,
			Asset:  asset,
			FS:     fs,
			Hashes: hashes,
			Bus:    events.NewBus(),
			Bulk: bulkdriver.Config{
				Concurrency: g.concurrency,
				RetryDelay:  2 * time.Second,
			},
		})

		driver := bulkdriver.New(h)

		units[kind] = coordinator.Unit{Driver: driver}
		helpers[kind] = h
		collector.Register(kind, kindOnDiskView{hashes: hashes, fs: fs, kind: kind})
	}
	collector.Start()

	opts := types.Options{
		TenantBaseURL:    g.tenant,
		IgnoreTimestamps: g.ignoreTimestamps,
		DryRun:           g.dryRun,
	}

	return &app{
		coord:     coordinator.New(units),
		helpers:   helpers,
		hashes:    hashes,
		collector: collector,
		kinds:     kinds,
		opts:      opts,
	}, nil
}

// exitCode maps a run summary to spec.md §6's exit code contract: 0
// full success, 1 partial. Exit code 2 (fatal) is reserved for a run
// that never started at all — a buildApp error, handled in main.go.
func exitCode(summary types.Summary) int {
	if len(summary.Failed) == 0 {
		return 0
	}
	return 1
}
