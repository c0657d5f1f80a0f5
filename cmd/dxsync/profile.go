package main

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/cuemby/dxsync/pkg/types"
)

// profile is the optional .dxsync.yml file a tenant directory can carry
// so a developer doesn't have to repeat --tenant/--user/--concurrency
// on every invocation. CLI flags always win over profile values.
type profile struct {
	Tenant      string   `yaml:"tenant"`
	Username    string   `yaml:"user"`
	Password    string   `yaml:"password"`
	Concurrency int64    `yaml:"concurrency"`
	Kinds       []string `yaml:"kinds"`
}

func loadProfile(workdir string) (*profile, error) {
	data, err := os.ReadFile(filepath.Join(workdir, ".dxsync.yml"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// applyProfileDefaults fills flags the invocation left unset from the
// loaded profile. It never overrides a flag the user actually set.
func applyProfileDefaults(g *globalFlags, p *profile) {
	if p == nil {
		return
	}
	if g.tenant == "" {
		g.tenant = p.Tenant
	}
	if g.username == "" {
		g.username = p.Username
	}
	if g.password == "" {
		g.password = p.Password
	}
	if !rootCmd.PersistentFlags().Changed("concurrency") && p.Concurrency > 0 {
		g.concurrency = p.Concurrency
	}
	if len(g.selectedKinds()) == 0 {
		applyProfileKinds(g, p.Kinds)
	}
}

func applyProfileKinds(g *globalFlags, names []string) {
	for _, name := range names {
		switch types.Kind(name) {
		case types.KindAsset:
			g.asset = true
		case types.KindCategory:
			g.category = true
		case types.KindContent:
			g.content = true
		case types.KindContentType:
			g.contentType = true
		case types.KindLayout:
			g.layout = true
		case types.KindPublishingSource:
			g.publishingSource = true
		case types.KindRendition:
			g.rendition = true
		case "all", "All-authoring":
			g.allAuthoring = true
		}
	}
}
