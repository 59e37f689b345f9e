// Package agents resolves the collaborating-agent roster: which slugs may be
// proxied to, the upstream gateway each one lives behind, and the tokens used
// on that hop. It also derives the known-agents set that gates task.handoff
// targets.
package agents

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/missionctl/missionctl/internal/common/config"
	"github.com/missionctl/missionctl/internal/common/logger"
)

var slugPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Agent is one proxy-reachable collaborator.
type Agent struct {
	Slug     string
	Upstream string // base URL of the agent's chat gateway, no trailing slash
	Token    string // upstream auth token; empty when none survived filtering
}

// Directory is the read-only agent roster, resolved once at startup. Only the
// known-agents scan touches the filesystem afterwards.
type Directory struct {
	agents   map[string]*Agent
	slugs    []string
	declared []string // handoff targets from the token map and manifest
	homesDir string
	log      *logger.Logger
}

type manifestFile struct {
	Agents []manifestAgent `yaml:"agents"`
}

type manifestAgent struct {
	Slug         string `yaml:"slug"`
	UpstreamURL  string `yaml:"upstream_url"`
	GatewayToken string `yaml:"gateway_token"`
	Enabled      *bool  `yaml:"enabled"`
}

// Load builds the directory from the token map, the optional manifest and the
// upstream overrides. Tokens that are placeholders are dropped as if unset.
func Load(cfg config.AgentsConfig, log *logger.Logger) (*Directory, error) {
	d := &Directory{
		agents:   make(map[string]*Agent),
		homesDir: cfg.HomesDir,
		log:      log.WithComponent("agents"),
	}

	for slug, token := range parsePairs(cfg.TokenMap) {
		if !slugPattern.MatchString(slug) {
			d.log.Warn("ignoring invalid agent slug in token map", zap.String("slug", slug))
			continue
		}
		agent := d.ensure(slug)
		d.declared = append(d.declared, slug)
		if IsPlaceholderToken(token) {
			d.log.Debug("dropping placeholder token", zap.String("agent", slug))
			continue
		}
		agent.Token = token
	}

	if cfg.ManifestPath != "" {
		if err := d.loadManifest(cfg.ManifestPath); err != nil {
			return nil, err
		}
	}

	for slug, upstream := range parsePairs(cfg.UpstreamMap) {
		if !slugPattern.MatchString(slug) {
			d.log.Warn("ignoring invalid agent slug in upstream map", zap.String("slug", slug))
			continue
		}
		d.ensure(slug).Upstream = strings.TrimRight(upstream, "/")
	}

	for slug, agent := range d.agents {
		if agent.Upstream == "" && cfg.UpstreamTemplate != "" {
			agent.Upstream = strings.TrimRight(fmt.Sprintf(cfg.UpstreamTemplate, slug), "/")
		}
		d.slugs = append(d.slugs, slug)
	}
	sort.Strings(d.slugs)

	d.log.Info("agent directory loaded", zap.Int("agents", len(d.slugs)))
	return d, nil
}

func (d *Directory) loadManifest(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read agents manifest: %w", err)
	}
	var manifest manifestFile
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("failed to parse agents manifest: %w", err)
	}

	for _, entry := range manifest.Agents {
		slug := strings.TrimSpace(entry.Slug)
		if !slugPattern.MatchString(slug) {
			d.log.Warn("ignoring invalid agent slug in manifest", zap.String("slug", entry.Slug))
			continue
		}
		if entry.Enabled != nil && !*entry.Enabled {
			continue
		}
		d.declared = append(d.declared, slug)

		agent := d.ensure(slug)
		if upstream := strings.TrimSpace(entry.UpstreamURL); upstream != "" && agent.Upstream == "" {
			agent.Upstream = strings.TrimRight(upstream, "/")
		}
		if agent.Token == "" && !IsPlaceholderToken(entry.GatewayToken) {
			agent.Token = entry.GatewayToken
		}
	}
	return nil
}

func (d *Directory) ensure(slug string) *Agent {
	if agent, ok := d.agents[slug]; ok {
		return agent
	}
	agent := &Agent{Slug: slug}
	d.agents[slug] = agent
	return agent
}

// Lookup returns the proxy target for slug.
func (d *Directory) Lookup(slug string) (*Agent, bool) {
	agent, ok := d.agents[slug]
	return agent, ok
}

// Slugs returns the proxy-reachable slugs in sorted order.
func (d *Directory) Slugs() []string {
	return d.slugs
}

// KnownSlugs returns the handoff-target set: every slug declared in the token
// map or the manifest, plus every subdirectory of the agent homes dir. The
// homes dir is rescanned on each call so freshly provisioned agents count
// without a restart.
func (d *Directory) KnownSlugs() map[string]struct{} {
	known := make(map[string]struct{}, len(d.declared))
	for _, slug := range d.declared {
		known[slug] = struct{}{}
	}
	if d.homesDir == "" {
		return known
	}
	entries, err := os.ReadDir(d.homesDir)
	if err != nil {
		return known
	}
	for _, entry := range entries {
		if entry.IsDir() {
			known[entry.Name()] = struct{}{}
		}
	}
	return known
}

// IsPlaceholderToken reports whether token is one of the fill-me-in values
// that provisioning templates emit, which must behave as if no token was
// configured.
func IsPlaceholderToken(token string) bool {
	if token == "" {
		return true
	}
	upper := strings.ToUpper(token)
	if strings.HasPrefix(upper, "CHANGE_ME") {
		return true
	}
	switch upper {
	case "TODO", "REPLACE_ME", "YOUR_TOKEN":
		return true
	}
	return false
}

// parsePairs splits a comma-separated list of key=value pairs. Entries
// without an equals sign are skipped; values may contain further equals
// signs (tokens often do).
func parsePairs(raw string) map[string]string {
	pairs := make(map[string]string)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		pairs[key] = strings.TrimSpace(value)
	}
	return pairs
}
