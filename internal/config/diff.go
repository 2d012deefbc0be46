package config

import (
	"cmp"
	"reflect"
	"slices"

	"github.com/MrWong99/parley/internal/mode"
)

// ConfigDiff describes what changed between two configs. Modes, voices and
// the log level apply to new sessions without a restart; everything listed
// in RestartRequired does not.
type ConfigDiff struct {
	ModesChanged    bool       // true if any mode was added, removed or edited
	ModeChanges     []ModeDiff // per-mode diffs, ordered by name
	VoicesChanged   bool
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the changed sections that only take effect on
	// the next start.
	RestartRequired []string
}

// ModeDiff describes what changed for a single mode between two configs.
type ModeDiff struct {
	Name           string
	PromptChanged  bool
	TimeoutChanged bool
	HintsChanged   bool
	Added          bool
	Removed        bool
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.ModesChanged && !d.VoicesChanged && !d.LogLevelChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.VoicesChanged = !slices.Equal(old.Voices, new.Voices)

	oldModes := byName(old.ModeDefinitions())
	newModes := byName(new.ModeDefinitions())

	// Detect modified and removed modes.
	for name, om := range oldModes {
		nm, exists := newModes[name]
		if !exists {
			d.ModeChanges = append(d.ModeChanges, ModeDiff{Name: name, Removed: true})
			continue
		}
		if reflect.DeepEqual(om, nm) {
			continue
		}
		d.ModeChanges = append(d.ModeChanges, ModeDiff{
			Name:           name,
			PromptChanged:  om.Prompt != nm.Prompt,
			TimeoutChanged: om.HardTimeout != nm.HardTimeout,
			HintsChanged:   om.Hints != nm.Hints,
		})
	}

	// Detect added modes.
	for name := range newModes {
		if _, exists := oldModes[name]; !exists {
			d.ModeChanges = append(d.ModeChanges, ModeDiff{Name: name, Added: true})
		}
	}
	slices.SortFunc(d.ModeChanges, func(a, b ModeDiff) int { return cmp.Compare(a.Name, b.Name) })
	d.ModesChanged = len(d.ModeChanges) > 0

	// Sections that are wired once at startup.
	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.TLS != new.Server.TLS {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Upstream, new.Upstream) {
		d.RestartRequired = append(d.RestartRequired, "upstream")
	}
	if !reflect.DeepEqual(old.Analysis, new.Analysis) ||
		!reflect.DeepEqual(old.AnalysisFallbacks, new.AnalysisFallbacks) ||
		old.Breaker != new.Breaker {
		d.RestartRequired = append(d.RestartRequired, "analysis")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Cache != new.Cache {
		d.RestartRequired = append(d.RestartRequired, "cache")
	}
	if old.Prompts != new.Prompts {
		d.RestartRequired = append(d.RestartRequired, "prompts")
	}
	return d
}

func byName(defs []mode.Definition) map[string]mode.Definition {
	m := make(map[string]mode.Definition, len(defs))
	for _, d := range defs {
		m[d.Name] = d
	}
	return m
}
