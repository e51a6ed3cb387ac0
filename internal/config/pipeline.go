package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/jorge-barreto/speckit/internal/stages"
)

// PipelineFileName is the per-spec stage selection file.
const PipelineFileName = "pipeline.toml"

// Pipeline selects which stages of a run execute and whether quality
// checkpoints are injected.
type Pipeline struct {
	SpecID        string            `toml:"spec_id"`
	EnabledStages []stages.Stage    `toml:"enabled_stages"`
	QualityGates  QualityGates      `toml:"quality_gates"`
	SkipReasons   map[string]string `toml:"skip_reasons"`
}

type QualityGates struct {
	Enabled     bool `toml:"enabled"`
	AutoResolve bool `toml:"auto_resolve"`
}

// pipelineFile mirrors Pipeline with optional fields so a layer only
// overrides what it sets.
type pipelineFile struct {
	SpecID        string            `toml:"spec_id"`
	EnabledStages []stages.Stage    `toml:"enabled_stages"`
	QualityGates  *struct {
		Enabled     *bool `toml:"enabled"`
		AutoResolve *bool `toml:"auto_resolve"`
	} `toml:"quality_gates"`
	SkipReasons map[string]string `toml:"skip_reasons"`
}

type globalFile struct {
	Pipeline struct {
		Defaults *pipelineFile `toml:"defaults"`
	} `toml:"pipeline"`
}

// Overrides are command-line stage selections.
type Overrides struct {
	Skip []stages.Stage
	Only []stages.Stage
}

// DefaultPipeline enables every stage with quality gates on.
func DefaultPipeline(specID string) *Pipeline {
	return &Pipeline{
		SpecID:        specID,
		EnabledStages: stages.All(),
		QualityGates:  QualityGates{Enabled: true, AutoResolve: true},
		SkipReasons:   map[string]string{},
	}
}

// LoadPipeline layers built-in defaults, the global [pipeline.defaults]
// section, the per-spec pipeline.toml and command-line overrides, then
// checks stage dependencies. The returned warnings are advisory.
func LoadPipeline(globalPath, specPath, specID string, ov *Overrides) (*Pipeline, []string, error) {
	p := DefaultPipeline(specID)

	if globalPath != "" {
		var g globalFile
		found, err := readTOML(globalPath, &g)
		if err != nil {
			return nil, nil, err
		}
		if found && g.Pipeline.Defaults != nil {
			p.merge(g.Pipeline.Defaults)
		}
	}

	if specPath != "" {
		var f pipelineFile
		found, err := readTOML(specPath, &f)
		if err != nil {
			return nil, nil, err
		}
		if found {
			p.merge(&f)
		}
	}

	if ov != nil {
		p.apply(*ov)
	}

	warnings, err := p.Check()
	if err != nil {
		return nil, nil, err
	}
	return p, warnings, nil
}

func readTOML(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("parsing %s: %w", path, err)
	}
	return true, nil
}

func (p *Pipeline) merge(f *pipelineFile) {
	if len(f.EnabledStages) > 0 {
		p.EnabledStages = f.EnabledStages
	}
	if f.QualityGates != nil {
		if f.QualityGates.Enabled != nil {
			p.QualityGates.Enabled = *f.QualityGates.Enabled
		}
		if f.QualityGates.AutoResolve != nil {
			p.QualityGates.AutoResolve = *f.QualityGates.AutoResolve
		}
	}
	for k, v := range f.SkipReasons {
		p.SkipReasons[strings.ToLower(k)] = v
	}
}

func (p *Pipeline) apply(ov Overrides) {
	if len(ov.Only) > 0 {
		p.EnabledStages = append([]stages.Stage(nil), ov.Only...)
	}
	for _, s := range ov.Skip {
		kept := p.EnabledStages[:0]
		for _, e := range p.EnabledStages {
			if e != s {
				kept = append(kept, e)
			}
		}
		p.EnabledStages = kept
	}
}

// IsEnabled reports whether the stage runs.
func (p *Pipeline) IsEnabled(s stages.Stage) bool {
	for _, e := range p.EnabledStages {
		if e == s {
			return true
		}
	}
	return false
}

// SkipReason returns the configured reason a stage is disabled.
func (p *Pipeline) SkipReason(s stages.Stage) string {
	if r, ok := p.SkipReasons[string(s)]; ok && r != "" {
		return r
	}
	return "Disabled in " + PipelineFileName
}

// hard dependencies must be enabled; soft ones only warn.
var dependencies = map[stages.Stage]struct {
	dep  stages.Stage
	hard bool
}{
	stages.Tasks:     {stages.Plan, true},
	stages.Implement: {stages.Tasks, true},
	stages.Validate:  {stages.Implement, false},
	stages.Audit:     {stages.Implement, false},
	stages.Unlock:    {stages.Implement, false},
}

// Check validates stage dependencies and returns warnings.
func (p *Pipeline) Check() ([]string, error) {
	var errs, warnings []string
	for _, s := range p.EnabledStages {
		if _, err := stages.Parse(string(s)); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		d, ok := dependencies[s]
		if !ok || p.IsEnabled(d.dep) {
			continue
		}
		if d.hard {
			errs = append(errs, fmt.Sprintf("%s requires %s to be enabled", s, d.dep))
		} else {
			warnings = append(warnings, fmt.Sprintf("%s without %s: will use existing artifacts", s, d.dep))
		}
	}
	if !p.IsEnabled(stages.Plan) {
		warnings = append(warnings, "Skipping plan disables 2 quality gate checkpoints")
	}
	if !p.IsEnabled(stages.Tasks) {
		warnings = append(warnings, "Skipping tasks disables 1 quality gate checkpoint")
	}
	if len(errs) > 0 {
		return warnings, fmt.Errorf("config: %s has %d error(s): %s", PipelineFileName, len(errs), strings.Join(errs, "; "))
	}
	return warnings, nil
}

// Save writes the pipeline selection as TOML.
func (p *Pipeline) Save(path string) error {
	data, err := toml.Marshal(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ParseOverrides reads --skip-<stage>, --only-<stage> and --stages=a,b flags.
// Unknown stage names are ignored.
func ParseOverrides(args []string) Overrides {
	var ov Overrides
	for _, arg := range args {
		switch {
		case strings.HasPrefix(arg, "--skip-"):
			if s, err := stages.Parse(strings.TrimPrefix(arg, "--skip-")); err == nil {
				ov.Skip = append(ov.Skip, s)
			}
		case strings.HasPrefix(arg, "--only-"):
			if s, err := stages.Parse(strings.TrimPrefix(arg, "--only-")); err == nil {
				ov.Only = append(ov.Only, s)
			}
		case strings.HasPrefix(arg, "--stages="):
			var list []stages.Stage
			for _, name := range strings.Split(strings.TrimPrefix(arg, "--stages="), ",") {
				if s, err := stages.Parse(name); err == nil {
					list = append(list, s)
				}
			}
			if len(list) > 0 {
				ov.Only = list
			}
		}
	}
	return ov
}
