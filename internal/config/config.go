// Package config provides validated run configuration for stratasim.
// It supports built-in presets, YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/talgya/stratasim/internal/agents"
	"github.com/talgya/stratasim/internal/interaction"
	"github.com/talgya/stratasim/internal/social"
)

// ErrInvalidConfig marks a configuration rejected before any run starts.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
	Err    error // Underlying cause, if any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvalidConfig, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidConfig, e.Err}
	}
	return []error{ErrInvalidConfig}
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ClassDistribution is the share of the initial population in each tier.
type ClassDistribution struct {
	Lower  float64 `json:"lower" yaml:"lower"`
	Middle float64 `json:"middle" yaml:"middle"`
	Upper  float64 `json:"upper" yaml:"upper"`
}

// Config is everything needed to reproduce a run.
type Config struct {
	// Name labels the run in listings and comparisons.
	Name string `json:"name" yaml:"name"`

	PopulationSize int `json:"population_size" yaml:"population_size"`
	Steps          int `json:"steps" yaml:"steps"`

	// Seed fixes the random stream. Nil draws a fresh seed per run.
	Seed *int64 `json:"seed,omitempty" yaml:"seed,omitempty"`

	// Pairing and Exchange select the interaction strategies.
	Pairing  string `json:"pairing" yaml:"pairing"`
	Exchange string `json:"exchange" yaml:"exchange"`

	// InteractionParams overrides numeric model parameters by name.
	// Unknown names are rejected.
	InteractionParams map[string]float64 `json:"interaction_params,omitempty" yaml:"interaction_params,omitempty"`

	ExitEnabled  bool    `json:"exit_enabled" yaml:"exit_enabled"`
	EntryEnabled bool    `json:"entry_enabled" yaml:"entry_enabled"`
	ExitRate     float64 `json:"exit_rate" yaml:"exit_rate"`
	EntryRate    float64 `json:"entry_rate" yaml:"entry_rate"`

	// RecordAgents stores every agent in every snapshot.
	RecordAgents bool `json:"record_agents" yaml:"record_agents"`

	GenderRatio       float64           `json:"gender_ratio" yaml:"gender_ratio"`
	ClassDistribution ClassDistribution `json:"class_distribution" yaml:"class_distribution"`

	MaleCareMean          float64 `json:"male_care_mean" yaml:"male_care_mean"`
	MaleCompetitionMean   float64 `json:"male_competition_mean" yaml:"male_competition_mean"`
	FemaleCareMean        float64 `json:"female_care_mean" yaml:"female_care_mean"`
	FemaleCompetitionMean float64 `json:"female_competition_mean" yaml:"female_competition_mean"`
	SkillStdDev           float64 `json:"skill_std_dev" yaml:"skill_std_dev"`

	// InequalityMetric is "gini" (default) or "theil".
	InequalityMetric string `json:"inequality_metric" yaml:"inequality_metric"`

	// A run converges once inequality moves by at most ConvergenceTolerance
	// for ConvergenceWindow consecutive steps. A zero window disables it.
	ConvergenceTolerance float64 `json:"convergence_tolerance" yaml:"convergence_tolerance"`
	ConvergenceWindow    int     `json:"convergence_window" yaml:"convergence_window"`

	// MaxLinks caps the neighbours an agent links to on arrival.
	MaxLinks int `json:"max_links" yaml:"max_links"`
}

// Default returns a Config with the baseline society.
func Default() *Config {
	spawn := agents.DefaultSpawnConfig()
	params := interaction.DefaultParams()
	return &Config{
		Name:           "default",
		PopulationSize: 200,
		Steps:          100,
		Pairing:        string(params.Pairing),
		Exchange:       string(params.Exchange),
		ExitRate:       0.01,
		EntryRate:      0.01,
		GenderRatio:    spawn.GenderRatio,
		ClassDistribution: ClassDistribution{
			Lower:  spawn.ClassDistribution[agents.TierLower],
			Middle: spawn.ClassDistribution[agents.TierMiddle],
			Upper:  spawn.ClassDistribution[agents.TierUpper],
		},
		MaleCareMean:          spawn.MaleCareMean,
		MaleCompetitionMean:   spawn.MaleCompetitionMean,
		FemaleCareMean:        spawn.FemaleCareMean,
		FemaleCompetitionMean: spawn.FemaleCompetitionMean,
		SkillStdDev:           spawn.SkillStdDev,
		InequalityMetric:      string(social.MetricGini),
		ConvergenceTolerance:  0,
		ConvergenceWindow:     0,
		MaxLinks:              spawn.MaxLinks,
	}
}

// presets adjust the default society.
var presets = map[string]func(*Config){
	"default": func(*Config) {},
	"patriarchal": func(c *Config) {
		c.MaleCareMean, c.MaleCompetitionMean = 0.3, 0.7
		c.FemaleCareMean, c.FemaleCompetitionMean = 0.7, 0.3
		c.setParams(map[string]float64{
			"competition_reward": 1.5,
			"care_reward":        0.5,
			"attribution_bias":   0.3,
			"tax_redistribution": 0.1,
			"social_sanction":    0.5,
		})
	},
	"egalitarian": func(c *Config) {
		c.MaleCareMean, c.MaleCompetitionMean = 0.5, 0.5
		c.FemaleCareMean, c.FemaleCompetitionMean = 0.5, 0.5
		c.setParams(map[string]float64{
			"competition_reward": 1.0,
			"care_reward":        1.0,
			"attribution_bias":   0.0,
			"tax_redistribution": 0.3,
			"social_sanction":    0.2,
		})
	},
}

// PresetNames lists the built-in presets, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for k := range presets {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Preset returns the default config adjusted by the named preset.
func Preset(name string) (*Config, error) {
	apply, ok := presets[name]
	if !ok {
		return nil, invalid("preset", "unknown preset %q (valid: %v)", name, PresetNames())
	}
	c := Default()
	c.Name = name
	apply(c)
	return c, nil
}

func (c *Config) setParams(m map[string]float64) {
	if c.InteractionParams == nil {
		c.InteractionParams = make(map[string]float64, len(m))
	}
	maps.Copy(c.InteractionParams, m)
}

// Load builds a config from a preset, an optional YAML file and environment
// variables, in that order, then validates it.
// Order: preset -> file (if path is set) -> STRATASIM_* environment
func Load(preset, path string) (*Config, error) {
	if preset == "" {
		preset = "default"
	}
	c, err := Preset(preset)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if c, err = loadInto(c, path); err != nil {
			return nil, err
		}
	}
	applyEnvOverrides(c)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadFromFile loads configuration from a YAML file over the defaults.
func LoadFromFile(path string) (*Config, error) {
	return loadInto(Default(), path)
}

func loadInto(c *Config, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return c, nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(c *Config) {
	if v := os.Getenv("STRATASIM_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Seed = &n
		}
	}
	if v := os.Getenv("STRATASIM_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Steps = n
		}
	}
	if v := os.Getenv("STRATASIM_POPULATION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.PopulationSize = n
		}
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.PopulationSize <= 0 {
		return invalid("population_size", "must be positive, got %d", c.PopulationSize)
	}
	if c.Steps <= 0 {
		return invalid("steps", "must be positive, got %d", c.Steps)
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"exit_rate", c.ExitRate},
		{"entry_rate", c.EntryRate},
		{"gender_ratio", c.GenderRatio},
		{"class_distribution.lower", c.ClassDistribution.Lower},
		{"class_distribution.middle", c.ClassDistribution.Middle},
		{"class_distribution.upper", c.ClassDistribution.Upper},
		{"male_care_mean", c.MaleCareMean},
		{"male_competition_mean", c.MaleCompetitionMean},
		{"female_care_mean", c.FemaleCareMean},
		{"female_competition_mean", c.FemaleCompetitionMean},
		{"skill_std_dev", c.SkillStdDev},
	} {
		if math.IsNaN(f.v) || f.v < 0 || f.v > 1 {
			return invalid(f.name, "must be between 0 and 1, got %g", f.v)
		}
	}
	d := c.ClassDistribution
	if sum := d.Lower + d.Middle + d.Upper; math.Abs(sum-1) > 0.01 {
		return invalid("class_distribution", "shares must sum to 1, got %.3f", sum)
	}
	if !social.InequalityMetric(c.InequalityMetric).Valid() {
		return invalid("inequality_metric", "unknown metric %q (valid: gini, theil)", c.InequalityMetric)
	}
	if math.IsNaN(c.ConvergenceTolerance) || c.ConvergenceTolerance < 0 {
		return invalid("convergence_tolerance", "must be non-negative, got %g", c.ConvergenceTolerance)
	}
	if c.ConvergenceWindow < 0 {
		return invalid("convergence_window", "must be non-negative, got %d", c.ConvergenceWindow)
	}
	if c.MaxLinks < 0 {
		return invalid("max_links", "must be non-negative, got %d", c.MaxLinks)
	}
	if _, err := c.Params(); err != nil {
		return &ValidationError{Field: "interaction_params", Reason: err.Error(), Err: err}
	}
	return nil
}

// Params resolves the interaction model parameters.
func (c *Config) Params() (interaction.Params, error) {
	p := interaction.DefaultParams()
	if c.Pairing != "" {
		p.Pairing = interaction.Pairing(c.Pairing)
	}
	if c.Exchange != "" {
		p.Exchange = interaction.Exchange(c.Exchange)
	}
	p, err := p.WithValues(c.InteractionParams)
	if err != nil {
		return p, err
	}
	return p, p.Validate()
}

// SpawnConfig returns the demographic setup for a run seeded with seed.
func (c *Config) SpawnConfig(seed int64) agents.SpawnConfig {
	return agents.SpawnConfig{
		Seed:        seed,
		GenderRatio: c.GenderRatio,
		ClassDistribution: [agents.NumTiers]float64{
			c.ClassDistribution.Lower,
			c.ClassDistribution.Middle,
			c.ClassDistribution.Upper,
		},
		MaleCareMean:          c.MaleCareMean,
		MaleCompetitionMean:   c.MaleCompetitionMean,
		FemaleCareMean:        c.FemaleCareMean,
		FemaleCompetitionMean: c.FemaleCompetitionMean,
		SkillStdDev:           c.SkillStdDev,
		MaxLinks:              c.MaxLinks,
	}
}

// Metric returns the configured inequality metric.
func (c *Config) Metric() social.InequalityMetric {
	return social.InequalityMetric(c.InequalityMetric)
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	out := *c
	if c.Seed != nil {
		seed := *c.Seed
		out.Seed = &seed
	}
	out.InteractionParams = maps.Clone(c.InteractionParams)
	return &out
}

// WithSeed returns a copy of c pinned to seed.
func (c *Config) WithSeed(seed int64) *Config {
	out := c.Clone()
	out.Seed = &seed
	return out
}
