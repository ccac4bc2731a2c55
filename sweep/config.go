// Package sweep runs hyperparameter sweeps: a configuration lists the values of each
// hyperparameter, it is expanded into trials, and each trial trains one model and reports its
// metrics to a tracking.Sink.
package sweep

import (
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Program trained by the trials of a sweep.
type Program string

const (
	// GNN trains one of the graph neural networks (package gnn).
	GNN Program = "gnn"

	// MF trains the matrix factorization baseline (package mf).
	MF Program = "mf"
)

// Method used to expand the parameters into trials.
type Method string

const (
	// Grid enumerates the cartesian product of all parameter values.
	Grid Method = "grid"

	// Random draws Config.Count trials, each parameter value picked uniformly.
	Random Method = "random"
)

// Goal of the sweep metric.
type Goal string

const (
	Maximize Goal = "maximize"
	Minimize Goal = "minimize"
)

// Metric selects the best trial.
type Metric struct {
	Name string `yaml:"name"`
	Goal Goal   `yaml:"goal"`
}

// Better reports whether a is better than b according to the goal.
func (m Metric) Better(a, b float64) bool {
	if m.Goal == Minimize {
		return a < b
	}
	return a > b
}

// Parameter lists the values a hyperparameter takes in the sweep.
type Parameter struct {
	Values []any `yaml:"values"`
}

// Config of a sweep, usually read from a YAML file:
//
//	name: gnn-link
//	program: gnn
//	method: grid
//	metric:
//	  name: valid_ndcg
//	  goal: maximize
//	parameters:
//	  learning_rate:
//	    values: [0.05, 0.01, 0.005]
//	  emb_dim:
//	    values: [64, 128, 256]
type Config struct {
	Name       string               `yaml:"name"`
	Program    Program              `yaml:"program"`
	Method     Method               `yaml:"method"`
	Count      int                  `yaml:"count,omitempty"`
	Seed       uint64               `yaml:"seed,omitempty"`
	Metric     Metric               `yaml:"metric"`
	Parameters map[string]Parameter `yaml:"parameters"`
}

// LoadConfig reads and validates the sweep configuration in the YAML file at path.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open sweep configuration")
	}
	defer func() { _ = f.Close() }()
	cfg, err := ParseConfig(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "sweep configuration %q", path)
	}
	return cfg, nil
}

// ParseConfig decodes and validates a YAML sweep configuration.
func ParseConfig(r io.Reader) (*Config, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	cfg := &Config{}
	if err := decoder.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode sweep configuration")
	}
	if cfg.Method == "" {
		cfg.Method = Grid
	}
	if cfg.Metric.Goal == "" {
		cfg.Metric.Goal = Maximize
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration can be expanded into trials.
func (cfg *Config) Validate() error {
	if cfg.Name == "" {
		return errors.New("sweep has no name")
	}
	if cfg.Program != GNN && cfg.Program != MF {
		return errors.Errorf("sweep %q: program must be %q or %q, got %q", cfg.Name, GNN, MF, cfg.Program)
	}
	switch cfg.Method {
	case Grid:
	case Random:
		if cfg.Count <= 0 {
			return errors.Errorf("sweep %q: random method requires count > 0, got %d", cfg.Name, cfg.Count)
		}
	default:
		return errors.Errorf("sweep %q: method must be %q or %q, got %q", cfg.Name, Grid, Random, cfg.Method)
	}
	if cfg.Metric.Name == "" {
		return errors.Errorf("sweep %q has no metric", cfg.Name)
	}
	if cfg.Metric.Goal != Maximize && cfg.Metric.Goal != Minimize {
		return errors.Errorf("sweep %q: metric goal must be %q or %q, got %q",
			cfg.Name, Maximize, Minimize, cfg.Metric.Goal)
	}
	for name, param := range cfg.Parameters {
		if len(param.Values) == 0 {
			return errors.Errorf("sweep %q: parameter %q has no values", cfg.Name, name)
		}
	}
	return nil
}

// Write encodes the configuration as YAML.
func (cfg *Config) Write(w io.Writer) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(cfg); err != nil {
		return errors.Wrap(err, "failed to encode sweep configuration")
	}
	return encoder.Close()
}

// Trial is one assignment of values to the sweep parameters.
type Trial struct {
	Index  int
	Params map[string]any
}

// Name of the trial, made of its index and its parameter values in name order.
func (t Trial) Name() string {
	parts := []string{fmt.Sprintf("%03d", t.Index)}
	for _, name := range sortedKeys(t.Params) {
		parts = append(parts, fmt.Sprintf("%s=%v", name, t.Params[name]))
	}
	return strings.Join(parts, ",")
}

// Expand the configuration into its trials.
//
// For the grid method the trials enumerate the cartesian product of the parameter values, with the
// parameters sorted by name and the last one varying fastest. The random method draws Count trials
// from a generator seeded with Config.Seed, so the expansion is reproducible.
func Expand(cfg *Config) ([]Trial, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	names := sortedKeys(cfg.Parameters)
	if cfg.Method == Random {
		rng := rand.New(rand.NewPCG(cfg.Seed, 0x73776565))
		trials := make([]Trial, cfg.Count)
		for ii := range trials {
			params := make(map[string]any, len(names))
			for _, name := range names {
				values := cfg.Parameters[name].Values
				params[name] = values[rng.IntN(len(values))]
			}
			trials[ii] = Trial{Index: ii, Params: params}
		}
		return trials, nil
	}

	numTrials := 1
	for _, name := range names {
		numTrials *= len(cfg.Parameters[name].Values)
	}
	trials := make([]Trial, numTrials)
	for ii := range trials {
		params := make(map[string]any, len(names))
		rest := ii
		for jj := len(names) - 1; jj >= 0; jj-- {
			values := cfg.Parameters[names[jj]].Values
			params[names[jj]] = values[rest%len(values)]
			rest /= len(values)
		}
		trials[ii] = Trial{Index: ii, Params: params}
	}
	return trials, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
