// Package config loads the simulation's configuration constants and its
// region/latency/bandwidth/degree-distribution tables. Loading itself is out
// of scope for the core simulator (spec.md §1); this package is the
// external collaborator whose contract the core consumes.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Unipisa/SimBlock/internal/netmodel"
)

// ErrUnknownStrategy is returned when TABLE or ALGO names a strategy the
// topology/consensus registries do not recognize.
var ErrUnknownStrategy = errors.New("config: unknown strategy identifier")

// ErrMissingTable is returned when the configuration file or a referenced
// region/latency/bandwidth/degree-distribution table file cannot be loaded.
var ErrMissingTable = errors.New("config: missing table file")

// CBRFailureSize is one entry of the empirical CDF over fallback byte sizes
// drawn on CBR failure (CBR_FAILURE_BLOCK_SIZE_DISTRIBUTION_*).
type CBRFailureSize struct {
	Bytes      int64   `yaml:"bytes"`
	CumulativeP float64 `yaml:"cumulative_p"`
}

// Config holds every recognized key of spec.md §6.
type Config struct {
	NumOfNodes int `mapstructure:"NUM_OF_NODES" yaml:"NUM_OF_NODES"`
	IntervalMs int64 `mapstructure:"INTERVAL" yaml:"INTERVAL"`

	AverageMiningPower float64 `mapstructure:"AVERAGE_MINING_POWER" yaml:"AVERAGE_MINING_POWER"`
	StdevMiningPower   float64 `mapstructure:"STDEV_OF_MINING_POWER" yaml:"STDEV_OF_MINING_POWER"`

	EndBlockHeight int64 `mapstructure:"END_BLOCK_HEIGHT" yaml:"END_BLOCK_HEIGHT"`

	BlockSizeBytes        int64 `mapstructure:"BLOCK_SIZE" yaml:"BLOCK_SIZE"`
	CompactBlockSizeBytes int64 `mapstructure:"COMPACT_BLOCK_SIZE" yaml:"COMPACT_BLOCK_SIZE"`

	CBRUsageRate   float64 `mapstructure:"CBR_USAGE_RATE" yaml:"CBR_USAGE_RATE"`
	ChurnNodeRate  float64 `mapstructure:"CHURN_NODE_RATE" yaml:"CHURN_NODE_RATE"`

	CBRFailureRateControl float64 `mapstructure:"CBR_FAILURE_RATE_FOR_CONTROL_NODE" yaml:"CBR_FAILURE_RATE_FOR_CONTROL_NODE"`
	CBRFailureRateChurn   float64 `mapstructure:"CBR_FAILURE_RATE_FOR_CHURN_NODE" yaml:"CBR_FAILURE_RATE_FOR_CHURN_NODE"`

	CBRFailureSizeDistribution []CBRFailureSize `mapstructure:"CBR_FAILURE_BLOCK_SIZE_DISTRIBUTION" yaml:"CBR_FAILURE_BLOCK_SIZE_DISTRIBUTION"`

	Table string `mapstructure:"TABLE" yaml:"TABLE"`
	Algo  string `mapstructure:"ALGO" yaml:"ALGO"`

	DifficultyInterval int64 `mapstructure:"DIFFICULTY_INTERVAL" yaml:"DIFFICULTY_INTERVAL"`
	InitialDifficulty  int64 `mapstructure:"INITIAL_DIFFICULTY" yaml:"INITIAL_DIFFICULTY"`

	ObserverWindow int `mapstructure:"WINDOW" yaml:"WINDOW"`

	Seed int64 `mapstructure:"SEED" yaml:"SEED"`

	OutputDir string `mapstructure:"OUTPUT_DIR" yaml:"OUTPUT_DIR"`
}

// Default returns the built-in default configuration, used when no file is
// supplied and no flags/env vars override it.
func Default() Config {
	return Config{
		NumOfNodes:            100,
		IntervalMs:            600_000,
		AverageMiningPower:    50,
		StdevMiningPower:      10,
		EndBlockHeight:        20,
		BlockSizeBytes:        1_000_000,
		CompactBlockSizeBytes: 20_000,
		CBRUsageRate:          0.8,
		ChurnNodeRate:         0.1,
		CBRFailureRateControl: 0.1,
		CBRFailureRateChurn:   0.5,
		Table:                 "default",
		Algo:                  "pow",
		DifficultyInterval:    5,
		InitialDifficulty:     1_000_000,
		ObserverWindow:        10,
		Seed:                  1,
		OutputDir:             ".",
	}
}

// Load reads configuration from path (if non-empty) through viper on top of
// the built-in defaults, with viper's SIMBLOCK_-prefixed environment lookup
// enabled. Load reads no command-line flags; cmd/simblock applies its own
// flag overrides to the returned Config. An empty path loads defaults only.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("SIMBLOCK")
	v.AutomaticEnv()
	v.SetConfigType("yaml")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w: %s: %v", ErrMissingTable, path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

// LoadRegionTable reads a YAML-encoded netmodel.RegionTable from path.
func LoadRegionTable(path string) (*netmodel.RegionTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMissingTable, path, err)
	}
	var table netmodel.RegionTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("config: parse region table %s: %w", path, err)
	}
	return &table, nil
}

// DegreeDistribution is a discrete empirical distribution over neighbor
// counts, used by the (opaque) topology-construction routine.
type DegreeDistribution struct {
	Degree      []int     `yaml:"degree"`
	CumulativeP []float64 `yaml:"cumulative_p"`
}

// LoadDegreeDistribution reads a YAML-encoded DegreeDistribution from path.
func LoadDegreeDistribution(path string) (*DegreeDistribution, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMissingTable, path, err)
	}
	var dd DegreeDistribution
	if err := yaml.Unmarshal(data, &dd); err != nil {
		return nil, fmt.Errorf("config: parse degree distribution %s: %w", path, err)
	}
	return &dd, nil
}

// InitialDifficultyBig returns cfg.InitialDifficulty as a *big.Int, the form
// internal/consensus/pow.Engine needs.
func (c Config) InitialDifficultyBig() *big.Int {
	return big.NewInt(c.InitialDifficulty)
}
