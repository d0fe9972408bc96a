// Package config loads the engine's own tuning knobs: the height interval,
// per-step timeout ratios, Brake policy, and WAL location. It does not
// carry the genesis authority roster — see genesis.go for that.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"mlm/types"
)

// Config is the engine's tuning configuration, loaded from a TOML file.
type Config struct {
	DataDir     string `toml:"DataDir"`
	IntervalMS  uint64 `toml:"IntervalMS"`
	BrakeRounds uint64 `toml:"BrakeRounds"`

	ProposeNum   uint64 `toml:"ProposeNum"`
	ProposeDen   uint64 `toml:"ProposeDen"`
	PrevoteNum   uint64 `toml:"PrevoteNum"`
	PrevoteDen   uint64 `toml:"PrevoteDen"`
	PrecommitNum uint64 `toml:"PrecommitNum"`
	PrecommitDen uint64 `toml:"PrecommitDen"`
	BrakeNum     uint64 `toml:"BrakeNum"`
	BrakeDen     uint64 `toml:"BrakeDen"`
}

// DurationConfig projects the ratio fields into the shape the Timer and
// state driver consume.
func (c Config) DurationConfig() types.DurationConfig {
	return types.DurationConfig{
		ProposeNum:   c.ProposeNum,
		ProposeDen:   c.ProposeDen,
		PrevoteNum:   c.PrevoteNum,
		PrevoteDen:   c.PrevoteDen,
		PrecommitNum: c.PrecommitNum,
		PrecommitDen: c.PrecommitDen,
		BrakeNum:     c.BrakeNum,
		BrakeDen:     c.BrakeDen,
	}
}

// Load reads the config at path, writing a default file in its place if one
// does not yet exist.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./mlm-data"
	}
	return cfg, nil
}

// createDefault writes and returns the engine's default tuning config,
// matching the timer package's own default ratio table.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		DataDir:      "./mlm-data",
		IntervalMS:   6000,
		BrakeRounds:  4,
		ProposeNum:   24,
		ProposeDen:   10,
		PrevoteNum:   10,
		PrevoteDen:   10,
		PrecommitNum: 5,
		PrecommitDen: 10,
		BrakeNum:     3,
		BrakeDen:     10,
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, fmt.Errorf("config: encode default: %w", err)
	}
	return cfg, nil
}
