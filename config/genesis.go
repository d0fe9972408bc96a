package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"mlm/types"
)

// genesisNode is the YAML-facing shape of a roster entry; addresses are
// hex-encoded since types.Address is a raw byte slice with no YAML codec
// of its own.
type genesisNode struct {
	Address       string `yaml:"address"`
	ProposeWeight uint64 `yaml:"proposeWeight"`
	VoteWeight    uint64 `yaml:"voteWeight"`
}

type genesisFile struct {
	Authority []genesisNode `yaml:"authority"`
}

// LoadGenesis reads the genesis authority roster from a YAML file.
func LoadGenesis(path string) ([]types.Node, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read genesis %s: %w", path, err)
	}

	var gf genesisFile
	if err := yaml.Unmarshal(raw, &gf); err != nil {
		return nil, fmt.Errorf("config: parse genesis %s: %w", path, err)
	}
	if len(gf.Authority) == 0 {
		return nil, fmt.Errorf("config: genesis %s names no authority nodes", path)
	}

	nodes := make([]types.Node, len(gf.Authority))
	for i, n := range gf.Authority {
		addr, err := hex.DecodeString(n.Address)
		if err != nil {
			return nil, fmt.Errorf("config: genesis node %d: bad address %q: %w", i, n.Address, err)
		}
		nodes[i] = types.Node{Address: types.Address(addr), ProposeWeight: n.ProposeWeight, VoteWeight: n.VoteWeight}
	}
	return nodes, nil
}
