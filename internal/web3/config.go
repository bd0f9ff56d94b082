package web3

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chains.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single named network.
type ChainDefinition struct {
	Type        string `yaml:"type"`
	RPCURL      string `yaml:"rpc_url"`
	Symbol      string `yaml:"symbol"`
	Description string `yaml:"description"`
}

// DefaultSymbol is the native currency ticker used when a definition omits it.
const DefaultSymbol = "S"

// LoadChainDefinitions parses the YAML file containing chain metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("read chain definitions: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("parse chain definitions: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	return defs, nil
}

// Resolve returns the definition registered under name.
func (d ChainDefinitions) Resolve(name string) (ChainDefinition, error) {
	def, ok := d.Chains[strings.TrimSpace(name)]
	if !ok {
		return ChainDefinition{}, fmt.Errorf("network %q is not defined (known: %s)", name, strings.Join(d.Names(), ", "))
	}
	chainType := strings.ToLower(strings.TrimSpace(def.Type))
	if chainType != "" && chainType != "evm" {
		return ChainDefinition{}, fmt.Errorf("network %q uses unsupported type %s", name, def.Type)
	}
	if strings.TrimSpace(def.RPCURL) == "" {
		return ChainDefinition{}, fmt.Errorf("network %q has no rpc_url", name)
	}
	if def.Symbol == "" {
		def.Symbol = DefaultSymbol
	}
	return def, nil
}

// Names returns the sorted list of defined networks.
func (d ChainDefinitions) Names() []string {
	names := make([]string, 0, len(d.Chains))
	for name := range d.Chains {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
