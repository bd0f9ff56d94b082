// Package provider resolves which chain endpoint an agent binds to, either
// from an explicit RPC URL or from a named network in the chain definitions.
package provider

import (
	"strings"

	"ChainGuard-Agent/internal/config"
	xerrors "ChainGuard-Agent/internal/errors"
	"ChainGuard-Agent/internal/web3"
)

// Network is the endpoint selected for an agent.
type Network struct {
	Name        string
	RPCURL      string
	Symbol      string
	Description string
}

// Registry holds the named networks loaded from the chain definitions file.
type Registry struct {
	defs web3.ChainDefinitions
}

// NewRegistry loads chain definitions. An empty path yields an empty registry.
func NewRegistry(path string) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "load chain definitions")
	}
	return &Registry{defs: defs}, nil
}

// Networks returns the sorted list of defined network names.
func (r *Registry) Networks() []string {
	if r == nil {
		return nil
	}
	return r.defs.Names()
}

// Lookup returns the named network.
func (r *Registry) Lookup(name string) (Network, error) {
	if r == nil {
		return Network{}, xerrors.New(xerrors.CodeMissingEndpoint, "no chain definitions loaded")
	}
	def, err := r.defs.Resolve(name)
	if err != nil {
		return Network{}, xerrors.Wrap(xerrors.CodeMissingEndpoint, err, "resolve network")
	}
	return Network{
		Name:        strings.TrimSpace(name),
		RPCURL:      strings.TrimSpace(def.RPCURL),
		Symbol:      def.Symbol,
		Description: def.Description,
	}, nil
}

// Resolve picks the endpoint for cfg: rpc_url wins, otherwise network is
// looked up in the chains file.
func Resolve(cfg config.Web3Config) (Network, error) {
	if url := strings.TrimSpace(cfg.RPCURL); url != "" {
		name := strings.TrimSpace(cfg.Network)
		if name == "" {
			name = "default"
		}
		return Network{Name: name, RPCURL: url, Symbol: web3.DefaultSymbol}, nil
	}
	if strings.TrimSpace(cfg.Network) == "" {
		return Network{}, xerrors.New(xerrors.CodeMissingEndpoint, "")
	}
	registry, err := NewRegistry(cfg.ChainsFile)
	if err != nil {
		return Network{}, err
	}
	return registry.Lookup(cfg.Network)
}
