package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk YAML form of a command catalog.
//
//	commands:
//	  - name: terraform
//	    capabilities:
//	      - kind: fs-write
//	        scope: .
//	      - kind: network
//	        scope: "*.hashicorp.com"
//	      - kind: process-spawn
//	    requires_approval: true
type catalogFile struct {
	Commands []catalogEntry `yaml:"commands"`
}

type catalogEntry struct {
	Name             string              `yaml:"name,omitempty"`
	Pattern          string              `yaml:"pattern,omitempty"`
	Capabilities     []catalogCapability `yaml:"capabilities"`
	RequiresApproval bool                `yaml:"requires_approval,omitempty"`
	Description      string              `yaml:"description,omitempty"`
}

type catalogCapability struct {
	Kind  string `yaml:"kind"`
	Scope string `yaml:"scope,omitempty"`
}

// LoadCatalog merges entries from a YAML catalog file into the registry.
// Loaded entries replace builtin ones with the same name or pattern.
func (r *Registry) LoadCatalog(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read catalog %s: %w", path, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}

	for i, ce := range file.Commands {
		e, err := ce.toEntry(r.root)
		if err != nil {
			return fmt.Errorf("catalog %s, command %d: %w", path, i, err)
		}
		r.Register(e)
	}
	r.logg.Info("loaded %d catalog entries from %s", len(file.Commands), path)
	return nil
}

func (ce catalogEntry) toEntry(root string) (Entry, error) {
	if ce.Name == "" && ce.Pattern == "" {
		return Entry{}, fmt.Errorf("entry needs a name or a pattern")
	}

	caps := Set{}
	for _, cc := range ce.Capabilities {
		kind, err := ParseCapabilityKind(cc.Kind)
		if err != nil {
			return Entry{}, err
		}
		scope := cc.Scope
		// Filesystem scopes default to the sandbox root, network to any
		// host; a catalog author leaving scope blank means "whole sandbox".
		if scope == "" || scope == "." {
			switch kind {
			case KindFsRead, KindFsWrite:
				scope = root
			case KindNetworkConnect:
				scope = "*"
			}
		}
		caps = caps.Add(Capability{Kind: kind, Scope: scope})
	}

	return Entry{
		Name:             ce.Name,
		Pattern:          ce.Pattern,
		Capabilities:     caps,
		RequiresApproval: ce.RequiresApproval,
		Description:      ce.Description,
	}, nil
}
