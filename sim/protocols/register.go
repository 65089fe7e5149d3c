// Package protocols holds the protocol registry and the built-in
// protocols shipped with the simulator.
package protocols

import (
	"fmt"
	"sort"

	"github.com/protosim/protosim/sim"
)

var registry = map[string]sim.ProtocolFactory{}

// Register adds a named protocol factory. Registration happens in init
// functions; duplicate names panic at startup.
func Register(name string, factory sim.ProtocolFactory) {
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("protocol %q registered twice", name))
	}
	registry[name] = factory
}

// Lookup resolves a scenario protocol name to its factory.
func Lookup(name string) (sim.ProtocolFactory, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown protocol %q (known: %v)", name, Names())
	}
	return f, nil
}

// Names returns the registered protocol names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
