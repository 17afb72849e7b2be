// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package state defines the save/load contract that makes a component
// persistable. Any component implementing Module can be captured into a
// session document and restored later, across processes.
//
// The contract is deliberately small: a component declares a name, produces
// a JSON-shaped state dict, and restores from one. Aggregation across
// components is a plain function, not a framework behavior.
package state

import (
	"fmt"
)

// Module is implemented by components that can serialize and restore their
// own state.
type Module interface {
	// ComponentName identifies this component inside a session document.
	// Must be unique among the modules aggregated together.
	ComponentName() string

	// StateDict returns a JSON-shaped mapping of the attributes this
	// component serializes.
	StateDict() (map[string]any, error)

	// LoadStateDict restores the component from a state dict. When strict is
	// true, unknown keys cause a failure; otherwise they are ignored.
	LoadStateDict(dict map[string]any, strict bool) error
}

// Collect aggregates the state dicts of all modules into a single document
// keyed by component name. Duplicate component names are an error.
func Collect(modules ...Module) (map[string]map[string]any, error) {
	doc := make(map[string]map[string]any, len(modules))
	for _, mod := range modules {
		name := mod.ComponentName()
		if name == "" {
			return nil, fmt.Errorf("state module %T has empty component name", mod)
		}
		if _, dup := doc[name]; dup {
			return nil, fmt.Errorf("duplicate state component %q", name)
		}
		dict, err := mod.StateDict()
		if err != nil {
			return nil, fmt.Errorf("state dict for %q: %w", name, err)
		}
		doc[name] = dict
	}
	return doc, nil
}

// Restore dispatches each component's dict from the document to the matching
// module. Modules absent from the document are left untouched.
func Restore(doc map[string]map[string]any, strict bool, modules ...Module) error {
	for _, mod := range modules {
		dict, ok := doc[mod.ComponentName()]
		if !ok {
			continue
		}
		if err := mod.LoadStateDict(dict, strict); err != nil {
			return fmt.Errorf("load state for %q: %w", mod.ComponentName(), err)
		}
	}
	return nil
}
