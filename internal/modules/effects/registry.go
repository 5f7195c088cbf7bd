package effects

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// Effect is the behaviour every catalog entry exposes
type Effect interface {
	Kind() Kind
	Validate(v *Value) bool
	Apply(v *Value) string
}

// SilentEffect is implemented by complex effects that can render a
// video-only graph for inputs without an audio stream
type SilentEffect interface {
	ApplySilent(v *Value) (string, bool)
}

// Definition is a registry entry. Apply must be a pure function of its value
// unless Randomized is set, in which case each call draws fresh randomness.
type Definition struct {
	Name        string
	Type        Kind
	Description string
	Randomized  bool

	validate    func(v *Value) bool
	apply       func(v *Value) string
	applySilent func(v *Value) string
}

// NewDefinition creates a registry entry. A nil validator accepts only a missing value.
func NewDefinition(name string, kind Kind, description string, validate func(*Value) bool, apply func(*Value) string) *Definition {
	if validate == nil {
		validate = noValue
	}
	return &Definition{
		Name:        strings.ToLower(name),
		Type:        kind,
		Description: description,
		validate:    validate,
		apply:       apply,
	}
}

func (d *Definition) Kind() Kind { return d.Type }

func (d *Definition) Validate(v *Value) bool { return d.validate(v) }

func (d *Definition) Apply(v *Value) string { return d.apply(v) }

// ApplySilent returns the video-only fragment, or false when the effect has none
func (d *Definition) ApplySilent(v *Value) (string, bool) {
	if d.applySilent == nil {
		return "", false
	}
	return d.applySilent(v), true
}

// Registry is an immutable catalog of effects keyed by canonical name
type Registry struct {
	defs    map[string]*Definition
	aliases map[string]string
	names   []string
}

// NewRegistry builds a registry from definitions and an alias table
// (alias -> canonical name). Duplicate names and dangling aliases are rejected.
func NewRegistry(defs []*Definition, aliases map[string]string) (*Registry, error) {
	r := &Registry{
		defs:    make(map[string]*Definition, len(defs)),
		aliases: make(map[string]string, len(aliases)),
	}

	for _, def := range defs {
		if def.Name == "" || def.apply == nil {
			return nil, fmt.Errorf("effect definition %q is incomplete", def.Name)
		}
		if def.Name == randomToken {
			return nil, fmt.Errorf("effect name %q is reserved", def.Name)
		}
		if _, dup := r.defs[def.Name]; dup {
			return nil, fmt.Errorf("duplicate effect %q", def.Name)
		}
		r.defs[def.Name] = def
		r.names = append(r.names, def.Name)
	}
	sort.Strings(r.names)

	for alias, target := range aliases {
		alias = strings.ToLower(alias)
		target = strings.ToLower(target)
		if _, ok := r.defs[target]; !ok {
			return nil, fmt.Errorf("alias %q points to unknown effect %q", alias, target)
		}
		if _, clash := r.defs[alias]; clash {
			return nil, fmt.Errorf("alias %q shadows an effect", alias)
		}
		r.aliases[alias] = target
	}

	return r, nil
}

// MustRegistry is NewRegistry for static tables
func MustRegistry(defs []*Definition, aliases map[string]string) *Registry {
	r, err := NewRegistry(defs, aliases)
	if err != nil {
		panic(err)
	}
	return r
}

// Resolve returns the canonical name for name or an alias of it
func (r *Registry) Resolve(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if target, ok := r.aliases[name]; ok {
		name = target
	}
	_, ok := r.defs[name]
	return name, ok
}

// Lookup resolves aliases and returns the definition
func (r *Registry) Lookup(name string) (*Definition, bool) {
	canonical, ok := r.Resolve(name)
	if !ok {
		return nil, false
	}
	return r.defs[canonical], true
}

// Names returns sorted canonical names, optionally restricted to kinds
func (r *Registry) Names(kinds ...Kind) []string {
	if len(kinds) == 0 {
		return append([]string(nil), r.names...)
	}
	return lo.Filter(r.names, func(name string, _ int) bool {
		return lo.Contains(kinds, r.defs[name].Type)
	})
}

// Definitions returns all entries sorted by name
func (r *Registry) Definitions() []*Definition {
	return lo.Map(r.names, func(name string, _ int) *Definition {
		return r.defs[name]
	})
}

// Aliases returns the aliases that resolve to name
func (r *Registry) Aliases(name string) []string {
	var out []string
	for alias, target := range r.aliases {
		if target == name {
			out = append(out, alias)
		}
	}
	sort.Strings(out)
	return out
}

// Len returns the number of canonical effects
func (r *Registry) Len() int {
	return len(r.names)
}
