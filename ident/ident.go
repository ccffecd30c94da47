// Package ident defines side-tagged identifiers for remotely-addressable
// objects ("actors").
//
// Each of the two protocol sides owns a namespace: identifiers created for
// the main side never collide with identifiers created for the extension
// side, even when the bare names match. The composed string form
// ("<side>:<name>") is the canonical wire representation; two identifiers
// are equal exactly when their composed forms are equal.
//
// Identifiers are immutable process-lifetime constants. There is no removal
// API.
package ident

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Side indicates which protocol side owns an identifier.
type Side uint8

const (
	// Main is the side hosting the application core.
	Main Side = 1
	// Ext is the side hosting extensions.
	Ext Side = 2
)

// ErrInvalidIdentifier is returned when a composed identifier string cannot
// be parsed.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// String returns the wire tag for the side.
func (s Side) String() string {
	switch s {
	case Main:
		return "main"
	case Ext:
		return "ext"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Identifier names a remotely-addressable object. The zero value is not a
// valid identifier; use New.
type Identifier struct {
	Side Side
	Name string
}

// New creates an identifier for the given side and name. It is deterministic
// and has no side effects: the same (side, name) always yields an identifier
// comparing equal by composed string form.
func New(side Side, name string) Identifier {
	return Identifier{Side: side, Name: name}
}

// String returns the composed form "<side>:<name>". This is the form carried
// in wire messages and used as the actor-table key.
func (id Identifier) String() string {
	return id.Side.String() + ":" + id.Name
}

// Parse inverts String.
func Parse(s string) (Identifier, error) {
	tag, name, ok := strings.Cut(s, ":")
	if !ok || name == "" {
		return Identifier{}, fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	switch tag {
	case "main":
		return Identifier{Side: Main, Name: name}, nil
	case "ext":
		return Identifier{Side: Ext, Name: name}, nil
	default:
		return Identifier{}, fmt.Errorf("%w: unknown side tag %q", ErrInvalidIdentifier, tag)
	}
}

// Registry interns identifiers so that repeated registrations of the same
// (side, name) observe a single canonical value. Interning is optional;
// identifiers created directly with New compare equal to interned ones.
type Registry struct {
	mu     sync.Mutex
	byForm map[string]Identifier
}

// NewRegistry creates an empty interning registry.
func NewRegistry() *Registry {
	return &Registry{byForm: make(map[string]Identifier)}
}

// Intern returns the canonical identifier for (side, name), creating it on
// first use.
func (r *Registry) Intern(side Side, name string) Identifier {
	id := New(side, name)
	key := id.String()

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byForm[key]; ok {
		return existing
	}
	r.byForm[key] = id
	return id
}

// Lookup returns the interned identifier for a composed form, if any.
func (r *Registry) Lookup(form string) (Identifier, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byForm[form]
	return id, ok
}
