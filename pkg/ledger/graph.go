package ledger

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
)

// Edge is a declared valid (From -> To) transition for an entity kind.
type Edge struct {
	From Status
	To   Status
}

// KindDefinition declares the closed status machine for one entity kind. The
// definition is fixed at deploy time; validation against it is pure and does
// not depend on any entity instance.
type KindDefinition struct {
	Kind EntityKind

	// Statuses is the complete declared status set. Transitions naming a
	// status outside this set are rejected, never silently accepted.
	Statuses []Status

	// Initial are the statuses an entity may be created in. The first entry
	// is the default for new entities.
	Initial []Status

	// Edges is the declared transition graph. Terminal statuses are derived:
	// any status with no outgoing edge is terminal.
	Edges []Edge

	// Exclusive maps statuses that admit at most one holder per scope to the
	// dimension the scope key is drawn from.
	Exclusive map[Status]ScopeDimension

	// Deletable lists statuses from which a guarded soft-delete is permitted.
	// Must be a subset of Initial; anything past an initial status is
	// archived through the graph instead.
	Deletable []Status
}

// DefaultInitialStatus returns the status assigned to newly created entities.
func (d *KindDefinition) DefaultInitialStatus() Status {
	return d.Initial[0]
}

// compiledKind is a KindDefinition with its lookup sets materialized.
type compiledKind struct {
	def       KindDefinition
	statuses  mapset.Set[Status]
	initial   mapset.Set[Status]
	deletable mapset.Set[Status]
	outgoing  map[Status]mapset.Set[Status]
}

// Registry holds the compiled kind definitions and answers transition
// validity questions. It is immutable after construction and safe for
// concurrent use.
type Registry struct {
	kinds map[EntityKind]*compiledKind
}

// NewRegistry compiles the given definitions. It fails fast on malformed
// definitions rather than deferring to runtime surprises: undeclared statuses
// in edges, initial, exclusive, or deletable sets are registration errors, as
// is a deletable status that is not initial.
func NewRegistry(defs ...KindDefinition) (*Registry, error) {
	r := &Registry{kinds: make(map[EntityKind]*compiledKind, len(defs))}
	for _, def := range defs {
		if err := r.register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) register(def KindDefinition) error {
	if def.Kind == "" {
		return fmt.Errorf("kind definition missing kind name")
	}
	if _, exists := r.kinds[def.Kind]; exists {
		return fmt.Errorf("kind %q registered twice", def.Kind)
	}
	if len(def.Statuses) == 0 {
		return fmt.Errorf("kind %q declares no statuses", def.Kind)
	}
	if len(def.Initial) == 0 {
		return fmt.Errorf("kind %q declares no initial status", def.Kind)
	}

	ck := &compiledKind{
		def:       def,
		statuses:  mapset.NewSet(def.Statuses...),
		initial:   mapset.NewSet(def.Initial...),
		deletable: mapset.NewSet(def.Deletable...),
		outgoing:  make(map[Status]mapset.Set[Status]),
	}

	if !ck.initial.IsSubset(ck.statuses) {
		return fmt.Errorf("kind %q: initial statuses %v not all declared", def.Kind, def.Initial)
	}
	if !ck.deletable.IsSubset(ck.initial) {
		return fmt.Errorf("kind %q: deletable statuses must be initial statuses", def.Kind)
	}
	for _, e := range def.Edges {
		if !ck.statuses.Contains(e.From) {
			return fmt.Errorf("kind %q: edge from undeclared status %q", def.Kind, e.From)
		}
		if !ck.statuses.Contains(e.To) {
			return fmt.Errorf("kind %q: edge to undeclared status %q", def.Kind, e.To)
		}
		set, ok := ck.outgoing[e.From]
		if !ok {
			set = mapset.NewSet[Status]()
			ck.outgoing[e.From] = set
		}
		set.Add(e.To)
	}
	for status := range def.Exclusive {
		if !ck.statuses.Contains(status) {
			return fmt.Errorf("kind %q: exclusive status %q not declared", def.Kind, status)
		}
	}

	r.kinds[def.Kind] = ck
	return nil
}

// MustNewRegistry is NewRegistry for statically known definitions.
func MustNewRegistry(defs ...KindDefinition) *Registry {
	r, err := NewRegistry(defs...)
	if err != nil {
		panic(err)
	}
	return r
}

// Definition returns the declared definition for a kind.
func (r *Registry) Definition(kind EntityKind) (*KindDefinition, error) {
	ck, ok := r.kinds[kind]
	if !ok {
		return nil, &UnknownKindError{Kind: kind}
	}
	return &ck.def, nil
}

// ValidateTransition checks whether (from -> to) is a declared edge for the
// kind. Returns nil if valid, *InvalidTransitionError otherwise. Unknown
// kinds and undeclared statuses are rejected.
func (r *Registry) ValidateTransition(kind EntityKind, from, to Status) error {
	ck, ok := r.kinds[kind]
	if !ok {
		return &UnknownKindError{Kind: kind}
	}
	if !ck.statuses.Contains(from) || !ck.statuses.Contains(to) {
		return &InvalidTransitionError{Kind: kind, From: from, To: to}
	}
	if set, ok := ck.outgoing[from]; ok && set.Contains(to) {
		return nil
	}
	return &InvalidTransitionError{Kind: kind, From: from, To: to}
}

// IsValidTransition is the boolean form of ValidateTransition.
func (r *Registry) IsValidTransition(kind EntityKind, from, to Status) bool {
	return r.ValidateTransition(kind, from, to) == nil
}

// AllowedTransitions returns the declared targets reachable from the given
// status, or nil for a terminal status.
func (r *Registry) AllowedTransitions(kind EntityKind, from Status) []Status {
	ck, ok := r.kinds[kind]
	if !ok {
		return nil
	}
	set, ok := ck.outgoing[from]
	if !ok {
		return nil
	}
	return set.ToSlice()
}

// IsTerminal reports whether the status has no outgoing edges.
func (r *Registry) IsTerminal(kind EntityKind, status Status) bool {
	ck, ok := r.kinds[kind]
	if !ok {
		return false
	}
	set, ok := ck.outgoing[status]
	return !ok || set.Cardinality() == 0
}

// TerminalStatuses returns all statuses of the kind with no outgoing edges.
func (r *Registry) TerminalStatuses(kind EntityKind) []Status {
	ck, ok := r.kinds[kind]
	if !ok {
		return nil
	}
	var terminal []Status
	for _, status := range ck.def.Statuses {
		if set, ok := ck.outgoing[status]; !ok || set.Cardinality() == 0 {
			terminal = append(terminal, status)
		}
	}
	return terminal
}

// ExclusiveScope returns the scope dimension for an exclusive status, or
// false if the status admits any number of holders.
func (r *Registry) ExclusiveScope(kind EntityKind, status Status) (ScopeDimension, bool) {
	ck, ok := r.kinds[kind]
	if !ok {
		return "", false
	}
	dim, ok := ck.def.Exclusive[status]
	return dim, ok
}

// IsDeletable reports whether a guarded soft-delete is permitted from the
// given status.
func (r *Registry) IsDeletable(kind EntityKind, status Status) bool {
	ck, ok := r.kinds[kind]
	if !ok {
		return false
	}
	return ck.deletable.Contains(status)
}

// Kinds returns the registered kind names.
func (r *Registry) Kinds() []EntityKind {
	kinds := make([]EntityKind, 0, len(r.kinds))
	for k := range r.kinds {
		kinds = append(kinds, k)
	}
	return kinds
}
