package ledger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ValidateTransition(t *testing.T) {
	r := DefaultRegistry()

	// Declared edge.
	require.NoError(t, r.ValidateTransition(KindIssue, IssueCreated, IssueSpecReady))
	assert.True(t, r.IsValidTransition(KindIssue, IssueCreated, IssueSpecReady))

	// Skipping intermediate statuses is rejected.
	err := r.ValidateTransition(KindIssue, IssueCreated, IssueDone)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, KindIssue, invalid.Kind)
	assert.Equal(t, IssueCreated, invalid.From)
	assert.Equal(t, IssueDone, invalid.To)

	// Same-status is not an edge.
	assert.False(t, r.IsValidTransition(KindIssue, IssueCreated, IssueCreated))

	// Unknown statuses are rejected, not silently accepted.
	assert.False(t, r.IsValidTransition(KindIssue, "BOGUS", IssueDone))
	assert.False(t, r.IsValidTransition(KindIssue, IssueCreated, "BOGUS"))

	// Unknown kind.
	err = r.ValidateTransition("widget", IssueCreated, IssueDone)
	var unknown *UnknownKindError
	require.ErrorAs(t, err, &unknown)
}

func TestRegistry_TerminalStatuses(t *testing.T) {
	r := DefaultRegistry()

	terminal := r.TerminalStatuses(KindIssue)
	assert.ElementsMatch(t, []Status{IssueDone, IssueArchived}, terminal)

	// No edges leave a terminal status.
	for _, status := range terminal {
		assert.Empty(t, r.AllowedTransitions(KindIssue, status))
		assert.True(t, r.IsTerminal(KindIssue, status))
	}

	// Non-terminal cycles are allowed (IMPLEMENTING <-> HOLD).
	assert.True(t, r.IsValidTransition(KindIssue, IssueImplementing, IssueHold))
	assert.True(t, r.IsValidTransition(KindIssue, IssueHold, IssueImplementing))
	assert.False(t, r.IsTerminal(KindIssue, IssueHold))
}

func TestRegistry_AllowedTransitions(t *testing.T) {
	r := DefaultRegistry()

	assert.ElementsMatch(t,
		[]Status{IssueSpecReady, IssueArchived},
		r.AllowedTransitions(KindIssue, IssueCreated))
	assert.ElementsMatch(t,
		[]Status{ApprovalApproved, ApprovalDenied, ApprovalCanceled},
		r.AllowedTransitions(KindApproval, ApprovalPending))
}

func TestRegistry_ExclusiveScope(t *testing.T) {
	r := DefaultRegistry()

	dim, ok := r.ExclusiveScope(KindIssue, IssueSpecReady)
	require.True(t, ok)
	assert.Equal(t, ScopeRepository, dim)

	dim, ok = r.ExclusiveScope(KindLawbookVersion, LawbookActive)
	require.True(t, ok)
	assert.Equal(t, ScopeGlobal, dim)

	_, ok = r.ExclusiveScope(KindIssue, IssueCreated)
	assert.False(t, ok)
}

func TestRegistry_IsDeletable(t *testing.T) {
	r := DefaultRegistry()

	assert.True(t, r.IsDeletable(KindIssue, IssueCreated))
	assert.False(t, r.IsDeletable(KindIssue, IssueSpecReady))
	assert.False(t, r.IsDeletable(KindIncident, IncidentOpen))
}

func TestNewRegistry_Validation(t *testing.T) {
	// Edge referencing an undeclared status.
	_, err := NewRegistry(KindDefinition{
		Kind:     "widget",
		Statuses: []Status{"A", "B"},
		Initial:  []Status{"A"},
		Edges:    []Edge{{"A", "C"}},
	})
	require.Error(t, err)

	// Deletable status that is not initial.
	_, err = NewRegistry(KindDefinition{
		Kind:      "widget",
		Statuses:  []Status{"A", "B"},
		Initial:   []Status{"A"},
		Edges:     []Edge{{"A", "B"}},
		Deletable: []Status{"B"},
	})
	require.Error(t, err)

	// Exclusive status that is not declared.
	_, err = NewRegistry(KindDefinition{
		Kind:      "widget",
		Statuses:  []Status{"A", "B"},
		Initial:   []Status{"A"},
		Exclusive: map[Status]ScopeDimension{"C": ScopeGlobal},
	})
	require.Error(t, err)

	// Duplicate registration.
	def := KindDefinition{Kind: "widget", Statuses: []Status{"A"}, Initial: []Status{"A"}}
	_, err = NewRegistry(def, def)
	require.Error(t, err)
}

func TestDefaultRegistry_AllKindsRegistered(t *testing.T) {
	r := DefaultRegistry()
	for _, kind := range []EntityKind{
		KindIssue, KindRemediationRun, KindIncident,
		KindApproval, KindPublication, KindLawbookVersion,
	} {
		def, err := r.Definition(kind)
		require.NoError(t, err, "kind %s", kind)
		require.NotEmpty(t, def.Initial)
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&StorageError{Op: "x", Err: errors.New("down")}))
	assert.False(t, IsRetryable(&InvalidTransitionError{Kind: KindIssue}))
	assert.False(t, IsRetryable(&ExclusivityViolationError{Kind: KindIssue}))
	assert.False(t, IsRetryable(errors.New("other")))
}
