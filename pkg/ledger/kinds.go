package ledger

// Issue lifecycle statuses.
const (
	IssueCreated      Status = "CREATED"
	IssueSpecReady    Status = "SPEC_READY"
	IssueImplementing Status = "IMPLEMENTING"
	IssueHold         Status = "HOLD"
	IssueReview       Status = "REVIEW"
	IssueDone         Status = "DONE"
	IssueArchived     Status = "ARCHIVED"
)

// Remediation run statuses.
const (
	RunQueued    Status = "QUEUED"
	RunRunning   Status = "RUNNING"
	RunSucceeded Status = "SUCCEEDED"
	RunFailed    Status = "FAILED"
	RunCanceled  Status = "CANCELED"
)

// Incident statuses.
const (
	IncidentOpen       Status = "OPEN"
	IncidentMitigating Status = "MITIGATING"
	IncidentResolved   Status = "RESOLVED"
	IncidentClosed     Status = "CLOSED"
)

// Approval gate statuses.
const (
	ApprovalPending  Status = "PENDING"
	ApprovalApproved Status = "APPROVED"
	ApprovalDenied   Status = "DENIED"
	ApprovalCanceled Status = "CANCELED"
)

// Publication ledger statuses.
const (
	PublicationDraft      Status = "DRAFT"
	PublicationPublishing Status = "PUBLISHING"
	PublicationPublished  Status = "PUBLISHED"
	PublicationSuperseded Status = "SUPERSEDED"
	PublicationDiscarded  Status = "DISCARDED"
)

// Lawbook version statuses.
const (
	LawbookDraft     Status = "DRAFT"
	LawbookActive    Status = "ACTIVE"
	LawbookRetired   Status = "RETIRED"
	LawbookDiscarded Status = "DISCARDED"
)

// IssueDefinition is the issue lifecycle state machine. At most one issue per
// repository may sit in SPEC_READY (the "next up" slot) and at most one may
// be IMPLEMENTING at a time.
var IssueDefinition = KindDefinition{
	Kind: KindIssue,
	Statuses: []Status{
		IssueCreated, IssueSpecReady, IssueImplementing,
		IssueHold, IssueReview, IssueDone, IssueArchived,
	},
	Initial: []Status{IssueCreated},
	Edges: []Edge{
		{IssueCreated, IssueSpecReady},
		{IssueSpecReady, IssueImplementing},
		{IssueImplementing, IssueHold},
		{IssueHold, IssueImplementing},
		{IssueImplementing, IssueReview},
		{IssueReview, IssueImplementing},
		{IssueReview, IssueDone},
		{IssueCreated, IssueArchived},
		{IssueSpecReady, IssueArchived},
		{IssueImplementing, IssueArchived},
		{IssueHold, IssueArchived},
		{IssueReview, IssueArchived},
	},
	Exclusive: map[Status]ScopeDimension{
		IssueSpecReady:    ScopeRepository,
		IssueImplementing: ScopeRepository,
	},
	Deletable: []Status{IssueCreated},
}

// RemediationRunDefinition is the playbook runner machine. Only one run may
// execute against a given target at a time; failed runs may be re-queued.
var RemediationRunDefinition = KindDefinition{
	Kind:     KindRemediationRun,
	Statuses: []Status{RunQueued, RunRunning, RunSucceeded, RunFailed, RunCanceled},
	Initial:  []Status{RunQueued},
	Edges: []Edge{
		{RunQueued, RunRunning},
		{RunRunning, RunSucceeded},
		{RunRunning, RunFailed},
		{RunFailed, RunQueued},
		{RunQueued, RunCanceled},
	},
	Exclusive: map[Status]ScopeDimension{
		RunRunning: ScopeTarget,
	},
	Deletable: []Status{RunQueued},
}

// IncidentDefinition tracks incident response. One mitigation effort per
// service at a time; resolved incidents may be reopened.
var IncidentDefinition = KindDefinition{
	Kind:     KindIncident,
	Statuses: []Status{IncidentOpen, IncidentMitigating, IncidentResolved, IncidentClosed},
	Initial:  []Status{IncidentOpen},
	Edges: []Edge{
		{IncidentOpen, IncidentMitigating},
		{IncidentMitigating, IncidentOpen},
		{IncidentMitigating, IncidentResolved},
		{IncidentResolved, IncidentOpen},
		{IncidentResolved, IncidentClosed},
	},
	Exclusive: map[Status]ScopeDimension{
		IncidentMitigating: ScopeService,
	},
}

// ApprovalDefinition is the approval gate: pending requests resolve exactly
// once, to one of three terminal outcomes.
var ApprovalDefinition = KindDefinition{
	Kind:     KindApproval,
	Statuses: []Status{ApprovalPending, ApprovalApproved, ApprovalDenied, ApprovalCanceled},
	Initial:  []Status{ApprovalPending},
	Edges: []Edge{
		{ApprovalPending, ApprovalApproved},
		{ApprovalPending, ApprovalDenied},
		{ApprovalPending, ApprovalCanceled},
	},
	Deletable: []Status{ApprovalPending},
}

// PublicationDefinition is the publish ledger. Only one publication may be in
// flight globally; published entries are superseded, never republished.
var PublicationDefinition = KindDefinition{
	Kind: KindPublication,
	Statuses: []Status{
		PublicationDraft, PublicationPublishing, PublicationPublished,
		PublicationSuperseded, PublicationDiscarded,
	},
	Initial: []Status{PublicationDraft},
	Edges: []Edge{
		{PublicationDraft, PublicationPublishing},
		{PublicationPublishing, PublicationPublished},
		{PublicationPublishing, PublicationDraft},
		{PublicationPublished, PublicationSuperseded},
		{PublicationDraft, PublicationDiscarded},
	},
	Exclusive: map[Status]ScopeDimension{
		PublicationPublishing: ScopeGlobal,
	},
	Deletable: []Status{PublicationDraft},
}

// LawbookVersionDefinition versions the lawbook. Exactly one version is
// active at any time; activating a new one requires retiring the old.
var LawbookVersionDefinition = KindDefinition{
	Kind:     KindLawbookVersion,
	Statuses: []Status{LawbookDraft, LawbookActive, LawbookRetired, LawbookDiscarded},
	Initial:  []Status{LawbookDraft},
	Edges: []Edge{
		{LawbookDraft, LawbookActive},
		{LawbookActive, LawbookRetired},
		{LawbookDraft, LawbookDiscarded},
	},
	Exclusive: map[Status]ScopeDimension{
		LawbookActive: ScopeGlobal,
	},
	Deletable: []Status{LawbookDraft},
}

// DefaultRegistry returns a registry with all built-in kinds.
func DefaultRegistry() *Registry {
	return MustNewRegistry(
		IssueDefinition,
		RemediationRunDefinition,
		IncidentDefinition,
		ApprovalDefinition,
		PublicationDefinition,
		LawbookVersionDefinition,
	)
}
