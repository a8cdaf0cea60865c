package bus

// Topic names published by kernel components, per SPEC_FULL.md §6.3.
const (
	TopicPipelineStarted   = "autonomy:pipeline:started"
	TopicPipelineCompleted = "autonomy:pipeline:completed"

	TopicApprovalRequested = "autonomy:approval:requested"
	TopicApprovalResolved  = "autonomy:approval:resolved"

	TopicToolPostconditionChecked = "autonomy:tool:postcondition:checked"
	TopicInvariantsChecked        = "autonomy:invariants:checked"

	TopicCompensationAttempted      = "autonomy:compensation:attempted"
	TopicCompensationIncidentOpened = "autonomy:compensation:incident:opened"

	TopicSafeModeToolBlocked = "autonomy:safe-mode:tool-blocked"
	TopicDecisionLogged      = "autonomy:decision:logged"

	TopicRetrievalTrustOverride  = "autonomy:retrieval:trust-override"
	TopicRetrievalRankGuardrail  = "autonomy:retrieval:rank-guardrail"

	TopicMemoryGateDecision = "memory-gate:decision"
)
