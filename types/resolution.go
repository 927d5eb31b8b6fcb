package types

// ResolutionState classifies the outcome of a credential lookup across
// all stores. These are expected, recoverable outcomes, not errors;
// callers branch on them explicitly.
type ResolutionState string

const (
	// exactly one usable candidate found
	ResolutionResolved ResolutionState = "resolved"
	// no candidate in any store
	ResolutionMissing ResolutionState = "missing"
	// multiple candidates; most-recently-updated chosen, rest reported
	ResolutionDrift ResolutionState = "drift"
	// a referencing record with no credential, or a credential with no
	// referencing record
	ResolutionInconsistent ResolutionState = "inconsistent"
)

type Resolution struct {
	State  ResolutionState       `json:"state"`
	Chosen *ExchangeCredential   `json:"chosen,omitempty"`
	Others []*ExchangeCredential `json:"others,omitempty"`
	Reason string                `json:"reason,omitempty"`
}
