package domain

import "time"

// Cache tiers reported to observers.
const (
	TierMemory  = "memory"
	TierHistory = "history"
)

// Observer is the telemetry port of the freight engine. Begin is called once
// per computation and the returned Computation receives every event of that
// computation until End.
type Observer interface {
	Begin(listingID, destination string) Computation
}

// Computation receives the events of a single freight computation.
type Computation interface {
	CacheLookup(tier string, hit bool)
	Classified(opt ProcessedOption)
	Attempt(a CallAttempt)
	Consensus(res ConsensusResult)
	Failed(err error)
	End(elapsed time.Duration)
}
