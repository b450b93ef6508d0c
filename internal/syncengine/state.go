package syncengine

import "github.com/MarcoPoloResearchLab/prestapp/internal/store"

// State is where a local row stands relative to the remote service.
type State int

const (
	StateSynced State = iota
	StatePendingCreate
	StatePendingUpdate
	StateTombstoned
)

func (s State) String() string {
	switch s {
	case StateSynced:
		return "synced"
	case StatePendingCreate:
		return "pending_create"
	case StatePendingUpdate:
		return "pending_update"
	case StateTombstoned:
		return "tombstoned"
	default:
		return "unknown"
	}
}

// Classify derives the state of a row. A tombstone wins over the pending flag,
// and a negative id means the server has never confirmed the row.
func Classify(id int64, state store.SyncState) State {
	switch {
	case state.IsDeleted:
		return StateTombstoned
	case !state.IsPending:
		return StateSynced
	case id < 0:
		return StatePendingCreate
	default:
		return StatePendingUpdate
	}
}

// Outcome is the result of one row transition.
type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeCreated
	OutcomeUpdated
	OutcomeRecovered
	OutcomeDeleted
	OutcomeUnresolved
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	case OutcomeRecovered:
		return "recovered"
	case OutcomeDeleted:
		return "deleted"
	case OutcomeUnresolved:
		return "unresolved"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Report tallies the outcomes of a reconciliation pass.
type Report struct {
	Entity     string
	Created    int
	Updated    int
	Recovered  int
	Deleted    int
	Unresolved int
	Failed     int
	Skipped    int
}

func (r *Report) record(outcome Outcome) {
	switch outcome {
	case OutcomeCreated:
		r.Created++
	case OutcomeUpdated:
		r.Updated++
	case OutcomeRecovered:
		r.Recovered++
	case OutcomeDeleted:
		r.Deleted++
	case OutcomeUnresolved:
		r.Unresolved++
	case OutcomeFailed:
		r.Failed++
	default:
		r.Skipped++
	}
}

// Settled counts rows that reached the remote state during the pass.
func (r Report) Settled() int {
	return r.Created + r.Updated + r.Recovered + r.Deleted
}

// Remaining counts rows left pending for a later pass.
func (r Report) Remaining() int {
	return r.Unresolved + r.Failed
}
