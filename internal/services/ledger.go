package services

// AccountDelta is the change a committed response transition makes to the
// answerer's account. Stores apply it in the same write as the response row.
type AccountDelta struct {
	ResponsesAccepted int `json:"responses_accepted,omitempty"`
	ResponsesRejected int `json:"responses_rejected,omitempty"`
	TotalReputation   int `json:"total_reputation,omitempty"`
	SurveysCompleted  int `json:"surveys_completed,omitempty"`
}

func (d AccountDelta) IsZero() bool { return d == AccountDelta{} }

// Apply folds d into a. Counters never drop below zero: an accepted credit may
// already have been exchanged for a pass by the time its response is deleted.
// Reputation is not floored.
func (d AccountDelta) Apply(a *Account) {
	a.ResponsesAccepted = floorZero(a.ResponsesAccepted + d.ResponsesAccepted)
	a.ResponsesRejected = floorZero(a.ResponsesRejected + d.ResponsesRejected)
	a.SurveysCompleted = floorZero(a.SurveysCompleted + d.SurveysCompleted)
	a.TotalReputation += d.TotalReputation
}

func floorZero(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

// DeltaFor returns the ledger effect of moving a response from one status to
// another. A zero from status means the response is being completed.
//
// Acceptance earns one reputation point; rejection only counts against the
// acceptance rate. Deleting a decided response reverses what the decision
// added, so a delete/restore/re-decide cycle never counts twice. Restoring
// changes nothing until the response is decided again.
func DeltaFor(from, to Status) AccountDelta {
	switch {
	case from == 0 && to == StatusPending:
		return AccountDelta{SurveysCompleted: 1}
	case to == StatusAccepted:
		return AccountDelta{ResponsesAccepted: 1, TotalReputation: 1}
	case to == StatusRejected:
		return AccountDelta{ResponsesRejected: 1}
	case to == StatusDeleted && from == StatusAccepted:
		return AccountDelta{ResponsesAccepted: -1, TotalReputation: -1}
	case to == StatusDeleted && from == StatusRejected:
		return AccountDelta{ResponsesRejected: -1}
	}
	return AccountDelta{}
}
