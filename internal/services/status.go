package services

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status is the moderation status of a completed response. The zero value means
// the response has not entered moderation yet (still in progress).
type Status uint8

const (
	StatusPending Status = iota + 1
	StatusAccepted
	StatusRejected
	StatusDeleted
)

var statusNames = map[Status]string{
	StatusPending:  "pending",
	StatusAccepted: "accepted",
	StatusRejected: "rejected",
	StatusDeleted:  "deleted",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "in_progress"
}

// Valid reports whether s is one of the four moderation statuses.
func (s Status) Valid() bool {
	_, ok := statusNames[s]
	return ok
}

// ParseStatus maps a stored or user supplied status name onto Status.
func ParseStatus(v string) (Status, error) {
	name := strings.ToLower(strings.TrimSpace(v))
	for st, n := range statusNames {
		if n == name {
			return st, nil
		}
	}
	return 0, NewInvalidError(fmt.Sprintf("unknown status %q", v))
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	st, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// transitions lists the legal edges between moderation statuses. Reclassifying a
// terminal decision has to go through deleted -> pending.
var transitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusRejected, StatusDeleted},
	StatusAccepted: {StatusDeleted},
	StatusRejected: {StatusDeleted},
	StatusDeleted:  {StatusPending},
}

// CanTransition reports whether from -> to is a legal edge. Staying in place is
// not an edge; callers treat it as a no-op.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
