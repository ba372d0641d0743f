package model

// Status is the lifecycle state of a FiscalDocument
type Status string

const (
	StatusDraft       Status = "DRAFT"
	StatusCalculated  Status = "CALCULATED"
	StatusSigned      Status = "SIGNED"
	StatusTransmitted Status = "TRANSMITTED"
	StatusAuthorized  Status = "AUTHORIZED"
	StatusRejected    Status = "REJECTED"
	StatusCancelled   Status = "CANCELLED"
	StatusVoided      Status = "VOIDED"
)

var transitions = map[Status][]Status{
	StatusDraft:       {StatusCalculated, StatusVoided},
	StatusCalculated:  {StatusSigned, StatusDraft, StatusVoided},
	StatusSigned:      {StatusTransmitted, StatusVoided},
	StatusTransmitted: {StatusAuthorized, StatusRejected},
	StatusRejected:    {StatusDraft, StatusVoided},
	StatusAuthorized:  {StatusCancelled, StatusVoided},
}

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	return s == StatusAuthorized || s == StatusCancelled || s == StatusVoided
}

// CanTransition reports whether s -> to is a legal move
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition moves the document to the given status or returns a StateError
func (d *FiscalDocument) Transition(operation string, to Status) error {
	if !d.Status.CanTransition(to) {
		return NewStateError(operation, d.Status, to)
	}
	d.Status = to
	return nil
}
