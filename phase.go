package interceptor

import (
	"errors"
	"fmt"
)

// Phase is one of the four ordered stages an exchange goes through.
type Phase string

const (
	PhaseRequest      Phase = "request"
	PhaseRequestSent  Phase = "request-sent"
	PhaseResponse     Phase = "response"
	PhaseResponseSent Phase = "response-sent"
)

// Phases lists every phase in execution order.
var Phases = [...]Phase{PhaseRequest, PhaseRequestSent, PhaseResponse, PhaseResponseSent}

var (
	ErrMissingPhase = errors.New("missing phase")
	ErrInvalidPhase = errors.New("invalid phase")
	ErrInvalidView  = errors.New("invalid as")
	ErrReadOnlyView = errors.New("cannot materialize body in read-only phase")
	ErrNilHandler   = errors.New("nil handler")
)

// ParsePhase validates a phase name.
func ParsePhase(name string) (Phase, error) {
	if name == "" {
		return "", ErrMissingPhase
	}
	p := Phase(name)
	if p.index() < 0 {
		return "", fmt.Errorf("%w %s", ErrInvalidPhase, name)
	}
	return p, nil
}

func (p Phase) index() int {
	for i, known := range Phases {
		if p == known {
			return i
		}
	}
	return -1
}

// ReadOnly reports whether facades are considered immutable in the phase.
func (p Phase) ReadOnly() bool {
	return p == PhaseRequestSent || p == PhaseResponseSent
}

// IsRequestSide reports whether content-type predicates should look at the
// request (as opposed to the response) in this phase.
func (p Phase) IsRequestSide() bool {
	return p == PhaseRequest || p == PhaseRequestSent
}

func (p Phase) String() string {
	return string(p)
}
