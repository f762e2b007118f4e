package enroll

import "github.com/rina-project/ipcpd/internal/cdap"

// EventKind identifies what triggered a call to Transition.
type EventKind int

const (
	// EventLocalStart is the initiator being commanded to begin enrolling.
	EventLocalStart EventKind = iota
	// EventMessage is an inbound CDAP message on the management flow.
	EventMessage
	// EventTimeout is the enrolment timer (NEIGH_ENROLL_TO) firing.
	EventTimeout
)

// Event is the single input Transition reacts to.
type Event struct {
	Kind EventKind
	Msg  *cdap.Message
}
