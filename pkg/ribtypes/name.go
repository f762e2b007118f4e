// Package ribtypes holds the wire-agnostic data model shared by the RIB,
// the enrolment state machine, and the neighbor/flow layer: names,
// addresses, and the records gossiped between enrolled IPCPs.
package ribtypes

import "strings"

// nameSeparator joins Name components into their canonical string form.
// Chosen to be a byte that cannot appear in an application-process name.
const nameSeparator = "|"

// Name is the four-tuple RINA application name: application-process-name,
// application-process-instance, application-entity-name and
// application-entity-instance. Equality is componentwise.
type Name struct {
	APN string
	API string
	AEN string
	AEI string
}

// String returns the canonical mapping-key form of the name.
func (n Name) String() string {
	return strings.Join([]string{n.APN, n.API, n.AEN, n.AEI}, nameSeparator)
}

// Equal reports whether two names have identical components.
func (n Name) Equal(other Name) bool {
	return n == other
}

// IsZero reports whether n is the zero-value name (no application name set).
func (n Name) IsZero() bool {
	return n == Name{}
}

// Address identifies an IPCP within a DIF. Zero means "unassigned".
type Address uint64

// IsAssigned reports whether a is a usable, non-zero address.
func (a Address) IsAssigned() bool {
	return a != 0
}

// PortID names a flow endpoint within one IPCP. Unique per IPCP while the
// flow is allocated; reused after deallocation.
type PortID uint32
