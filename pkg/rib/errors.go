package rib

import "errors"

var (
	// ErrAlreadyRegistered is returned by ApplRegister when a local entry
	// for the requested name already exists.
	ErrAlreadyRegistered = errors.New("rib: application name already registered locally")
	// ErrNotRegistered is returned by ApplUnregister when no
	// matching local entry exists to remove.
	ErrNotRegistered = errors.New("rib: application name not registered locally")
	// ErrPoolExhausted is returned by AllocateAddress when every address
	// in the configured pool collides with a known candidate or the
	// local address.
	ErrPoolExhausted = errors.New("rib: address pool exhausted")
	// ErrUnknownNeighbor is returned when an operation names a peer
	// address the RIB has no Neighbor entry for.
	ErrUnknownNeighbor = errors.New("rib: unknown neighbor address")
)
