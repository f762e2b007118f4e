package rib

import "github.com/rina-project/ipcpd/pkg/neighbor"

// RIB implements neighbor.RIBHooks in full (AllocateAddress in
// address.go, CommitSelfEdge/MarkEdgeFailed in lfdb.go, PushSnapshot in
// sync.go, RecordCandidate/Dispatch in neighbors.go) — asserted here
// rather than in rib.go so the core struct stays free of the neighbor
// import; only this file needs it.
var _ neighbor.RIBHooks = (*RIB)(nil)
