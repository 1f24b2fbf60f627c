// Package cluster implements the primary/standby pair: startup role
// negotiation, snapshot replication, liveness probing, and promotion.
package cluster

import "sync/atomic"

// Role is a node's current cluster role.
type Role int32

const (
	RoleUnassigned Role = iota
	RolePrimary
	RoleStandby
)

func (r Role) String() string {
	switch r {
	case RolePrimary:
		return "primary"
	case RoleStandby:
		return "standby"
	default:
		return "unassigned"
	}
}

// RoleVar is an atomically readable role holder. Transitions are
// unidirectional: unassigned moves to primary or standby exactly once, and
// standby moves to primary at most once.
type RoleVar struct {
	v atomic.Int32
}

// Get returns the current role.
func (r *RoleVar) Get() Role {
	return Role(r.v.Load())
}

// Set installs a role unconditionally.
func (r *RoleVar) Set(role Role) {
	r.v.Store(int32(role))
}

// Promote flips standby to primary. Returns false when the node was not a
// standby, which makes double promotion harmless.
func (r *RoleVar) Promote() bool {
	return r.v.CompareAndSwap(int32(RoleStandby), int32(RolePrimary))
}
