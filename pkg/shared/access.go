package shared

// AccessControlGate filters the share list visible to a session and
// computes the per-share permission granted to it. The decision is cached
// inside the TreeConnection for the session's lifetime; the gate itself is
// consulted at most once per (session, share) pair.
//
// Implementations are external collaborators (e.g. backed by an ACL store
// or a static allow-list); this package only specifies the shape.
type AccessControlGate interface {
	// VisibleShares returns the subset of shares a session may see. Used by
	// the FTP virtual-namespace root listing and SMB share enumeration.
	VisibleShares(session SessionIdentity, shares []*SharedDevice) []*SharedDevice

	// Permission computes the access level a session holds on a single
	// share.
	Permission(session SessionIdentity, share *SharedDevice) Permission
}

// AllowAllGate is the zero-configuration gate: every share is visible and
// every session gets Writeable access. It grounds the "no ACL manager
// configured" default path, and is useful as a default
// in tests and single-user deployments.
type AllowAllGate struct{}

func (AllowAllGate) VisibleShares(_ SessionIdentity, shares []*SharedDevice) []*SharedDevice {
	return shares
}

func (AllowAllGate) Permission(_ SessionIdentity, _ *SharedDevice) Permission {
	return PermissionWriteable
}
