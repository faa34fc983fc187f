package auth

// Permission keys gate the mutating surfaces of the service. Read-only
// coverage lookups only require a valid token.
const (
	PermAgreementManage = "agreement.manage"
	PermAccessGrant     = "access.grant"
	PermAccessRevoke    = "access.revoke"
	PermAccessOverride  = "access.override"
	// PermAccessRead covers the administrative review surfaces: agreement
	// records, deals, the grant matrix with its coverage verdicts, and the
	// release ledger. Holder identities live there, so a bare token is not
	// enough.
	PermAccessRead    = "access.read"
	PermReleaseRecord = "release.record"
	PermAuditRead     = "audit.read"
	// PermAuditWrite lets trusted collaborators record cross-system events in
	// the trail (campaign sends, CRM imports).
	PermAuditWrite = "audit.write"
)

// Roles bundled by the deal team's day-to-day duties.
const (
	RoleAdmin     = "admin"
	RoleDealLead  = "deal_lead"
	RoleAnalyst   = "analyst"
	RoleAuditor   = "auditor"
	RoleBuyerUser = "buyer_user"
)

var rolePermissions = map[string]map[string]struct{}{
	RoleAdmin: {
		PermAgreementManage: {},
		PermAccessGrant:     {},
		PermAccessRevoke:    {},
		PermAccessOverride:  {},
		PermAccessRead:      {},
		PermReleaseRecord:   {},
		PermAuditRead:       {},
		PermAuditWrite:      {},
	},
	RoleDealLead: {
		PermAgreementManage: {},
		PermAccessGrant:     {},
		PermAccessRevoke:    {},
		PermAccessOverride:  {},
		PermAccessRead:      {},
		PermReleaseRecord:   {},
	},
	RoleAnalyst: {
		PermAccessGrant:   {},
		PermAccessRead:    {},
		PermReleaseRecord: {},
	},
	RoleAuditor: {
		PermAccessRead: {},
		PermAuditRead:  {},
	},
	RoleBuyerUser: {},
}

// HasPermission reports whether any of the roles carries the permission.
func HasPermission(roles []string, permission string) bool {
	for _, role := range roles {
		if perms, ok := rolePermissions[role]; ok {
			if _, ok := perms[permission]; ok {
				return true
			}
		}
	}
	return false
}
