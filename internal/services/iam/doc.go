// Package iam resolves who is calling and what they may do.
//
// Request flow:
//
//	token → Verifier (hybrid: remote, then local) → PrincipalResolver → auth.Principal
//	     ↓
//	ContextBuilder (elevated reads) → auth.RequestContext
//	     ↓
//	PermissionEngine.HasPermission(scope, role, action)
//
// The PermissionEngine holds an immutable snapshot of the permission_rules
// table. It is rebuilt only by Reload, so rule changes stay invisible until
// an operator reloads (SIGHUP, the admin endpoint, or a broadcast from
// another replica).
package iam
