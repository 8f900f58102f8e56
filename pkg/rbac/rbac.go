package rbac

const (
	PermissionInitiatePayment  = "payment:initiate"
	PermissionCreateContract   = "contract:create"
	PermissionAcceptContract   = "contract:accept"
	PermissionSubmitMilestone  = "milestone:submit"
	PermissionApproveMilestone = "milestone:approve"
	PermissionOpenDispute      = "dispute:open"

	// Operator permissions.
	PermissionResolveDispute = "dispute:resolve"
	PermissionReplayOutbox   = "outbox:replay"
	PermissionReadAnomalies  = "anomaly:read"
	PermissionRunReconcile   = "reconcile:run"
)

const (
	RoleClient     = "client"
	RoleFreelancer = "freelancer"
	RoleAdmin      = "admin"
)

var rolePermissions = map[string][]string{
	RoleClient: {
		PermissionInitiatePayment,
		PermissionCreateContract,
		PermissionApproveMilestone,
		PermissionOpenDispute,
	},
	RoleFreelancer: {
		PermissionAcceptContract,
		PermissionSubmitMilestone,
		PermissionOpenDispute,
	},
	RoleAdmin: {
		PermissionResolveDispute,
		PermissionReplayOutbox,
		PermissionReadAnomalies,
		PermissionRunReconcile,
	},
}

// HasPermission reports whether role grants permission. Unknown roles have
// no permissions.
func HasPermission(role, permission string) bool {
	for _, p := range rolePermissions[role] {
		if p == permission {
			return true
		}
	}
	return false
}

func CheckPermission(userID, role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			UserID:     userID,
			Role:       role,
			Permission: permission,
		}
	}
	return nil
}

type PermissionDeniedError struct {
	UserID     string
	Role       string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions"
}

// ValidateUserIDInPayload rejects payloads that name a different actor than
// the token.
func ValidateUserIDInPayload(tokenUserID, payloadUserID string) error {
	if payloadUserID != "" && payloadUserID != tokenUserID {
		return &UserIDMismatchError{
			TokenUserID:   tokenUserID,
			PayloadUserID: payloadUserID,
		}
	}
	return nil
}

type UserIDMismatchError struct {
	TokenUserID   string
	PayloadUserID string
}

func (e *UserIDMismatchError) Error() string {
	return "user_id in payload does not match token"
}
