package audit

import "time"

// EventType represents the category of audit event
type EventType string

const (
	// Authentication events
	EventTypeAuthLogin       EventType = "auth.login"
	EventTypeAuthLoginFailed EventType = "auth.login_failed"
	EventTypeAuthLogout      EventType = "auth.logout"
	EventTypeAuthForceLogout EventType = "auth.force_logout"
	EventTypeAuthOrgSwitch   EventType = "auth.org_switch"

	// Authorization events
	EventTypeRoleGrant    EventType = "authz.role_grant"
	EventTypeRoleRevoke   EventType = "authz.role_revoke"
	EventTypeTaskToggle   EventType = "authz.task_toggle"
	EventTypeAccessDenied EventType = "authz.access_denied"

	// Tenant lifecycle events
	EventTypeOrgCreate       EventType = "org.create"
	EventTypeOrgDelete       EventType = "org.delete"
	EventTypeMembershipAdd   EventType = "org.membership_add"
	EventTypeMemberRegister  EventType = "org.member_register"
	EventTypeMemberArchive   EventType = "org.member_archive"
	EventTypeMembershipPurge EventType = "org.membership_purge"

	// Front-of-house events
	EventTypeMemberCheckIn EventType = "foh.member_checkin"
	EventTypeWaiverSigned  EventType = "foh.waiver_signed"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event is a single audit log entry. Actor fields identify the membership
// acting; target fields identify what was acted on.
type Event struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	OrgID          *int64 `json:"org_id,omitempty"`
	ActorOrgUserID *int64 `json:"actor_org_user_id,omitempty"`
	PrincipalID    *int64 `json:"principal_id,omitempty"`

	TargetType string `json:"target_type,omitempty"`
	TargetID   *int64 `json:"target_id,omitempty"`

	IPAddress string `json:"ip_address,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
