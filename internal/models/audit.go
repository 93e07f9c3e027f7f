package models

import "time"

// Outcome - итог проверяемого действия.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeLocked    Outcome = "locked"
	OutcomeForbidden Outcome = "forbidden"
	OutcomeError     Outcome = "error"
)

// Действия, попадающие в журнал доступа.
const (
	ActionLogin              = "auth.login"
	ActionRefresh            = "auth.refresh"
	ActionLogout             = "auth.logout"
	ActionPasswordChange     = "auth.password_change"
	ActionRevokeRefresh      = "auth.revoke_refresh"
	ActionAuthorize          = "authz.authorize"
	ActionResourceTokenIssue = "resource_token.issue"
	ActionResourceTokenDrop  = "resource_token.invalidate"
	ActionResourceRedeem     = "resource_token.redeem"
)

// Origin - сведения о вызывающей стороне.
type Origin struct {
	Address   string
	Client    string
	RequestID string
}

// AuditRecord - неизменяемая запись журнала доступа.
type AuditRecord struct {
	ActorID    string
	ResourceID *int64
	Action     string
	Outcome    Outcome
	Origin     Origin
	Timestamp  time.Time
}
