package audit

import (
	"time"

	"github.com/commonwealth-builders/treasury/internal/shared"
)

// Action names the privileged operation an entry records.
type Action string

const (
	ActionRoleAssigned      Action = "ROLE_ASSIGNED"
	ActionRoleRevoked       Action = "ROLE_REVOKED"
	ActionRoleReactivated   Action = "ROLE_REACTIVATED"
	ActionRoleCreated       Action = "ROLE_CREATED"
	ActionRoleUpdated       Action = "ROLE_UPDATED"
	ActionRoleActivated     Action = "ROLE_ACTIVATED"
	ActionRoleDeactivated   Action = "ROLE_DEACTIVATED"
	ActionRoleDeleted       Action = "ROLE_DELETED"
	ActionPaymentCreated    Action = "PAYMENT_CREATED"
	ActionPaymentVerified   Action = "PAYMENT_VERIFIED"
	ActionPaymentRejected   Action = "PAYMENT_REJECTED"
	ActionPaymentCancelled  Action = "PAYMENT_CANCELLED"
	ActionPaymentProof      Action = "PAYMENT_PROOF_ATTACHED"
	ActionExpenseCreated    Action = "EXPENSE_CREATED"
	ActionExpenseUpdated    Action = "EXPENSE_UPDATED"
	ActionExpenseDeleted    Action = "EXPENSE_DELETED"
	ActionExpenseApproved   Action = "EXPENSE_APPROVED"
	ActionExpenseReceipt    Action = "EXPENSE_RECEIPT_ATTACHED"
	ActionUserRegistration  Action = "USER_REGISTRATION"
	ActionUserLogin         Action = "USER_LOGIN"
	ActionPasswordChanged   Action = "PASSWORD_CHANGED"
	ActionUserEnabled       Action = "USER_ENABLED"
	ActionUserDisabled      Action = "USER_DISABLED"
)

// Module groups actions by functional area.
type Module string

const (
	ModuleRoles    Module = "ROLES"
	ModulePayments Module = "PAYMENTS"
	ModuleExpenses Module = "EXPENSES"
	ModuleAuth     Module = "AUTH"
	ModuleUsers    Module = "USERS"
)

// Entry is one append-only audit record.
type Entry struct {
	ID          int64     `json:"id"`
	EventID     string    `json:"eventId"`
	UserID      int64     `json:"userId"`
	Action      Action    `json:"action"`
	Module      Module    `json:"module"`
	Description string    `json:"description"`
	IPAddress   string    `json:"ipAddress,omitempty"`
	UserAgent   string    `json:"userAgent,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Filter narrows audit reads. Zero values are ignored.
type Filter struct {
	UserID int64
	Module Module
	Action Action
	From   time.Time
	To     time.Time
}

// Paging describes a window fetched with one look-ahead row.
type Paging struct {
	Page     int  `json:"page"`
	PerPage  int  `json:"perPage"`
	HasNext  bool `json:"hasNext"`
	PrevPage int  `json:"prevPage,omitempty"`
	NextPage int  `json:"nextPage,omitempty"`
}

// Result is a page of audit entries.
type Result struct {
	Entries []Entry `json:"entries"`
	Paging  Paging  `json:"paging"`
}

// Gap reports state transitions in a window that have fewer audit entries
// than expected.
type Gap struct {
	Action      Action `json:"action"`
	Transitions int64  `json:"transitions"`
	Entries     int64  `json:"entries"`
	Missing     int64  `json:"missing"`
}

// ErrUnknownActor is returned by stores when the entry's user does not exist.
var ErrUnknownActor = shared.NewError(shared.KindNotFound, "AUDIT_ACTOR_NOT_FOUND", "audit actor does not resolve to a user")

// ActorUserID attributes an entry to the acting user, or to subject when the
// actor is not backed by a user.
func ActorUserID(actor shared.Actor, subject int64) int64 {
	if actor.IsSystem() {
		return subject
	}
	return actor.UserID
}
