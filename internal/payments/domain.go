package payments

import (
	"time"

	"github.com/commonwealth-builders/treasury/internal/shared"
)

// Status enumerates payment lifecycle states. Every state but PENDING is
// terminal.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusVerified  Status = "VERIFIED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusVerified, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Payment is a member contribution awaiting or past verification.
type Payment struct {
	shared.AuditedRecord
	UserID        int64        `json:"userId"`
	Amount        shared.Money `json:"amount"`
	PaymentDate   time.Time    `json:"paymentDate"`
	Reference     string       `json:"reference"`
	BankName      string       `json:"bankName,omitempty"`
	AccountNumber string       `json:"accountNumber,omitempty"`
	Description   string       `json:"description,omitempty"`
	ProofURL      string       `json:"proofUrl,omitempty"`
	Status        Status       `json:"status"`
	IsVerified    bool         `json:"isVerified"`
	VerifiedAt    *time.Time   `json:"verifiedAt,omitempty"`
	VerifiedBy    string       `json:"verifiedBy,omitempty"`
	Remarks       string       `json:"remarks,omitempty"`
}

// CreateInput is the payload for recording a payment. UserID is ignored for
// members, who always pay for themselves.
type CreateInput struct {
	UserID        int64        `json:"userId" validate:"omitempty,gt=0"`
	Amount        shared.Money `json:"amount" validate:"gt=0"`
	PaymentDate   time.Time    `json:"paymentDate"`
	Reference     string       `json:"reference" validate:"notblank,max=100"`
	BankName      string       `json:"bankName" validate:"max=100"`
	AccountNumber string       `json:"accountNumber" validate:"max=50"`
	Description   string       `json:"description" validate:"max=1000"`
}

// DecisionInput carries remarks for verify, reject and cancel.
type DecisionInput struct {
	Remarks string `json:"remarks" validate:"max=1000"`
}

// ProofInput requests an upload slot for a proof of payment.
type ProofInput struct {
	FileName    string `json:"fileName" validate:"required,max=255"`
	ContentType string `json:"contentType" validate:"required,oneof=image/png image/jpeg application/pdf"`
}

// ListFilter narrows payment listings.
type ListFilter struct {
	UserID   int64
	Status   Status
	Verified *bool
	Query    string
	From     time.Time
	To       time.Time
}

var (
	ErrPaymentNotFound      = shared.NewError(shared.KindNotFound, "PAYMENT_NOT_FOUND", "payment not found")
	ErrReferenceTaken       = shared.NewError(shared.KindAlreadyExists, "REFERENCE_EXISTS", "payment reference already exists")
	ErrAlreadyVerified      = shared.NewError(shared.KindInvalidStateTransition, "ALREADY_VERIFIED", "payment is already verified")
	ErrCannotCancelVerified = shared.NewError(shared.KindInvalidStateTransition, "CANNOT_CANCEL_VERIFIED", "cannot cancel verified payment")
	ErrInvalidTransition    = shared.NewError(shared.KindInvalidStateTransition, "INVALID_PAYMENT_STATUS", "payment is not pending")
	ErrRemarksRequired      = shared.Validation("remarks are required", map[string]string{"remarks": "is required"})
)
