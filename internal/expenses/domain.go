package expenses

import (
	"time"

	"github.com/commonwealth-builders/treasury/internal/shared"
)

// Category classifies club spending.
type Category string

const (
	CategoryUtilities      Category = "UTILITIES"
	CategoryMaintenance    Category = "MAINTENANCE"
	CategoryEvents         Category = "EVENTS"
	CategorySupplies       Category = "SUPPLIES"
	CategorySalaries       Category = "SALARIES"
	CategoryTransport      Category = "TRANSPORT"
	CategoryWelfare        Category = "WELFARE"
	CategoryAdministrative Category = "ADMINISTRATIVE"
	CategoryOther          Category = "OTHER"
)

// Categories lists every category in display order.
func Categories() []Category {
	return []Category{
		CategoryUtilities, CategoryMaintenance, CategoryEvents, CategorySupplies, CategorySalaries,
		CategoryTransport, CategoryWelfare, CategoryAdministrative, CategoryOther,
	}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// Expense is a club outgoing. Once approved it is immutable.
type Expense struct {
	shared.AuditedRecord
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	Amount          shared.Money `json:"amount"`
	Category        Category     `json:"category"`
	ExpenseDate     time.Time    `json:"expenseDate"`
	Vendor          string       `json:"vendor,omitempty"`
	ReceiptNumber   string       `json:"receiptNumber,omitempty"`
	ReceiptURL      string       `json:"receiptUrl,omitempty"`
	IsApproved      bool         `json:"isApproved"`
	ApprovedAt      *time.Time   `json:"approvedAt,omitempty"`
	ApprovedBy      *int64       `json:"approvedBy,omitempty"`
	ApprovalRemarks string       `json:"approvalRemarks,omitempty"`
}

// Input is the payload for creating or editing an expense.
type Input struct {
	Title         string       `json:"title" validate:"notblank,min=3,max=200"`
	Description   string       `json:"description" validate:"notblank,min=10"`
	Amount        shared.Money `json:"amount" validate:"gt=0"`
	Category      Category     `json:"category" validate:"required,oneof=UTILITIES MAINTENANCE EVENTS SUPPLIES SALARIES TRANSPORT WELFARE ADMINISTRATIVE OTHER"`
	ExpenseDate   time.Time    `json:"expenseDate" validate:"required"`
	Vendor        string       `json:"vendor" validate:"max=100"`
	ReceiptNumber string       `json:"receiptNumber" validate:"max=100"`
}

// ApproveInput carries approval remarks.
type ApproveInput struct {
	Remarks string `json:"remarks" validate:"max=1000"`
}

// ReceiptInput requests an upload slot for a receipt.
type ReceiptInput struct {
	FileName    string `json:"fileName" validate:"required,max=255"`
	ContentType string `json:"contentType" validate:"required,oneof=image/png image/jpeg application/pdf"`
}

// ListFilter narrows expense listings.
type ListFilter struct {
	Category Category
	Approved *bool
	Query    string
	From     time.Time
	To       time.Time
}

var (
	ErrExpenseNotFound = shared.NewError(shared.KindNotFound, "EXPENSE_NOT_FOUND", "expense not found")
	ErrAlreadyApproved = shared.NewError(shared.KindInvalidStateTransition, "ALREADY_APPROVED", "expense is already approved")
)

// errApprovedImmutable reports an edit of an approved expense. It matches
// ErrAlreadyApproved under errors.Is but maps to 423.
func errApprovedImmutable(op, title string) error {
	return shared.Reclassify(shared.KindProtectedResource,
		ErrAlreadyApproved.Withf("expense %s is already approved", title),
		"cannot "+op+" approved expense")
}
