package expenses

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/commonwealth-builders/treasury/internal/audit"
	"github.com/commonwealth-builders/treasury/internal/platform/db"
	"github.com/commonwealth-builders/treasury/internal/shared"
)

// TransitionObserver counts committed approvals.
type TransitionObserver interface {
	RecordTransition(aggregate, to string)
}

// Service manages expenses and their single approval step.
type Service struct {
	store    Store
	tx       db.Transactor
	audit    audit.Recorder
	clock    shared.Clock
	observer TransitionObserver
	logger   *slog.Logger
}

// NewService builds Service instance.
func NewService(store Store, tx db.Transactor, recorder audit.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, tx: tx, audit: recorder, clock: shared.SystemClock, logger: logger}
}

// WithClock overrides the time source.
func (s *Service) WithClock(clock shared.Clock) *Service {
	s.clock = clock
	return s
}

// WithObserver registers a metrics sink for approvals.
func (s *Service) WithObserver(o TransitionObserver) *Service {
	s.observer = o
	return s
}

func normalize(input Input) Input {
	input.Title = strings.TrimSpace(input.Title)
	input.Description = strings.TrimSpace(input.Description)
	input.Vendor = strings.TrimSpace(input.Vendor)
	input.ReceiptNumber = strings.TrimSpace(input.ReceiptNumber)
	input.Category = Category(strings.ToUpper(strings.TrimSpace(string(input.Category))))
	return input
}

// Create records an unapproved expense.
func (s *Service) Create(ctx context.Context, input Input, actor shared.Actor) (Expense, error) {
	input = normalize(input)
	if err := shared.Validate(input); err != nil {
		return Expense{}, err
	}
	var expense Expense
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		expense = Expense{}
		apply(&expense, input)
		expense.Stamp(actor.String(), s.clock.Now())
		if err := s.store.Create(ctx, &expense); err != nil {
			return err
		}
		s.record(ctx, audit.ActionExpenseCreated, actor, "Expense created: "+expense.Title)
		return nil
	})
	if err != nil {
		return Expense{}, err
	}
	s.logger.InfoContext(ctx, "expense created", slog.Int64("expense_id", expense.ID), slog.String("category", string(expense.Category)))
	return expense, nil
}

// Update edits an unapproved expense.
func (s *Service) Update(ctx context.Context, id int64, input Input, actor shared.Actor) (Expense, error) {
	input = normalize(input)
	if err := shared.Validate(input); err != nil {
		return Expense{}, err
	}
	return s.mutate(ctx, id, actor, func(e *Expense) (audit.Action, string, error) {
		if e.IsApproved {
			return "", "", errApprovedImmutable("update", e.Title)
		}
		apply(e, input)
		return audit.ActionExpenseUpdated, "Expense updated: " + e.Title, nil
	})
}

// Delete soft deletes an unapproved expense.
func (s *Service) Delete(ctx context.Context, id int64, actor shared.Actor) error {
	_, err := s.mutate(ctx, id, actor, func(e *Expense) (audit.Action, string, error) {
		if e.IsApproved {
			return "", "", errApprovedImmutable("delete", e.Title)
		}
		e.MarkDeleted(actor.String(), s.clock.Now())
		return audit.ActionExpenseDeleted, "Expense deleted: " + e.Title, nil
	})
	return err
}

// Approve approves an expense. Approval is final.
func (s *Service) Approve(ctx context.Context, id int64, actor shared.Actor, remarks string) (Expense, error) {
	expense, err := s.mutate(ctx, id, actor, func(e *Expense) (audit.Action, string, error) {
		if e.IsApproved {
			return "", "", ErrAlreadyApproved.Withf("expense %s is already approved", e.Title)
		}
		now := s.clock.Now()
		e.IsApproved = true
		e.ApprovedAt = &now
		if !actor.IsSystem() {
			approver := actor.UserID
			e.ApprovedBy = &approver
		}
		e.ApprovalRemarks = strings.TrimSpace(remarks)
		return audit.ActionExpenseApproved, fmt.Sprintf("Expense approved: %s by %s", e.Title, actor), nil
	})
	return expense, err
}

// AttachReceipt records the uploaded receipt of an unapproved expense.
func (s *Service) AttachReceipt(ctx context.Context, id int64, actor shared.Actor, objectURL string) (Expense, error) {
	if strings.TrimSpace(objectURL) == "" {
		return Expense{}, shared.Validation("receipt url is required", map[string]string{"objectUrl": "is required"})
	}
	return s.mutate(ctx, id, actor, func(e *Expense) (audit.Action, string, error) {
		if e.IsApproved {
			return "", "", errApprovedImmutable("attach a receipt to", e.Title)
		}
		e.ReceiptURL = objectURL
		return audit.ActionExpenseReceipt, "Expense receipt attached: " + e.Title, nil
	})
}

func (s *Service) mutate(ctx context.Context, id int64, actor shared.Actor, change func(*Expense) (audit.Action, string, error)) (Expense, error) {
	var expense Expense
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		expense, err = s.store.FindByID(ctx, id)
		if err != nil {
			return err
		}
		action, description, err := change(&expense)
		if err != nil {
			return err
		}
		expense.Touch(actor.String(), s.clock.Now())
		if err := s.store.Save(ctx, &expense); err != nil {
			return err
		}
		s.record(ctx, action, actor, description)
		if action == audit.ActionExpenseApproved && s.observer != nil {
			db.AfterCommit(ctx, func(context.Context) {
				s.observer.RecordTransition("expense", "APPROVED")
			})
		}
		return nil
	})
	if err != nil {
		return Expense{}, err
	}
	return expense, nil
}

func (s *Service) record(ctx context.Context, action audit.Action, actor shared.Actor, description string) {
	s.audit.Log(ctx, audit.Entry{
		UserID:      actor.UserID,
		Action:      action,
		Module:      audit.ModuleExpenses,
		Description: description,
	})
}

// Get returns an expense by id.
func (s *Service) Get(ctx context.Context, id int64) (Expense, error) {
	return s.store.FindByID(ctx, id)
}

// List returns expenses matching filter, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter, page shared.PageRequest) (shared.Page[Expense], error) {
	if filter.Category != "" && !filter.Category.Valid() {
		return shared.Page[Expense]{}, shared.Validation("invalid category", map[string]string{"category": "is not a known category"})
	}
	page = page.Normalize()
	items, total, err := s.store.List(ctx, filter, page)
	if err != nil {
		return shared.Page[Expense]{}, err
	}
	return shared.NewPage(items, page, total), nil
}

// ListPending returns expenses awaiting approval.
func (s *Service) ListPending(ctx context.Context, page shared.PageRequest) (shared.Page[Expense], error) {
	pending := false
	return s.List(ctx, ListFilter{Approved: &pending}, page)
}

func apply(e *Expense, input Input) {
	e.Title = input.Title
	e.Description = input.Description
	e.Amount = input.Amount
	e.Category = input.Category
	e.ExpenseDate = input.ExpenseDate.UTC()
	e.Vendor = input.Vendor
	e.ReceiptNumber = input.ReceiptNumber
}
