package payments

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/commonwealth-builders/treasury/internal/audit"
	"github.com/commonwealth-builders/treasury/internal/platform/db"
	"github.com/commonwealth-builders/treasury/internal/shared"
	"github.com/commonwealth-builders/treasury/internal/users"
)

// UserLookup resolves payment owners.
type UserLookup interface {
	FindByID(ctx context.Context, id int64) (users.User, error)
}

// Notifier enqueues the status e-mail sent to a payment owner.
type Notifier interface {
	EnqueuePaymentNotice(ctx context.Context, paymentID int64) error
}

// TransitionObserver counts committed state changes.
type TransitionObserver interface {
	RecordTransition(aggregate, to string)
}

// Service runs the payment state machine.
type Service struct {
	store    Store
	users    UserLookup
	tx       db.Transactor
	audit    audit.Recorder
	clock    shared.Clock
	notifier Notifier
	observer TransitionObserver
	logger   *slog.Logger
}

// NewService builds Service instance.
func NewService(store Store, userLookup UserLookup, tx db.Transactor, recorder audit.Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, users: userLookup, tx: tx, audit: recorder, clock: shared.SystemClock, logger: logger}
}

// WithClock overrides the time source.
func (s *Service) WithClock(clock shared.Clock) *Service {
	s.clock = clock
	return s
}

// WithNotifier enables owner notifications after committed transitions.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithObserver registers a metrics sink for transitions.
func (s *Service) WithObserver(o TransitionObserver) *Service {
	s.observer = o
	return s
}

// Create records a PENDING payment. Members may only pay for themselves.
func (s *Service) Create(ctx context.Context, input CreateInput, actor shared.Actor) (Payment, error) {
	input.Reference = strings.TrimSpace(input.Reference)
	if err := shared.Validate(input); err != nil {
		return Payment{}, err
	}
	ownerID := input.UserID
	if ownerID == 0 || !canManage(actor) {
		ownerID = actor.UserID
	}
	if ownerID <= 0 {
		return Payment{}, shared.Validation("payment owner is required", map[string]string{"userId": "is required"})
	}
	now := s.clock.Now()
	paidAt := input.PaymentDate
	if paidAt.IsZero() {
		paidAt = now
	}
	var payment Payment
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		owner, err := s.users.FindByID(ctx, ownerID)
		if err != nil {
			return err
		}
		taken, err := s.store.ExistsByReference(ctx, input.Reference)
		if err != nil {
			return err
		}
		if taken {
			return ErrReferenceTaken.Withf("payment reference %s already exists", input.Reference)
		}
		payment = Payment{
			UserID:        owner.ID,
			Amount:        input.Amount,
			PaymentDate:   paidAt.UTC(),
			Reference:     input.Reference,
			BankName:      strings.TrimSpace(input.BankName),
			AccountNumber: strings.TrimSpace(input.AccountNumber),
			Description:   strings.TrimSpace(input.Description),
			Status:        StatusPending,
		}
		payment.Stamp(actor.String(), now)
		if err := s.store.Create(ctx, &payment); err != nil {
			return err
		}
		s.record(ctx, audit.ActionPaymentCreated, payment, "Payment created with reference: "+payment.Reference)
		if s.observer != nil {
			db.AfterCommit(ctx, func(context.Context) { s.observer.RecordTransition("payment", string(StatusPending)) })
		}
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	s.logger.InfoContext(ctx, "payment created", slog.Int64("payment_id", payment.ID), slog.String("reference", payment.Reference))
	return payment, nil
}

// Verify marks a pending payment as verified.
func (s *Service) Verify(ctx context.Context, id int64, actor shared.Actor, remarks string) (Payment, error) {
	if strings.TrimSpace(remarks) == "" {
		return Payment{}, ErrRemarksRequired
	}
	return s.transition(ctx, id, actor, func(p *Payment, now shared.Clock) (audit.Action, string, error) {
		if p.IsVerified {
			return "", "", ErrAlreadyVerified.Withf("payment %s is already verified", p.Reference)
		}
		if err := requirePending(*p, StatusVerified); err != nil {
			return "", "", err
		}
		at := now.Now()
		p.Status = StatusVerified
		p.IsVerified = true
		p.VerifiedAt = &at
		p.VerifiedBy = actor.String()
		p.Remarks = strings.TrimSpace(remarks)
		return audit.ActionPaymentVerified, fmt.Sprintf("Payment verified: %s by %s", p.Reference, actor), nil
	})
}

// Reject closes a pending payment as rejected.
func (s *Service) Reject(ctx context.Context, id int64, actor shared.Actor, remarks string) (Payment, error) {
	if strings.TrimSpace(remarks) == "" {
		return Payment{}, ErrRemarksRequired
	}
	return s.transition(ctx, id, actor, func(p *Payment, now shared.Clock) (audit.Action, string, error) {
		if p.IsVerified {
			return "", "", ErrAlreadyVerified.Withf("payment %s is already verified", p.Reference)
		}
		if err := requirePending(*p, StatusRejected); err != nil {
			return "", "", err
		}
		at := now.Now()
		p.Status = StatusRejected
		p.VerifiedAt = &at
		p.VerifiedBy = actor.String()
		p.Remarks = strings.TrimSpace(remarks)
		return audit.ActionPaymentRejected, fmt.Sprintf("Payment rejected: %s by %s", p.Reference, actor), nil
	})
}

// Cancel withdraws a pending payment. Members may cancel their own only.
func (s *Service) Cancel(ctx context.Context, id int64, actor shared.Actor, remarks string) (Payment, error) {
	return s.transition(ctx, id, actor, func(p *Payment, _ shared.Clock) (audit.Action, string, error) {
		if err := authorizeOwner(*p, actor); err != nil {
			return "", "", err
		}
		if p.IsVerified {
			return "", "", ErrCannotCancelVerified.Withf("payment %s is verified and cannot be cancelled", p.Reference)
		}
		if err := requirePending(*p, StatusCancelled); err != nil {
			return "", "", err
		}
		p.Status = StatusCancelled
		if r := strings.TrimSpace(remarks); r != "" {
			p.Remarks = r
		}
		return audit.ActionPaymentCancelled, fmt.Sprintf("Payment cancelled: %s by %s", p.Reference, actor), nil
	})
}

// AttachProof records the uploaded proof of a pending payment.
func (s *Service) AttachProof(ctx context.Context, id int64, actor shared.Actor, objectURL string) (Payment, error) {
	if strings.TrimSpace(objectURL) == "" {
		return Payment{}, shared.Validation("proof url is required", map[string]string{"objectUrl": "is required"})
	}
	return s.transition(ctx, id, actor, func(p *Payment, _ shared.Clock) (audit.Action, string, error) {
		if err := authorizeOwner(*p, actor); err != nil {
			return "", "", err
		}
		if p.Status != StatusPending {
			return "", "", ErrInvalidTransition.Withf("proof can only be attached to a pending payment, payment %s is %s", p.Reference, p.Status)
		}
		p.ProofURL = objectURL
		return audit.ActionPaymentProof, fmt.Sprintf("Payment proof attached: %s by %s", p.Reference, actor), nil
	})
}

type mutation func(p *Payment, clock shared.Clock) (audit.Action, string, error)

func (s *Service) transition(ctx context.Context, id int64, actor shared.Actor, apply mutation) (Payment, error) {
	var (
		payment Payment
		action  audit.Action
	)
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		payment, err = s.store.FindByID(ctx, id)
		if err != nil {
			return err
		}
		before := payment.Status
		var description string
		action, description, err = apply(&payment, s.clock)
		if err != nil {
			return err
		}
		payment.Touch(actor.String(), s.clock.Now())
		if err := s.store.Save(ctx, &payment); err != nil {
			return err
		}
		s.record(ctx, action, payment, description)
		if payment.Status != before {
			s.afterTransition(ctx, payment)
		}
		return nil
	})
	if err != nil {
		return Payment{}, err
	}
	s.logger.InfoContext(ctx, "payment updated", slog.Int64("payment_id", payment.ID), slog.String("action", string(action)),
		slog.String("status", string(payment.Status)), slog.String("actor", actor.String()))
	return payment, nil
}

func (s *Service) afterTransition(ctx context.Context, p Payment) {
	id, status := p.ID, string(p.Status)
	db.AfterCommit(ctx, func(ctx context.Context) {
		if s.observer != nil {
			s.observer.RecordTransition("payment", status)
		}
		if s.notifier == nil {
			return
		}
		if err := s.notifier.EnqueuePaymentNotice(ctx, id); err != nil {
			s.logger.WarnContext(ctx, "enqueue payment notice", slog.Int64("payment_id", id), slog.Any("error", err))
		}
	})
}

// record attributes the entry to the payment owner; the acting administrator
// is named in the description.
func (s *Service) record(ctx context.Context, action audit.Action, p Payment, description string) {
	s.audit.Log(ctx, audit.Entry{
		UserID:      p.UserID,
		Action:      action,
		Module:      audit.ModulePayments,
		Description: description,
	})
}

// Get returns a payment visible to actor.
func (s *Service) Get(ctx context.Context, id int64, actor shared.Actor) (Payment, error) {
	p, err := s.store.FindByID(ctx, id)
	if err != nil {
		return Payment{}, err
	}
	if err := authorizeOwner(p, actor); err != nil {
		// Hide other members' payments entirely.
		return Payment{}, ErrPaymentNotFound.Withf("payment %d not found", id)
	}
	return p, nil
}

// List returns payments matching filter, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter, page shared.PageRequest) (shared.Page[Payment], error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return shared.Page[Payment]{}, shared.Validation("invalid status", map[string]string{"status": "must be one of PENDING VERIFIED REJECTED CANCELLED"})
	}
	page = page.Normalize()
	items, total, err := s.store.List(ctx, filter, page)
	if err != nil {
		return shared.Page[Payment]{}, err
	}
	return shared.NewPage(items, page, total), nil
}

// ListByUser returns a member's payments. Members may only list their own.
func (s *Service) ListByUser(ctx context.Context, userID int64, actor shared.Actor, page shared.PageRequest) (shared.Page[Payment], error) {
	if userID != actor.UserID && !canManage(actor) {
		return shared.Page[Payment]{}, shared.ErrForbidden.Withf("cannot list payments of user %d", userID)
	}
	return s.List(ctx, ListFilter{UserID: userID}, page)
}

// ListPending returns payments awaiting verification.
func (s *Service) ListPending(ctx context.Context, page shared.PageRequest) (shared.Page[Payment], error) {
	return s.List(ctx, ListFilter{Status: StatusPending}, page)
}

func requirePending(p Payment, to Status) error {
	if p.Status != StatusPending {
		return ErrInvalidTransition.Withf("payment %s cannot move from %s to %s", p.Reference, p.Status, to)
	}
	return nil
}

func canManage(actor shared.Actor) bool {
	return actor.IsSystem() || actor.HasAnyRole(shared.PaymentViewRoles...)
}

func authorizeOwner(p Payment, actor shared.Actor) error {
	if p.UserID == actor.UserID || canManage(actor) {
		return nil
	}
	return shared.ErrForbidden.Withf("payment %d belongs to another member", p.ID)
}
