package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/time/rate"

	jobmetrics "github.com/commonwealth-builders/treasury/internal/jobs"
	"github.com/commonwealth-builders/treasury/internal/payments"
	"github.com/commonwealth-builders/treasury/internal/shared"
	"github.com/commonwealth-builders/treasury/internal/users"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Mail is one outbound message.
type Mail struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Mailer delivers mail.
type Mailer interface {
	Send(ctx context.Context, mail Mail) error
}

// LogMailer writes mail to the log instead of delivering it.
type LogMailer struct {
	Logger *slog.Logger
}

// Send implements Mailer.
func (m LogMailer) Send(ctx context.Context, mail Mail) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "mail sent",
		slog.String("from", mail.From),
		slog.String("to", mail.To),
		slog.String("subject", mail.Subject),
		slog.Int("body_bytes", len(mail.Body)))
	return nil
}

// PaymentFinder loads payments.
type PaymentFinder interface {
	FindByID(ctx context.Context, id int64) (payments.Payment, error)
}

// UserFinder loads members.
type UserFinder interface {
	FindByID(ctx context.Context, id int64) (users.User, error)
}

// PaymentNoticeJob emails the payment owner after a status change.
type PaymentNoticeJob struct {
	Payments PaymentFinder
	Users    UserFinder
	Mailer   Mailer
	From     string
	Limiter  *rate.Limiter
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	printer  *message.Printer
}

// NewPaymentNoticeJob wires the notification handler. perSecond bounds the
// outbound mail rate; zero or less disables throttling.
func NewPaymentNoticeJob(p PaymentFinder, u UserFinder, mailer Mailer, from string, perSecond float64, logger *slog.Logger, metrics *jobmetrics.Metrics) *PaymentNoticeJob {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &PaymentNoticeJob{
		Payments: p,
		Users:    u,
		Mailer:   mailer,
		From:     from,
		Limiter:  rate.NewLimiter(limit, 1),
		Logger:   logger,
		Metrics:  metrics,
		printer:  message.NewPrinter(language.English),
	}
}

// Handle processes TaskPaymentNotify tasks.
func (j *PaymentNoticeJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Payments == nil || j.Users == nil || j.Mailer == nil {
		return errors.New("payment notice: handler not configured")
	}
	var payload PaymentNoticePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.PaymentID <= 0 {
		return asynq.SkipRetry
	}
	tracker := jobMetrics(j.Metrics).Track(TaskPaymentNotify)
	defer func() { resultErr = tracker.End(resultErr) }()

	logger := jobLogger(j.Logger, TaskPaymentNotify).With(slog.Int64("payment_id", payload.PaymentID))
	payment, err := j.Payments.FindByID(ctx, payload.PaymentID)
	if err != nil {
		if shared.KindOf(err) == shared.KindNotFound {
			logger.Warn("payment vanished before notice")
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		return err
	}
	mail, ok := j.compose(payment)
	if !ok {
		jobMetrics(j.Metrics).AddItems(TaskPaymentNotify, "skipped", 1)
		return nil
	}
	owner, err := j.Users.FindByID(ctx, payment.UserID)
	if err != nil {
		return err
	}
	mail.To = owner.Email
	if err := j.Limiter.Wait(ctx); err != nil {
		return err
	}
	if err := j.Mailer.Send(ctx, mail); err != nil {
		logger.Error("send payment notice", slog.Any("error", err))
		return err
	}
	jobMetrics(j.Metrics).AddItems(TaskPaymentNotify, "sent", 1)
	logger.Info("payment notice sent", slog.String("status", string(payment.Status)))
	return nil
}

func (j *PaymentNoticeJob) compose(p payments.Payment) (Mail, bool) {
	amount := j.printer.Sprintf("%.2f", p.Amount.Float64())
	var (
		subject string
		body    strings.Builder
	)
	switch p.Status {
	case payments.StatusVerified:
		subject = "Payment verified: " + p.Reference
		body.WriteString(j.printer.Sprintf("Your payment %s of %s has been verified.", p.Reference, amount))
	case payments.StatusRejected:
		subject = "Payment rejected: " + p.Reference
		body.WriteString(j.printer.Sprintf("Your payment %s of %s was rejected.", p.Reference, amount))
	case payments.StatusCancelled:
		subject = "Payment cancelled: " + p.Reference
		body.WriteString(j.printer.Sprintf("Your payment %s of %s has been cancelled.", p.Reference, amount))
	default:
		return Mail{}, false
	}
	if p.Remarks != "" {
		body.WriteString("\n\nRemarks: " + p.Remarks)
	}
	return Mail{From: j.From, Subject: subject, Body: body.String()}, true
}
