package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueMail carries outbound member notifications.
	QueueMail = "mail"

	// TaskPaymentNotify emails a member about a payment status change.
	TaskPaymentNotify = "notify:payment"
	// TaskAuditReplay drains the dropped audit entry spool.
	TaskAuditReplay = "audit:replay"
	// TaskAuditIntegrity compares state transitions against the audit trail.
	TaskAuditIntegrity = "audit:integrity"
	// TaskReportsWarmup precomputes the cached financial summaries.
	TaskReportsWarmup = "reports:warmup"
)

// PaymentNoticePayload identifies the payment to notify about.
type PaymentNoticePayload struct {
	PaymentID int64 `json:"payment_id"`
}

// AuditReplayPayload bounds one spool drain. Zero drains everything queued.
type AuditReplayPayload struct {
	Limit int `json:"limit"`
}

// AuditIntegrityPayload sets how far back the check looks.
type AuditIntegrityPayload struct {
	WindowHours int `json:"window_hours"`
}

// NewPaymentNoticeTask constructs the notification task.
func NewPaymentNoticeTask(paymentID int64) (*asynq.Task, error) {
	return newTask(TaskPaymentNotify, PaymentNoticePayload{PaymentID: paymentID}, asynq.Queue(QueueMail), asynq.MaxRetry(5), asynq.Timeout(30*time.Second))
}

// NewAuditReplayTask constructs the spool drain task.
func NewAuditReplayTask(limit int) (*asynq.Task, error) {
	return newTask(TaskAuditReplay, AuditReplayPayload{Limit: limit}, asynq.MaxRetry(3))
}

// NewAuditIntegrityTask constructs the integrity check task.
func NewAuditIntegrityTask(window time.Duration) (*asynq.Task, error) {
	return newTask(TaskAuditIntegrity, AuditIntegrityPayload{WindowHours: int(window.Hours())}, asynq.MaxRetry(1))
}

// NewReportsWarmupTask constructs the warmup task.
func NewReportsWarmupTask() (*asynq.Task, error) {
	return newTask(TaskReportsWarmup, struct{}{}, asynq.MaxRetry(3))
}

// NewTask builds any known task with default arguments.
func NewTask(taskType string) (*asynq.Task, error) {
	switch taskType {
	case TaskAuditReplay:
		return NewAuditReplayTask(0)
	case TaskAuditIntegrity:
		return NewAuditIntegrityTask(defaultIntegrityWindow)
	case TaskReportsWarmup:
		return NewReportsWarmupTask()
	default:
		return nil, ErrUnknownTask
	}
}

func newTask(taskType string, payload any, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data, opts...), nil
}
