package audit

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/commonwealth-builders/treasury/internal/platform/db"
	"github.com/commonwealth-builders/treasury/internal/shared"
)

// Recorder is what mutating services depend on. Log never fails the caller.
type Recorder interface {
	Log(ctx context.Context, entry Entry)
}

// Logger appends audit entries and accounts for every entry it cannot store.
type Logger struct {
	store   Store
	spool   Spool
	logger  *slog.Logger
	clock   shared.Clock
	dropped *prometheus.CounterVec
}

// LoggerOption customises a Logger.
type LoggerOption func(*Logger)

// WithSpool keeps dropped entries for replay.
func WithSpool(spool Spool) LoggerOption {
	return func(l *Logger) { l.spool = spool }
}

// WithClock overrides the entry timestamp source.
func WithClock(clock shared.Clock) LoggerOption {
	return func(l *Logger) { l.clock = clock }
}

// WithRegisterer registers the dropped-entry counter on reg.
func WithRegisterer(reg prometheus.Registerer) LoggerOption {
	return func(l *Logger) {
		if reg == nil {
			return
		}
		if err := reg.Register(l.dropped); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
					l.dropped = existing
				}
			}
		}
	}
}

// NewLogger constructs the audit trail logger.
func NewLogger(store Store, logger *slog.Logger, opts ...LoggerOption) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{
		store:  store,
		logger: logger,
		clock:  shared.SystemClock,
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_audit_dropped_total",
			Help: "Audit entries that could not be stored, by reason.",
		}, []string{"reason"}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ Recorder = (*Logger)(nil)

// Log stores entry inside a savepoint of the ambient transaction. Failures
// are logged, counted and spooled once the transaction commits.
func (l *Logger) Log(ctx context.Context, entry Entry) {
	if l == nil {
		return
	}
	entry = l.prepare(ctx, entry)
	if _, err := l.store.Append(ctx, entry); err != nil {
		l.drop(ctx, entry, err)
	}
}

func (l *Logger) prepare(ctx context.Context, entry Entry) Entry {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.clock.Now()
	}
	if entry.EventID == "" {
		entry.EventID = ulid.MustNew(ulid.Timestamp(entry.CreatedAt), ulid.DefaultEntropy()).String()
	}
	meta := shared.RequestMetaFromContext(ctx)
	if entry.IPAddress == "" {
		entry.IPAddress = meta.IPAddress
	}
	if entry.UserAgent == "" {
		entry.UserAgent = meta.UserAgent
	}
	return entry
}

func (l *Logger) drop(ctx context.Context, entry Entry, cause error) {
	reason := "store_error"
	if errors.Is(cause, ErrUnknownActor) {
		reason = "unknown_actor"
	}
	l.dropped.WithLabelValues(reason).Inc()
	l.logger.Error("audit entry dropped",
		slog.String("reason", reason),
		slog.String("event_id", entry.EventID),
		slog.Int64("user_id", entry.UserID),
		slog.String("action", string(entry.Action)),
		slog.String("module", string(entry.Module)),
		slog.String("description", entry.Description),
		slog.String("ip_address", entry.IPAddress),
		slog.String("user_agent", entry.UserAgent),
		slog.Time("created_at", entry.CreatedAt),
		slog.Any("error", cause),
	)
	if l.spool == nil {
		return
	}
	db.AfterCommit(ctx, func(ctx context.Context) {
		if err := l.spool.Push(context.WithoutCancel(ctx), entry); err != nil {
			l.logger.Error("spool audit entry", slog.String("event_id", entry.EventID), slog.Any("error", err))
		}
	})
}

// ReplayStats summarises one spool drain.
type ReplayStats struct {
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Requeued   int `json:"requeued"`
}

// Replay drains at most limit spooled entries. Entries whose actor still does
// not resolve go back to the tail of the spool; event ids keep the insert
// idempotent.
func (l *Logger) Replay(ctx context.Context, limit int) (ReplayStats, error) {
	var stats ReplayStats
	if l == nil || l.spool == nil {
		return stats, nil
	}
	pending, err := l.spool.Len(ctx)
	if err != nil {
		return stats, err
	}
	if limit <= 0 || int64(limit) > pending {
		limit = int(pending)
	}
	for i := 0; i < limit; i++ {
		entry, err := l.spool.Pop(ctx)
		if err != nil {
			return stats, err
		}
		if entry == nil {
			break
		}
		inserted, err := l.store.Append(ctx, *entry)
		switch {
		case errors.Is(err, ErrUnknownActor):
			if err := l.spool.Push(ctx, *entry); err != nil {
				return stats, err
			}
			stats.Requeued++
		case err != nil:
			if pushErr := l.spool.Push(ctx, *entry); pushErr != nil {
				l.logger.Error("requeue audit entry", slog.String("event_id", entry.EventID), slog.Any("error", pushErr))
			}
			return stats, err
		case inserted:
			stats.Inserted++
		default:
			stats.Duplicates++
		}
	}
	return stats, nil
}
