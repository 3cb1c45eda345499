package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/hibiken/asynq"

	"github.com/commonwealth-builders/treasury/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *asynq.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) *JobsCLI {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	return &JobsCLI{client: asynq.NewClient(opts), inspector: asynq.NewInspector(opts)}
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		err = c.inspector.Close()
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Trigger enqueues a scheduled job by name with its default payload.
// Payment notices need a payment id and cannot be triggered by hand.
func (c *JobsCLI) Trigger(ctx context.Context, name string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := jobs.NewTask(name)
	if err != nil {
		return nil, fmt.Errorf("jobs cli: %w: %s", err, name)
	}
	return c.client.EnqueueContext(ctx, task)
}

// TriggerCommand runs `jobs trigger` and returns the exit code.
func (c *JobsCLI) TriggerCommand(ctx context.Context, name string, stdout, stderr io.Writer) int {
	stdout, stderr = writers(stdout, stderr)
	info, err := c.Trigger(ctx, name)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "jobs trigger: %v\n", err)
		if errors.Is(err, jobs.ErrUnknownTask) {
			_, _ = fmt.Fprintf(stderr, "known jobs: %s, %s, %s\n", jobs.TaskAuditReplay, jobs.TaskAuditIntegrity, jobs.TaskReportsWarmup)
		}
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "enqueued %s as %s on queue %s\n", info.Type, info.ID, info.Queue)
	return 0
}

// StatsCommand prints a table of queue depths.
func (c *JobsCLI) StatsCommand(stdout, stderr io.Writer) int {
	stdout, stderr = writers(stdout, stderr)
	if c == nil || c.inspector == nil {
		_, _ = fmt.Fprintln(stderr, "jobs stats: inspector not configured")
		return 1
	}
	stats, err := jobs.Stats(c.inspector)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "jobs stats: %v\n", err)
		return 1
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED\tFAILED TODAY")
	for _, s := range stats {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived, s.Failed)
	}
	_ = tw.Flush()
	return 0
}

func writers(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}
