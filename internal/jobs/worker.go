// Package jobs runs the durable asynchronous work queue. Jobs live in
// PostgreSQL; workers claim them with a lease (FOR UPDATE SKIP LOCKED
// under the hood), execute through the message pipeline, and report
// results via optional webhook callbacks. A crashed worker's lease
// expires and the job is retried elsewhere.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/internal/pipeline"
	"github.com/voxbridge/voxbridge/internal/store"
)

// Defaults for the worker pool.
const (
	DefaultPollInterval = time.Second
	DefaultLease        = 5 * time.Minute
	DefaultWorkers      = 2
)

// Store is the slice of the data layer the workers use.
type Store interface {
	ClaimJob(ctx context.Context, workerID string, lease time.Duration) (*store.Job, error)
	CompleteJob(ctx context.Context, jobID string, output []byte) error
	FailJob(ctx context.Context, jobID, execErr string) (*store.Job, error)
	RecoverStaleJobs(ctx context.Context) (int64, error)
	SetJobProgress(ctx context.Context, jobID string, progress int) error
	MarkCallbackSent(ctx context.Context, jobID string) error
}

var _ Store = (*store.Store)(nil)

// Sender processes one message turn. *pipeline.Pipeline satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, in pipeline.SendInput) (*pipeline.Result, error)
}

var _ Sender = (*pipeline.Pipeline)(nil)

// Config tunes the worker pool.
type Config struct {
	PollInterval time.Duration
	Lease        time.Duration
	Workers      int
}

// Pool polls for jobs and executes them.
type Pool struct {
	store    Store
	sender   Sender
	notifier *Notifier
	cfg      Config
	log      *slog.Logger
	baseID   string
}

// NewPool wires a worker pool. notifier may be nil to disable callbacks.
func NewPool(s Store, sender Sender, notifier *Notifier, cfg Config, log *slog.Logger) *Pool {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Lease <= 0 {
		cfg.Lease = DefaultLease
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if log == nil {
		log = slog.Default()
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "unknown"
	}
	return &Pool{
		store:    s,
		sender:   sender,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		baseID:   fmt.Sprintf("%s:%d", host, os.Getpid()),
	}
}

// Run rescues stale work from previous processes and then polls until ctx
// is cancelled.
func (p *Pool) Run(ctx context.Context) error {
	if n, err := p.store.RecoverStaleJobs(ctx); err != nil {
		p.log.Error("stale job recovery failed", "error", err)
	} else if n > 0 {
		p.log.Info("recovered stale jobs", "count", n)
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		workerID := fmt.Sprintf("%s:%d", p.baseID, i)
		g.Go(func() error {
			return p.loop(ctx, workerID)
		})
	}
	return g.Wait()
}

// loop claims and executes jobs until ctx is done. An empty queue waits
// one poll interval; a successful claim polls again immediately.
func (p *Pool) loop(ctx context.Context, workerID string) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	for {
		job, err := p.store.ClaimJob(ctx, workerID, p.cfg.Lease)
		if err != nil {
			p.log.Error("job claim failed", "worker", workerID, "error", err)
		}
		if job != nil {
			p.execute(ctx, workerID, job)
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// execute runs one claimed job to completion or failure.
func (p *Pool) execute(ctx context.Context, workerID string, job *store.Job) {
	log := p.log.With("job_id", job.ID, "type", job.Type, "worker", workerID,
		"attempt", job.Attempts)
	log.Info("job started")
	start := time.Now()

	output, err := p.dispatch(ctx, job)
	if err != nil {
		failed, ferr := p.store.FailJob(ctx, job.ID, err.Error())
		if ferr != nil {
			log.Error("failed to record job failure", "error", ferr)
			return
		}
		if failed.Status == store.JobFailed {
			log.Error("job failed terminally", "error", err)
			observe.DefaultMetrics().RecordJob(ctx,
				string(job.Type), string(store.JobFailed), time.Since(start).Seconds())
			p.notify(ctx, failed)
		} else {
			log.Warn("job failed, will retry", "error", err)
		}
		return
	}

	if err := p.store.CompleteJob(ctx, job.ID, output); err != nil {
		log.Error("failed to record job completion", "error", err)
		return
	}
	job.Status = store.JobCompleted
	job.Output = output
	log.Info("job completed")
	observe.DefaultMetrics().RecordJob(ctx,
		string(job.Type), string(store.JobCompleted), time.Since(start).Seconds())
	p.notify(ctx, job)
}

// SendMessageInput is the JSON payload of SEND_MESSAGE and VOICE_PROCESS
// jobs.
type SendMessageInput struct {
	SessionID      string `json:"sessionId"`
	Content        string `json:"content"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
	CorrelationID  string `json:"correlationId,omitempty"`
}

// SendMessageOutput is the JSON result of a completed message job.
type SendMessageOutput struct {
	UserMessageID      string `json:"userMessageId"`
	AssistantMessageID string `json:"assistantMessageId,omitempty"`
	Content            string `json:"content"`
	Provider           string `json:"provider"`
	UsedFallback       bool   `json:"usedFallback"`
	TokensIn           int    `json:"tokensIn"`
	TokensOut          int    `json:"tokensOut"`
	LatencyMs          int64  `json:"latencyMs"`
}

// dispatch routes a job to its handler.
func (p *Pool) dispatch(ctx context.Context, job *store.Job) ([]byte, error) {
	switch job.Type {
	case store.JobSendMessage, store.JobVoiceProcess:
		return p.runSendMessage(ctx, job)
	default:
		return nil, fmt.Errorf("jobs: unknown job type %q", job.Type)
	}
}

// runSendMessage drives a pipeline turn. The job's idempotency key flows
// through to the message layer, so a retried job replays instead of
// double-posting.
func (p *Pool) runSendMessage(ctx context.Context, job *store.Job) ([]byte, error) {
	var in SendMessageInput
	if err := json.Unmarshal(job.Input, &in); err != nil {
		return nil, fmt.Errorf("jobs: decode input: %w", err)
	}
	key := in.IdempotencyKey
	if key == "" {
		// Without a caller-supplied key the job id itself makes retries safe.
		key = "job-" + job.ID
	}

	res, err := p.sender.SendMessage(ctx, pipeline.SendInput{
		TenantID:       job.TenantID,
		SessionID:      in.SessionID,
		Content:        in.Content,
		IdempotencyKey: key,
		CorrelationID:  in.CorrelationID,
	})
	if err != nil {
		return nil, err
	}

	out := SendMessageOutput{
		UserMessageID: res.UserMessage.ID,
		Provider:      string(res.Provider),
		UsedFallback:  res.UsedFallback,
		TokensIn:      res.TokensIn,
		TokensOut:     res.TokensOut,
		LatencyMs:     res.LatencyMs,
	}
	if res.AssistantMessage != nil {
		out.AssistantMessageID = res.AssistantMessage.ID
		out.Content = res.AssistantMessage.Content
	}
	return json.Marshal(out)
}

// notify fires the job's webhook callback, when configured.
func (p *Pool) notify(ctx context.Context, job *store.Job) {
	if p.notifier == nil || job.CallbackURL == "" || job.CallbackSent {
		return
	}
	if err := p.notifier.Notify(ctx, job); err != nil {
		p.log.Warn("webhook delivery failed",
			"job_id", job.ID, "url", job.CallbackURL, "error", err)
		return
	}
	if err := p.store.MarkCallbackSent(ctx, job.ID); err != nil {
		p.log.Error("failed to mark callback sent", "job_id", job.ID, "error", err)
	}
}
