package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chuchoprado/mi-telegram-bot/internal/domain/boterr"
	"github.com/chuchoprado/mi-telegram-bot/internal/domain/status"
)

// ContextResolver supplies the context handle a turn runs under.
type ContextResolver interface {
	GetOrCreate(ctx context.Context, conversationID string) (string, error)
}

// Job tracks one in-flight submission for the duration of a turn.
type Job struct {
	ID         string
	Handle     string
	Status     status.RunStatus
	CreatedAt  time.Time
	LastPollAt time.Time
}

// Config tunes the polling state machine. Sleep and Now are injectable so
// transitions are testable without wall-clock waits.
type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration
	Sleep        func(ctx context.Context, d time.Duration) error
	Now          func() time.Time
}

// Runner submits a turn under a conversation's context handle and drives the
// remote job to completion, cancellation or timeout. Only one job may be in
// flight per handle; concurrent invocations for a busy handle are rejected
// with a busy error, never raced against each other.
type Runner struct {
	client   Client
	contexts ContextResolver
	cfg      Config
	log      zerolog.Logger

	mu     sync.Mutex
	active map[string]struct{} // handles with a job in flight
}

// NewRunner wires the runner.
func NewRunner(client Client, contexts ContextResolver, cfg Config, log zerolog.Logger) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runner{
		client:   client,
		contexts: contexts,
		cfg:      cfg,
		log:      log.With().Str("component", "job-runner").Logger(),
		active:   make(map[string]struct{}),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Runner) acquire(handle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[handle]; busy {
		return false
	}
	r.active[handle] = struct{}{}
	return true
}

func (r *Runner) release(handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, handle)
}

// RunTurn executes one turn and returns the engine's clean reply text.
func (r *Runner) RunTurn(ctx context.Context, conversationID, text string) (string, error) {
	handle, err := r.contexts.GetOrCreate(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("resolve context: %w", err)
	}

	if !r.acquire(handle) {
		return "", boterr.New(boterr.CodeBusy, "a job is already in flight for this context", boterr.KindBusy)
	}
	defer r.release(handle)

	job := &Job{Handle: handle, Status: status.StatusCreated, CreatedAt: r.cfg.Now()}
	log := r.log.With().Str("conversation_id", conversationID).Logger()

	if err := r.client.AppendMessage(ctx, handle, text); err != nil {
		return "", fmt.Errorf("append message: %w", err)
	}

	jobID, err := r.client.SubmitJob(ctx, handle)
	if err != nil {
		return "", fmt.Errorf("submit job: %w", err)
	}
	job.ID = jobID
	job.Status, _ = job.Status.TransitionTo(status.StatusSubmitted)
	log.Info().Str("job_id", jobID).Msg("job submitted")

	return r.poll(ctx, job, log)
}

// poll drives the job to a terminal state within the timeout budget.
func (r *Runner) poll(ctx context.Context, job *Job, log zerolog.Logger) (string, error) {
	deadline := job.CreatedAt.Add(r.cfg.Timeout)
	job.Status, _ = job.Status.TransitionTo(status.StatusPolling)

	for {
		if !r.cfg.Now().Before(deadline) {
			return "", r.timeOut(ctx, job, log)
		}

		if err := r.cfg.Sleep(ctx, r.cfg.PollInterval); err != nil {
			// Local cancellation counts against the budget the same way.
			return "", r.timeOut(ctx, job, log)
		}

		remote, err := r.client.PollJob(ctx, job.Handle, job.ID)
		if err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Msg("poll failed, retrying")
			continue
		}
		job.LastPollAt = r.cfg.Now()

		if !remote.IsTerminal() {
			continue
		}

		next, err := job.Status.TransitionTo(remote)
		if err != nil {
			log.Error().Str("job_id", job.ID).Str("from", job.Status.String()).
				Str("to", remote.String()).Msg("engine reported an impossible transition")
			return "", boterr.New(boterr.CodeEngineFailed, "engine state machine violation", boterr.KindTerminal)
		}
		job.Status = next

		return r.finish(ctx, job, log)
	}
}

func (r *Runner) finish(ctx context.Context, job *Job, log zerolog.Logger) (string, error) {
	switch job.Status {
	case status.StatusCompleted:
		reply, err := r.client.FetchLatestReply(ctx, job.Handle)
		if err != nil {
			return "", fmt.Errorf("fetch reply: %w", err)
		}
		log.Info().Str("job_id", job.ID).Msg("job completed")
		return reply, nil

	case status.StatusRequiresAction:
		// The engine wants a capability we do not have; cancel so the
		// context is not left blocked on the pending action.
		if err := r.client.CancelJob(ctx, job.Handle, job.ID); err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Msg("cancel after requires_action failed")
		}
		return "", boterr.New(boterr.CodeUnsupported, "engine requested an unsupported action", boterr.KindUnsupported)

	default: // Failed, Cancelled, Expired
		log.Warn().Str("job_id", job.ID).Str("engine_status", job.Status.String()).Msg("job ended in failure")
		return "", boterr.New(boterr.CodeEngineFailed,
			fmt.Sprintf("engine reported %s", job.Status), boterr.KindTerminal)
	}
}

// timeOut performs the best-effort remote cancel for an exhausted budget. The
// run is no longer tracked after this; a late completion on the engine side
// is simply never fetched.
func (r *Runner) timeOut(ctx context.Context, job *Job, log zerolog.Logger) error {
	job.Status, _ = job.Status.TransitionTo(status.StatusTimedOut)

	// The turn's context may already be done; cancellation gets its own.
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := r.client.CancelJob(cancelCtx, job.Handle, job.ID); err != nil {
		log.Warn().Err(err).Str("job_id", job.ID).Msg("remote cancel failed")
	}

	log.Warn().Str("job_id", job.ID).Dur("budget", r.cfg.Timeout).Msg("job timed out")
	return boterr.New(boterr.CodeRunTimeout, "polling budget exhausted", boterr.KindTimeout)
}
