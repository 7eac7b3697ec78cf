package worker

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/cuongbtq/jobqueue/internal/domain"
	"github.com/cuongbtq/jobqueue/shared/mailer"
)

// Enqueuer inserts new jobs. Handlers use it to schedule follow-ups.
type Enqueuer interface {
	InsertJobs(ctx context.Context, jobs []domain.NewJob) ([]int64, error)
}

// NoopHandler acknowledges NOOP jobs.
func NoopHandler(logger *slog.Logger) Handler {
	return func(ctx context.Context, job domain.Job) error {
		logger.Debug("NOOP job", slog.Int64("job_id", job.ID))
		return nil
	}
}

// EmailHandlerConfig configures the SendEmail handler.
type EmailHandlerConfig struct {
	Logger   *slog.Logger
	Mailer   mailer.Mailer
	Enqueuer Enqueuer
	Subject  string
	Body     string
	// RatePerSecond of zero or less disables rate limiting.
	RatePerSecond float64
	Burst         int
}

// EmailHandler sends SendEmail jobs through a Mailer.
type EmailHandler struct {
	logger   *slog.Logger
	mailer   mailer.Mailer
	enqueuer Enqueuer
	limiter  *rate.Limiter
	subject  string
	body     string
}

// NewEmailHandler creates an EmailHandler.
func NewEmailHandler(cfg EmailHandlerConfig) *EmailHandler {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &EmailHandler{
		logger:   cfg.Logger,
		mailer:   cfg.Mailer,
		enqueuer: cfg.Enqueuer,
		limiter:  limiter,
		subject:  cfg.Subject,
		body:     cfg.Body,
	}
}

// Handle sends the email and, when the job asks for it, enqueues one
// follow-up SendEmail job to the same address. The follow-up carries no
// params, so it never schedules another.
func (h *EmailHandler) Handle(ctx context.Context, job domain.Job) error {
	payload, ok := job.Payload.(domain.SendEmailPayload)
	if !ok {
		return fmt.Errorf("email handler got %T payload", job.Payload)
	}

	if err := h.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	err := h.mailer.Send(ctx, mailer.Message{
		To:      payload.Email,
		Subject: h.subject,
		Body:    h.body,
	})
	if err != nil {
		return err
	}

	if !domain.WantsFollowUp(job.Params) {
		return nil
	}
	if h.enqueuer == nil {
		return fmt.Errorf("job %d wants a follow-up but no enqueuer is configured", job.ID)
	}

	ids, err := h.enqueuer.InsertJobs(ctx, []domain.NewJob{
		{Payload: domain.SendEmailPayload{Email: payload.Email}},
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue follow-up: %w", err)
	}

	h.logger.Info("Follow-up enqueued",
		slog.Int64("job_id", job.ID),
		slog.Any("follow_up_ids", ids),
	)
	return nil
}

// RegisterDefaults registers the built-in handlers for every payload kind.
func RegisterDefaults(r *Registry, logger *slog.Logger, email *EmailHandler) error {
	if err := r.Register(domain.PayloadKindNoop, NoopHandler(logger)); err != nil {
		return err
	}
	return r.Register(domain.PayloadKindSendEmail, email.Handle)
}
