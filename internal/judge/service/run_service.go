package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"codelab/internal/judge/repository"
	"codelab/internal/judge/sandbox"
	"codelab/internal/judge/sandbox/result"
	appErr "codelab/pkg/errors"
	"codelab/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Runner is the engine entry point the service drives.
type Runner interface {
	Validate(req sandbox.RunRequest) error
	RunOne(ctx context.Context, req sandbox.RunRequest) (result.RunResult, error)
}

// RunInput is a caller's run request.
type RunInput struct {
	Source           string
	Stdin            string
	TimeLimitSeconds float64
}

// WebhookInput is an externally produced result relayed through the service.
type WebhookInput struct {
	RunID   string
	Output  string
	Verdict string
}

// Config holds service dependencies and settings.
type Config struct {
	Runner    Runner
	Store     repository.ResultStore
	Publisher repository.ResultEventPublisher
	Hub       *ResultHub

	MaxConcurrent    int
	QueueTimeout     time.Duration
	StoreTimeout     time.Duration
	PublishTimeout   time.Duration
	DefaultTimeLimit float64
}

// RunService schedules runs, records their results and fans them out.
type RunService struct {
	runner           Runner
	store            repository.ResultStore
	publisher        repository.ResultEventPublisher
	hub              *ResultHub
	sem              *semaphore.Weighted
	queueTimeout     time.Duration
	storeTimeout     time.Duration
	publishTimeout   time.Duration
	defaultTimeLimit float64

	wg         sync.WaitGroup
	baseCtx    context.Context
	cancelRuns context.CancelFunc
}

// NewRunService creates a new run service.
func NewRunService(cfg Config) (*RunService, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("result store is required")
	}
	if cfg.Hub == nil {
		cfg.Hub = NewResultHub()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.DefaultTimeLimit <= 0 {
		cfg.DefaultTimeLimit = 2
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &RunService{
		runner:           cfg.Runner,
		store:            cfg.Store,
		publisher:        cfg.Publisher,
		hub:              cfg.Hub,
		sem:              semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		queueTimeout:     cfg.QueueTimeout,
		storeTimeout:     cfg.StoreTimeout,
		publishTimeout:   cfg.PublishTimeout,
		defaultTimeLimit: cfg.DefaultTimeLimit,
		baseCtx:          baseCtx,
		cancelRuns:       cancel,
	}, nil
}

func (s *RunService) request(in RunInput) sandbox.RunRequest {
	limit := in.TimeLimitSeconds
	if limit == 0 {
		limit = s.defaultTimeLimit
	}
	return sandbox.RunRequest{
		RunID:            uuid.NewString(),
		Source:           in.Source,
		Stdin:            in.Stdin,
		TimeLimitSeconds: limit,
	}
}

// Run executes in synchronously and returns its result.
func (s *RunService) Run(ctx context.Context, in RunInput) (result.RunResult, error) {
	req := s.request(in)
	if err := s.runner.Validate(req); err != nil {
		return result.RunResult{}, err
	}
	if err := s.acquire(ctx); err != nil {
		return result.RunResult{}, err
	}
	defer s.sem.Release(1)

	ctx = logger.WithRunID(ctx, req.RunID)
	res, err := s.runner.RunOne(ctx, req)
	if err != nil {
		return result.RunResult{}, err
	}
	s.finish(ctx, repository.RunRecord{
		RunID:  req.RunID,
		Status: repository.RunFinished,
		Origin: repository.OriginEngine,
		Result: &res,
	})
	return res, nil
}

// Submit queues in and returns its run id. A slot is reserved before
// returning, so a saturated service rejects the request instead of queueing it.
func (s *RunService) Submit(ctx context.Context, in RunInput) (string, error) {
	req := s.request(in)
	if err := s.runner.Validate(req); err != nil {
		return "", err
	}
	if err := s.acquire(ctx); err != nil {
		return "", err
	}

	runCtx := logger.WithRunID(context.WithoutCancel(ctx), req.RunID)
	pending := repository.RunRecord{
		RunID:       req.RunID,
		Status:      repository.RunPending,
		Origin:      repository.OriginEngine,
		SubmittedAt: time.Now().UnixMilli(),
	}
	if err := s.save(runCtx, pending); err != nil {
		s.sem.Release(1)
		return "", err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)

		ctx, cancel := context.WithCancel(runCtx)
		defer cancel()
		stop := context.AfterFunc(s.baseCtx, cancel)
		defer stop()

		res, err := s.runner.RunOne(ctx, req)
		if err != nil {
			logger.Error(ctx, "async run rejected after validation", zap.Error(err))
			return
		}
		pending.Status = repository.RunFinished
		pending.Result = &res
		s.finish(ctx, pending)
	}()
	return req.RunID, nil
}

// Result returns the stored record for runID.
func (s *RunService) Result(ctx context.Context, runID string) (repository.RunRecord, error) {
	return s.store.Get(ctx, runID)
}

// Record stores an externally produced result under its run id.
func (s *RunService) Record(ctx context.Context, in WebhookInput) (repository.RunRecord, error) {
	if in.RunID == "" {
		return repository.RunRecord{}, appErr.ValidationError("runId", "required")
	}
	verdict := result.Verdict(in.Verdict)
	if !verdict.Valid() {
		return repository.RunRecord{}, appErr.ValidationError("verdict", "unknown verdict "+in.Verdict)
	}
	res := result.RunResult{
		RunID:      in.RunID,
		Verdict:    verdict,
		Success:    verdict == result.VerdictSuccess,
		Message:    "result relayed by webhook",
		FinishedAt: time.Now().UnixMilli(),
	}
	switch verdict {
	case result.VerdictSuccess:
		res.Output = in.Output
	case result.VerdictCompileError, result.VerdictRuntimeError:
		res.Diagnostic = in.Output
	}
	record := repository.RunRecord{
		RunID:  in.RunID,
		Status: repository.RunFinished,
		Origin: repository.OriginWebhook,
		Result: &res,
	}
	if err := s.save(ctx, record); err != nil {
		return repository.RunRecord{}, err
	}
	s.publish(ctx, record)
	s.hub.Publish(record)
	return record, nil
}

// Subscribe returns a channel that yields the finished record for runID.
// Runs that already finished are delivered immediately.
func (s *RunService) Subscribe(ctx context.Context, runID string) (<-chan repository.RunRecord, func(), error) {
	ch, cancel := s.hub.Subscribe(runID)
	record, err := s.store.Get(ctx, runID)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if record.Finished() {
		cancel()
		done := make(chan repository.RunRecord, 1)
		done <- record
		close(done)
		return done, func() {}, nil
	}
	return ch, cancel, nil
}

// Shutdown waits for queued runs. When ctx expires first the runs are
// canceled and Shutdown waits for them to unwind.
func (s *RunService) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.cancelRuns()
		<-done
		return ctx.Err()
	}
}

func (s *RunService) acquire(ctx context.Context) error {
	acquireCtx := ctx
	if s.queueTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, s.queueTimeout)
		defer cancel()
	}
	if err := s.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return appErr.Wrapf(ctx.Err(), appErr.Timeout, "request canceled while waiting for a runner")
		}
		return appErr.New(appErr.RunQueueTimeout).WithMessage("all runners are busy")
	}
	return nil
}

func (s *RunService) finish(ctx context.Context, record repository.RunRecord) {
	if err := s.save(ctx, record); err != nil {
		logger.Warn(ctx, "persist run result failed", zap.Error(err))
	}
	s.publish(ctx, record)
	s.hub.Publish(record)
}

func (s *RunService) save(ctx context.Context, record repository.RunRecord) error {
	storeCtx := ctx
	if s.storeTimeout > 0 {
		var cancel context.CancelFunc
		storeCtx, cancel = context.WithTimeout(ctx, s.storeTimeout)
		defer cancel()
	}
	return s.store.Save(storeCtx, record)
}

func (s *RunService) publish(ctx context.Context, record repository.RunRecord) {
	if s.publisher == nil {
		return
	}
	publishCtx := ctx
	if s.publishTimeout > 0 {
		var cancel context.CancelFunc
		publishCtx, cancel = context.WithTimeout(ctx, s.publishTimeout)
		defer cancel()
	}
	if err := s.publisher.PublishFinal(publishCtx, record); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn(ctx, "publish run event failed", zap.Error(err))
	}
}
