// Package worker implements the recurring scheduler that drives pending
// jobs through the sandbox-to-pull-request pipeline.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/boltonhq/bolton/internal/githost"
	"github.com/boltonhq/bolton/internal/notify"
	"github.com/boltonhq/bolton/internal/sandbox"
	"github.com/boltonhq/bolton/internal/store"
	"github.com/robfig/cron/v3"
)

const defaultInterval = 10 * time.Second

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Explainer is the optional AI collaborator used to enrich failure messages.
type Explainer interface {
	Explain(ctx context.Context, failure string) (string, error)
}

// Scheduler claims pending jobs on a fixed interval (or cron schedule) and
// runs one pipeline per claimed job. Exactly one in-flight pipeline per job
// id is permitted; the store's atomic claim is the concurrency primitive.
type Scheduler struct {
	store       *store.Store
	sandbox     *sandbox.Manager
	git         githost.Client
	explainer   Explainer
	notifier    notify.Notifier
	interval    time.Duration
	cronExpr    string
	maxAttempts int
	backoff     time.Duration
	out         io.Writer

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	inflight map[string]bool
}

// Opts holds parameters for creating a Scheduler.
type Opts struct {
	Store       *store.Store
	Sandbox     *sandbox.Manager
	Git         githost.Client
	Explainer   Explainer       // optional
	Notifier    notify.Notifier // optional
	Interval    time.Duration
	Cron        string // optional 5-field cron expression; overrides Interval
	MaxAttempts int
	Backoff     time.Duration
	Out         io.Writer
}

// New creates a Scheduler.
func New(opts Opts) (*Scheduler, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("worker: store is required")
	}
	if opts.Sandbox == nil {
		return nil, fmt.Errorf("worker: sandbox manager is required")
	}
	if opts.Git == nil {
		return nil, fmt.Errorf("worker: git client is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 2 * time.Second
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Cron != "" {
		if _, err := cronParser.Parse(opts.Cron); err != nil {
			return nil, fmt.Errorf("worker: cron %q: %w", opts.Cron, err)
		}
	}
	return &Scheduler{
		store:       opts.Store,
		sandbox:     opts.Sandbox,
		git:         opts.Git,
		explainer:   opts.Explainer,
		notifier:    opts.Notifier,
		interval:    opts.Interval,
		cronExpr:    opts.Cron,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		out:         opts.Out,
		inflight:    make(map[string]bool),
	}, nil
}

// Start launches the scheduler loop. Starting a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, s.done)
	fmt.Fprintf(s.out, "Worker started (every %s)\n", s.describeSchedule())
}

// Stop cancels the loop and waits for in-flight pipelines to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	fmt.Fprintf(s.out, "Worker stopped\n")
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if n := s.Tick(ctx); n > 0 {
			fmt.Fprintf(s.out, "Tick processed %d job(s)\n", n)
		}
		if !sleepWithContext(ctx, s.nextDelay()) {
			return
		}
	}
}

// Tick claims every pending job and runs their pipelines, one goroutine per
// job, waiting for all of them. It returns the number of jobs claimed.
// Safe to call on demand while the loop is running: the atomic claim and the
// in-flight set keep a job from being processed twice.
func (s *Scheduler) Tick(ctx context.Context) int {
	pending, err := s.store.ListPending()
	if err != nil {
		log.Printf("worker: list pending: %v", err)
		return 0
	}

	var wg sync.WaitGroup
	claimed := 0
	for _, job := range pending {
		if !s.markInflight(job.ID) {
			continue
		}
		j, err := s.store.Claim(job.ID)
		if err != nil {
			s.clearInflight(job.ID)
			// Another tick or worker instance won the claim.
			if !errors.Is(err, store.ErrAlreadyClaimed) && !errors.Is(err, store.ErrNotFound) {
				log.Printf("worker: claim %s: %v", job.ID, err)
			}
			continue
		}
		claimed++
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer s.clearInflight(j.ID)
			s.runJob(ctx, j)
		}()
	}
	wg.Wait()
	return claimed
}

func (s *Scheduler) markInflight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[id] {
		return false
	}
	s.inflight[id] = true
	return true
}

func (s *Scheduler) clearInflight(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

// nextDelay computes the wait before the next tick: the cron schedule when
// configured, the fixed interval otherwise.
func (s *Scheduler) nextDelay() time.Duration {
	if s.cronExpr == "" {
		return s.interval
	}
	sched, err := cronParser.Parse(s.cronExpr)
	if err != nil {
		return s.interval
	}
	d := time.Until(sched.Next(time.Now()))
	if d <= 0 {
		return s.interval
	}
	return d
}

func (s *Scheduler) describeSchedule() string {
	if s.cronExpr != "" {
		return "cron " + s.cronExpr
	}
	return s.interval.String()
}

// Status reports run state plus job counts per status bucket.
type Status struct {
	Running bool               `json:"running"`
	Counts  store.StatusCounts `json:"counts"`
}

// Status returns the worker control surface's status payload.
func (s *Scheduler) Status() (Status, error) {
	counts, err := s.store.Counts()
	if err != nil {
		return Status{}, err
	}
	return Status{Running: s.Running(), Counts: counts}, nil
}

// sleepWithContext waits for d, returning false when ctx is cancelled first.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
