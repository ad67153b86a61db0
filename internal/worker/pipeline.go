package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/boltonhq/bolton/internal/githost"
	"github.com/boltonhq/bolton/internal/models"
	"github.com/boltonhq/bolton/internal/notify"
)

// runJob drives one claimed job through the pipeline: load the repo tree,
// apply the requested bundles, create the branch, commit, open the pull
// request, and record the terminal state. A failure in one job never
// affects another job's pipeline.
func (s *Scheduler) runJob(ctx context.Context, job *models.Job) {
	integrations, err := job.IntegrationIDs()
	if err != nil {
		s.fail(ctx, job, err)
		return
	}
	addons, err := job.AddonIDs()
	if err != nil {
		s.fail(ctx, job, err)
		return
	}

	// Cancellation is cooperative: the flag is checked between steps, never
	// mid-call, so a commit that has started is not rolled back.
	if s.cancelled(job) {
		s.abandon(job)
		return
	}

	session, err := s.sandbox.SessionForJob(ctx, job.ID, job.Repo)
	if err != nil {
		s.fail(ctx, job, err)
		return
	}

	if s.cancelled(job) {
		s.abandon(job)
		return
	}

	result, err := s.sandbox.ApplyIntegrations(session.ID, integrations, addons, nil)
	if err != nil {
		s.fail(ctx, job, err)
		return
	}
	for _, c := range result.Conflicts {
		log.Printf("worker: job %s: %s overwritten by %s (was %s)", job.ID, c.Path, c.OverwrittenBy, c.Previous)
	}

	if s.cancelled(job) {
		s.abandon(job)
		return
	}

	branch := githost.BranchName(job.ID)
	err = s.retryStep(ctx, "create branch", func() error {
		return s.git.CreateBranch(ctx, job.Repo, branch)
	})
	if err != nil {
		s.fail(ctx, job, err)
		return
	}

	if s.cancelled(job) {
		s.abandon(job)
		return
	}

	var committed int
	err = s.retryStep(ctx, "commit", func() error {
		var commitErr error
		committed, commitErr = s.sandbox.Commit(ctx, session.ID, branch, commitMessage(integrations))
		return commitErr
	})
	if err != nil {
		s.fail(ctx, job, err)
		return
	}

	if s.cancelled(job) {
		// The commit already landed; finishing the PR is skipped but the
		// branch stays on the host.
		s.abandon(job)
		return
	}

	var prURL string
	err = s.retryStep(ctx, "create pull request", func() error {
		var prErr error
		prURL, prErr = s.git.CreatePullRequest(ctx, job.Repo, branch, prTitle(integrations), prBody(job, integrations, addons))
		return prErr
	})
	if err != nil {
		s.fail(ctx, job, err)
		return
	}

	if err := s.store.Complete(job.ID, branch, prURL, committed); err != nil {
		log.Printf("worker: complete %s: %v", job.ID, err)
		return
	}
	s.teardown(job.ID)
	s.announce(ctx, job, models.StatusCompleted, prURL, "")
	fmt.Fprintf(s.out, "Job %s completed: %s\n", job.ID, prURL)
}

// retryStep runs fn, retrying only rate-limit and host-side errors with
// exponential backoff up to the attempt budget. Every other error class
// fails the step on first occurrence.
func (s *Scheduler) retryStep(ctx context.Context, name string, fn func() error) error {
	backoff := s.backoff
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) {
			return err
		}
		if attempt == s.maxAttempts {
			break
		}
		log.Printf("worker: %s attempt %d/%d: %v", name, attempt, s.maxAttempts, err)
		if !sleepWithContext(ctx, backoff) {
			return lastErr
		}
		backoff *= 2
	}
	return fmt.Errorf("worker: %s failed after %d attempts: %w", name, s.maxAttempts, lastErr)
}

func retryable(err error) bool {
	return errors.Is(err, githost.ErrRateLimited) || errors.Is(err, githost.ErrRemoteError)
}

// cancelled checks the job's cooperative cancellation flag.
func (s *Scheduler) cancelled(job *models.Job) bool {
	requested, err := s.store.CancelRequested(job.ID)
	if err != nil {
		log.Printf("worker: cancel check %s: %v", job.ID, err)
		return false
	}
	return requested
}

// abandon records a cooperative cancellation and tears the session down.
func (s *Scheduler) abandon(job *models.Job) {
	if err := s.store.MarkCancelled(job.ID); err != nil {
		log.Printf("worker: cancel %s: %v", job.ID, err)
		return
	}
	s.teardown(job.ID)
	fmt.Fprintf(s.out, "Job %s cancelled\n", job.ID)
}

// fail records the terminal error, then best-effort enriches and announces
// it. Neither enrichment nor notification can change the job's status.
func (s *Scheduler) fail(ctx context.Context, job *models.Job, cause error) {
	reason := cause.Error()
	if err := s.store.Fail(job.ID, reason); err != nil {
		log.Printf("worker: fail %s: %v", job.ID, err)
		return
	}
	s.teardown(job.ID)

	if s.explainer != nil {
		explainCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if text, err := s.explainer.Explain(explainCtx, reason); err == nil && text != "" {
			if err := s.store.SetExplanation(job.ID, text); err != nil {
				log.Printf("worker: explanation %s: %v", job.ID, err)
			}
		} else if err != nil {
			log.Printf("worker: explain %s: %v", job.ID, err)
		}
		cancel()
	}

	s.announce(ctx, job, models.StatusError, "", reason)
	fmt.Fprintf(s.out, "Job %s failed: %s\n", job.ID, reason)
}

func (s *Scheduler) teardown(jobID string) {
	if err := s.sandbox.DeleteSessionForJob(jobID); err != nil {
		log.Printf("worker: teardown %s: %v", jobID, err)
	}
}

func (s *Scheduler) announce(ctx context.Context, job *models.Job, status, prURL, reason string) {
	if s.notifier == nil {
		return
	}
	integrations, _ := job.IntegrationIDs()
	ev := notify.Event{
		JobID:        job.ID,
		Repo:         job.Repo,
		Status:       status,
		PRURL:        prURL,
		Error:        reason,
		Integrations: integrations,
	}
	if err := s.notifier.Announce(ctx, ev); err != nil {
		log.Printf("worker: announce %s: %v", job.ID, err)
	}
}

func commitMessage(integrations []string) string {
	return "Add " + strings.Join(integrations, ", ") + " integration files"
}

func prTitle(integrations []string) string {
	return "Add integrations: " + strings.Join(integrations, ", ")
}

func prBody(job *models.Job, integrations, addons []string) string {
	var b strings.Builder
	b.WriteString("This pull request adds the following integrations:\n\n")
	for _, id := range integrations {
		b.WriteString("- " + id + "\n")
	}
	if len(addons) > 0 {
		b.WriteString("\nAddons:\n\n")
		for _, id := range addons {
			b.WriteString("- " + id + "\n")
		}
	}
	b.WriteString("\nGenerated by Bolton for " + job.Repo + " (job " + job.ID + ").\n")
	return b.String()
}
