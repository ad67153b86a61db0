// Package notify announces job outcomes to chat platforms. Delivery is
// best-effort; a failed announcement never affects the job.
package notify

import (
	"context"
	"fmt"

	"github.com/boltonhq/bolton/internal/models"
)

// Event describes one job outcome worth announcing.
type Event struct {
	JobID        string
	Repo         string
	Status       string
	PRURL        string
	Error        string
	Integrations []string
}

// Notifier delivers an event to one platform.
type Notifier interface {
	Announce(ctx context.Context, ev Event) error
}

// Multi fans one event out to several notifiers, collecting the first error.
type Multi []Notifier

// Announce delivers the event to every notifier. All notifiers are tried
// even when one fails.
func (m Multi) Announce(ctx context.Context, ev Event) error {
	var firstErr error
	for _, n := range m {
		if err := n.Announce(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Title renders the event headline.
func Title(ev Event) string {
	switch ev.Status {
	case models.StatusCompleted:
		return fmt.Sprintf("Integrations ready for %s", ev.Repo)
	case models.StatusError:
		return fmt.Sprintf("Integration job failed for %s", ev.Repo)
	case models.StatusCancelled:
		return fmt.Sprintf("Integration job cancelled for %s", ev.Repo)
	default:
		return fmt.Sprintf("Integration job %s for %s", ev.Status, ev.Repo)
	}
}

// Body renders the event detail text.
func Body(ev Event) string {
	switch ev.Status {
	case models.StatusCompleted:
		return fmt.Sprintf("Job %s opened %s", ev.JobID, ev.PRURL)
	case models.StatusError:
		return fmt.Sprintf("Job %s: %s", ev.JobID, ev.Error)
	default:
		return "Job " + ev.JobID
	}
}

// Color returns the sidebar color hint for the event.
func Color(ev Event) string {
	switch ev.Status {
	case models.StatusCompleted:
		return "#36a64f"
	case models.StatusError:
		return "#d00000"
	default:
		return "#888888"
	}
}
