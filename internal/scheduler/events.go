package scheduler

import (
	"context"

	"github.com/dmitrijs2005/fedisync/internal/logging"
	"github.com/dmitrijs2005/fedisync/internal/models"
)

// EventType classifies loop notifications.
type EventType string

const (
	EventPage      EventType = "page"
	EventError     EventType = "error"
	EventCompleted EventType = "completed"
	EventRestarted EventType = "restarted"
	EventCancelled EventType = "cancelled"
)

// Event is delivered to the observer on the loop's goroutine.
type Event struct {
	Type      EventType
	Direction models.Direction
	Domain    string
	Path      string
	Cursor    string
	Page      *models.PageResult
	Pages     int
	Err       error
}

// Observer receives loop events. It must not block for long: the next tick
// waits for it.
type Observer func(Event)

// LogObserver reports events through log.
func LogObserver(log logging.Logger) Observer {
	return func(ev Event) {
		ctx := context.Background()
		args := []any{"direction", ev.Direction, "domain", ev.Domain, "path", ev.Path}
		switch ev.Type {
		case EventPage:
			log.Info(ctx, "page processed", append(args,
				"page", ev.Pages, "items", ev.Page.Fetched, "written", ev.Page.Written, "skipped", ev.Page.Skipped)...)
		case EventError:
			log.Warn(ctx, "tick failed", append(args, "cursor", ev.Cursor, "error", ev.Err)...)
		case EventCompleted:
			log.Info(ctx, "finished archiving", append(args, "pages", ev.Pages)...)
		case EventRestarted:
			log.Debug(ctx, "caught up, restarting from the newest page", args...)
		case EventCancelled:
			log.Info(ctx, "loop cancelled", append(args, "pages", ev.Pages)...)
		}
	}
}
