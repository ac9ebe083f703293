// Package scheduler runs the polling loops that walk Mastodon collections:
// archive loops follow "next" cursors back through history until it is
// exhausted, follow loops follow "prev" cursors toward new items forever.
//
// Each loop runs its ticks one at a time on its own goroutine, so ticks of
// a loop never overlap. Fetches are coalesced across loops through a
// singleflight group keyed by (domain, path, cursor). A loop's position is
// saved after every page, so a restarted process resumes where it stopped.
package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/dmitrijs2005/fedisync/internal/logging"
	"github.com/dmitrijs2005/fedisync/internal/models"
	"golang.org/x/sync/singleflight"
)

// Default tick intervals.
const (
	DefaultArchiveInterval = 5 * time.Second
	DefaultFollowInterval  = 30 * time.Second
)

// PageFetcher fetches and ingests one page. *crawler.Crawler satisfies it.
type PageFetcher interface {
	FetchPage(ctx context.Context, domain, path, cursor string) (models.PageResult, error)
}

// CursorStore persists loop positions. services.CursorService satisfies it.
type CursorStore interface {
	Load(ctx context.Context, domain string, dir models.Direction, path string) (string, error)
	Save(ctx context.Context, domain string, dir models.Direction, path, cursor string) error
	Clear(ctx context.Context, domain string, dir models.Direction, path string) error
}

// Scheduler starts archive and follow loops.
type Scheduler struct {
	fetcher         PageFetcher
	cursors         CursorStore
	observer        Observer
	log             logging.Logger
	archiveInterval time.Duration
	followInterval  time.Duration

	group singleflight.Group
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithIntervals sets the tick intervals; non-positive values keep the
// defaults.
func WithIntervals(archive, follow time.Duration) Option {
	return func(s *Scheduler) {
		if archive > 0 {
			s.archiveInterval = archive
		}
		if follow > 0 {
			s.followInterval = follow
		}
	}
}

// WithCursorStore enables cursor persistence.
func WithCursorStore(c CursorStore) Option {
	return func(s *Scheduler) { s.cursors = c }
}

// WithObserver replaces the default logging observer.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

// WithLogger sets the logger used by the default observer.
func WithLogger(l logging.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// New constructs a Scheduler.
func New(fetcher PageFetcher, opts ...Option) *Scheduler {
	s := &Scheduler{
		fetcher:         fetcher,
		log:             logging.Nop(),
		archiveInterval: DefaultArchiveInterval,
		followInterval:  DefaultFollowInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.observer == nil {
		s.observer = LogObserver(s.log)
	}
	return s
}

// Archive walks path on domain from the newest page back to the oldest,
// one page per tick, and completes when no "next" cursor remains.
func (s *Scheduler) Archive(ctx context.Context, domain, path string) *Handle {
	return s.start(ctx, models.DirectionArchive, domain, path, s.archiveInterval)
}

// Follow walks path on domain toward newer items, one page per tick. When no
// "prev" cursor remains it starts over from the newest page. It never
// completes; stop it with Handle.Cancel or by cancelling ctx.
func (s *Scheduler) Follow(ctx context.Context, domain, path string) *Handle {
	return s.start(ctx, models.DirectionFollow, domain, path, s.followInterval)
}

func (s *Scheduler) start(ctx context.Context, dir models.Direction, domain, path string, interval time.Duration) *Handle {
	h := newHandle()
	l := &loop{
		s:        s,
		h:        h,
		dir:      dir,
		domain:   domain,
		path:     strings.Trim(path, "/"),
		interval: interval,
	}
	go l.run(ctx)
	return h
}

type loop struct {
	s        *Scheduler
	h        *Handle
	dir      models.Direction
	domain   string
	path     string
	interval time.Duration
	cursor   string
}

func (l *loop) emit(ev Event) {
	ev.Direction = l.dir
	ev.Domain = l.domain
	ev.Path = l.path
	ev.Pages = l.h.Pages()
	l.s.observer(ev)
}

func (l *loop) run(ctx context.Context) {
	l.resume(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		if l.h.stopped() || ctx.Err() != nil {
			l.cancelled()
			return
		}

		if l.tick(ctx) {
			l.h.finish(OutcomeCompleted)
			l.emit(Event{Type: EventCompleted})
			return
		}

		select {
		case <-l.h.stop:
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

func (l *loop) cancelled() {
	l.h.finish(OutcomeCancelled)
	l.emit(Event{Type: EventCancelled, Cursor: l.cursor})
}

func (l *loop) resume(ctx context.Context) {
	if l.s.cursors == nil {
		return
	}
	cursor, err := l.s.cursors.Load(ctx, l.domain, l.dir, l.path)
	if err != nil {
		l.emit(Event{Type: EventError, Err: err})
		return
	}
	l.cursor = cursor
}

// tick processes one page and reports whether the loop is finished. A
// failed tick leaves the cursor unchanged, so the next tick retries it.
func (l *loop) tick(ctx context.Context) bool {
	res, err := l.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		l.emit(Event{Type: EventError, Cursor: l.cursor, Err: err})
		return false
	}

	l.h.addPage()
	l.emit(Event{Type: EventPage, Cursor: l.cursor, Page: &res})

	switch l.dir {
	case models.DirectionArchive:
		if res.Next == "" {
			l.persist(ctx, "")
			return true
		}
		l.persist(ctx, res.Next)
	case models.DirectionFollow:
		if res.Prev == "" {
			l.persist(ctx, "")
			l.emit(Event{Type: EventRestarted})
			return false
		}
		l.persist(ctx, res.Prev)
	}
	return false
}

func (l *loop) fetch(ctx context.Context) (models.PageResult, error) {
	key := l.domain + "|" + l.path + "|" + l.cursor
	cursor := l.cursor
	v, err, _ := l.s.group.Do(key, func() (any, error) {
		return l.s.fetcher.FetchPage(ctx, l.domain, l.path, cursor)
	})
	if err != nil {
		return models.PageResult{}, err
	}
	return v.(models.PageResult), nil
}

func (l *loop) persist(ctx context.Context, cursor string) {
	l.cursor = cursor
	if l.s.cursors == nil {
		return
	}
	var err error
	if cursor == "" {
		err = l.s.cursors.Clear(ctx, l.domain, l.dir, l.path)
	} else {
		err = l.s.cursors.Save(ctx, l.domain, l.dir, l.path, cursor)
	}
	if err != nil {
		l.emit(Event{Type: EventError, Cursor: cursor, Err: err})
	}
}
