// Package app wires the store, the Mastodon transport and the sync loops
// together and dispatches the command-line commands.
package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/fedisync/internal/common"
	"github.com/dmitrijs2005/fedisync/internal/config"
	"github.com/dmitrijs2005/fedisync/internal/crawler"
	"github.com/dmitrijs2005/fedisync/internal/httpapi"
	"github.com/dmitrijs2005/fedisync/internal/logging"
	"github.com/dmitrijs2005/fedisync/internal/mastodon"
	"github.com/dmitrijs2005/fedisync/internal/models"
	"github.com/dmitrijs2005/fedisync/internal/repositories/documents"
	"github.com/dmitrijs2005/fedisync/internal/repositories/repomanager"
	"github.com/dmitrijs2005/fedisync/internal/scheduler"
	"github.com/dmitrijs2005/fedisync/internal/services"
)

// path of the home timeline, also the target of streamed statuses
const homePath = "timelines/home"

var errStreamClosed = errors.New("stream closed by server")

type App struct {
	config *config.Config
	logger logging.Logger
	repo   documents.Repository

	client    *mastodon.Client
	docs      services.DocumentService
	creds     services.CredentialService
	accounts  services.AccountService
	cursors   services.CursorService
	queries   services.QueryService
	crawler   *crawler.Crawler
	scheduler *scheduler.Scheduler
	logEvent  scheduler.Observer
	rejected  chan error

	in       *bufio.Reader
	out      io.Writer
	terminal bool
}

// NewApp opens the store named by c.DatabaseDSN and builds an App talking
// to the real instance over HTTP.
func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.New(c.LogLevel, c.LogFormat, os.Stderr)

	repo, err := repomanager.Open(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	client := mastodon.NewClient(
		mastodon.WithTimeout(c.HTTPTimeout),
		mastodon.WithLogger(logger),
	)

	a := New(c, repo, client, logger, os.Stdin, os.Stdout)
	a.terminal = stdinIsTerminal()
	return a, nil
}

// New assembles an App from an open repository and an unauthenticated
// client. Prompts read from in and results are written to out.
func New(c *config.Config, repo documents.Repository, client *mastodon.Client, logger logging.Logger, in io.Reader, out io.Writer) *App {
	docs := services.NewDocumentService(repo, logger)
	creds := services.NewCredentialService(docs, client, logger)
	authed := client.WithHeaders(creds)
	accounts := services.NewAccountService(docs, authed)
	cursors := services.NewCursorService(docs)
	cr := crawler.New(authed, docs, accounts, logger)

	a := &App{
		config:   c,
		logger:   logger,
		repo:     repo,
		client:   authed,
		docs:     docs,
		creds:    creds,
		accounts: accounts,
		cursors:  cursors,
		queries:  services.NewQueryService(repo, accounts),
		crawler:  cr,
		logEvent: scheduler.LogObserver(logger),
		rejected: make(chan error, 1),
		in:       bufio.NewReader(in),
		out:      out,
	}
	a.scheduler = scheduler.New(cr,
		scheduler.WithIntervals(c.ArchiveInterval, c.FollowInterval),
		scheduler.WithCursorStore(cursors),
		scheduler.WithObserver(a.observe),
		scheduler.WithLogger(logger),
	)
	return a
}

// Close releases the store.
func (a *App) Close() error {
	return a.repo.Close()
}

func (a *App) initSignalHandler(ctx context.Context, cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		select {
		case <-sigs:
			cancelFunc()
		case <-ctx.Done():
		}
		signal.Stop(sigs)
	}()
}

// Run executes the command named by args[0]; no arguments means "sync".
// It returns when the command finishes or on SIGINT, SIGTERM or SIGQUIT.
func (a *App) Run(ctx context.Context, args []string) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	a.initSignalHandler(ctx, cancelFunc)

	cmd := "sync"
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	a.logger.Debug(ctx, "running command", "command", cmd, "domain", a.config.Domain)

	err := a.dispatch(ctx, cmd, args)
	if errors.Is(err, common.ErrUnauthenticated) && cmd != "auth" && cmd != "logout" {
		// the stored token was rejected; drop it so "auth" asks for a new one
		if ferr := a.creds.Forget(context.WithoutCancel(ctx), a.config.Domain); ferr != nil {
			a.logger.Error(ctx, "forget rejected token", "domain", a.config.Domain, "error", ferr)
		}
		return fmt.Errorf("%w; run the auth command to authorize again", err)
	}
	return err
}

func (a *App) dispatch(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "sync", "archive", "follow", "mutuals", "post":
		if err := a.authenticate(ctx, false); err != nil {
			return err
		}
	}

	switch cmd {
	case "auth":
		return a.authenticate(ctx, true)
	case "sync":
		return a.sync(ctx)
	case "archive":
		return a.archive(ctx, a.config.Paths)
	case "follow":
		return a.follow(ctx)
	case "mutuals":
		return a.mutuals(ctx)
	case "post":
		return a.post(ctx, args)
	case "serve":
		return a.serve(ctx)
	case "logout":
		return a.logout(ctx)
	default:
		return fmt.Errorf("%w: %q", common.ErrUnknownCommand, cmd)
	}
}

// authenticate makes sure an access token is stored for the configured
// domain, walking the user through the out-of-band OAuth flow if not.
func (a *App) authenticate(ctx context.Context, announce bool) error {
	domain := a.config.Domain

	already, err := a.creds.Access(ctx, domain, "", a.config.Scopes)
	if err == nil && already {
		if announce {
			fmt.Fprintf(a.out, "Already authenticated on %s.\n", domain)
		}
		return nil
	}
	if err != nil && !errors.Is(err, common.ErrUnauthenticated) {
		return err
	}

	authURL, err := a.creds.Register(ctx, domain, a.config.AppName, a.config.Scopes)
	if err != nil {
		return fmt.Errorf("register app on %s: %w", domain, err)
	}
	fmt.Fprintf(a.out, "Go here to get the code:\n%s\n", authURL)

	code, err := a.readCode()
	if err != nil {
		return err
	}
	if _, err := a.creds.Access(ctx, domain, code, a.config.Scopes); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Authenticated on %s.\n", domain)
	return nil
}

func (a *App) readCode() (string, error) {
	if a.terminal {
		return GetSecret("Authorization code", a.out)
	}
	return GetSimpleText(a.in, "Authorization code", a.out)
}

// sync follows and archives every configured path until interrupted,
// optionally ingesting the user stream as well.
func (a *App) sync(ctx context.Context) error {
	var extra []func(context.Context) error
	if a.config.Stream {
		extra = append(extra, a.stream)
	}
	_, err := a.runLoops(ctx, func(ctx context.Context) []*scheduler.Handle {
		var handles []*scheduler.Handle
		for _, p := range a.config.Paths {
			handles = append(handles,
				a.scheduler.Follow(ctx, a.config.Domain, p),
				a.scheduler.Archive(ctx, a.config.Domain, p),
			)
		}
		return handles
	}, extra...)
	return err
}

// archive walks each path back to its oldest page and returns once every
// walk has completed or the context is cancelled.
func (a *App) archive(ctx context.Context, paths []string) error {
	handles, err := a.runLoops(ctx, func(ctx context.Context) []*scheduler.Handle {
		handles := make([]*scheduler.Handle, 0, len(paths))
		for _, p := range paths {
			handles = append(handles, a.scheduler.Archive(ctx, a.config.Domain, p))
		}
		return handles
	})
	if err != nil {
		return err
	}

	for i, h := range handles {
		fmt.Fprintf(a.out, "%s: %s after %d pages\n", crawler.NormalizePath(paths[i]), h.Outcome(), h.Pages())
	}
	return nil
}

func (a *App) follow(ctx context.Context) error {
	_, err := a.runLoops(ctx, func(ctx context.Context) []*scheduler.Handle {
		handles := make([]*scheduler.Handle, 0, len(a.config.Paths))
		for _, p := range a.config.Paths {
			handles = append(handles, a.scheduler.Follow(ctx, a.config.Domain, p))
		}
		return handles
	})
	return err
}

// runLoops starts loops under one errgroup and waits until all of them have
// stopped. A token rejected during any tick cancels the group and is
// returned.
func (a *App) runLoops(ctx context.Context, start func(context.Context) []*scheduler.Handle, extra ...func(context.Context) error) ([]*scheduler.Handle, error) {
	select {
	case <-a.rejected:
	default:
	}

	g, gctx := errgroup.WithContext(ctx)
	handles := start(gctx)

	stopped := make(chan struct{})
	g.Go(func() error {
		defer close(stopped)
		for _, h := range handles {
			<-h.Done()
		}
		return nil
	})
	g.Go(func() error {
		select {
		case err := <-a.rejected:
			return err
		case <-stopped:
			return nil
		}
	})
	for _, fn := range extra {
		g.Go(func() error { return fn(gctx) })
	}
	return handles, g.Wait()
}

// observe logs loop events and hands a rejected token to runLoops.
func (a *App) observe(ev scheduler.Event) {
	a.logEvent(ev)
	if ev.Type != scheduler.EventError || !errors.Is(ev.Err, common.ErrUnauthenticated) {
		return
	}
	select {
	case a.rejected <- ev.Err:
	default:
	}
}

// stream ingests the user stream into the home timeline, reconnecting with
// backoff until the context ends or the token is rejected.
func (a *App) stream(ctx context.Context) error {
	handler := a.crawler.StreamHandler(a.config.Domain, homePath)
	backoff := retry.WithCappedDuration(time.Minute, retry.NewExponential(time.Second))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := a.client.Stream(ctx, a.config.Domain, "user", handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, common.ErrUnauthenticated) {
			return err
		}
		if err == nil {
			err = errStreamClosed
		}
		a.logger.Warn(ctx, "stream disconnected, reconnecting", "domain", a.config.Domain, "error", err)
		return retry.RetryableError(err)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// mutuals archives the account's followers and following collections, then
// prints the accounts present in both.
func (a *App) mutuals(ctx context.Context) error {
	account, err := a.accounts.GetAccount(ctx, a.config.Domain)
	if err != nil {
		return err
	}
	id, ok := account.Item.ID()
	if !ok {
		return fmt.Errorf("%w: account of %s has no id", common.ErrInvalidDocument, a.config.Domain)
	}

	if err := a.archive(ctx, []string{models.FollowersPath(id), models.FollowingPath(id)}); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return nil
	}

	mutuals, err := a.queries.Mutuals(ctx, a.config.Domain)
	if err != nil {
		return err
	}
	for _, m := range mutuals {
		fmt.Fprintf(a.out, "%s\t%s\n", m.String("acct"), m.String("url"))
	}
	fmt.Fprintf(a.out, "%d mutuals\n", len(mutuals))
	return nil
}

func (a *App) post(ctx context.Context, args []string) error {
	if len(args) == 0 || args[0] == "" {
		return fmt.Errorf("post: status text required")
	}
	status, err := a.client.PostStatus(ctx, a.config.Domain, args[0], mastodon.StatusOptions{})
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, status.String("url"))
	return nil
}

func (a *App) serve(ctx context.Context) error {
	return httpapi.New(a.docs, a.queries, a.logger).ListenAndServe(ctx, a.config.ListenAddr)
}

func (a *App) logout(ctx context.Context) error {
	if err := a.creds.Logout(ctx, a.config.Domain); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Logged out of %s.\n", a.config.Domain)
	return nil
}
