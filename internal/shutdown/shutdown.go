package shutdown

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrSignal is returned from Wait when the group stopped because of an OS signal
var ErrSignal = errors.New("received signal")

// CloseFunc releases a resource during shutdown
type CloseFunc func(ctx context.Context) error

// Group runs long-lived tasks and closes resources once any of them
// finishes, the parent context ends or the process receives a signal.
type Group struct {
	mu      sync.Mutex
	ctx     context.Context
	group   *errgroup.Group
	closers []CloseFunc
	timeout time.Duration
	signals chan os.Signal
}

// New creates a Group. Closers get at most timeout to finish.
func New(parent context.Context, timeout time.Duration) *Group {
	group, ctx := errgroup.WithContext(parent)
	g := &Group{
		ctx:     ctx,
		group:   group,
		timeout: timeout,
		signals: make(chan os.Signal, 1),
	}
	signal.Notify(g.signals, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)

	g.group.Go(g.listen)
	g.group.Go(g.closeAll)

	return g
}

// Context is cancelled when shutdown starts
func (g *Group) Context() context.Context {
	return g.ctx
}

// Go runs task in the group. A task returning, cleanly or not, starts shutdown.
func (g *Group) Go(task func(ctx context.Context) error) {
	g.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in task: %v", r)
				slog.Error("Task panicked", "error", err)
			}
		}()

		if err := task(g.ctx); err != nil {
			return err
		}
		return context.Canceled
	})
}

// OnShutdown registers f to run when shutdown starts, in registration order
func (g *Group) OnShutdown(f CloseFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closers = append(g.closers, f)
}

// Wait blocks until every task and closer has returned. A signal or a
// task finishing cleanly is a normal shutdown and yields nil.
func (g *Group) Wait() error {
	err := g.group.Wait()
	signal.Stop(g.signals)
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrSignal) {
		return nil
	}
	return err
}

func (g *Group) listen() error {
	select {
	case <-g.ctx.Done():
		return nil
	case sig := <-g.signals:
		slog.Info("Received signal", "signal", sig.String())
		return fmt.Errorf("%w: %s", ErrSignal, sig)
	}
}

func (g *Group) closeAll() error {
	<-g.ctx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	g.mu.Lock()
	closers := append([]CloseFunc(nil), g.closers...)
	g.mu.Unlock()

	var errs []error
	for _, closer := range closers {
		if err := closer(ctx); err != nil {
			slog.Error("Failed to close resource", "error", err)
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("errors closing: %w", err)
	}
	return nil
}
