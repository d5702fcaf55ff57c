package jamfreport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	pkgerrors "github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// errPanicked is wrapped by errors produced from a recovered panic.
var errPanicked = errors.New("panicked")

// runRecovered calls fn and turns a panic into an error. The stack goes
// to stderr rather than the structured logger, since the logger itself
// may be what panicked.
func runRecovered(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			_, _ = fmt.Fprintf(os.Stderr, "WARN: %s panicked: %v\n%s\n", name, r, debug.Stack())
			err = pkgerrors.Wrapf(errPanicked, "%s: %v", name, r)
		}
	}()
	return fn()
}

// SafeGroup is an errgroup.Group for long-running workers such as the
// HTTP front end.
type SafeGroup struct {
	*errgroup.Group
	// ctx is canceled on parent cancellation or the first worker error.
	ctx context.Context
	// parent is the caller context, usually from signal.NotifyContext.
	parent context.Context
}

// NewSafeGroup creates a SafeGroup backed by errgroup.WithContext.
func NewSafeGroup(ctx context.Context) *SafeGroup {
	if ctx == nil {
		ctx = context.Background()
	}
	group, groupCtx := errgroup.WithContext(ctx)
	return &SafeGroup{Group: group, ctx: groupCtx, parent: ctx}
}

// Context returns the group context shared by all workers.
func (sg *SafeGroup) Context() context.Context {
	return sg.ctx
}

// GoSafe runs fn in the group. A panic restarts fn after an exponential
// backoff; a returned error cancels the group as with errgroup.
func (sg *SafeGroup) GoSafe(name string, fn func(context.Context) error) {
	if sg == nil || sg.Group == nil || fn == nil {
		return
	}
	sg.Group.Go(func() error {
		backoff := 200 * time.Millisecond
		for {
			if sg.ctx.Err() != nil {
				return nil
			}
			err := runRecovered(name, func() error { return fn(sg.ctx) })
			if !errors.Is(err, errPanicked) {
				return err
			}
			select {
			case <-sg.ctx.Done():
				return nil
			case <-time.After(withJitter(backoff)):
			}
			backoff = nextBackoff(backoff, 30*time.Second)
		}
	})
}

// WaitOrInterrupt waits for all workers. When the parent context is done
// first, it waits at most gracePeriod more and then returns parent.Err().
func (sg *SafeGroup) WaitOrInterrupt(gracePeriod time.Duration) error {
	if sg == nil || sg.Group == nil {
		return nil
	}
	waitCh := make(chan error, 1)
	go func() {
		waitCh <- sg.Group.Wait()
	}()

	select {
	case err := <-waitCh:
		return normalizeInterruptError(sg.parent, err)
	case <-sg.parent.Done():
		if gracePeriod <= 0 {
			return sg.parent.Err()
		}
		select {
		case err := <-waitCh:
			return normalizeInterruptError(sg.parent, err)
		case <-time.After(gracePeriod):
			return sg.parent.Err()
		}
	}
}

func normalizeInterruptError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return ctx.Err()
	}
	return err
}

// withJitter adds up to d/2 of deterministic jitter without math/rand.
func withJitter(d time.Duration) time.Duration {
	if half := d / 2; half > 0 {
		return d + time.Duration(time.Now().UnixNano()%int64(half))
	}
	return d
}

func nextBackoff(d, limit time.Duration) time.Duration {
	d *= 2
	if d > limit {
		return limit
	}
	return d
}
