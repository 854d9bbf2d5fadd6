package refhost

import (
	"context"
	stderrors "errors"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var ErrLoopClosed = stderrors.New("refhost: event loop closed")

// loop runs submitted tasks one at a time on a dedicated goroutine.
type loop struct {
	queue    []func()
	wake     chan struct{}
	done     chan struct{}
	mu       sync.Mutex
	gid      atomic.Uint64
	stopOnce sync.Once
	closed   bool
}

func newLoop() *loop {
	l := &loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	started := make(chan struct{})
	go l.run(started)
	<-started
	return l
}

func (l *loop) run(started chan<- struct{}) {
	l.gid.Store(getGoroutineID())
	close(started)
	defer close(l.done)

	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			if l.closed {
				l.mu.Unlock()
				return
			}
			l.mu.Unlock()
			<-l.wake
			continue
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, task := range batch {
			l.safeExecute(task)
		}
	}
}

// submit enqueues task. Tasks submitted before stop still run.
func (l *loop) submit(task func()) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoopClosed
	}
	l.queue = append(l.queue, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// stop rejects new tasks, drains queued ones and waits for the goroutine.
// Calling stop from the loop goroutine only marks it closed.
func (l *loop) stop() {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		select {
		case l.wake <- struct{}{}:
		default:
		}
	})
	if !l.onLoop() {
		<-l.done
	}
}

func (l *loop) onLoop() bool {
	return getGoroutineID() == l.gid.Load()
}

// call runs fn on the loop and waits for it. On the loop it runs inline.
func (l *loop) call(ctx context.Context, fn func()) error {
	if l.onLoop() {
		fn()
		return nil
	}
	finished := make(chan struct{})
	if err := l.submit(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *loop) safeExecute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			Logger().Error("event loop task panicked", zap.Any("panic", r))
		}
	}()
	task()
}

func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// Stack trace starts with "goroutine NNN ["
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

// tracker counts outstanding asynchronous activity.
type tracker struct {
	idle chan struct{}
	mu   sync.Mutex
	n    int
}

func (t *tracker) add() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n == 0 || t.idle == nil {
		t.idle = make(chan struct{})
	}
	t.n++
}

func (t *tracker) done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n == 0 {
		return
	}
	t.n--
	if t.n == 0 {
		close(t.idle)
	}
}

func (t *tracker) pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

func (t *tracker) wait(ctx context.Context) error {
	t.mu.Lock()
	if t.n == 0 {
		t.mu.Unlock()
		return nil
	}
	ch := t.idle
	t.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
