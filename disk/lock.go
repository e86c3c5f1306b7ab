package disk

import (
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// LockConflict is returned when a TrackingLock is held incompatibly. It
// names the contexts that hold it.
type LockConflict[C comparable] struct {
	Write   bool // the refused request was for write access
	Holders []C
}

func (e *LockConflict[C]) Error() string {
	kind := "read"
	if e.Write {
		kind = "write"
	}
	return fmt.Sprintf("disk: %s lock refused, held by %v", kind, e.Holders)
}

// Holder is one current owner of a TrackingLock.
type Holder[C comparable] struct {
	Context C
	Write   bool
}

// TrackingLock is a non-blocking reader/writer lock that remembers who
// holds it. C identifies the acquiring context, for example a request ID.
type TrackingLock[T any, C comparable] struct {
	mu      sync.RWMutex
	state   sync.Mutex
	value   T
	writer  *C
	readers []C
	handles atomic.Int32
}

func NewTrackingLock[T any, C comparable](value T) *TrackingLock[T, C] {
	l := &TrackingLock[T, C]{value: value}
	l.handles.Store(1)
	return l
}

// Clone returns a new handle to the same lock.
func (l *TrackingLock[T, C]) Clone() *TrackingLock[T, C] {
	l.handles.Add(1)
	return l
}

// Drop gives up a handle.
func (l *TrackingLock[T, C]) Drop() {
	l.handles.Add(-1)
}

// StrongCount returns the number of live handles.
func (l *TrackingLock[T, C]) StrongCount() int {
	return int(l.handles.Load())
}

// Holders returns a snapshot of the current owners.
func (l *TrackingLock[T, C]) Holders() []Holder[C] {
	l.state.Lock()
	defer l.state.Unlock()
	var out []Holder[C]
	if l.writer != nil {
		out = append(out, Holder[C]{Context: *l.writer, Write: true})
	}
	for _, r := range l.readers {
		out = append(out, Holder[C]{Context: r})
	}
	return out
}

// Read takes shared access, or reports the writer that holds the lock.
func (l *TrackingLock[T, C]) Read(ctx C) (*ReadGuard[T, C], error) {
	l.state.Lock()
	defer l.state.Unlock()
	if l.writer != nil {
		err := &LockConflict[C]{Holders: []C{*l.writer}}
		log.Errorf("%v: %v", ctx, err)
		return nil, err
	}
	if !l.mu.TryRLock() {
		panic("disk: lock is free by tracking state but cannot be read-locked")
	}
	l.readers = append(l.readers, ctx)
	return &ReadGuard[T, C]{l: l, ctx: ctx}, nil
}

// Write takes exclusive access, or reports every current holder.
func (l *TrackingLock[T, C]) Write(ctx C) (*WriteGuard[T, C], error) {
	l.state.Lock()
	defer l.state.Unlock()
	var holders []C
	if l.writer != nil {
		holders = append(holders, *l.writer)
	}
	holders = append(holders, l.readers...)
	if len(holders) > 0 {
		err := &LockConflict[C]{Write: true, Holders: holders}
		log.Errorf("%v: %v", ctx, err)
		return nil, err
	}
	if !l.mu.TryLock() {
		panic("disk: lock is free by tracking state but cannot be write-locked")
	}
	l.writer = &ctx
	return &WriteGuard[T, C]{l: l}, nil
}

func (l *TrackingLock[T, C]) releaseRead(ctx C) {
	l.state.Lock()
	defer l.state.Unlock()
	for i, r := range l.readers {
		if r == ctx {
			l.readers = append(l.readers[:i], l.readers[i+1:]...)
			break
		}
	}
	l.mu.RUnlock()
}

func (l *TrackingLock[T, C]) releaseWrite() {
	l.state.Lock()
	defer l.state.Unlock()
	l.writer = nil
	l.mu.Unlock()
}

// ReadGuard is shared access to the value.
type ReadGuard[T any, C comparable] struct {
	l    *TrackingLock[T, C]
	ctx  C
	once sync.Once
}

func (g *ReadGuard[T, C]) Value() T { return g.l.value }

// Release gives up the guard. Further calls do nothing.
func (g *ReadGuard[T, C]) Release() {
	g.once.Do(func() { g.l.releaseRead(g.ctx) })
}

// WriteGuard is exclusive access to the value.
type WriteGuard[T any, C comparable] struct {
	l    *TrackingLock[T, C]
	once sync.Once
}

func (g *WriteGuard[T, C]) Value() T { return g.l.value }
func (g *WriteGuard[T, C]) Set(value T) { g.l.value = value }

// Release gives up the guard. Further calls do nothing.
func (g *WriteGuard[T, C]) Release() {
	g.once.Do(g.l.releaseWrite)
}

// WithRead runs fn under a read guard.
func WithRead[T any, C comparable, R any](l *TrackingLock[T, C], ctx C, fn func(T) (R, error)) (R, error) {
	g, err := l.Read(ctx)
	if err != nil {
		var zero R
		return zero, err
	}
	defer g.Release()
	return fn(g.Value())
}

// WithWrite runs fn under a write guard.
func WithWrite[T any, C comparable, R any](l *TrackingLock[T, C], ctx C, fn func(*WriteGuard[T, C]) (R, error)) (R, error) {
	g, err := l.Write(ctx)
	if err != nil {
		var zero R
		return zero, err
	}
	defer g.Release()
	return fn(g)
}
