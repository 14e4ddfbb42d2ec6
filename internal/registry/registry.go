// Package registry implements the session registry (spec.md §4.1): per-key
// session contexts with create-on-demand resolution and cooperative
// eviction. It is grounded on go-opencode's internal/session.Service active-
// session map, generalized from a single flat sessionID to the full
// (conversation, thread, agent) key and from ad-hoc abort channels to an
// explicit per-session cancellation scope and state machine.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dethon/agentrt/internal/chatkey"
	"github.com/dethon/agentrt/internal/contracts"
	"github.com/dethon/agentrt/internal/logging"
)

// ErrRegistryClosed is returned by Resolve once Close has run.
var ErrRegistryClosed = errors.New("registry: closed")

// State is a session's lifecycle state (spec.md §4.1 state machine).
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCancelled
	StateFaulted
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCancelled:
		return "cancelled"
	case StateFaulted:
		return "faulted"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Disposer releases an external resource a factory acquired (an LLM
// handle, a tool-server subscription). Disposers run in LIFO order on
// session disposal and are guaranteed to run exactly once.
type Disposer func()

// Session is the per-key execution context owned by the registry.
type Session struct {
	Key chatkey.Key

	mu        sync.Mutex
	state     State
	log       []contracts.ChatMessage
	seq       int64
	disposers []Disposer
	disposed  bool

	cancel context.CancelFunc
	ctx    context.Context
}

// newSession constructs a session bound to a child of parentCtx.
func newSession(parentCtx context.Context, key chatkey.Key) *Session {
	ctx, cancel := context.WithCancel(parentCtx)
	return &Session{
		Key:    key,
		state:  StateIdle,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Context returns the session's cancellation scope.
func (s *Session) Context() context.Context {
	return s.ctx
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartTurn transitions Idle -> Running. Returns an error if not Idle.
func (s *Session) StartTurn() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return fmt.Errorf("registry: session %s not idle (state=%s)", s.Key, s.state)
	}
	s.state = StateRunning
	return nil
}

// FinishTurn transitions Running -> Idle.
func (s *Session) FinishTurn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning {
		s.state = StateIdle
	}
}

// Cancel transitions Running -> Cancelled and fires the cancellation scope.
func (s *Session) Cancel() {
	s.mu.Lock()
	s.state = StateCancelled
	s.mu.Unlock()
	s.cancel()
}

// Fault transitions Running -> Faulted on an unhandled turn error.
func (s *Session) Fault() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRunning {
		s.state = StateFaulted
	}
}

// AppendMessage appends to the conversation log under the session lock.
func (s *Session) AppendMessage(msg contracts.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, msg)
}

// Log returns an immutable snapshot of the conversation log.
func (s *Session) Log() []contracts.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]contracts.ChatMessage, len(s.log))
	copy(out, s.log)
	return out
}

// NextSequence returns the next monotonic outgoing-chunk sequence number.
func (s *Session) NextSequence() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// addDisposer registers a release callback invoked exactly once on dispose.
func (s *Session) addDisposer(d Disposer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposers = append(s.disposers, d)
}

// dispose cancels the scope and runs every disposer exactly once, even if
// a disposer panics.
func (s *Session) dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.state = StateDisposed
	disposers := s.disposers
	s.mu.Unlock()

	s.cancel()

	for i := len(disposers) - 1; i >= 0; i-- {
		func(d Disposer) {
			defer func() { _ = recover() }()
			d()
		}(disposers[i])
	}
}

// Factory creates a new session's collaborators. Any Disposer it registers
// via AddDisposer is released exactly once on eviction, including on factory
// panic/error paths.
type Factory func(ctx context.Context, s *Session) error

// keyLock serializes resolve/clean for a single key.
type keyLock struct {
	mu       sync.Mutex
	refcount int
}

// Registry is the per-key session cache (spec.md C1).
type Registry struct {
	parentCtx context.Context

	mapMu    sync.Mutex
	sessions map[chatkey.Key]*Session
	locks    map[chatkey.Key]*keyLock

	closed bool
}

// New creates a Registry whose sessions are children of parentCtx: cancelling
// parentCtx tears down every live session.
func New(parentCtx context.Context) *Registry {
	return &Registry{
		parentCtx: parentCtx,
		sessions:  make(map[chatkey.Key]*Session),
		locks:     make(map[chatkey.Key]*keyLock),
	}
}

// acquireKeyLock returns (and refcounts) the per-key lock, creating it if
// absent, and returns with that lock held. It takes mapMu itself, so the
// caller must not hold mapMu.
func (r *Registry) acquireKeyLock(key chatkey.Key) *keyLock {
	r.mapMu.Lock()
	kl, ok := r.locks[key]
	if !ok {
		kl = &keyLock{}
		r.locks[key] = kl
	}
	kl.refcount++
	r.mapMu.Unlock()

	kl.mu.Lock()
	return kl
}

func (r *Registry) releaseKeyLock(key chatkey.Key, kl *keyLock) {
	kl.mu.Unlock()

	r.mapMu.Lock()
	kl.refcount--
	if kl.refcount == 0 {
		delete(r.locks, key)
	}
	r.mapMu.Unlock()
}

// Resolve returns the existing session for key, or calls factory under an
// exclusive per-key lock to create one. Concurrent Resolve calls for the
// same key see factory invoked at most once (spec.md invariant 3).
func (r *Registry) Resolve(ctx context.Context, key chatkey.Key, factory Factory) (*Session, error) {
	r.mapMu.Lock()
	closed := r.closed
	r.mapMu.Unlock()
	if closed {
		return nil, ErrRegistryClosed
	}

	r.mapMu.Lock()
	if s, ok := r.sessions[key]; ok {
		r.mapMu.Unlock()
		return s, nil
	}
	r.mapMu.Unlock()

	kl := r.acquireKeyLock(key)
	defer r.releaseKeyLock(key, kl)

	// Re-check under the key lock: another resolver may have created it
	// while we waited.
	r.mapMu.Lock()
	if s, ok := r.sessions[key]; ok {
		r.mapMu.Unlock()
		return s, nil
	}
	if r.closed {
		r.mapMu.Unlock()
		return nil, ErrRegistryClosed
	}
	r.mapMu.Unlock()

	s := newSession(r.parentCtx, key)
	defer func() {
		if p := recover(); p != nil {
			s.dispose()
			panic(p)
		}
	}()
	if err := factory(s.ctx, s); err != nil {
		s.dispose()
		return nil, fmt.Errorf("registry: factory for %s: %w", key, err)
	}

	r.mapMu.Lock()
	if r.closed {
		r.mapMu.Unlock()
		s.dispose()
		return nil, ErrRegistryClosed
	}
	r.sessions[key] = s
	r.mapMu.Unlock()

	logging.Session(key).Debug().Msg("session created")
	return s, nil
}

// Clean removes and disposes the session for key, if any. A concurrent
// Clean of a key being Resolved is serialized after the create via the
// shared per-key lock.
func (r *Registry) Clean(key chatkey.Key) {
	kl := r.acquireKeyLock(key)
	defer r.releaseKeyLock(key, kl)

	r.mapMu.Lock()
	s, ok := r.sessions[key]
	if ok {
		delete(r.sessions, key)
	}
	r.mapMu.Unlock()

	if ok {
		s.dispose()
		logging.Session(key).Debug().Msg("session disposed")
	}
}

// Keys enumerates live session keys.
func (r *Registry) Keys() []chatkey.Key {
	r.mapMu.Lock()
	defer r.mapMu.Unlock()
	keys := make([]chatkey.Key, 0, len(r.sessions))
	for k := range r.sessions {
		keys = append(keys, k)
	}
	return keys
}

// Close disposes every live session and rejects future operations.
func (r *Registry) Close() {
	r.mapMu.Lock()
	if r.closed {
		r.mapMu.Unlock()
		return
	}
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[chatkey.Key]*Session)
	r.mapMu.Unlock()

	for _, s := range sessions {
		s.dispose()
	}
}

// AddDisposer exposes Session.addDisposer to factories constructing s.
func AddDisposer(s *Session, d Disposer) {
	s.addDisposer(d)
}
