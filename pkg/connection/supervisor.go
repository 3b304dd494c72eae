package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/manur84/digitalsignage-sub008/pkg/log"
)

// Supervisor errors.
var (
	ErrSupervisorClosed = errors.New("connection: supervisor closed")
	ErrAlreadyOnline    = errors.New("connection: already online")
)

// State is the supervisor's view of the server link.
type State uint8

const (
	// StateOffline indicates no link and no retry in progress.
	StateOffline State = iota

	// StateDialing indicates a dial attempt is in progress.
	StateDialing

	// StateOnline indicates an established link.
	StateOnline

	// StateRetrying indicates the link was lost and redials are
	// running with backoff.
	StateRetrying

	// StateClosed indicates the supervisor has shut down.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateOffline:
		return "OFFLINE"
	case StateDialing:
		return "DIALING"
	case StateOnline:
		return "ONLINE"
	case StateRetrying:
		return "RETRYING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// DialFunc establishes the server link. For a device agent this
// usually means discover, connect and register. It returns nil once
// the link is usable.
type DialFunc func(ctx context.Context) error

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	// Dial establishes the link. Required.
	Dial DialFunc

	// Backoff tunes redial timing.
	Backoff BackoffConfig

	// DialTimeout bounds each redial attempt. Defaults to 30s.
	DialTimeout time.Duration

	// DisableRetry turns off automatic redialing after link loss.
	DisableRetry bool

	// Logger receives state change events. Defaults to no logging.
	Logger log.Logger

	// OnStateChange is called after every state transition.
	OnStateChange func(from, to State)

	// OnOnline is called after each successful dial.
	OnOnline func()

	// OnOffline is called when an established link is lost.
	OnOffline func()

	// OnRetry is called before each redial wait with the attempt
	// number and the delay about to be slept.
	OnRetry func(attempt int, delay time.Duration)
}

func (c SupervisorConfig) withDefaults() SupervisorConfig {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = log.NoopLogger{}
	}
	return c
}

// Supervisor owns the dial/retry loop for a server link.
//
// The caller dials once via Connect. After that, LinkLost moves the
// supervisor into retrying and it keeps redialing with backoff until
// the dial succeeds or Close is called.
type Supervisor struct {
	config SupervisorConfig

	mu      sync.RWMutex
	state   State
	retryOn bool

	backoff *Backoff

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// retryCh wakes the retry loop. Capacity 1, extra signals while
	// a retry is pending are dropped.
	retryCh chan struct{}
}

// NewSupervisor creates a supervisor and starts its retry loop.
func NewSupervisor(config SupervisorConfig) *Supervisor {
	config = config.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Supervisor{
		config:  config,
		state:   StateOffline,
		retryOn: !config.DisableRetry,
		backoff: NewBackoffWithConfig(config.Backoff),
		ctx:     ctx,
		cancel:  cancel,
		retryCh: make(chan struct{}, 1),
	}

	s.wg.Add(1)
	go s.retryLoop()

	return s
}

// State returns the current link state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Online reports whether the link is established.
func (s *Supervisor) Online() bool {
	return s.State() == StateOnline
}

// SetRetry enables or disables automatic redialing.
func (s *Supervisor) SetRetry(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryOn = enabled
}

// Attempts returns the redial attempt count since the link was last
// established.
func (s *Supervisor) Attempts() int {
	return s.backoff.Attempts()
}

// Connect performs the initial dial. A failed initial dial does not
// start the retry loop; callers decide whether to try again.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateOnline:
		s.mu.Unlock()
		return ErrAlreadyOnline
	case StateClosed:
		s.mu.Unlock()
		return ErrSupervisorClosed
	}
	from := s.state
	s.state = StateDialing
	s.mu.Unlock()
	s.announce(from, StateDialing, "dial")

	if err := s.config.Dial(ctx); err != nil {
		s.mu.Lock()
		s.state = StateOffline
		s.mu.Unlock()
		s.announce(StateDialing, StateOffline, "dial failed")
		return err
	}

	s.mu.Lock()
	s.state = StateOnline
	s.backoff.Reset()
	s.mu.Unlock()
	s.announce(StateDialing, StateOnline, "dial succeeded")

	if s.config.OnOnline != nil {
		s.config.OnOnline()
	}
	return nil
}

// LinkLost tells the supervisor an established link has dropped.
// When retrying is enabled this kicks off the redial loop.
func (s *Supervisor) LinkLost() {
	s.mu.Lock()
	if s.state != StateOnline {
		s.mu.Unlock()
		return
	}
	retry := s.retryOn
	to := StateOffline
	if retry {
		to = StateRetrying
	}
	s.state = to
	s.mu.Unlock()
	s.announce(StateOnline, to, "link lost")

	if s.config.OnOffline != nil {
		s.config.OnOffline()
	}
	if retry {
		s.wake()
	}
}

// Close shuts the supervisor down and waits for the retry loop to
// exit. Safe to call more than once.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	from := s.state
	s.state = StateClosed
	s.mu.Unlock()
	s.announce(from, StateClosed, "closed")

	s.cancel()
	s.wg.Wait()
}

func (s *Supervisor) wake() {
	select {
	case s.retryCh <- struct{}{}:
	default:
	}
}

func (s *Supervisor) retryLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.retryCh:
			s.redial()
		}
	}
}

// redial keeps dialing with backoff until success, close, or retry is
// disabled mid-flight.
func (s *Supervisor) redial() {
	for {
		s.mu.RLock()
		state := s.state
		retry := s.retryOn
		s.mu.RUnlock()

		if state != StateRetrying || !retry {
			return
		}

		delay := s.backoff.Next()
		if s.config.OnRetry != nil {
			s.config.OnRetry(s.backoff.Attempts(), delay)
		}

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(delay):
		}

		s.mu.RLock()
		state = s.state
		s.mu.RUnlock()
		if state != StateRetrying {
			return
		}

		ctx, cancel := context.WithTimeout(s.ctx, s.config.DialTimeout)
		err := s.config.Dial(ctx)
		cancel()
		if err != nil {
			continue
		}

		s.mu.Lock()
		if s.state != StateRetrying {
			s.mu.Unlock()
			return
		}
		s.state = StateOnline
		s.backoff.Reset()
		s.mu.Unlock()
		s.announce(StateRetrying, StateOnline, "redial succeeded")

		if s.config.OnOnline != nil {
			s.config.OnOnline()
		}
		return
	}
}

func (s *Supervisor) announce(from, to State, reason string) {
	if from == to {
		return
	}
	s.config.Logger.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerTransport,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   "connection",
			OldState: from.String(),
			NewState: to.String(),
			Reason:   reason,
		},
	})
	if s.config.OnStateChange != nil {
		s.config.OnStateChange(from, to)
	}
}
