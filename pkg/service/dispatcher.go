package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	pkglog "github.com/manur84/digitalsignage-sub008/pkg/log"
	"github.com/manur84/digitalsignage-sub008/pkg/registry"
	"github.com/manur84/digitalsignage-sub008/pkg/wire"
)

// DefaultCommandTimeout bounds a command wait when the caller does not
// specify one.
const DefaultCommandTimeout = 30 * time.Second

// pendingCommand is one in-flight command. The completion slot is
// first-writer-wins: whichever of result, timeout, disconnect or
// shutdown fires first resolves it, the rest are discarded.
type pendingCommand struct {
	commandID      string
	targetClientID string
	issuedAt       time.Time

	once   sync.Once
	doneCh chan struct{}
	result *wire.CommandResult
	err    error
}

func (p *pendingCommand) complete(result *wire.CommandResult, err error) bool {
	won := false
	p.once.Do(func() {
		p.result = result
		p.err = err
		close(p.doneCh)
		won = true
	})
	return won
}

// CommandDispatcher correlates COMMAND messages with their
// COMMAND_RESULT by command id. Frame interleaving is prevented by the
// transport's write serialization; the dispatcher only adds the
// correlation and timeout bookkeeping on top.
type CommandDispatcher struct {
	registry *registry.Registry
	logger   pkglog.Logger
	serverID string

	mu       sync.Mutex
	pending  map[string]*pendingCommand
	shutdown bool
}

// NewCommandDispatcher creates a dispatcher over the given registry.
func NewCommandDispatcher(reg *registry.Registry, serverID string, logger pkglog.Logger) *CommandDispatcher {
	if logger == nil {
		logger = pkglog.NoopLogger{}
	}
	return &CommandDispatcher{
		registry: reg,
		logger:   logger,
		serverID: serverID,
		pending:  make(map[string]*pendingCommand),
	}
}

// Send writes a COMMAND to the target and blocks until the matching
// result arrives, the timeout fires, the target disconnects, ctx is
// cancelled or the dispatcher shuts down. At most one of those outcomes
// resolves the wait.
func (d *CommandDispatcher) Send(ctx context.Context, clientID, command string, params map[string]any, timeout time.Duration) (*wire.CommandResult, error) {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}

	conn, ok := d.registry.Get(clientID)
	if !ok {
		return nil, ErrUnknownClient
	}

	p := &pendingCommand{
		commandID:      uuid.New().String(),
		targetClientID: clientID,
		issuedAt:       time.Now(),
		doneCh:         make(chan struct{}),
	}

	d.mu.Lock()
	if d.shutdown {
		d.mu.Unlock()
		return nil, ErrShuttingDown
	}
	d.pending[p.commandID] = p
	d.mu.Unlock()
	defer d.remove(p.commandID)

	msg := &wire.Command{
		Header:    wire.NewHeader(wire.TypeCommand, d.serverID),
		CommandID: p.commandID,
		Command:   command,
		Params:    params,
	}
	data, err := wire.Encode(msg)
	if err != nil {
		return nil, err
	}
	if err := conn.Transport.Send(data); err != nil {
		return nil, ErrTargetDisconnected
	}

	d.logger.Log(pkglog.Event{
		Timestamp: time.Now(),
		Direction: pkglog.DirectionOut,
		Layer:     pkglog.LayerService,
		Category:  pkglog.CategoryMessage,
		ClientID:  clientID,
		Message: &pkglog.MessageEvent{
			MessageID: msg.ID,
			Type:      string(wire.TypeCommand),
			SenderID:  d.serverID,
		},
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.doneCh:
	case <-timer.C:
		p.complete(nil, ErrCommandTimeout)
		<-p.doneCh
	case <-ctx.Done():
		p.complete(nil, ctx.Err())
		<-p.doneCh
	}
	return p.result, p.err
}

// HandleResult resolves the pending command matching the result's
// command id. A result arriving after the timeout already fired is
// discarded; returns whether the result was consumed.
func (d *CommandDispatcher) HandleResult(result *wire.CommandResult) bool {
	d.mu.Lock()
	p, ok := d.pending[result.CommandID]
	d.mu.Unlock()
	if !ok {
		return false
	}
	return p.complete(result, nil)
}

// FailAllFor rejects every pending command targeting the given client,
// used when its transport closes.
func (d *CommandDispatcher) FailAllFor(clientID string) {
	d.mu.Lock()
	var targets []*pendingCommand
	for _, p := range d.pending {
		if p.targetClientID == clientID {
			targets = append(targets, p)
		}
	}
	d.mu.Unlock()

	for _, p := range targets {
		p.complete(nil, ErrTargetDisconnected)
	}
}

// Shutdown rejects all pending commands and refuses new sends. Nothing
// is left waiting forever.
func (d *CommandDispatcher) Shutdown() {
	d.mu.Lock()
	d.shutdown = true
	targets := make([]*pendingCommand, 0, len(d.pending))
	for _, p := range d.pending {
		targets = append(targets, p)
	}
	d.mu.Unlock()

	for _, p := range targets {
		p.complete(nil, ErrShuttingDown)
	}
}

// PendingCount returns the number of in-flight commands.
func (d *CommandDispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *CommandDispatcher) remove(commandID string) {
	d.mu.Lock()
	delete(d.pending, commandID)
	d.mu.Unlock()
}
