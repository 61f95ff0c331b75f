package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/arloliu/go-radiacode/logger"
)

// State represents the stage of a device session.
type State uint32

// Session states.
const (
	// Disconnected indicates that no link is open. It is the initial state and the terminal state
	// after Close or after reconnect retries are exhausted.
	Disconnected State = iota
	// Connecting indicates that the link is being opened and the handshake is in progress.
	Connecting
	// Ready indicates that the session can exchange commands.
	Ready
	// Degraded indicates that the link was lost and a reconnect is pending.
	Degraded
)

// String returns string representation of the state.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Ready:
		return "ready"
	case Degraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// IsReady returns if the state is Ready.
func (s State) IsReady() bool { return s == Ready }

// StateChangeHandler is invoked on every state transition.
//
// Note: the handler is invoked synchronously by the goroutine performing the transition, after
// the exchange gate is released, so it may issue commands. Transitions made by Open, Reconnect and
// Close run while those hold the session's lifecycle lock: a handler must not call them.
type StateChangeHandler func(s *Session, prevState State, newState State)

// allowed lists the permitted transitions. Every state may move to Disconnected.
var allowed = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Ready, Degraded},
	Ready:        {Degraded},
	Degraded:     {Connecting},
}

// stateMgr manages the state of a session and notifies handlers of changes.
type stateMgr struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    atomic.Uint32
	owner    *Session
	logger   logger.Logger
	handlers []StateChangeHandler
}

func newStateMgr(owner *Session, lg logger.Logger) *stateMgr {
	sm := &stateMgr{owner: owner, logger: lg}
	sm.cond = sync.NewCond(&sm.mu)
	sm.state.Store(uint32(Disconnected))

	return sm
}

func (sm *stateMgr) State() State {
	return State(sm.state.Load())
}

func (sm *stateMgr) AddHandler(handlers ...StateChangeHandler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.handlers = append(sm.handlers, handlers...)
}

// WaitState blocks until the state equals state or ctx is done.
func (sm *stateMgr) WaitState(ctx context.Context, state State) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.State() == state {
		return nil
	}

	stop := context.AfterFunc(ctx, func() {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		sm.cond.Broadcast()
	})
	defer stop()

	for sm.State() != state {
		if err := ctx.Err(); err != nil {
			sm.logger.Debug("wait state canceled", "cur_state", sm.State(), "desired_state", state)
			return err
		}
		sm.cond.Wait()
	}

	return nil
}

// transition moves to the desired state and invokes the handlers. A transition to the current
// state is a no-op.
func (sm *stateMgr) transition(to State) error {
	notify, err := sm.set(to)
	if err != nil {
		return err
	}
	notify()

	return nil
}

// set moves to the desired state and returns a function invoking the handlers, so that callers
// holding a lock can notify after releasing it.
func (sm *stateMgr) set(to State) (func(), error) {
	sm.mu.Lock()

	from := sm.State()
	if from == to {
		sm.mu.Unlock()
		return func() {}, nil
	}

	if to != Disconnected && !canTransition(from, to) {
		sm.mu.Unlock()
		sm.logger.Error("invalid state transition", "from", from, "to", to)

		return nil, ErrInvalidTransition
	}

	sm.state.Store(uint32(to))
	sm.cond.Broadcast()
	handlers := append([]StateChangeHandler(nil), sm.handlers...)
	sm.mu.Unlock()

	return func() {
		sm.logger.Debug("session state changed", "prev_state", from, "state", to)
		for _, h := range handlers {
			if h != nil {
				h(sm.owner, from, to)
			}
		}
	}, nil
}

func canTransition(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}

	return false
}
