package keeper

import (
	"sync"

	"github.com/authkeep/authkeep/oidc"
)

// StateKind discriminates the TokenState variant.
type StateKind int

const (
	// StateNoToken means no token set is stored for the scope.
	StateNoToken StateKind = iota

	// StateRefreshing means a refresh is in flight.
	StateRefreshing

	// StateValid means a usable token set is current; see TokenState.Tokens.
	StateValid

	// StateInvalid means the latest refresh attempt failed; see
	// TokenState.Message.
	StateInvalid
)

// String implements fmt.Stringer.
func (k StateKind) String() string {
	switch k {
	case StateNoToken:
		return "no-token"
	case StateRefreshing:
		return "refreshing"
	case StateValid:
		return "valid"
	case StateInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// TokenState is the variant observed by a Keeper's watchers.  Exactly one
// value is current at any instant.
type TokenState struct {
	Kind StateKind

	// Tokens is set only when Kind is StateValid.
	Tokens *oidc.TokenSet

	// Message is set only when Kind is StateInvalid.
	Message string
}

// stateNotifier publishes TokenState transitions to watchers.  Each watcher
// has a capacity-1 channel; a pending undelivered value is replaced by the
// newer one, so delivery is most-recent-wins rather than every-transition.
type stateNotifier struct {
	mu       sync.Mutex
	current  TokenState
	watchers map[uint64]chan TokenState
	nextID   uint64
	closed   bool
}

func newStateNotifier() *stateNotifier {
	return &stateNotifier{
		current:  TokenState{Kind: StateNoToken},
		watchers: make(map[uint64]chan TokenState),
	}
}

// publish records s as current and pushes it to every watcher without
// blocking on slow consumers.
func (n *stateNotifier) publish(s TokenState) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.current = s
	for _, ch := range n.watchers {
		select {
		case ch <- s:
		default:
			// drop the stale pending value, then deliver the newer one
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

// state returns the current value.
func (n *stateNotifier) state() TokenState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// watch registers a new watcher primed with the current value.  The returned
// cancel func unregisters it and closes the channel; cancel is idempotent.
func (n *stateNotifier) watch() (<-chan TokenState, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan TokenState, 1)
	ch <- n.current

	id := n.nextID
	n.nextID++
	if n.closed {
		close(ch)
		return ch, func() {}
	}
	n.watchers[id] = ch

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if watcher, ok := n.watchers[id]; ok {
			delete(n.watchers, id)
			close(watcher)
		}
	}
	return ch, cancel
}

// closeAll unregisters and closes every watcher.
func (n *stateNotifier) closeAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	for id, ch := range n.watchers {
		delete(n.watchers, id)
		close(ch)
	}
}
