// Package session holds the handshake state machine and token generation
// shared by the server's slots and the client's single session.
package session

import (
	"errors"
	"fmt"
	"sync"
)

// State is the handshake progress of one connection.
type State int32

const (
	Disconnected State = iota
	Connecting
	AwaitingInit
	Established
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case AwaitingInit:
		return "awaiting-init"
	case Established:
		return "established"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var ErrInvalidTransition = errors.New("session: invalid state transition")

// next lists the states each state may move to. Any state may fall back to
// Disconnected.
var next = map[State]State{
	Disconnected: Connecting,
	Connecting:   AwaitingInit,
	AwaitingInit: Established,
}

// Session is the handshake record of one connection: its identity, the two
// tokens and the current state. It is safe for concurrent use.
type Session struct {
	mu          sync.Mutex
	state       State
	id          int32
	localToken  string
	remoteToken string
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) ID() int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Tokens returns the locally generated token and the one received from the peer.
func (s *Session) Tokens() (local, remote string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localToken, s.remoteToken
}

// Advance moves to the following state in the handshake order.
func (s *Session) Advance(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advanceLocked(to)
}

func (s *Session) advanceLocked(to State) error {
	if want, ok := next[s.state]; !ok || want != to {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
	}
	s.state = to
	return nil
}

// Offer records the identity and local token sent in INITIALIZATION. The
// server calls it after accepting a connection.
func (s *Session) Offer(id int32, localToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Disconnected {
		if err := s.advanceLocked(Connecting); err != nil {
			return err
		}
	}
	if err := s.advanceLocked(AwaitingInit); err != nil {
		return err
	}
	s.id = id
	s.localToken = localToken
	return nil
}

// Accept records the peer's token and completes the handshake. The client
// passes the identity it was assigned; the server passes zero to keep its own.
func (s *Session) Accept(id int32, localToken, remoteToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.advanceLocked(Established); err != nil {
		return err
	}
	if id != 0 {
		s.id = id
	}
	if localToken != "" {
		s.localToken = localToken
	}
	s.remoteToken = remoteToken
	return nil
}

// Reset returns the session to Disconnected and forgets identity and tokens.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Disconnected
	s.id = 0
	s.localToken = ""
	s.remoteToken = ""
}
