package session

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientHandshakeOrder(t *testing.T) {
	var s Session
	assert.Equal(t, Disconnected, s.State())

	require.NoError(t, s.Advance(Connecting))
	require.NoError(t, s.Advance(AwaitingInit))
	require.NoError(t, s.Accept(1, "mine", "abcd1234"))

	assert.Equal(t, Established, s.State())
	assert.Equal(t, int32(1), s.ID())
	local, remote := s.Tokens()
	assert.Equal(t, "mine", local)
	assert.Equal(t, "abcd1234", remote)
}

func TestServerHandshakeOrder(t *testing.T) {
	var s Session
	require.NoError(t, s.Offer(3, "sendtoken"))
	assert.Equal(t, AwaitingInit, s.State())

	require.NoError(t, s.Accept(0, "", "recvtoken"))
	assert.Equal(t, Established, s.State())
	assert.Equal(t, int32(3), s.ID())

	local, remote := s.Tokens()
	assert.Equal(t, "sendtoken", local)
	assert.Equal(t, "recvtoken", remote)
}

func TestInvalidTransitions(t *testing.T) {
	var s Session
	assert.ErrorIs(t, s.Advance(Established), ErrInvalidTransition)
	assert.ErrorIs(t, s.Accept(1, "a", "b"), ErrInvalidTransition)

	require.NoError(t, s.Offer(1, "a"))
	assert.ErrorIs(t, s.Offer(1, "a"), ErrInvalidTransition, "a second INITIALIZATION is rejected")

	require.NoError(t, s.Accept(0, "", "b"))
	assert.ErrorIs(t, s.Accept(0, "", "c"), ErrInvalidTransition)
	_, remote := s.Tokens()
	assert.Equal(t, "b", remote)
}

func TestResetClearsEverything(t *testing.T) {
	var s Session
	require.NoError(t, s.Offer(2, "x"))
	s.Reset()

	assert.Equal(t, Disconnected, s.State())
	assert.Zero(t, s.ID())
	local, remote := s.Tokens()
	assert.Empty(t, local)
	assert.Empty(t, remote)

	require.NoError(t, s.Offer(5, "y"), "a reset session can be reused")
}

func TestConcurrentAcceptOnlyOneWins(t *testing.T) {
	var s Session
	require.NoError(t, s.Offer(1, "x"))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Accept(0, "", "t") == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestRandomTokens(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tok := RandomTokens{}.Token()
		require.Len(t, tok, TokenLen)
		for _, c := range tok {
			assert.True(t, strings.ContainsRune(tokenAlphabet, c), "unexpected %q", c)
		}
		seen[tok] = true
	}
	assert.Greater(t, len(seen), 95)
}

func TestTokenFunc(t *testing.T) {
	var src TokenSource = TokenFunc(func() string { return "abcd1234" })
	assert.Equal(t, "abcd1234", src.Token())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "awaiting-init", AwaitingInit.String())
	assert.Equal(t, "state(9)", State(9).String())
}
