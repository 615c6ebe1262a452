package session

import (
	"crypto/rand"
)

// TokenSource produces the opaque correlation tokens exchanged during the
// handshake. Tokens are not credentials and are never compared.
type TokenSource interface {
	Token() string
}

// TokenFunc adapts a plain function to TokenSource.
type TokenFunc func() string

func (f TokenFunc) Token() string { return f() }

// TokenLen is the length of tokens from RandomTokens.
const TokenLen = 11

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyz012345"

// RandomTokens generates random-file-name style tokens: TokenLen characters
// drawn from lowercase letters and the digits 0 to 5.
type RandomTokens struct{}

func (RandomTokens) Token() string {
	var raw [TokenLen]byte
	_, _ = rand.Read(raw[:])

	out := make([]byte, TokenLen)
	for i, b := range raw {
		out[i] = tokenAlphabet[int(b)%len(tokenAlphabet)]
	}
	return string(out)
}
