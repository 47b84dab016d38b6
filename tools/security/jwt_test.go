package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexmarket/realtime/tools/errs"
)

func TestGenerateVerifyRoundTrip(t *testing.T) {
	opts := DefaultOptions([]byte("k1"))

	token, exp, err := Generate(opts, "u1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(opts.TTL), exp, 5*time.Second)

	sub, err := Verify(opts, token)
	require.NoError(t, err)
	assert.Equal(t, "u1", sub)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, _, err := Generate(DefaultOptions([]byte("k1")), "u1")
	require.NoError(t, err)

	_, err = Verify(DefaultOptions([]byte("k2")), token)
	assert.True(t, errs.ErrUnauthenticated.Is(err))
}

func TestVerifyRejectsExpired(t *testing.T) {
	// exp claims have second granularity, so a 1ms TTL truncates into the past
	opts := Options{Secret: []byte("k1"), Alg: "HS256", TTL: time.Millisecond}
	token, _, err := Generate(opts, "u1")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	_, err = Verify(opts, token)
	assert.True(t, errs.ErrUnauthenticated.Is(err))
}

func TestVerifyRejectsGarbage(t *testing.T) {
	_, err := Verify(DefaultOptions([]byte("k1")), "not.a.jwt")
	assert.True(t, errs.ErrUnauthenticated.Is(err))
}

func TestUnsupportedAlg(t *testing.T) {
	_, _, err := Generate(Options{Secret: []byte("k1"), Alg: "RS256"}, "u1")
	assert.Error(t, err)
}
