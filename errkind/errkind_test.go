package errkind_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/outline-sdk-contrib/ostrich-gateway/errkind"
	"github.com/stretchr/testify/require"
)

func TestNewNilErr(t *testing.T) {
	require.Nil(t, errkind.New(errkind.ErrDialFailure, "dial", nil))
}

func TestOfDefaultsToProtocolError(t *testing.T) {
	require.Equal(t, errkind.ErrProtocolError, errkind.Of(errors.New("boom")))
}

func TestOfAndUnwrap(t *testing.T) {
	base := errors.New("connection refused")
	wrapped := errkind.New(errkind.ErrDialFailure, "connect", base)
	require.Equal(t, errkind.ErrDialFailure, errkind.Of(wrapped))
	require.ErrorIs(t, wrapped, base)
}

func TestIsCancelled(t *testing.T) {
	cancelled := errkind.New(errkind.ErrCancelled, "splice", context.Canceled)
	require.True(t, errkind.IsCancelled(cancelled))
	require.False(t, errkind.IsCancelled(errors.New("other")))
}

func TestErrorMessageIncludesOp(t *testing.T) {
	err := errkind.New(errkind.ErrHandshakeFailure, "tls-handshake", errors.New("bad cert"))
	require.Equal(t, fmt.Sprintf("%s", errkind.ErrHandshakeFailure)+": tls-handshake: bad cert", err.Error())
}
