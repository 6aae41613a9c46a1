package pipe

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sasukeuchiha14/lightweight-vpn/lvpn/transport"
)

func TestPipeDialAccept(t *testing.T) {
	n := New()
	ln, err := n.Listen("peer")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		c, err := ln.Accept(context.Background())
		if err != nil {
			return
		}
		buf := make([]byte, 4)
		if transport.ReadFull(c, buf) == nil {
			_, _ = c.Write(buf)
		}
	}()

	c, err := n.Dial(context.Background(), "peer")
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Write([]byte("echo"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	require.NoError(t, transport.ReadFull(c, buf))
	assert.Equal(t, "echo", string(buf))
}

func TestPipeRefusedWithoutListener(t *testing.T) {
	_, err := New().Dial(context.Background(), "nobody")
	assert.ErrorIs(t, err, transport.ErrConnectionRefused)
}

func TestPipeAcceptTimeout(t *testing.T) {
	ln, err := New().Listen("peer")
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = ln.Accept(ctx)
	assert.ErrorIs(t, err, transport.ErrConnectTimeout)
}

func TestPipeListenerCloseReleasesAddr(t *testing.T) {
	n := New()
	ln, err := n.Listen("peer")
	require.NoError(t, err)
	_, err = n.Listen("peer")
	assert.Error(t, err)

	require.NoError(t, ln.Close())
	_, err = ln.Accept(context.Background())
	assert.ErrorIs(t, err, transport.ErrListenerClosed)

	ln2, err := n.Listen("peer")
	require.NoError(t, err)
	_ = ln2.Close()
}
