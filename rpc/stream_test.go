package rpc

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderStreamRoundTrip(t *testing.T) {
	var wire bytes.Buffer
	out := NewHeaderStream(strings.NewReader(""), &wire)
	notif, err := NewNotification("initialized", struct{}{})
	require.NoError(t, err)
	_, err = out.Write(context.Background(), notif)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(wire.String(), "Content-Length: "))

	in := NewHeaderStream(&wire, &bytes.Buffer{})
	msg, _, err := in.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "initialized", msg.(*Notification).Method())
}

func TestHeaderStreamRawFrames(t *testing.T) {
	input := "content-length: 17\r\nContent-Type: application/vscode-jsonrpc\r\n\r\n{\"jsonrpc\":\"2.0\"}" +
		"Content-Length: 2\r\n\r\n{}"
	in := NewHeaderStream(strings.NewReader(input), &bytes.Buffer{})
	first, _, err := in.ReadRaw(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"jsonrpc":"2.0"}`, string(first))
	second, _, err := in.ReadRaw(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(second))
	_, _, err = in.ReadRaw(context.Background())
	assert.Error(t, err)
}

func TestHeaderStreamMissingLength(t *testing.T) {
	in := NewHeaderStream(strings.NewReader("X-Other: 1\r\n\r\n{}"), &bytes.Buffer{})
	_, _, err := in.ReadRaw(context.Background())
	assert.ErrorContains(t, err, "missing Content-Length")
}
