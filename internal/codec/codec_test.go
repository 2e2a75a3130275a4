package codec_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/chathub/relay/internal/codec"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	c := codec.New(&buf)

	type envelope struct {
		Method  string `bson:"method"`
		Channel string `bson:"channel"`
	}

	require.NoError(t, c.Encode(envelope{Method: "publish", Channel: "g1"}))

	var got envelope
	require.NoError(t, c.Decode(&got))
	require.Equal(t, "publish", got.Method)
	require.Equal(t, "g1", got.Channel)
}

func TestDecodeRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	lenPrefix := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	buf.Write(lenPrefix)

	c := codec.New(&buf)
	var got map[string]interface{}
	err := c.Decode(&got)
	require.ErrorIs(t, err, codec.ErrFrameTooLarge)
}

func TestMultipleFramesInSequence(t *testing.T) {
	var buf bytes.Buffer
	c := codec.New(&buf)

	require.NoError(t, c.Encode(bson.M{"method": "ping"}))
	require.NoError(t, c.Encode(bson.M{"method": "ack", "channel": "g2"}))

	var first, second map[string]interface{}
	require.NoError(t, c.Decode(&first))
	require.NoError(t, c.Decode(&second))

	require.Equal(t, "ping", first["method"])
	require.Equal(t, "ack", second["method"])
	require.Equal(t, "g2", second["channel"])
}
