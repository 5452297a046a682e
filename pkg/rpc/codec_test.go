package rpc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/percokv/pkg/mvcc"
)

func TestGobCodecRoundTrip(t *testing.T) {
	var c gobCodec
	req := &PrewriteRequest{Key: "k", Value: "v", Op: mvcc.OpLock, Primary: "k", TS: 7, Seq: 2}

	data, err := c.Marshal(req)
	require.NoError(t, err)

	var decoded PrewriteRequest
	require.NoError(t, c.Unmarshal(data, &decoded))
	require.Equal(t, *req, decoded)
}

func TestGobCodecName(t *testing.T) {
	var c gobCodec
	require.Equal(t, "gob", c.Name())
}
