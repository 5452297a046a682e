package boltengine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetGetRemove(t *testing.T) {
	e, err := Open(t.TempDir())
	require.NoError(t, err)
	defer e.Close()

	_, ok, err := e.Get("missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, e.Set("k1", "v1"))
	v, ok, err := e.Get("k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v1", v)

	require.NoError(t, e.Remove("k1"))
	_, ok, err = e.Get("k1")
	require.NoError(t, err)
	require.False(t, ok)

	require.ErrorIs(t, e.Remove("k1"), ErrKeyNotFound)
}

func TestRangeLastAndRangeErase(t *testing.T) {
	e, err := Open(t.TempDir())
	require.NoError(t, err)
	defer e.Close()

	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, e.Set(k, "v-"+k))
	}

	k, v, ok, err := e.RangeLast("a", "c")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "c", k)
	require.Equal(t, "v-c", v)

	require.NoError(t, e.RangeErase("a", "b"))
	_, ok, err = e.Get("a")
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = e.Get("c")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestExportImportRoundTrip(t *testing.T) {
	src, err := Open(t.TempDir())
	require.NoError(t, err)
	defer src.Close()

	require.NoError(t, src.Set("k1", "v1"))
	require.NoError(t, src.Set("k2", "v2"))

	keys, values, err := src.Export()
	require.NoError(t, err)

	dst, err := Open(t.TempDir())
	require.NoError(t, err)
	defer dst.Close()

	require.NoError(t, dst.Import(keys, values))

	dstKeys, dstValues, err := dst.Export()
	require.NoError(t, err)
	require.Equal(t, keys, dstKeys)
	require.Equal(t, values, dstValues)
}

func TestReopenPersists(t *testing.T) {
	dir := t.TempDir()

	e, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, e.Set("durable", "yes"))
	require.NoError(t, e.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	v, ok, err := reopened.Get("durable")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "yes", v)
}
