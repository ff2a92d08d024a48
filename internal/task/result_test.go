package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultPackUnpackReturn(t *testing.T) {
	r, err := NewReturn(map[string]int{"sum": 5})
	require.NoError(t, err)
	assert.False(t, r.IsRaise())

	blob, err := Pack(r)
	require.NoError(t, err)

	got, err := Unpack(blob)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sum":5}`, string(got.Return))
	assert.Empty(t, got.Raise)
}

func TestResultPackUnpackRaise(t *testing.T) {
	r := NewRaise("ValueError: x")
	assert.True(t, r.IsRaise())

	blob, err := Pack(r)
	require.NoError(t, err)

	got, err := Unpack(blob)
	require.NoError(t, err)
	assert.Equal(t, "ValueError: x", got.Raise)
	assert.Empty(t, got.Return)
}

func TestUnpackMalformedBlob(t *testing.T) {
	_, err := Unpack([]byte("not gzip data"))
	assert.ErrorIs(t, err, ErrMalformedResult)
}
