package codecref

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type testBlock struct {
	Height uint64
	Data   []byte
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c := New[testBlock]()
	want := testBlock{Height: 42, Data: []byte("payload")}

	b, err := c.Encode(want)
	require.NoError(t, err)

	got, err := c.Decode(b)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	c := New[testBlock]()
	_, err := c.Decode([]byte{0xFF, 0xFF, 0xFF})
	require.Error(t, err)
}
