package session

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandle(t *testing.T) *handle {
	t.Helper()
	r1, w1, err := os.Pipe()
	require.NoError(t, err)
	r2, w2, err := os.Pipe()
	require.NoError(t, err)
	r3, w3, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		w1.Close()
		w2.Close()
		w3.Close()
	})
	return &handle{req: r1, resp: r2, notif: r3}
}

func TestActiveSessionsAddRemoveCount(t *testing.T) {
	a := NewActiveSessions()
	h := newTestHandle(t)

	a.add(h)
	assert.Equal(t, 1, a.Count())

	a.remove(h)
	assert.Equal(t, 0, a.Count())
}

func TestForceCloseAllClosesDescriptorsAndClearsSet(t *testing.T) {
	a := NewActiveSessions()
	h := newTestHandle(t)
	a.add(h)

	a.ForceCloseAll()
	assert.Equal(t, 0, a.Count())

	buf := make([]byte, 1)
	_, err := h.req.Read(buf)
	assert.Error(t, err, "closed descriptor should no longer be readable")
}
