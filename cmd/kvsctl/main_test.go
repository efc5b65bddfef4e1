package main

import (
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/kvsd/internal/fifo"
	"github.com/adred-codev/kvsd/internal/protocol"
)

func TestSendKeyRequestWritesFrameAndPrintsResult(t *testing.T) {
	reqR, reqW, err := os.Pipe()
	require.NoError(t, err)
	defer reqR.Close()
	defer reqW.Close()
	respR, respW, err := os.Pipe()
	require.NoError(t, err)
	defer respR.Close()
	defer respW.Close()

	var out sync.Mutex
	done := make(chan struct{})
	go func() {
		defer close(done)
		sendKeyRequest(reqW, respR, protocol.OpSubscribe, "apple", &out)
	}()

	frame := make([]byte, sizes.SubscribeFrameLen())
	require.NoError(t, fifo.ReadFull(reqR, frame))
	key, err := protocol.DecodeSubscribeRequest(sizes, frame[1:])
	require.NoError(t, err)
	assert.Equal(t, "apple", key)
	assert.Equal(t, protocol.OpSubscribe, frame[0])

	require.NoError(t, fifo.WriteFull(respW, protocol.EncodeResponse(protocol.OpSubscribe, protocol.ResultSuccess)))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sendKeyRequest never returned")
	}
}

func TestSendKeyRequestRejectsEmptyKey(t *testing.T) {
	reqR, reqW, err := os.Pipe()
	require.NoError(t, err)
	defer reqR.Close()
	defer reqW.Close()
	respR, respW, err := os.Pipe()
	require.NoError(t, err)
	defer respR.Close()
	defer respW.Close()

	var out sync.Mutex
	sendKeyRequest(reqW, respR, protocol.OpSubscribe, "", &out)

	// No frame should have been written; reqW can be closed immediately
	// without a reader ever blocking on it.
	reqW.Close()
	buf := make([]byte, 1)
	_, err = reqR.Read(buf)
	assert.Error(t, err)
}

func TestCommandLoopDispatchesDisconnect(t *testing.T) {
	reqR, reqW, err := os.Pipe()
	require.NoError(t, err)
	defer reqR.Close()
	respR, respW, err := os.Pipe()
	require.NoError(t, err)
	defer respW.Close()

	stdin := strings.NewReader("DISCONNECT\n")
	origStdin := os.Stdin
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdin = r
	defer func() { os.Stdin = origStdin }()
	go func() {
		buf := make([]byte, 4096)
		n, _ := stdin.Read(buf)
		w.Write(buf[:n])
		w.Close()
	}()

	go func() {
		frame := make([]byte, 1)
		fifo.ReadFull(reqR, frame)
		fifo.WriteFull(respW, protocol.EncodeResponse(protocol.OpDisconnect, protocol.ResultSuccess))
	}()

	var out sync.Mutex
	code := commandLoop(reqW, respR, &out)
	assert.Equal(t, 0, code)
}
