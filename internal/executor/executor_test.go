package executor

import (
	"bytes"
	"testing"

	"github.com/adred-codev/kvsd/internal/kvs"
	"github.com/adred-codev/kvsd/internal/protocol"
	"github.com/adred-codev/kvsd/internal/subscription"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSizes = protocol.Sizes{MaxStringSize: 40, MaxPipePathLength: 40}

type recordingHandle struct {
	notes []protocol.Notification
}

func (h *recordingHandle) Notify(n protocol.Notification) error {
	h.notes = append(h.notes, n)
	return nil
}

func TestWriteBatchAppliesInSortedOrderAndNotifiesSubscribers(t *testing.T) {
	store := kvs.New(26)
	reg := subscription.New(store, 10)
	exec := New(store, reg, testSizes, nil)

	_, _ = store.Put("apple", "old")
	h := &recordingHandle{}
	_, err := reg.SubscribeKey("apple", h)
	require.NoError(t, err)

	err = exec.WriteBatch([]kvs.KV{
		{Key: "Banana", Value: "yellow"},
		{Key: "apple", Value: "red"},
	})
	require.NoError(t, err)

	v, ok, err := store.Get("apple")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "red", v)

	v, ok, err = store.Get("Banana")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "yellow", v)

	require.Len(t, h.notes, 1)
	assert.Equal(t, protocol.NotifyChanged, h.notes[0].Type)
	assert.Equal(t, "apple", h.notes[0].Key)
	assert.Equal(t, "red", h.notes[0].Value)
}

func TestDeleteBatchDrainsSubscribersAndReportsMissingKeys(t *testing.T) {
	store := kvs.New(26)
	reg := subscription.New(store, 10)
	exec := New(store, reg, testSizes, nil)

	_, _ = store.Put("apple", "red")
	h := &recordingHandle{}
	_, err := reg.SubscribeKey("apple", h)
	require.NoError(t, err)

	var out bytes.Buffer
	err = exec.DeleteBatch([]string{"apple", "missing"}, &out)
	require.NoError(t, err)

	exists, err := store.Contains("apple")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, 0, reg.SubscriberCount("apple"))

	require.Len(t, h.notes, 1)
	assert.Equal(t, protocol.NotifyDeleted, h.notes[0].Type)
	assert.Equal(t, "apple", h.notes[0].Key)

	assert.Equal(t, "[(missing,KVSMISSING)]\n", out.String())
}

func TestDeleteBatchEmitsNoMissingLineWhenAllKeysExisted(t *testing.T) {
	store := kvs.New(26)
	reg := subscription.New(store, 10)
	exec := New(store, reg, testSizes, nil)

	_, _ = store.Put("apple", "red")

	var out bytes.Buffer
	err := exec.DeleteBatch([]string{"apple"}, &out)
	require.NoError(t, err)
	assert.Empty(t, out.String())
}

func TestReadBatchFormatsPresentAndAbsentKeys(t *testing.T) {
	store := kvs.New(26)
	reg := subscription.New(store, 10)
	exec := New(store, reg, testSizes, nil)

	_, _ = store.Put("apple", "red")
	_, _ = store.Put("banana", "yellow")

	var out bytes.Buffer
	err := exec.ReadBatch([]string{"banana", "apple", "cherry"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "[(apple,red)(banana,yellow)(cherry,KVSERROR)]\n", out.String())
}
