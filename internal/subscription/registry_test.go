package subscription

import (
	"testing"

	"github.com/adred-codev/kvsd/internal/kvs"
	"github.com/adred-codev/kvsd/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct{ id int }

func (f *fakeHandle) Notify(protocol.Notification) error { return nil }

func TestSubscribeRequiresExistingKey(t *testing.T) {
	store := kvs.New(26)
	reg := New(store, 10)
	h := &fakeHandle{id: 1}

	outcome, err := reg.SubscribeKey("apple", h)
	require.NoError(t, err)
	assert.Equal(t, KeyAbsent, outcome)

	_, _ = store.Put("apple", "red")
	outcome, err = reg.SubscribeKey("apple", h)
	require.NoError(t, err)
	assert.Equal(t, Accepted, outcome)
}

func TestSubscribeRejectsDuplicate(t *testing.T) {
	store := kvs.New(26)
	_, _ = store.Put("apple", "red")
	reg := New(store, 10)
	h := &fakeHandle{id: 1}

	_, err := reg.SubscribeKey("apple", h)
	require.NoError(t, err)
	outcome, err := reg.SubscribeKey("apple", h)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, outcome)
}

func TestSubscribeEnforcesPerKeyQuota(t *testing.T) {
	store := kvs.New(26)
	_, _ = store.Put("apple", "red")
	reg := New(store, 2)

	_, err := reg.SubscribeKey("apple", &fakeHandle{id: 1})
	require.NoError(t, err)
	_, err = reg.SubscribeKey("apple", &fakeHandle{id: 2})
	require.NoError(t, err)
	_, err = reg.SubscribeKey("apple", &fakeHandle{id: 3})
	require.Error(t, err)
}

func TestUnsubscribeOutcomes(t *testing.T) {
	store := kvs.New(26)
	_, _ = store.Put("apple", "red")
	reg := New(store, 10)
	h := &fakeHandle{id: 1}

	outcome, err := reg.UnsubscribeKey("apple", h)
	require.NoError(t, err)
	assert.Equal(t, NotSubscribed, outcome)

	_, _ = reg.SubscribeKey("apple", h)
	outcome, err = reg.UnsubscribeKey("apple", h)
	require.NoError(t, err)
	assert.Equal(t, Removed, outcome)

	outcome, err = reg.UnsubscribeKey("missing", h)
	require.NoError(t, err)
	assert.Equal(t, KeyAbsent, outcome)
}

func TestDrainForKeyRemovesAllSubscribers(t *testing.T) {
	store := kvs.New(26)
	_, _ = store.Put("apple", "red")
	reg := New(store, 10)
	h1, h2 := &fakeHandle{id: 1}, &fakeHandle{id: 2}
	_, _ = reg.SubscribeKey("apple", h1)
	_, _ = reg.SubscribeKey("apple", h2)

	reg.Lock()
	drained := reg.DrainForKeyLocked("apple")
	reg.Unlock()

	assert.Len(t, drained, 2)
	assert.Equal(t, 0, reg.SubscriberCount("apple"))
}

func TestDrainForHandleRemovesAcrossKeys(t *testing.T) {
	store := kvs.New(26)
	_, _ = store.Put("apple", "1")
	_, _ = store.Put("banana", "2")
	reg := New(store, 10)
	h := &fakeHandle{id: 1}
	_, _ = reg.SubscribeKey("apple", h)
	_, _ = reg.SubscribeKey("banana", h)

	reg.DrainForHandle(h)

	assert.Equal(t, 0, reg.SubscriberCount("apple"))
	assert.Equal(t, 0, reg.SubscriberCount("banana"))
}

func TestResetAllClearsEverySubscription(t *testing.T) {
	store := kvs.New(26)
	_, _ = store.Put("apple", "1")
	reg := New(store, 10)
	_, _ = reg.SubscribeKey("apple", &fakeHandle{id: 1})

	reg.ResetAll()

	assert.Equal(t, 0, reg.SubscriberCount("apple"))
}
