package kvs

import (
	"sync"
	"testing"

	"github.com/adred-codev/kvsd/internal/kvserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBucketIndexFoldsDigitsAndLetters(t *testing.T) {
	s := New(26)

	idxA, err := s.BucketIndex("apple")
	require.NoError(t, err)
	assert.Equal(t, 0, idxA)

	idxUpper, err := s.BucketIndex("Apple")
	require.NoError(t, err)
	assert.Equal(t, idxA, idxUpper, "bucket index must be case-insensitive")

	idxDigit, err := s.BucketIndex("7up")
	require.NoError(t, err)
	assert.Equal(t, 7, idxDigit, "digits fold onto slots 0-9")

	_, err = s.BucketIndex("!bad")
	assert.ErrorIs(t, err, kvserr.ErrInvalidKeyPrefix)

	_, err = s.BucketIndex("")
	assert.ErrorIs(t, err, kvserr.ErrInvalidKeyPrefix)
}

func TestPutGetRoundTrip(t *testing.T) {
	s := New(26)

	presence, err := s.Put("apple", "red")
	require.NoError(t, err)
	assert.Equal(t, Inserted, presence)

	v, ok, err := s.Get("apple")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "red", v)

	presence, err = s.Put("apple", "green")
	require.NoError(t, err)
	assert.Equal(t, Replaced, presence)

	v, ok, err = s.Get("apple")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "green", v)
}

func TestRemoveAndContains(t *testing.T) {
	s := New(26)
	_, _ = s.Put("apple", "red")

	ok, err := s.Contains("apple")
	require.NoError(t, err)
	assert.True(t, ok)

	removed, err := s.Remove("apple")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Remove("apple")
	require.NoError(t, err)
	assert.False(t, removed, "second remove of an absent key returns false")

	ok, err = s.Contains("apple")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestForEachObservesConsistentSnapshot(t *testing.T) {
	s := New(26)
	_, _ = s.Put("apple", "1")
	_, _ = s.Put("banana", "2")
	_, _ = s.Put("carrot", "3")

	seen := map[string]string{}
	s.ForEach(func(k, v string) { seen[k] = v })

	assert.Equal(t, map[string]string{"apple": "1", "banana": "2", "carrot": "3"}, seen)
}

func TestConcurrentWritesToSameBucketNeverInterleaveOrLoseUpdates(t *testing.T) {
	s := New(26)
	_, _ = s.Put("a", "seed")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		tx, err := s.BeginWriteTx([]string{"a"})
		require.NoError(t, err)
		tx.Put("a", "X")
		tx.Close()
	}()
	go func() {
		defer wg.Done()
		tx, err := s.BeginWriteTx([]string{"a"})
		require.NoError(t, err)
		tx.Put("a", "Y")
		tx.Close()
	}()
	wg.Wait()

	v, ok, err := s.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, []string{"X", "Y"}, v)
}

func TestWriteTxLocksBucketsInAscendingOrder(t *testing.T) {
	s := New(26)
	_, _ = s.Put("apple", "1")
	_, _ = s.Put("zebra", "2")

	tx, err := s.BeginWriteTx([]string{"zebra", "apple"})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 25}, tx.indices, "bucket indices must be acquired in ascending order regardless of input order")
	tx.Close()
}
