package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonkalabs/silent-protocol/internal/sanitize"
)

func TestStoreLifecycle(t *testing.T) {
	s := NewStore()

	sess := s.Create()
	_, err := uuid.Parse(sess.ID)
	require.NoError(t, err)

	got, err := s.Get(sess.ID)
	require.NoError(t, err)
	assert.Same(t, sess, got)

	require.NoError(t, s.Delete(sess.ID))
	_, err = s.Get(sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, s.Delete(sess.ID), ErrSessionNotFound)
}

func TestStoreGetOrCreate(t *testing.T) {
	s := NewStore()
	a := s.GetOrCreate("")
	assert.Equal(t, DefaultID, a.ID)
	assert.Same(t, a, s.GetOrCreate(DefaultID))
	assert.Equal(t, 1, s.Len())
}

func TestSessionsAreIsolated(t *testing.T) {
	s := NewStore(WithEngineOptions(sanitize.WithSeed(7)))
	a, b := s.Create(), s.Create()

	var aliasA string
	require.NoError(t, a.Do(func(e *sanitize.AliasEngine) error {
		aliasA = e.GetOrCreate("John Smith", sanitize.LabelPerson, sanitize.TierReplace)
		return nil
	}))
	require.NoError(t, b.Do(func(e *sanitize.AliasEngine) error {
		assert.Equal(t, 0, e.Len())
		assert.Equal(t, aliasA, e.Reverse(aliasA), "other sessions cannot reverse")
		return nil
	}))
}

func TestSessionDoSerialises(t *testing.T) {
	sess := NewStore().Create()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sess.Do(func(e *sanitize.AliasEngine) error {
				e.GetOrCreate("Priya Sharma", sanitize.LabelPerson, sanitize.TierReplace)
				return nil
			})
		}()
	}
	wg.Wait()

	require.NoError(t, sess.Do(func(e *sanitize.AliasEngine) error {
		assert.Equal(t, 1, e.Len())
		return nil
	}))
}

func TestStoreSweep(t *testing.T) {
	s := NewStore(WithTTL(time.Minute))
	old := s.Create()
	fresh := s.Create()

	assert.Equal(t, 0, s.Sweep(time.Now()))
	assert.Equal(t, 2, s.Sweep(time.Now().Add(2*time.Minute)))
	_, err := s.Get(old.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = s.Get(fresh.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.Equal(t, 0, NewStore().Sweep(time.Now().Add(time.Hour)), "no ttl keeps sessions")
}

func TestStoreRunStops(t *testing.T) {
	s := NewStore(WithTTL(time.Millisecond))
	s.Create()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
