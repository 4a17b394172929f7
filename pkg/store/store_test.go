// pkg/store/store_test.go

package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)

	store, err := NewRedisStore(s.Addr(), "", 0)
	require.NoError(t, err)
	return s, store
}

func TestNewRedisStoreFailsFastOnBadAddr(t *testing.T) {
	_, err := NewRedisStore("127.0.0.1:1", "", 0)
	assert.Error(t, err)
}

func TestGetBytecodeReturnsNilWhenNothingPublished(t *testing.T) {
	s, store := setupMiniredis(t)
	defer s.Close()

	data, err := store.GetBytecode()
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestPublishBytecodeThenGetBytecodeRoundTrips(t *testing.T) {
	s, store := setupMiniredis(t)
	defer s.Close()

	payload := []byte("FRE1-fake-bytecode-blob")
	require.NoError(t, store.PublishBytecode(payload))

	got, err := store.GetBytecode()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestPublishBytecodeNotifiesSubscribers(t *testing.T) {
	s, store := setupMiniredis(t)
	defer s.Close()

	pubsub := store.Subscribe()
	require.NotNil(t, pubsub)
	defer pubsub.Close()

	require.NoError(t, store.PublishBytecode([]byte("v2")))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := pubsub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, reloadChannel, msg.Channel)
}

func TestReceiveReloadDeliversNotificationChannel(t *testing.T) {
	s, store := setupMiniredis(t)
	defer s.Close()

	ch := store.ReceiveReload()
	require.NotNil(t, ch)

	require.NoError(t, store.PublishBytecode([]byte("v3")))

	select {
	case msg := <-ch:
		assert.Equal(t, reloadChannel, msg.Channel)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reload notification")
	}
}
