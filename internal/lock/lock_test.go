/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package redlock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagenesys/statemanager/internal/cache"
)

const releaseScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"

func newMockLocker(t *testing.T, attempts int) (*Locker, redismock.ClientMock) {
	t.Helper()
	db, mock := redismock.NewClientMock()
	l := NewLocker(cache.NewRedisCache(db), 10*time.Second, attempts, time.Millisecond)
	l.newToken = func() string { return "test-token" }
	return l, mock
}

func TestLocker_AcquireLock_Success(t *testing.T) {
	l, mock := newMockLocker(t, 1)
	mock.ExpectSetNX("lock:contact:919876543210", "test-token", 10*time.Second).SetVal(true)

	lease, ok := l.AcquireLock(context.Background(), "919876543210")
	assert.True(t, ok)
	assert.Equal(t, "lock:contact:919876543210", lease.Key)
	assert.Equal(t, "test-token", lease.Token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_AcquireLock_AlreadyHeld(t *testing.T) {
	l, mock := newMockLocker(t, 1)
	mock.ExpectSetNX("lock:contact:919876543210", "test-token", 10*time.Second).SetVal(false)

	lease, ok := l.AcquireLock(context.Background(), "919876543210")
	assert.False(t, ok)
	assert.Nil(t, lease)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_AcquireLock_CacheDownFailsClosed(t *testing.T) {
	l, mock := newMockLocker(t, 1)
	mock.ExpectSetNX("lock:contact:919876543210", "test-token", 10*time.Second).SetErr(errors.New("connection refused"))

	_, ok := l.AcquireLock(context.Background(), "919876543210")
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_ReleaseLock(t *testing.T) {
	l, mock := newMockLocker(t, 1)
	mock.ExpectEval(releaseScript, []string{"lock:contact:1"}, "test-token").SetVal(int64(1))

	l.ReleaseLock(context.Background(), &Lease{Key: "lock:contact:1", Token: "test-token"})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_ReleaseLock_NeverFails(t *testing.T) {
	l, mock := newMockLocker(t, 1)
	mock.ExpectEval(releaseScript, []string{"lock:contact:1"}, "test-token").SetErr(errors.New("connection refused"))

	assert.NotPanics(t, func() {
		l.ReleaseLock(context.Background(), &Lease{Key: "lock:contact:1", Token: "test-token"})
		l.ReleaseLock(context.Background(), nil)
	})
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_WithLockRetry_SucceedsAfterContention(t *testing.T) {
	l, mock := newMockLocker(t, 3)
	mock.ExpectSetNX("lock:contact:1", "test-token", 10*time.Second).SetVal(false)
	mock.ExpectSetNX("lock:contact:1", "test-token", 10*time.Second).SetVal(true)

	lease, ok := l.WithLockRetry(context.Background(), "1")
	assert.True(t, ok)
	assert.NotNil(t, lease)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_WithLockRetry_Exhausted(t *testing.T) {
	l, mock := newMockLocker(t, 3)
	for i := 0; i < 3; i++ {
		mock.ExpectSetNX("lock:contact:1", "test-token", 10*time.Second).SetVal(false)
	}

	lease, ok := l.WithLockRetry(context.Background(), "1")
	assert.False(t, ok)
	assert.Nil(t, lease)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocker_WithLockRetry_SingleWinnerUnderContention(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewLocker(cache.NewRedisCache(client), 10*time.Second, 2, time.Millisecond)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := l.WithLockRetry(context.Background(), "919876543210"); ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestLocker_ReleaseDoesNotStealNewHolder(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewLocker(cache.NewRedisCache(client), time.Second, 1, time.Millisecond)
	ctx := context.Background()

	first, ok := l.AcquireLock(ctx, "c1")
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	second, ok := l.AcquireLock(ctx, "c1")
	require.True(t, ok)

	l.ReleaseLock(ctx, first)
	got, err := mr.Get(LockKey("c1"))
	require.NoError(t, err)
	assert.Equal(t, second.Token, got)

	l.ReleaseLock(ctx, second)
	assert.False(t, mr.Exists(LockKey("c1")))
}
