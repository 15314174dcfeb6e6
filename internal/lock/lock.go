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
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/wagenesys/statemanager/internal/cache"
)

const keyPrefix = "lock:contact:"

var errLockHeld = errors.New("lock is held")

// Lease is proof of a held lock. Only the holder of the lease can release it.
type Lease struct {
	Key   string
	Token string
}

// Locker serializes work per contact across every process sharing the cache.
// It fails closed: when the cache is unreachable no lock is granted.
type Locker struct {
	cache       cache.Cache
	ttl         time.Duration
	maxAttempts int
	baseDelay   time.Duration
	newToken    func() string
}

// NewLocker builds a Locker. ttl bounds how long a crashed holder can block others;
// maxAttempts and baseDelay drive WithLockRetry.
func NewLocker(c cache.Cache, ttl time.Duration, maxAttempts int, baseDelay time.Duration) *Locker {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Locker{
		cache:       c,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		newToken:    func() string { return uuid.New().String() },
	}
}

// LockKey returns the cache key guarding contactID.
func LockKey(contactID string) string {
	return keyPrefix + contactID
}

// AcquireLock makes a single SET NX EX attempt for contactID.
func (l *Locker) AcquireLock(ctx context.Context, contactID string) (*Lease, bool) {
	lease := &Lease{Key: LockKey(contactID), Token: l.newToken()}
	if !l.cache.SetNX(ctx, lease.Key, lease.Token, l.ttl) {
		return nil, false
	}
	return lease, true
}

// ReleaseLock deletes the lock if it is still held by lease. It never fails;
// an expired lock is simply left to whoever holds it now.
func (l *Locker) ReleaseLock(ctx context.Context, lease *Lease) {
	if lease == nil {
		return
	}
	if !l.cache.CompareAndDelete(ctx, lease.Key, lease.Token) {
		logrus.WithField("key", lease.Key).Debug("lock already expired or taken over before release")
	}
}

// WithLockRetry retries AcquireLock up to maxAttempts times, doubling the delay
// between attempts starting from baseDelay.
func (l *Locker) WithLockRetry(ctx context.Context, contactID string) (*Lease, bool) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.baseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	shift := l.maxAttempts
	if shift > 16 {
		shift = 16
	}
	b.MaxInterval = l.baseDelay << uint(shift)
	b.MaxElapsedTime = 0

	var lease *Lease
	attempt := 0
	op := func() error {
		attempt++
		got, ok := l.AcquireLock(ctx, contactID)
		if !ok {
			return errLockHeld
		}
		lease = got
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(l.maxAttempts-1)), ctx))
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"wa_id":    contactID,
			"attempts": attempt,
		}).WithError(err).Warn("could not acquire contact lock")
		return nil, false
	}
	return lease, true
}
