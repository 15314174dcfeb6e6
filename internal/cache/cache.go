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

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Cache is an advisory key/value store in front of durable storage. Apart from Ping,
// no method returns an error: when the backend is unreachable, reads miss, writes
// are dropped and SetNX reports false. Each degraded call logs a warning.
type Cache interface {
	// Get returns the value stored at key and whether it was found.
	Get(ctx context.Context, key string) (string, bool)
	// SetEx stores value at key for ttl.
	SetEx(ctx context.Context, key string, ttl time.Duration, value string)
	// SetNX stores value at key only if key is absent. It returns true when this call set it.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) bool
	// Del removes keys.
	Del(ctx context.Context, keys ...string)
	// Expire resets the ttl of key.
	Expire(ctx context.Context, key string, ttl time.Duration)
	// CompareAndDelete removes key only while it still holds value.
	CompareAndDelete(ctx context.Context, key, value string) bool
	// Ping reports backend reachability. It is the only method that surfaces an error.
	Ping(ctx context.Context) error
}

const compareAndDeleteScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"

// RedisCache implements Cache on a go-redis universal client.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache wraps client. A nil client yields a cache that always degrades.
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func degraded(op, key string, err error) {
	logrus.WithFields(logrus.Fields{
		"operation": op,
		"key":       key,
	}).WithError(err).Warn("cache unavailable, continuing without it")
}

var errNoClient = errors.New("cache client not configured")

func (r *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	if r.client == nil {
		degraded("get", key, errNoClient)
		return "", false
	}
	val, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		degraded("get", key, err)
		return "", false
	}
	return val, true
}

func (r *RedisCache) SetEx(ctx context.Context, key string, ttl time.Duration, value string) {
	if r.client == nil {
		degraded("setex", key, errNoClient)
		return
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		degraded("setex", key, err)
	}
}

func (r *RedisCache) SetNX(ctx context.Context, key, value string, ttl time.Duration) bool {
	if r.client == nil {
		degraded("setnx", key, errNoClient)
		return false
	}
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		degraded("setnx", key, err)
		return false
	}
	return ok
}

func (r *RedisCache) Del(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if r.client == nil {
		degraded("del", keys[0], errNoClient)
		return
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		degraded("del", keys[0], err)
	}
}

func (r *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) {
	if r.client == nil {
		degraded("expire", key, errNoClient)
		return
	}
	if err := r.client.Expire(ctx, key, ttl).Err(); err != nil {
		degraded("expire", key, err)
	}
}

func (r *RedisCache) CompareAndDelete(ctx context.Context, key, value string) bool {
	if r.client == nil {
		degraded("compare_and_delete", key, errNoClient)
		return false
	}
	res, err := r.client.Eval(ctx, compareAndDeleteScript, []string{key}, value).Result()
	if err != nil {
		degraded("compare_and_delete", key, err)
		return false
	}
	n, _ := res.(int64)
	return n == 1
}

func (r *RedisCache) Ping(ctx context.Context) error {
	if r.client == nil {
		return errNoClient
	}
	return r.client.Ping(ctx).Err()
}

// GetJSON decodes the JSON value at key into dst. A miss or an undecodable value
// reports false; an undecodable value is also evicted.
func GetJSON(ctx context.Context, c Cache, key string, dst interface{}) bool {
	raw, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		logrus.WithField("key", key).WithError(err).Warn("dropping undecodable cache entry")
		c.Del(ctx, key)
		return false
	}
	return true
}

// SetJSON stores v at key as JSON for ttl.
func SetJSON(ctx context.Context, c Cache, key string, ttl time.Duration, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logrus.WithField("key", key).WithError(err).Warn("could not encode cache entry")
		return
	}
	c.SetEx(ctx, key, ttl, string(data))
}
