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

package statemanager

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/wagenesys/statemanager/config"
	"github.com/wagenesys/statemanager/database"
	"github.com/wagenesys/statemanager/internal/broker"
	"github.com/wagenesys/statemanager/internal/cache"
	redlock "github.com/wagenesys/statemanager/internal/lock"
	"github.com/wagenesys/statemanager/internal/validator"
)

//go:embed sql/*.sql
var SQLFiles embed.FS

var tracer = otel.Tracer("statemanager.handlers")

// TenantPools hands out the storage pool of a tenant.
type TenantPools interface {
	GetConnection(ctx context.Context, tenantID string) (*sql.DB, error)
}

// BrokerProbe exposes broker state to the health check.
type BrokerProbe interface {
	IsConnected() bool
	QueueDepth(queue string) (int, error)
}

// Dependencies are the handles a StateManager works through. Store, Cache, Locker,
// Publisher and Validator are required; Tenants and Broker are optional.
type Dependencies struct {
	Store     database.IDataSource
	Tenants   TenantPools
	Cache     cache.Cache
	Locker    *redlock.Locker
	Publisher broker.Publisher
	Broker    BrokerProbe
	Validator *validator.Validator
	Queues    config.BrokerConfig
	// MappingTTL bounds how long a mapping stays cached under its wa_id.
	MappingTTL time.Duration
	// ConversationTTL bounds how long a mapping stays cached under its conversation id.
	// Outbound routing reads that key, so a mapping closed elsewhere keeps routing for at most this long.
	ConversationTTL time.Duration
}

// StateManager maps contacts to conversations, tracks message delivery and runs the queue handlers.
type StateManager struct {
	datasource database.IDataSource
	tenants    TenantPools
	cache      cache.Cache
	locker     *redlock.Locker
	publisher  broker.Publisher
	broker     BrokerProbe
	validator  *validator.Validator
	queues     config.BrokerConfig
	mappingTTL time.Duration
	convTTL    time.Duration
	startedAt  time.Time
	now        func() time.Time
}

func New(deps Dependencies) (*StateManager, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("a store is required")
	case deps.Cache == nil:
		return nil, errors.New("a cache is required")
	case deps.Locker == nil:
		return nil, errors.New("a locker is required")
	case deps.Publisher == nil:
		return nil, errors.New("a publisher is required")
	case deps.Validator == nil:
		return nil, errors.New("a validator is required")
	}
	ttl := deps.MappingTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	convTTL := deps.ConversationTTL
	if convTTL <= 0 {
		convTTL = time.Minute
	}
	if convTTL > ttl {
		convTTL = ttl
	}
	return &StateManager{
		datasource: deps.Store,
		tenants:    deps.Tenants,
		cache:      deps.Cache,
		locker:     deps.Locker,
		publisher:  deps.Publisher,
		broker:     deps.Broker,
		validator:  deps.Validator,
		queues:     deps.Queues,
		mappingTTL: ttl,
		convTTL:    convTTL,
		startedAt:  time.Now(),
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

type tenantKey struct{}

// WithTenant scopes ctx to tenantID. Storage, cache keys and locks follow the scope.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	if tenantID == "" {
		return ctx
	}
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// TenantFrom returns the tenant ctx is scoped to, or "".
func TenantFrom(ctx context.Context) string {
	id, _ := ctx.Value(tenantKey{}).(string)
	return id
}

func (s *StateManager) store(ctx context.Context) (database.IDataSource, error) {
	tenantID := TenantFrom(ctx)
	if tenantID == "" || s.tenants == nil {
		return s.datasource, nil
	}
	db, err := s.tenants.GetConnection(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return database.New(db), nil
}

func scoped(ctx context.Context, key string) string {
	if t := TenantFrom(ctx); t != "" {
		return "tenant:" + t + ":" + key
	}
	return key
}
