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

package tenant

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/wagenesys/statemanager/config"
)

// PoolOpener opens a connection pool for dsn. It defaults to sql.Open with the postgres driver.
type PoolOpener func(dsn string) (*sql.DB, error)

func openPostgres(dsn string) (*sql.DB, error) {
	return sql.Open("postgres", dsn)
}

// Router hands out one bounded pool per tenant.
type Router struct {
	mu       sync.RWMutex
	pools    map[string]*sql.DB
	group    singleflight.Group
	resolver CredentialResolver
	open     PoolOpener
	cfg      config.TenantConfig
}

func NewRouter(resolver CredentialResolver, cfg config.TenantConfig) *Router {
	return &Router{
		pools:    make(map[string]*sql.DB),
		resolver: resolver,
		open:     openPostgres,
		cfg:      cfg,
	}
}

// WithOpener replaces the pool constructor.
func (r *Router) WithOpener(open PoolOpener) *Router {
	r.open = open
	return r
}

func (r *Router) cached(tenantID string) (*sql.DB, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	db, ok := r.pools[tenantID]
	return db, ok
}

// GetConnection returns the pool for tenantID, building it on first use.
// Concurrent first calls for the same tenant share one construction.
func (r *Router) GetConnection(ctx context.Context, tenantID string) (*sql.DB, error) {
	if tenantID == "" {
		return nil, errors.New("tenant id is required")
	}
	if db, ok := r.cached(tenantID); ok {
		return db, nil
	}

	v, err, _ := r.group.Do(tenantID, func() (interface{}, error) {
		if db, ok := r.cached(tenantID); ok {
			return db, nil
		}
		// built detached from the first caller; every waiter shares the result
		db, err := r.build(context.WithoutCancel(ctx), tenantID)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.pools[tenantID] = db
		r.mu.Unlock()
		return db, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sql.DB), nil
}

func (r *Router) connectTimeout() time.Duration {
	if r.cfg.ConnectTimeout <= 0 {
		return 2 * time.Second
	}
	return r.cfg.ConnectTimeout
}

func (r *Router) build(ctx context.Context, tenantID string) (*sql.DB, error) {
	resolveCtx, cancelResolve := context.WithTimeout(ctx, r.connectTimeout())
	creds, err := r.resolver.Resolve(resolveCtx, tenantID)
	cancelResolve()
	if err != nil {
		return nil, err
	}

	db, err := r.open(creds.DSN(r.cfg.SSLMode, r.cfg.ConnectTimeout))
	if err != nil {
		return nil, errors.Wrapf(err, "opening pool for tenant %s", tenantID)
	}
	db.SetMaxOpenConns(r.cfg.PoolMaxSize)
	db.SetMaxIdleConns(r.cfg.PoolMaxSize)
	db.SetConnMaxIdleTime(r.cfg.IdleTimeout)

	pingCtx, cancel := context.WithTimeout(ctx, r.connectTimeout())
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		logrus.WithField("tenant_id", tenantID).WithError(err).Error("tenant pool failed its first ping")
		return nil, errors.Wrapf(err, "connecting to store of tenant %s", tenantID)
	}

	logrus.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"max_conns": r.cfg.PoolMaxSize,
	}).Info("tenant pool created")
	return db, nil
}

// CloseConnection drains and forgets the pool of tenantID.
func (r *Router) CloseConnection(tenantID string) error {
	r.mu.Lock()
	db, ok := r.pools[tenantID]
	delete(r.pools, tenantID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	if err := db.Close(); err != nil {
		logrus.WithField("tenant_id", tenantID).WithError(err).Warn("closing tenant pool")
		return errors.Wrapf(err, "closing pool of tenant %s", tenantID)
	}
	return nil
}

// CloseAll drains every pool. It keeps going past individual failures and returns the first.
func (r *Router) CloseAll() error {
	r.mu.Lock()
	pools := r.pools
	r.pools = make(map[string]*sql.DB)
	r.mu.Unlock()

	var first error
	for id, db := range pools {
		if err := db.Close(); err != nil {
			logrus.WithField("tenant_id", id).WithError(err).Warn("closing tenant pool")
			if first == nil {
				first = errors.Wrapf(err, "closing pool of tenant %s", id)
			}
		}
	}
	return first
}

// Len reports how many tenant pools are open.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pools)
}
