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
	"errors"
	"time"

	"github.com/wagenesys/statemanager/model"
)

const healthProbeTimeout = 2 * time.Second

func probe(ctx context.Context, check func(context.Context) error) model.DependencyHealth {
	ctx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
	defer cancel()

	started := time.Now()
	err := check(ctx)
	h := model.DependencyHealth{Connected: err == nil, LatencyMs: time.Since(started).Milliseconds()}
	if err != nil {
		h.Error = err.Error()
	}
	return h
}

// Health checks storage, cache and broker. Storage or broker down makes the process unhealthy;
// a cache outage only degrades it.
func (s *StateManager) Health(ctx context.Context) *model.HealthReport {
	deps := map[string]model.DependencyHealth{
		"database": probe(ctx, s.datasource.Ping),
		"cache":    probe(ctx, s.cache.Ping),
		"broker": probe(ctx, func(context.Context) error {
			if s.broker == nil || !s.broker.IsConnected() {
				return errors.New("broker not connected")
			}
			return nil
		}),
	}

	report := &model.HealthReport{
		Status:        model.HealthHealthy,
		Dependencies:  deps,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		CheckedAt:     s.now(),
	}

	if deps["broker"].Connected {
		if depth, err := s.broker.QueueDepth(s.queues.InboundQueue); err == nil {
			report.InboundQueueDepth = depth
		}
	}

	switch {
	case !deps["database"].Connected || !deps["broker"].Connected:
		report.Status = model.HealthUnhealthy
	case !deps["cache"].Connected:
		report.Status = model.HealthDegraded
	}
	return report
}
