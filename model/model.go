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

package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a prefix.
// This is useful for creating unique identifiers with context-specific prefixes.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New()
	return fmt.Sprintf("%s_%s", module, id.String())
}

// Stats is the aggregate view returned by the stats endpoint.
type Stats struct {
	TotalMappings       int64 `json:"total_mappings"`
	TotalMessages       int64 `json:"total_messages"`
	ActiveConversations int64 `json:"active_conversations"`
}

// HealthStatus is the aggregate health of the process.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// DependencyHealth reports the state of one backing dependency.
type DependencyHealth struct {
	Connected bool   `json:"connected"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthReport is what the health endpoint serves.
type HealthReport struct {
	Status            HealthStatus                `json:"status"`
	Dependencies      map[string]DependencyHealth `json:"dependencies"`
	InboundQueueDepth int                         `json:"inbound_queue_depth"`
	UptimeSeconds     int64                       `json:"uptime_seconds"`
	CheckedAt         time.Time                   `json:"checked_at"`
}

// ConversationContext is the free-form per-conversation JSON document.
type ConversationContext struct {
	ConversationID string                 `json:"conversation_id"`
	Context        map[string]interface{} `json:"context"`
	UpdatedAt      time.Time              `json:"updated_at"`
}
