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

import "time"

// Direction tells which system a tracked message originated from.
type Direction string

const (
	DirectionInbound  Direction = "INBOUND"
	DirectionOutbound Direction = "OUTBOUND"
)

// MessageTracking is the delivery record of a single message. Exactly one of
// Wamid or GenesysMessageID is required at creation.
type MessageTracking struct {
	ID               string                 `json:"id"`
	MappingID        string                 `json:"mapping_id"`
	Wamid            *string                `json:"wamid"`
	GenesysMessageID *string                `json:"genesys_message_id"`
	Direction        Direction              `json:"direction"`
	Status           MessageStatus          `json:"status"`
	MediaURL         *string                `json:"media_url"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
	DeliveredAt      *time.Time             `json:"delivered_at"`
	MetaData         map[string]interface{} `json:"meta_data,omitempty"`
}

// TrackMessageInput is the argument of TrackMessage.
type TrackMessageInput struct {
	MappingID        string
	Wamid            string
	GenesysMessageID string
	Direction        Direction
	Status           MessageStatus
	MediaURL         string
	MetaData         map[string]interface{}
}

// TrackResult reports the id of the tracking row and whether this call created it.
type TrackResult struct {
	ID      string `json:"id"`
	Created bool   `json:"created"`
}

// StatusUpdateInput identifies a message by wamid or contact-center id and the status it moves to.
type StatusUpdateInput struct {
	Wamid            string
	GenesysMessageID string
	Status           MessageStatus
	Timestamp        time.Time
}

// StatusUpdateResult is the outcome of UpdateStatus. Updated is false for unknown
// messages, illegal transitions, stale timestamps and lost CAS races.
type StatusUpdateResult struct {
	Updated        bool          `json:"updated"`
	PreviousStatus MessageStatus `json:"previous_status,omitempty"`
	Reason         string        `json:"reason,omitempty"`
}

const (
	SkipNotFound          = "not_found"
	SkipInvalidTransition = "invalid_transition"
	SkipStale             = "stale_timestamp"
	SkipConcurrentUpdate  = "concurrent_update"
)
