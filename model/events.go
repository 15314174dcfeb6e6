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
	"encoding/json"
	"time"
)

// InboundMessage is the normalized inbound webhook consumed from the inbound queue.
type InboundMessage struct {
	TenantID           string                 `json:"tenant_id"`
	WaID               string                 `json:"wa_id"`
	Wamid              string                 `json:"wamid"`
	ContactName        string                 `json:"contact_name,omitempty"`
	PhoneNumberID      string                 `json:"phone_number_id,omitempty"`
	DisplayPhoneNumber string                 `json:"display_phone_number,omitempty"`
	MessageType        string                 `json:"message_type,omitempty"`
	Text               string                 `json:"text,omitempty"`
	MediaURL           string                 `json:"media_url,omitempty"`
	Timestamp          time.Time              `json:"timestamp"`
	Payload            map[string]interface{} `json:"payload,omitempty"`
}

// OutboundMessage is an agent reply consumed from the outbound queue.
type OutboundMessage struct {
	TenantID         string                 `json:"tenant_id"`
	ConversationID   string                 `json:"conversation_id"`
	CommunicationID  string                 `json:"communication_id,omitempty"`
	GenesysMessageID string                 `json:"genesys_message_id"`
	MessageType      string                 `json:"message_type,omitempty"`
	Text             string                 `json:"text,omitempty"`
	MediaURL         string                 `json:"media_url,omitempty"`
	Timestamp        time.Time              `json:"timestamp"`
	Payload          map[string]interface{} `json:"payload,omitempty"`
}

// Status queue event types.
const (
	StatusEventStatus      = "status"
	StatusEventCorrelation = "correlation"
)

// StatusEvent is consumed from the status queue. Type "status" carries a delivery
// status change; type "correlation" attaches a conversation to a pending mapping.
type StatusEvent struct {
	Type             string    `json:"type,omitempty"`
	TenantID         string    `json:"tenant_id"`
	WaID             string    `json:"wa_id,omitempty"`
	Wamid            string    `json:"wamid,omitempty"`
	GenesysMessageID string    `json:"genesys_message_id,omitempty"`
	Status           string    `json:"status,omitempty"`
	ConversationID   string    `json:"conversation_id,omitempty"`
	CommunicationID  string    `json:"communication_id,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// InboundProcessedEvent is published to the inbound-processed queue.
type InboundProcessedEvent struct {
	InboundMessage
	MappingID         string  `json:"mapping_id"`
	ConversationID    *string `json:"conversation_id"`
	CommunicationID   *string `json:"communication_id"`
	TrackingID        string  `json:"tracking_id"`
	IsNewConversation bool    `json:"is_new_conversation"`
	Duplicate         bool    `json:"duplicate"`
}

// OutboundProcessedEvent is published to the outbound-processed queue.
type OutboundProcessedEvent struct {
	OutboundMessage
	MappingID          string  `json:"mapping_id"`
	WaID               string  `json:"wa_id"`
	PhoneNumberID      *string `json:"phone_number_id"`
	DisplayPhoneNumber *string `json:"display_phone_number"`
	TrackingID         string  `json:"tracking_id"`
	Duplicate          bool    `json:"duplicate"`
}

// Dead-letter reasons.
const (
	ReasonInvalidPayload    = "invalid_payload"
	ReasonInvalidMediaURL   = "invalid_media_url"
	ReasonMappingNotFound   = "mapping_not_found"
	ReasonMaxRetriesReached = "max_retries_exceeded"
)

// DeadLetter is the envelope written to the dead-letter queue.
type DeadLetter struct {
	OriginalPayload json.RawMessage `json:"original_payload"`
	Queue           string          `json:"queue"`
	Reason          string          `json:"reason"`
	ErrorMessage    string          `json:"error_message"`
	RetryCount      int             `json:"retry_count"`
	Timestamp       time.Time       `json:"timestamp"`
}
