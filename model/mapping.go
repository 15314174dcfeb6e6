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

// ConversationStatus is the lifecycle state of a ConversationMapping.
type ConversationStatus string

const (
	ConversationActive  ConversationStatus = "active"
	ConversationClosed  ConversationStatus = "closed"
	ConversationExpired ConversationStatus = "expired"
)

// IsValid reports whether s is one of the known lifecycle states.
func (s ConversationStatus) IsValid() bool {
	switch s {
	case ConversationActive, ConversationClosed, ConversationExpired:
		return true
	}
	return false
}

// ConversationMapping links an external contact (wa_id) to a contact-center conversation.
// ConversationID stays nil until a correlation event attaches it.
type ConversationMapping struct {
	ID                 string                 `json:"id"`
	WaID               string                 `json:"wa_id"`
	ConversationID     *string                `json:"conversation_id"`
	CommunicationID    *string                `json:"communication_id"`
	LastMessageID      *string                `json:"last_message_id"`
	ContactName        *string                `json:"contact_name"`
	PhoneNumberID      *string                `json:"phone_number_id"`
	DisplayPhoneNumber *string                `json:"display_phone_number"`
	Status             ConversationStatus     `json:"status"`
	LastActivityAt     time.Time              `json:"last_activity_at"`
	CreatedAt          time.Time              `json:"created_at"`
	UpdatedAt          time.Time              `json:"updated_at"`
	MetaData           map[string]interface{} `json:"meta_data,omitempty"`
}

// IsActive reports whether the mapping may still route messages.
func (m *ConversationMapping) IsActive() bool {
	return m != nil && m.Status == ConversationActive
}

// RoutingMeta carries the channel-routing fields of an inbound message.
type RoutingMeta struct {
	PhoneNumberID      string `json:"phone_number_id,omitempty"`
	DisplayPhoneNumber string `json:"display_phone_number,omitempty"`
}

// MappingView is the stable external shape of a mapping served across the service boundary.
type MappingView struct {
	InternalID         string                 `json:"internalId"`
	WaID               string                 `json:"waId"`
	ConversationID     *string                `json:"conversationId"`
	CommunicationID    *string                `json:"communicationId"`
	LastMessageID      *string                `json:"lastMessageId"`
	ContactName        *string                `json:"contactName"`
	PhoneNumberID      *string                `json:"phoneNumberId"`
	DisplayPhoneNumber *string                `json:"displayPhoneNumber"`
	Status             ConversationStatus     `json:"status"`
	LastActivityAt     time.Time              `json:"lastActivityAt"`
	CreatedAt          time.Time              `json:"createdAt"`
	UpdatedAt          time.Time              `json:"updatedAt"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
}

// FormatMapping translates a storage row into its external shape. It returns nil for a nil row.
func FormatMapping(m *ConversationMapping) *MappingView {
	if m == nil {
		return nil
	}
	return &MappingView{
		InternalID:         m.ID,
		WaID:               m.WaID,
		ConversationID:     m.ConversationID,
		CommunicationID:    m.CommunicationID,
		LastMessageID:      m.LastMessageID,
		ContactName:        m.ContactName,
		PhoneNumberID:      m.PhoneNumberID,
		DisplayPhoneNumber: m.DisplayPhoneNumber,
		Status:             m.Status,
		LastActivityAt:     m.LastActivityAt,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
		Metadata:           m.MetaData,
	}
}

// StringPtr returns nil for an empty string and a pointer to s otherwise.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringValue dereferences p, returning "" for nil.
func StringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
