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

import "strings"

// MessageStatus is a state of the message delivery state machine.
type MessageStatus string

const (
	StatusQueued    MessageStatus = "QUEUED"
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
	StatusReceived  MessageStatus = "RECEIVED"
	StatusProcessed MessageStatus = "PROCESSED"
	StatusFailed    MessageStatus = "FAILED"
)

// transitions lists the allowed next states. Terminal states map to nothing;
// self transitions are handled in IsValidTransition.
var transitions = map[MessageStatus][]MessageStatus{
	StatusQueued:    {StatusSent, StatusFailed},
	StatusSent:      {StatusDelivered, StatusFailed},
	StatusDelivered: {StatusRead, StatusFailed},
	StatusReceived:  {StatusProcessed, StatusFailed},
	StatusRead:      {},
	StatusProcessed: {},
	StatusFailed:    {},
}

// AllMessageStatuses returns every known status.
func AllMessageStatuses() []MessageStatus {
	return []MessageStatus{StatusQueued, StatusSent, StatusDelivered, StatusRead, StatusReceived, StatusProcessed, StatusFailed}
}

// IsValid reports whether s is a known status.
func (s MessageStatus) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether s has no outgoing transitions.
func (s MessageStatus) IsTerminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// ParseMessageStatus normalizes webhook status strings ("delivered", "Read") to a MessageStatus.
func ParseMessageStatus(raw string) (MessageStatus, bool) {
	s := MessageStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.IsValid() {
		return "", false
	}
	return s, true
}

// IsValidTransition reports whether a message may move from one status to another.
// Re-applying the current status is always allowed so duplicate webhooks stay harmless.
func IsValidTransition(from, to MessageStatus) bool {
	if !from.IsValid() || !to.IsValid() {
		return false
	}
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
