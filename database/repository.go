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

package database

import (
	"context"
	"time"

	"github.com/wagenesys/statemanager/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	mapping
	tracking
	conversationContext
	stats
	Ping(ctx context.Context) error
}

// mapping covers the conversation_mappings table.
type mapping interface {
	CreateMapping(ctx context.Context, m *model.ConversationMapping) (*model.ConversationMapping, error)
	GetActiveMappingByWaID(ctx context.Context, waID string) (*model.ConversationMapping, error)
	GetMappingByConversationID(ctx context.Context, conversationID string) (*model.ConversationMapping, error)
	TouchMapping(ctx context.Context, id string, contactName *string, lastMessageID string, at time.Time) (*model.ConversationMapping, error)
	TouchMappingActivity(ctx context.Context, id string, at time.Time) error
	CorrelateMapping(ctx context.Context, lastMessageID, conversationID, communicationID string) (*model.ConversationMapping, error)
	UpdateMappingStatus(ctx context.Context, waID string, status model.ConversationStatus) (*model.ConversationMapping, error)
}

// tracking covers the message_tracking table.
type tracking interface {
	InsertMessage(ctx context.Context, msg *model.MessageTracking) (string, bool, error)
	GetMessageByWamid(ctx context.Context, wamid string) (*model.MessageTracking, error)
	GetMessageByGenesysID(ctx context.Context, genesysMessageID string) (*model.MessageTracking, error)
	UpdateMessageStatus(ctx context.Context, id string, from, to model.MessageStatus, at time.Time) (bool, error)
	AttachWamid(ctx context.Context, id, wamid string) (bool, error)
	ListMessagesByConversation(ctx context.Context, conversationID string, limit, offset int) ([]model.MessageTracking, error)
}

type conversationContext interface {
	SaveConversationContext(ctx context.Context, conversationID string, data map[string]interface{}) (*model.ConversationContext, error)
	GetConversationContext(ctx context.Context, conversationID string) (*model.ConversationContext, error)
}

type stats interface {
	GetStats(ctx context.Context) (*model.Stats, error)
}
