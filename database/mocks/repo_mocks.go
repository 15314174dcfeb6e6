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

package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/wagenesys/statemanager/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

func mappingOrNil(v interface{}) *model.ConversationMapping {
	if v == nil {
		return nil
	}
	return v.(*model.ConversationMapping)
}

func messageOrNil(v interface{}) *model.MessageTracking {
	if v == nil {
		return nil
	}
	return v.(*model.MessageTracking)
}

// Mapping methods

func (m *MockDataSource) CreateMapping(ctx context.Context, mapping *model.ConversationMapping) (*model.ConversationMapping, error) {
	args := m.Called(ctx, mapping)
	return mappingOrNil(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) GetActiveMappingByWaID(ctx context.Context, waID string) (*model.ConversationMapping, error) {
	args := m.Called(ctx, waID)
	return mappingOrNil(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) GetMappingByConversationID(ctx context.Context, conversationID string) (*model.ConversationMapping, error) {
	args := m.Called(ctx, conversationID)
	return mappingOrNil(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) TouchMapping(ctx context.Context, id string, contactName *string, lastMessageID string, at time.Time) (*model.ConversationMapping, error) {
	args := m.Called(ctx, id, contactName, lastMessageID, at)
	return mappingOrNil(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) TouchMappingActivity(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockDataSource) CorrelateMapping(ctx context.Context, lastMessageID, conversationID, communicationID string) (*model.ConversationMapping, error) {
	args := m.Called(ctx, lastMessageID, conversationID, communicationID)
	return mappingOrNil(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) UpdateMappingStatus(ctx context.Context, waID string, status model.ConversationStatus) (*model.ConversationMapping, error) {
	args := m.Called(ctx, waID, status)
	return mappingOrNil(args.Get(0)), args.Error(1)
}

// Tracking methods

func (m *MockDataSource) InsertMessage(ctx context.Context, msg *model.MessageTracking) (string, bool, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockDataSource) GetMessageByWamid(ctx context.Context, wamid string) (*model.MessageTracking, error) {
	args := m.Called(ctx, wamid)
	return messageOrNil(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) GetMessageByGenesysID(ctx context.Context, genesysMessageID string) (*model.MessageTracking, error) {
	args := m.Called(ctx, genesysMessageID)
	return messageOrNil(args.Get(0)), args.Error(1)
}

func (m *MockDataSource) UpdateMessageStatus(ctx context.Context, id string, from, to model.MessageStatus, at time.Time) (bool, error) {
	args := m.Called(ctx, id, from, to, at)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) AttachWamid(ctx context.Context, id, wamid string) (bool, error) {
	args := m.Called(ctx, id, wamid)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) ListMessagesByConversation(ctx context.Context, conversationID string, limit, offset int) ([]model.MessageTracking, error) {
	args := m.Called(ctx, conversationID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.MessageTracking), args.Error(1)
}

// Context, stats and health

func (m *MockDataSource) SaveConversationContext(ctx context.Context, conversationID string, data map[string]interface{}) (*model.ConversationContext, error) {
	args := m.Called(ctx, conversationID, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ConversationContext), args.Error(1)
}

func (m *MockDataSource) GetConversationContext(ctx context.Context, conversationID string) (*model.ConversationContext, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ConversationContext), args.Error(1)
}

func (m *MockDataSource) GetStats(ctx context.Context) (*model.Stats, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Stats), args.Error(1)
}

func (m *MockDataSource) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
