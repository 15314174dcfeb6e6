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

	"github.com/wagenesys/statemanager/internal/apierror"
	"github.com/wagenesys/statemanager/model"
)

func (s *StateManager) SaveConversationContext(ctx context.Context, conversationID string, data map[string]interface{}) (*model.ConversationContext, error) {
	if conversationID == "" {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "conversation id is required", nil)
	}
	store, err := s.store(ctx)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrTransient, "tenant store unavailable", err)
	}
	return store.SaveConversationContext(ctx, conversationID, data)
}

func (s *StateManager) GetConversationContext(ctx context.Context, conversationID string) (*model.ConversationContext, error) {
	if conversationID == "" {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "conversation id is required", nil)
	}
	store, err := s.store(ctx)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrTransient, "tenant store unavailable", err)
	}
	return store.GetConversationContext(ctx, conversationID)
}
