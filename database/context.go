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
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/wagenesys/statemanager/internal/apierror"
	"github.com/wagenesys/statemanager/model"
)

// SaveConversationContext replaces the stored context document of conversationID.
func (d Datasource) SaveConversationContext(ctx context.Context, conversationID string, data map[string]interface{}) (*model.ConversationContext, error) {
	ctx, span := tracer.Start(ctx, "Saving conversation context")
	defer span.End()

	if data == nil {
		data = map[string]interface{}{}
	}
	contextJSON, err := json.Marshal(data)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrBadRequest, "Context is not serialisable", err)
	}

	out := &model.ConversationContext{ConversationID: conversationID, Context: data}
	err = d.Conn.QueryRowContext(ctx, `
		INSERT INTO conversation_context (conversation_id, context, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (conversation_id) DO UPDATE SET context = EXCLUDED.context, updated_at = NOW()
		RETURNING updated_at
	`, conversationID, contextJSON).Scan(&out.UpdatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to save conversation context", err)
	}
	return out, nil
}

func (d Datasource) GetConversationContext(ctx context.Context, conversationID string) (*model.ConversationContext, error) {
	ctx, span := tracer.Start(ctx, "Fetching conversation context")
	defer span.End()

	out := &model.ConversationContext{ConversationID: conversationID}
	var contextJSON []byte
	err := d.Conn.QueryRowContext(ctx, `
		SELECT context, updated_at FROM conversation_context WHERE conversation_id = $1
	`, conversationID).Scan(&contextJSON, &out.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Conversation context not found", err)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve conversation context", err)
	}
	if err := json.Unmarshal(contextJSON, &out.Context); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal conversation context", err)
	}
	return out, nil
}
