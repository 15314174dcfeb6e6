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
	"time"

	"github.com/wagenesys/statemanager/internal/apierror"
	"github.com/wagenesys/statemanager/model"
)

const messageColumns = `id, mapping_id, wamid, genesys_message_id, direction, status, media_url,
	created_at, updated_at, delivered_at, meta_data`

func scanMessage(row scanner) (*model.MessageTracking, error) {
	msg := &model.MessageTracking{}
	var metaDataJSON []byte
	err := row.Scan(
		&msg.ID, &msg.MappingID, &msg.Wamid, &msg.GenesysMessageID, &msg.Direction, &msg.Status, &msg.MediaURL,
		&msg.CreatedAt, &msg.UpdatedAt, &msg.DeliveredAt, &metaDataJSON,
	)
	if err != nil {
		return nil, err
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &msg.MetaData); err != nil {
			return nil, err
		}
	}
	return msg, nil
}

// InsertMessage stores msg. When a row with the same wamid or genesys_message_id already exists
// it returns that row's id and created=false instead of failing.
func (d Datasource) InsertMessage(ctx context.Context, msg *model.MessageTracking) (string, bool, error) {
	ctx, span := tracer.Start(ctx, "Inserting message tracking row")
	defer span.End()

	metaDataJSON, err := json.Marshal(msg.MetaData)
	if err != nil {
		return "", false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO message_tracking (id, mapping_id, wamid, genesys_message_id, direction, status, media_url, created_at, updated_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, msg.ID, msg.MappingID, msg.Wamid, msg.GenesysMessageID, msg.Direction, msg.Status, msg.MediaURL, msg.CreatedAt, msg.UpdatedAt, metaDataJSON)
	if err == nil {
		return msg.ID, true, nil
	}

	if isUniqueViolation(err) {
		if existing := d.findDuplicate(ctx, msg); existing != nil {
			return existing.ID, false, nil
		}
	}
	span.RecordError(err)
	return "", false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to track message", err)
}

func (d Datasource) findDuplicate(ctx context.Context, msg *model.MessageTracking) *model.MessageTracking {
	if msg.Wamid != nil {
		if existing, err := d.GetMessageByWamid(ctx, *msg.Wamid); err == nil {
			return existing
		}
	}
	if msg.GenesysMessageID != nil {
		if existing, err := d.GetMessageByGenesysID(ctx, *msg.GenesysMessageID); err == nil {
			return existing
		}
	}
	return nil
}

func (d Datasource) getMessage(ctx context.Context, column, value string) (*model.MessageTracking, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM message_tracking
		WHERE `+column+` = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, value)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, "Message not found", err)
	}
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve message", err)
	}
	return msg, nil
}

func (d Datasource) GetMessageByWamid(ctx context.Context, wamid string) (*model.MessageTracking, error) {
	ctx, span := tracer.Start(ctx, "Fetching message by wamid")
	defer span.End()
	return d.getMessage(ctx, "wamid", wamid)
}

func (d Datasource) GetMessageByGenesysID(ctx context.Context, genesysMessageID string) (*model.MessageTracking, error) {
	ctx, span := tracer.Start(ctx, "Fetching message by genesys_message_id")
	defer span.End()
	return d.getMessage(ctx, "genesys_message_id", genesysMessageID)
}

// UpdateMessageStatus moves row id from `from` to `to` only if it still holds `from`.
// It reports false when another writer changed the row first.
func (d Datasource) UpdateMessageStatus(ctx context.Context, id string, from, to model.MessageStatus, at time.Time) (bool, error) {
	ctx, span := tracer.Start(ctx, "Updating message status")
	defer span.End()

	res, err := d.Conn.ExecContext(ctx, `
		UPDATE message_tracking
		SET status = $3,
			updated_at = $4,
			delivered_at = CASE WHEN $3 = 'DELIVERED' AND delivered_at IS NULL THEN $4 ELSE delivered_at END
		WHERE id = $1 AND status = $2
	`, id, from, to, at)
	if err != nil {
		span.RecordError(err)
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update message status", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
	}
	return n == 1, nil
}

// AttachWamid records wamid on row id when the row has none yet. It reports whether the row changed.
func (d Datasource) AttachWamid(ctx context.Context, id, wamid string) (bool, error) {
	ctx, span := tracer.Start(ctx, "Attaching wamid to message")
	defer span.End()

	res, err := d.Conn.ExecContext(ctx, `
		UPDATE message_tracking
		SET wamid = $2
		WHERE id = $1 AND wamid IS NULL
	`, id, wamid)
	if err != nil {
		span.RecordError(err)
		if isUniqueViolation(err) {
			return false, apierror.NewAPIError(apierror.ErrConflict, "Wamid already tracked on another message", err)
		}
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to attach wamid", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read affected rows", err)
	}
	return n == 1, nil
}

// ListMessagesByConversation pages through the messages of every mapping that carries conversationID, oldest first.
func (d Datasource) ListMessagesByConversation(ctx context.Context, conversationID string, limit, offset int) ([]model.MessageTracking, error) {
	ctx, span := tracer.Start(ctx, "Listing messages by conversation")
	defer span.End()

	rows, err := d.Conn.QueryContext(ctx, `
		SELECT mt.id, mt.mapping_id, mt.wamid, mt.genesys_message_id, mt.direction, mt.status, mt.media_url,
			mt.created_at, mt.updated_at, mt.delivered_at, mt.meta_data
		FROM message_tracking mt
		JOIN conversation_mappings cm ON cm.id = mt.mapping_id
		WHERE cm.conversation_id = $1
		ORDER BY mt.created_at ASC
		LIMIT $2 OFFSET $3
	`, conversationID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list messages", err)
	}
	defer rows.Close()

	messages := []model.MessageTracking{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan message", err)
		}
		messages = append(messages, *msg)
	}
	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over messages", err)
	}
	return messages, nil
}
