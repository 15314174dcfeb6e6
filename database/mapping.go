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

const mappingColumns = `id, wa_id, conversation_id, communication_id, last_message_id, contact_name,
	phone_number_id, display_phone_number, status, last_activity_at, created_at, updated_at, meta_data`

func scanMapping(row scanner) (*model.ConversationMapping, error) {
	m := &model.ConversationMapping{}
	var metaDataJSON []byte
	err := row.Scan(
		&m.ID, &m.WaID, &m.ConversationID, &m.CommunicationID, &m.LastMessageID, &m.ContactName,
		&m.PhoneNumberID, &m.DisplayPhoneNumber, &m.Status, &m.LastActivityAt, &m.CreatedAt, &m.UpdatedAt, &metaDataJSON,
	)
	if err != nil {
		return nil, err
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &m.MetaData); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func mappingNotFound(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apierror.NewAPIError(apierror.ErrNotFound, message, err)
	}
	return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve mapping", err)
}

// CreateMapping inserts a new mapping. A second active mapping for the same wa_id
// violates the partial unique index and is reported as a conflict.
func (d Datasource) CreateMapping(ctx context.Context, m *model.ConversationMapping) (*model.ConversationMapping, error) {
	ctx, span := tracer.Start(ctx, "Creating conversation mapping")
	defer span.End()

	metaDataJSON, err := json.Marshal(m.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	row := d.Conn.QueryRowContext(ctx, `
		INSERT INTO conversation_mappings (id, wa_id, conversation_id, communication_id, last_message_id, contact_name,
			phone_number_id, display_phone_number, status, last_activity_at, created_at, updated_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING `+mappingColumns,
		m.ID, m.WaID, m.ConversationID, m.CommunicationID, m.LastMessageID, m.ContactName,
		m.PhoneNumberID, m.DisplayPhoneNumber, m.Status, m.LastActivityAt, m.CreatedAt, m.UpdatedAt, metaDataJSON,
	)

	created, err := scanMapping(row)
	if err != nil {
		span.RecordError(err)
		if isUniqueViolation(err) {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "An active mapping already exists for this contact", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create mapping", err)
	}
	return created, nil
}

// GetActiveMappingByWaID returns the single active mapping of waID.
func (d Datasource) GetActiveMappingByWaID(ctx context.Context, waID string) (*model.ConversationMapping, error) {
	ctx, span := tracer.Start(ctx, "Fetching active mapping by wa_id")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+mappingColumns+`
		FROM conversation_mappings
		WHERE wa_id = $1 AND status = 'active'
	`, waID)

	m, err := scanMapping(row)
	if err != nil {
		return nil, mappingNotFound(err, "Mapping not found for contact")
	}
	return m, nil
}

// GetMappingByConversationID returns the newest mapping carrying conversationID, whatever its status.
func (d Datasource) GetMappingByConversationID(ctx context.Context, conversationID string) (*model.ConversationMapping, error) {
	ctx, span := tracer.Start(ctx, "Fetching mapping by conversation_id")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		SELECT `+mappingColumns+`
		FROM conversation_mappings
		WHERE conversation_id = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`, conversationID)

	m, err := scanMapping(row)
	if err != nil {
		return nil, mappingNotFound(err, "Mapping not found for conversation")
	}
	return m, nil
}

// TouchMapping records a new inbound message on an existing mapping. A nil contactName keeps the stored one.
func (d Datasource) TouchMapping(ctx context.Context, id string, contactName *string, lastMessageID string, at time.Time) (*model.ConversationMapping, error) {
	ctx, span := tracer.Start(ctx, "Touching conversation mapping")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		UPDATE conversation_mappings
		SET contact_name = COALESCE($2, contact_name),
			last_message_id = $3,
			last_activity_at = $4,
			updated_at = $4
		WHERE id = $1
		RETURNING `+mappingColumns,
		id, contactName, lastMessageID, at,
	)

	m, err := scanMapping(row)
	if err != nil {
		return nil, mappingNotFound(err, "Mapping not found")
	}
	return m, nil
}

// TouchMappingActivity bumps last_activity_at only.
func (d Datasource) TouchMappingActivity(ctx context.Context, id string, at time.Time) error {
	ctx, span := tracer.Start(ctx, "Touching mapping activity")
	defer span.End()

	_, err := d.Conn.ExecContext(ctx, `
		UPDATE conversation_mappings
		SET last_activity_at = $2, updated_at = $2
		WHERE id = $1
	`, id, at)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update mapping activity", err)
	}
	return nil
}

// CorrelateMapping attaches conversationID to the active, not yet correlated mapping whose
// last message is lastMessageID. It returns nil without error when no row qualifies.
func (d Datasource) CorrelateMapping(ctx context.Context, lastMessageID, conversationID, communicationID string) (*model.ConversationMapping, error) {
	ctx, span := tracer.Start(ctx, "Correlating conversation mapping")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		UPDATE conversation_mappings
		SET conversation_id = $2,
			communication_id = $3,
			updated_at = NOW()
		WHERE last_message_id = $1
			AND status = 'active'
			AND conversation_id IS NULL
		RETURNING `+mappingColumns,
		lastMessageID, conversationID, model.StringPtr(communicationID),
	)

	m, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to correlate mapping", err)
	}
	return m, nil
}

// UpdateMappingStatus moves the active mapping of waID to status.
func (d Datasource) UpdateMappingStatus(ctx context.Context, waID string, status model.ConversationStatus) (*model.ConversationMapping, error) {
	ctx, span := tracer.Start(ctx, "Updating mapping status")
	defer span.End()

	row := d.Conn.QueryRowContext(ctx, `
		UPDATE conversation_mappings
		SET status = $2, updated_at = NOW()
		WHERE wa_id = $1 AND status = 'active'
		RETURNING `+mappingColumns,
		waID, status,
	)

	m, err := scanMapping(row)
	if err != nil {
		return nil, mappingNotFound(err, "No active mapping for contact")
	}
	return m, nil
}
