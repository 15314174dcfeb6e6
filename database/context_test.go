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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagenesys/statemanager/internal/apierror"
)

func TestSaveConversationContext_Upserts(t *testing.T) {
	ds, mock := newMockDatasource(t)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO conversation_context (.+) ON CONFLICT \\(conversation_id\\) DO UPDATE").
		WithArgs("conv_1", []byte(`{"language":"en"}`)).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))

	saved, err := ds.SaveConversationContext(context.Background(), "conv_1", map[string]interface{}{"language": "en"})
	require.NoError(t, err)
	assert.Equal(t, now, saved.UpdatedAt)
	assert.Equal(t, "en", saved.Context["language"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetConversationContext(t *testing.T) {
	ds, mock := newMockDatasource(t)
	now := time.Now()

	mock.ExpectQuery("SELECT context, updated_at FROM conversation_context WHERE conversation_id = \\$1").
		WithArgs("conv_1").
		WillReturnRows(sqlmock.NewRows([]string{"context", "updated_at"}).AddRow([]byte(`{"step":2}`), now))
	mock.ExpectQuery("SELECT context, updated_at FROM conversation_context WHERE conversation_id = \\$1").
		WithArgs("conv_missing").
		WillReturnError(sql.ErrNoRows)

	got, err := ds.GetConversationContext(context.Background(), "conv_1")
	require.NoError(t, err)
	assert.Equal(t, float64(2), got.Context["step"])

	_, err = ds.GetConversationContext(context.Background(), "conv_missing")
	assert.True(t, apierror.IsCode(err, apierror.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStats(t *testing.T) {
	ds, mock := newMockDatasource(t)

	mock.ExpectQuery("SELECT \\(SELECT COUNT\\(\\*\\) FROM conversation_mappings\\)").
		WillReturnRows(sqlmock.NewRows([]string{"mappings", "messages", "active"}).AddRow(12, 340, 7))

	s, err := ds.GetStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(12), s.TotalMappings)
	assert.Equal(t, int64(340), s.TotalMessages)
	assert.Equal(t, int64(7), s.ActiveConversations)
	assert.NoError(t, mock.ExpectationsWereMet())
}
