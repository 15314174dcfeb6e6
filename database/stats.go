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

	"github.com/wagenesys/statemanager/internal/apierror"
	"github.com/wagenesys/statemanager/model"
)

func (d Datasource) GetStats(ctx context.Context) (*model.Stats, error) {
	ctx, span := tracer.Start(ctx, "Fetching stats")
	defer span.End()

	s := &model.Stats{}
	err := d.Conn.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM conversation_mappings),
			(SELECT COUNT(*) FROM message_tracking),
			(SELECT COUNT(*) FROM conversation_mappings WHERE status = 'active')
	`).Scan(&s.TotalMappings, &s.TotalMessages, &s.ActiveConversations)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to fetch stats", err)
	}
	return s, nil
}
