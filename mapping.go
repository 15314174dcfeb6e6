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

	"github.com/sirupsen/logrus"

	"github.com/wagenesys/statemanager/internal/apierror"
	"github.com/wagenesys/statemanager/internal/cache"
	"github.com/wagenesys/statemanager/model"
)

// CreateMappingInput is the argument of CreateMappingForInbound.
type CreateMappingInput struct {
	WaID        string
	Wamid       string
	ContactName string
	Routing     *model.RoutingMeta
	TenantID    string
}

func waKey(ctx context.Context, waID string) string {
	return scoped(ctx, "mapping:wa:"+waID)
}

func convKey(ctx context.Context, conversationID string) string {
	return scoped(ctx, "mapping:conv:"+conversationID)
}

func (s *StateManager) cacheMapping(ctx context.Context, m *model.ConversationMapping) {
	cache.SetJSON(ctx, s.cache, waKey(ctx, m.WaID), s.mappingTTL, m)
	if m.ConversationID != nil {
		cache.SetJSON(ctx, s.cache, convKey(ctx, *m.ConversationID), s.convTTL, m)
	}
}

// CreateMappingForInbound returns the active mapping of in.WaID, creating it when the contact
// has none. The bool is true when this call created the mapping. Work for one contact is
// serialized through the contact lock, which is always released before returning.
func (s *StateManager) CreateMappingForInbound(ctx context.Context, in CreateMappingInput) (*model.ConversationMapping, bool, error) {
	ctx = WithTenant(ctx, in.TenantID)
	ctx, span := tracer.Start(ctx, "CreateMappingForInbound")
	defer span.End()

	if !s.validator.ValidateContactID(in.WaID) {
		return nil, false, apierror.NewAPIError(apierror.ErrValidation, "invalid contact id", in.WaID)
	}

	lease, ok := s.locker.WithLockRetry(ctx, scoped(ctx, in.WaID))
	if !ok {
		return nil, false, apierror.NewAPIError(apierror.ErrTransient, "could not acquire contact lock", in.WaID)
	}
	defer s.locker.ReleaseLock(context.WithoutCancel(ctx), lease)

	store, err := s.store(ctx)
	if err != nil {
		return nil, false, apierror.NewAPIError(apierror.ErrTransient, "tenant store unavailable", err)
	}

	now := s.now()
	existing, err := store.GetActiveMappingByWaID(ctx, in.WaID)
	if err != nil && !apierror.IsCode(err, apierror.ErrNotFound) {
		return nil, false, err
	}

	if existing == nil {
		m := &model.ConversationMapping{
			ID:             model.GenerateUUIDWithSuffix("map"),
			WaID:           in.WaID,
			LastMessageID:  model.StringPtr(in.Wamid),
			ContactName:    model.StringPtr(in.ContactName),
			Status:         model.ConversationActive,
			LastActivityAt: now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if in.Routing != nil {
			m.PhoneNumberID = model.StringPtr(in.Routing.PhoneNumberID)
			m.DisplayPhoneNumber = model.StringPtr(in.Routing.DisplayPhoneNumber)
		}

		created, err := store.CreateMapping(ctx, m)
		if err == nil {
			s.cacheMapping(ctx, created)
			logrus.WithFields(logrus.Fields{
				"operation":  "create_mapping",
				"wa_id":      in.WaID,
				"wamid":      in.Wamid,
				"mapping_id": created.ID,
			}).Info("conversation mapping created")
			return created, true, nil
		}
		if !apierror.IsCode(err, apierror.ErrConflict) {
			return nil, false, err
		}
		// the lock expired under a slow holder and another writer created the row first
		existing, err = store.GetActiveMappingByWaID(ctx, in.WaID)
		if err != nil {
			return nil, false, err
		}
	}

	updated, err := store.TouchMapping(ctx, existing.ID, model.StringPtr(in.ContactName), in.Wamid, now)
	if err != nil {
		return nil, false, err
	}
	s.cacheMapping(ctx, updated)
	return updated, false, nil
}

// CorrelateConversation attaches conversationID to the mapping whose last message is wamid and
// that has no conversation yet. It returns nil without error when there is nothing to correlate.
func (s *StateManager) CorrelateConversation(ctx context.Context, conversationID, communicationID, wamid string) (*model.ConversationMapping, error) {
	ctx, span := tracer.Start(ctx, "CorrelateConversation")
	defer span.End()

	if conversationID == "" || wamid == "" {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "conversation id and wamid are required", nil)
	}

	store, err := s.store(ctx)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrTransient, "tenant store unavailable", err)
	}

	m, err := store.CorrelateMapping(ctx, wamid, conversationID, communicationID)
	if err != nil {
		return nil, err
	}
	fields := logrus.Fields{
		"operation":       "correlate",
		"wamid":           wamid,
		"conversation_id": conversationID,
	}
	if m == nil {
		logrus.WithFields(fields).Debug("nothing to correlate")
		return nil, nil
	}

	s.cacheMapping(ctx, m)
	logrus.WithFields(fields).WithField("wa_id", m.WaID).Info("conversation correlated")
	return m, nil
}

// GetMappingByWaID returns the active mapping of waID, reading through the cache.
func (s *StateManager) GetMappingByWaID(ctx context.Context, waID string) (*model.ConversationMapping, error) {
	var cached model.ConversationMapping
	if cache.GetJSON(ctx, s.cache, waKey(ctx, waID), &cached) {
		return &cached, nil
	}

	store, err := s.store(ctx)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrTransient, "tenant store unavailable", err)
	}
	m, err := store.GetActiveMappingByWaID(ctx, waID)
	if err != nil {
		return nil, err
	}
	s.cacheMapping(ctx, m)
	return m, nil
}

// GetMappingByConversationID returns the mapping carrying conversationID, reading through the cache.
// The mapping may be closed or expired; callers routing messages must check IsActive. A status
// change made outside UpdateMappingStatus is seen once the conversation key expires.
func (s *StateManager) GetMappingByConversationID(ctx context.Context, conversationID string) (*model.ConversationMapping, error) {
	var cached model.ConversationMapping
	if cache.GetJSON(ctx, s.cache, convKey(ctx, conversationID), &cached) {
		return &cached, nil
	}

	store, err := s.store(ctx)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrTransient, "tenant store unavailable", err)
	}
	m, err := store.GetMappingByConversationID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	cache.SetJSON(ctx, s.cache, convKey(ctx, conversationID), s.convTTL, m)
	return m, nil
}

// UpdateMappingStatus closes or expires the active mapping of waID and drops it from the cache,
// so the next inbound message from the contact opens a fresh mapping.
func (s *StateManager) UpdateMappingStatus(ctx context.Context, waID string, status model.ConversationStatus) (*model.ConversationMapping, error) {
	if !status.IsValid() || status == model.ConversationActive {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "status must be closed or expired", status)
	}

	lease, ok := s.locker.WithLockRetry(ctx, scoped(ctx, waID))
	if !ok {
		return nil, apierror.NewAPIError(apierror.ErrTransient, "could not acquire contact lock", waID)
	}
	defer s.locker.ReleaseLock(context.WithoutCancel(ctx), lease)

	store, err := s.store(ctx)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrTransient, "tenant store unavailable", err)
	}
	m, err := store.UpdateMappingStatus(ctx, waID, status)
	if err != nil {
		return nil, err
	}

	keys := []string{waKey(ctx, waID)}
	if m.ConversationID != nil {
		keys = append(keys, convKey(ctx, *m.ConversationID))
	}
	s.cache.Del(ctx, keys...)

	logrus.WithFields(logrus.Fields{
		"operation": "update_mapping_status",
		"wa_id":     waID,
		"status":    status,
	}).Info("mapping status changed")
	return m, nil
}

func (s *StateManager) touchActivity(ctx context.Context, m *model.ConversationMapping) {
	store, err := s.store(ctx)
	if err != nil {
		return
	}
	at := s.now()
	if err := store.TouchMappingActivity(ctx, m.ID, at); err != nil {
		logrus.WithField("mapping_id", m.ID).WithError(err).Warn("could not touch mapping activity")
		return
	}
	m.LastActivityAt = at
	m.UpdatedAt = at
	s.cacheMapping(ctx, m)
}
