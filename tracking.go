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

	"github.com/wagenesys/statemanager/database"
	"github.com/wagenesys/statemanager/internal/apierror"
	"github.com/wagenesys/statemanager/model"
)

const (
	defaultMessagePageSize = 50
	maxMessagePageSize     = 200
)

// TrackMessage records a message. Re-tracking a known wamid returns the existing row with Created false.
func (s *StateManager) TrackMessage(ctx context.Context, in model.TrackMessageInput) (*model.TrackResult, error) {
	ctx, span := tracer.Start(ctx, "TrackMessage")
	defer span.End()

	if in.Wamid == "" && in.GenesysMessageID == "" {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "either wamid or genesys message id is required", nil)
	}
	if in.MappingID == "" {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "mapping id is required", nil)
	}
	if in.Direction != model.DirectionInbound && in.Direction != model.DirectionOutbound {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "unknown direction", in.Direction)
	}
	if !in.Status.IsValid() {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "unknown message status", in.Status)
	}
	if !s.validator.ValidateMediaURL(in.MediaURL) {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "media url is not allowed", in.MediaURL)
	}

	store, err := s.store(ctx)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrTransient, "tenant store unavailable", err)
	}

	now := s.now()
	id, created, err := store.InsertMessage(ctx, &model.MessageTracking{
		ID:               model.GenerateUUIDWithSuffix("msg"),
		MappingID:        in.MappingID,
		Wamid:            model.StringPtr(in.Wamid),
		GenesysMessageID: model.StringPtr(in.GenesysMessageID),
		Direction:        in.Direction,
		Status:           in.Status,
		MediaURL:         model.StringPtr(in.MediaURL),
		CreatedAt:        now,
		UpdatedAt:        now,
		MetaData:         in.MetaData,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		logrus.WithFields(logrus.Fields{
			"operation": "track_message",
			"wamid":     in.Wamid,
		}).Debug("message already tracked")
	}
	return &model.TrackResult{ID: id, Created: created}, nil
}

// UpdateStatus applies a delivery status to a tracked message. Unknown messages, illegal
// transitions, timestamps older than the stored row and lost races all yield Updated false
// with a Reason, never an error.
func (s *StateManager) UpdateStatus(ctx context.Context, in model.StatusUpdateInput) (*model.StatusUpdateResult, error) {
	ctx, span := tracer.Start(ctx, "UpdateStatus")
	defer span.End()

	if in.Wamid == "" && in.GenesysMessageID == "" {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "either wamid or genesys message id is required", nil)
	}
	if !in.Status.IsValid() {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "unknown message status", in.Status)
	}

	store, err := s.store(ctx)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrTransient, "tenant store unavailable", err)
	}

	msg, err := s.findTracked(ctx, store, in)
	if apierror.IsCode(err, apierror.ErrNotFound) {
		return s.skip(in, "", model.SkipNotFound), nil
	}
	if err != nil {
		return nil, err
	}

	if !model.IsValidTransition(msg.Status, in.Status) {
		return s.skip(in, msg.Status, model.SkipInvalidTransition), nil
	}

	at := in.Timestamp
	if at.IsZero() {
		at = s.now()
	}
	if at.Before(msg.UpdatedAt) {
		return s.skip(in, msg.Status, model.SkipStale), nil
	}

	ok, err := store.UpdateMessageStatus(ctx, msg.ID, msg.Status, in.Status, at)
	if err != nil {
		return nil, err
	}
	if !ok {
		return s.skip(in, msg.Status, model.SkipConcurrentUpdate), nil
	}

	logrus.WithFields(logrus.Fields{
		"operation": "update_status",
		"wamid":     in.Wamid,
		"from":      msg.Status,
		"to":        in.Status,
	}).Debug("message status updated")
	return &model.StatusUpdateResult{Updated: true, PreviousStatus: msg.Status}, nil
}

// findTracked looks the message up by wamid first. Outbound rows are tracked by genesys id
// alone, so a wamid miss falls back to the genesys id and records the wamid on the row found.
func (s *StateManager) findTracked(ctx context.Context, store database.IDataSource, in model.StatusUpdateInput) (*model.MessageTracking, error) {
	if in.Wamid == "" {
		return store.GetMessageByGenesysID(ctx, in.GenesysMessageID)
	}
	msg, err := store.GetMessageByWamid(ctx, in.Wamid)
	if !apierror.IsCode(err, apierror.ErrNotFound) || in.GenesysMessageID == "" {
		return msg, err
	}

	msg, err = store.GetMessageByGenesysID(ctx, in.GenesysMessageID)
	if err != nil {
		return nil, err
	}
	if msg.Wamid == nil {
		attached, err := store.AttachWamid(ctx, msg.ID, in.Wamid)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"wamid":              in.Wamid,
				"genesys_message_id": in.GenesysMessageID,
			}).WithError(err).Warn("could not attach wamid to tracked message")
		} else if attached {
			msg.Wamid = model.StringPtr(in.Wamid)
		}
	}
	return msg, nil
}

func (s *StateManager) skip(in model.StatusUpdateInput, current model.MessageStatus, reason string) *model.StatusUpdateResult {
	logrus.WithFields(logrus.Fields{
		"operation":          "update_status",
		"wamid":              in.Wamid,
		"genesys_message_id": in.GenesysMessageID,
		"current":            current,
		"requested":          in.Status,
		"reason":             reason,
	}).Debug("status update skipped")
	return &model.StatusUpdateResult{Updated: false, PreviousStatus: current, Reason: reason}
}

// ListMessagesByConversation returns a page of the conversation's messages, oldest first.
// limit defaults to 50 and is capped at 200.
func (s *StateManager) ListMessagesByConversation(ctx context.Context, conversationID string, limit, offset int) ([]model.MessageTracking, error) {
	if conversationID == "" {
		return nil, apierror.NewAPIError(apierror.ErrValidation, "conversation id is required", nil)
	}
	if limit <= 0 {
		limit = defaultMessagePageSize
	}
	if limit > maxMessagePageSize {
		limit = maxMessagePageSize
	}
	if offset < 0 {
		offset = 0
	}

	store, err := s.store(ctx)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrTransient, "tenant store unavailable", err)
	}
	return store.ListMessagesByConversation(ctx, conversationID, limit, offset)
}

// GetStats counts mappings, messages and active conversations.
func (s *StateManager) GetStats(ctx context.Context) (*model.Stats, error) {
	store, err := s.store(ctx)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrTransient, "tenant store unavailable", err)
	}
	return store.GetStats(ctx)
}
