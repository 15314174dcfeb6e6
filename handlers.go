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
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wagenesys/statemanager/internal/apierror"
	"github.com/wagenesys/statemanager/internal/broker"
	"github.com/wagenesys/statemanager/model"
)

// Consumers maps each input queue to its handler.
func (s *StateManager) Consumers() map[string]broker.Handler {
	return map[string]broker.Handler{
		s.queues.InboundQueue:  s.HandleInbound,
		s.queues.OutboundQueue: s.HandleOutbound,
		s.queues.StatusQueue:   s.HandleStatus,
	}
}

// deadLetter parks body on the dead-letter queue. A nil return means the message is settled.
func (s *StateManager) deadLetter(ctx context.Context, queue string, body []byte, reason string, cause error) error {
	retries := broker.RetryCountFrom(ctx)
	logrus.WithFields(logrus.Fields{
		"queue":       queue,
		"reason":      reason,
		"retry_count": retries,
	}).WithError(cause).Warn("message dead-lettered")
	trace.SpanFromContext(ctx).AddEvent("dead_letter", trace.WithAttributes(
		attribute.String("queue", queue),
		attribute.String("reason", reason),
	))
	return s.publisher.Publish(ctx, s.queues.DeadLetterQueue, broker.NewDeadLetter(queue, body, reason, cause, retries))
}

func logHandled(operation string, started time.Time, fields logrus.Fields) {
	fields["operation"] = operation
	fields["duration_ms"] = time.Since(started).Milliseconds()
	logrus.WithFields(fields).Info("message handled")
}

// HandleInbound maps the sender, tracks the message and forwards it enriched to the
// inbound-processed queue. Redelivered messages are forwarded again without a second tracking row.
func (s *StateManager) HandleInbound(ctx context.Context, body []byte) error {
	ctx, span := tracer.Start(ctx, "HandleInbound")
	defer span.End()
	started := time.Now()
	queue := s.queues.InboundQueue

	var msg model.InboundMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return s.deadLetter(ctx, queue, body, model.ReasonInvalidPayload, err)
	}
	if err := s.validator.CheckContactID(msg.WaID); err != nil {
		return s.deadLetter(ctx, queue, body, model.ReasonInvalidPayload, err)
	}
	if msg.Wamid == "" {
		return s.deadLetter(ctx, queue, body, model.ReasonInvalidPayload, errors.New("wamid is required"))
	}
	if err := s.validator.CheckMediaURL(msg.MediaURL); err != nil {
		return s.deadLetter(ctx, queue, body, model.ReasonInvalidMediaURL, err)
	}

	ctx = WithTenant(ctx, msg.TenantID)
	var routing *model.RoutingMeta
	if msg.PhoneNumberID != "" || msg.DisplayPhoneNumber != "" {
		routing = &model.RoutingMeta{PhoneNumberID: msg.PhoneNumberID, DisplayPhoneNumber: msg.DisplayPhoneNumber}
	}

	mapping, isNew, err := s.CreateMappingForInbound(ctx, CreateMappingInput{
		WaID:        msg.WaID,
		Wamid:       msg.Wamid,
		ContactName: msg.ContactName,
		Routing:     routing,
		TenantID:    msg.TenantID,
	})
	if err != nil {
		return err
	}

	tracked, err := s.TrackMessage(ctx, model.TrackMessageInput{
		MappingID: mapping.ID,
		Wamid:     msg.Wamid,
		Direction: model.DirectionInbound,
		Status:    model.StatusReceived,
		MediaURL:  msg.MediaURL,
		MetaData:  map[string]interface{}{"message_type": msg.MessageType},
	})
	if err != nil {
		return err
	}

	// a redelivery that is still uncorrelated repeats the new-conversation signal
	if !isNew && !tracked.Created && mapping.ConversationID == nil && model.StringValue(mapping.LastMessageID) == msg.Wamid {
		isNew = true
	}

	event := model.InboundProcessedEvent{
		InboundMessage:    msg,
		MappingID:         mapping.ID,
		ConversationID:    mapping.ConversationID,
		CommunicationID:   mapping.CommunicationID,
		TrackingID:        tracked.ID,
		IsNewConversation: isNew,
		Duplicate:         !tracked.Created,
	}
	if err := s.publisher.Publish(ctx, s.queues.InboundProcessedQueue, event); err != nil {
		return err
	}

	logHandled("inbound", started, logrus.Fields{
		"wa_id":               msg.WaID,
		"wamid":               msg.Wamid,
		"conversation_id":     model.StringValue(mapping.ConversationID),
		"is_new_conversation": isNew,
		"duplicate":           !tracked.Created,
	})
	return nil
}

// HandleOutbound resolves the contact of an agent reply, tracks it and forwards it to the
// outbound-processed queue. Replies for unknown or inactive conversations are dead-lettered.
func (s *StateManager) HandleOutbound(ctx context.Context, body []byte) error {
	ctx, span := tracer.Start(ctx, "HandleOutbound")
	defer span.End()
	started := time.Now()
	queue := s.queues.OutboundQueue

	var msg model.OutboundMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return s.deadLetter(ctx, queue, body, model.ReasonInvalidPayload, err)
	}
	if msg.ConversationID == "" || msg.GenesysMessageID == "" {
		return s.deadLetter(ctx, queue, body, model.ReasonInvalidPayload, errors.New("conversation_id and genesys_message_id are required"))
	}
	if err := s.validator.CheckMediaURL(msg.MediaURL); err != nil {
		return s.deadLetter(ctx, queue, body, model.ReasonInvalidMediaURL, err)
	}

	ctx = WithTenant(ctx, msg.TenantID)
	mapping, err := s.GetMappingByConversationID(ctx, msg.ConversationID)
	if apierror.IsCode(err, apierror.ErrNotFound) {
		return s.deadLetter(ctx, queue, body, model.ReasonMappingNotFound, err)
	}
	if err != nil {
		return err
	}
	if !mapping.IsActive() {
		return s.deadLetter(ctx, queue, body, model.ReasonMappingNotFound,
			errors.New("mapping for conversation is "+string(mapping.Status)))
	}

	tracked, err := s.TrackMessage(ctx, model.TrackMessageInput{
		MappingID:        mapping.ID,
		GenesysMessageID: msg.GenesysMessageID,
		Direction:        model.DirectionOutbound,
		Status:           model.StatusQueued,
		MediaURL:         msg.MediaURL,
		MetaData:         map[string]interface{}{"message_type": msg.MessageType},
	})
	if err != nil {
		return err
	}
	s.touchActivity(ctx, mapping)

	event := model.OutboundProcessedEvent{
		OutboundMessage:    msg,
		MappingID:          mapping.ID,
		WaID:               mapping.WaID,
		PhoneNumberID:      mapping.PhoneNumberID,
		DisplayPhoneNumber: mapping.DisplayPhoneNumber,
		TrackingID:         tracked.ID,
		Duplicate:          !tracked.Created,
	}
	if err := s.publisher.Publish(ctx, s.queues.OutboundProcessedQueue, event); err != nil {
		return err
	}

	logHandled("outbound", started, logrus.Fields{
		"wa_id":           mapping.WaID,
		"conversation_id": msg.ConversationID,
		"genesys_id":      msg.GenesysMessageID,
	})
	return nil
}

// HandleStatus applies delivery status events and correlation events. Rejected status
// changes are expected under out-of-order delivery and are acknowledged without retry.
func (s *StateManager) HandleStatus(ctx context.Context, body []byte) error {
	ctx, span := tracer.Start(ctx, "HandleStatus")
	defer span.End()
	started := time.Now()
	queue := s.queues.StatusQueue

	var evt model.StatusEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return s.deadLetter(ctx, queue, body, model.ReasonInvalidPayload, err)
	}
	if evt.WaID != "" {
		if err := s.validator.CheckContactID(evt.WaID); err != nil {
			return s.deadLetter(ctx, queue, body, model.ReasonInvalidPayload, err)
		}
	}
	ctx = WithTenant(ctx, evt.TenantID)

	if evt.Type == model.StatusEventCorrelation {
		m, err := s.CorrelateConversation(ctx, evt.ConversationID, evt.CommunicationID, evt.Wamid)
		if apierror.IsCode(err, apierror.ErrValidation) {
			return s.deadLetter(ctx, queue, body, model.ReasonInvalidPayload, err)
		}
		if err != nil {
			return err
		}
		logHandled("correlate", started, logrus.Fields{
			"wamid":           evt.Wamid,
			"conversation_id": evt.ConversationID,
			"correlated":      m != nil,
		})
		return nil
	}

	status, ok := model.ParseMessageStatus(evt.Status)
	if !ok {
		return s.deadLetter(ctx, queue, body, model.ReasonInvalidPayload, errors.New("unknown status "+evt.Status))
	}

	result, err := s.UpdateStatus(ctx, model.StatusUpdateInput{
		Wamid:            evt.Wamid,
		GenesysMessageID: evt.GenesysMessageID,
		Status:           status,
		Timestamp:        evt.Timestamp,
	})
	if apierror.IsCode(err, apierror.ErrValidation) {
		return s.deadLetter(ctx, queue, body, model.ReasonInvalidPayload, err)
	}
	if err != nil {
		return err
	}

	logHandled("status", started, logrus.Fields{
		"wa_id":   evt.WaID,
		"wamid":   evt.Wamid,
		"status":  status,
		"updated": result.Updated,
		"reason":  result.Reason,
	})
	return nil
}
