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
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/wagenesys/statemanager/config"
	"github.com/wagenesys/statemanager/internal/apierror"
	"github.com/wagenesys/statemanager/internal/cache"
	redlock "github.com/wagenesys/statemanager/internal/lock"
	"github.com/wagenesys/statemanager/internal/validator"
	"github.com/wagenesys/statemanager/model"
)

// memoryStore is an in-memory IDataSource that enforces the same constraints as the schema:
// one active mapping per wa_id, unique wamid and genesys_message_id, and conditional status writes.
type memoryStore struct {
	mu       sync.Mutex
	mappings map[string]*model.ConversationMapping
	messages map[string]*model.MessageTracking
	contexts map[string]*model.ConversationContext
	seq      int

	pingErr   error
	failWith  error
	readDelay time.Duration

	inFlight    int
	maxInFlight int
	// beforeCAS runs inside UpdateMessageStatus before the status comparison.
	beforeCAS func(m *model.MessageTracking)
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		mappings: map[string]*model.ConversationMapping{},
		messages: map[string]*model.MessageTracking{},
		contexts: map[string]*model.ConversationContext{},
	}
}

func copyMapping(m *model.ConversationMapping) *model.ConversationMapping {
	c := *m
	return &c
}

func copyMessage(m *model.MessageTracking) *model.MessageTracking {
	c := *m
	return &c
}

func notFound(msg string) error {
	return apierror.NewAPIError(apierror.ErrNotFound, msg, nil)
}

func (s *memoryStore) activeMappings(waID string) []*model.ConversationMapping {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.ConversationMapping
	for _, m := range s.mappings {
		if m.WaID == waID && m.Status == model.ConversationActive {
			out = append(out, copyMapping(m))
		}
	}
	return out
}

func (s *memoryStore) messagesFor(mappingID string) []*model.MessageTracking {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.MessageTracking
	for _, m := range s.messages {
		if m.MappingID == mappingID {
			out = append(out, copyMessage(m))
		}
	}
	return out
}

func (s *memoryStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *memoryStore) CreateMapping(_ context.Context, m *model.ConversationMapping) (*model.ConversationMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	for _, existing := range s.mappings {
		if existing.WaID == m.WaID && existing.Status == model.ConversationActive && m.Status == model.ConversationActive {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "active mapping exists", nil)
		}
	}
	s.mappings[m.ID] = copyMapping(m)
	return copyMapping(m), nil
}

func (s *memoryStore) GetActiveMappingByWaID(_ context.Context, waID string) (*model.ConversationMapping, error) {
	s.mu.Lock()
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	delay := s.readDelay
	s.mu.Unlock()

	time.Sleep(delay)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	if s.failWith != nil {
		return nil, s.failWith
	}
	for _, m := range s.mappings {
		if m.WaID == waID && m.Status == model.ConversationActive {
			return copyMapping(m), nil
		}
	}
	return nil, notFound("mapping not found")
}

func (s *memoryStore) GetMappingByConversationID(_ context.Context, conversationID string) (*model.ConversationMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *model.ConversationMapping
	for _, m := range s.mappings {
		if model.StringValue(m.ConversationID) == conversationID && (found == nil || m.UpdatedAt.After(found.UpdatedAt)) {
			found = m
		}
	}
	if found == nil {
		return nil, notFound("mapping not found")
	}
	return copyMapping(found), nil
}

func (s *memoryStore) TouchMapping(_ context.Context, id string, contactName *string, lastMessageID string, at time.Time) (*model.ConversationMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.mappings[id]
	if !ok {
		return nil, notFound("mapping not found")
	}
	if contactName != nil {
		m.ContactName = contactName
	}
	m.LastMessageID = &lastMessageID
	m.LastActivityAt = at
	m.UpdatedAt = at
	return copyMapping(m), nil
}

func (s *memoryStore) TouchMappingActivity(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.mappings[id]; ok {
		m.LastActivityAt = at
		m.UpdatedAt = at
	}
	return nil
}

func (s *memoryStore) CorrelateMapping(_ context.Context, lastMessageID, conversationID, communicationID string) (*model.ConversationMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mappings {
		if m.Status == model.ConversationActive && m.ConversationID == nil && model.StringValue(m.LastMessageID) == lastMessageID {
			conv := conversationID
			m.ConversationID = &conv
			m.CommunicationID = model.StringPtr(communicationID)
			m.UpdatedAt = time.Now().UTC()
			return copyMapping(m), nil
		}
	}
	return nil, nil
}

func (s *memoryStore) UpdateMappingStatus(_ context.Context, waID string, status model.ConversationStatus) (*model.ConversationMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.mappings {
		if m.WaID == waID && m.Status == model.ConversationActive {
			m.Status = status
			m.UpdatedAt = time.Now().UTC()
			return copyMapping(m), nil
		}
	}
	return nil, notFound("no active mapping")
}

func (s *memoryStore) InsertMessage(_ context.Context, msg *model.MessageTracking) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return "", false, s.failWith
	}
	for _, existing := range s.messages {
		if sameID(existing.Wamid, msg.Wamid) || sameID(existing.GenesysMessageID, msg.GenesysMessageID) {
			return existing.ID, false, nil
		}
	}
	s.seq++
	c := copyMessage(msg)
	c.CreatedAt = c.CreatedAt.Add(time.Duration(s.seq))
	s.messages[msg.ID] = c
	return msg.ID, true, nil
}

func sameID(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

func (s *memoryStore) AttachWamid(_ context.Context, id, wamid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.Wamid != nil {
		return false, nil
	}
	for _, other := range s.messages {
		if model.StringValue(other.Wamid) == wamid {
			return false, apierror.NewAPIError(apierror.ErrConflict, "wamid already tracked", nil)
		}
	}
	m.Wamid = &wamid
	return true, nil
}

func (s *memoryStore) findMessage(match func(m *model.MessageTracking) bool) (*model.MessageTracking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if match(m) {
			return copyMessage(m), nil
		}
	}
	return nil, notFound("message not found")
}

func (s *memoryStore) GetMessageByWamid(_ context.Context, wamid string) (*model.MessageTracking, error) {
	return s.findMessage(func(m *model.MessageTracking) bool { return model.StringValue(m.Wamid) == wamid })
}

func (s *memoryStore) GetMessageByGenesysID(_ context.Context, id string) (*model.MessageTracking, error) {
	return s.findMessage(func(m *model.MessageTracking) bool { return model.StringValue(m.GenesysMessageID) == id })
}

func (s *memoryStore) UpdateMessageStatus(_ context.Context, id string, from, to model.MessageStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return false, nil
	}
	if s.beforeCAS != nil {
		s.beforeCAS(m)
	}
	if m.Status != from {
		return false, nil
	}
	m.Status = to
	m.UpdatedAt = at
	if to == model.StatusDelivered && m.DeliveredAt == nil {
		delivered := at
		m.DeliveredAt = &delivered
	}
	return true, nil
}

func (s *memoryStore) ListMessagesByConversation(_ context.Context, conversationID string, limit, offset int) ([]model.MessageTracking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.MessageTracking
	for _, msg := range s.messages {
		if m, ok := s.mappings[msg.MappingID]; ok && model.StringValue(m.ConversationID) == conversationID {
			out = append(out, *msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if offset >= len(out) {
		return []model.MessageTracking{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) SaveConversationContext(_ context.Context, conversationID string, data map[string]interface{}) (*model.ConversationContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &model.ConversationContext{ConversationID: conversationID, Context: data, UpdatedAt: time.Now().UTC()}
	s.contexts[conversationID] = c
	return c, nil
}

func (s *memoryStore) GetConversationContext(_ context.Context, conversationID string) (*model.ConversationContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contexts[conversationID]
	if !ok {
		return nil, notFound("context not found")
	}
	return c, nil
}

func (s *memoryStore) GetStats(context.Context) (*model.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &model.Stats{TotalMappings: int64(len(s.mappings)), TotalMessages: int64(len(s.messages))}
	for _, m := range s.mappings {
		if m.Status == model.ConversationActive {
			st.ActiveConversations++
		}
	}
	return st, nil
}

func (s *memoryStore) Ping(context.Context) error {
	return s.pingErr
}

// fakePublisher records what the handlers publish, per queue.
type fakePublisher struct {
	mu   sync.Mutex
	sent map[string][]json.RawMessage
	err  error
	// failNext fails that many publishes before recovering.
	failNext int
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{sent: map[string][]json.RawMessage{}}
}

func (p *fakePublisher) Publish(_ context.Context, queue string, v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.failNext > 0 {
		p.failNext--
		return errors.New("publish down")
	}
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.sent[queue] = append(p.sent[queue], body)
	return nil
}

func (p *fakePublisher) messages(queue string) []json.RawMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]json.RawMessage(nil), p.sent[queue]...)
}

type fakeBroker struct {
	connected bool
	depth     int
}

func (b *fakeBroker) IsConnected() bool { return b.connected }

func (b *fakeBroker) QueueDepth(string) (int, error) { return b.depth, nil }

func testQueues() config.BrokerConfig {
	return config.BrokerConfig{
		InboundQueue:           "inbound_messages",
		OutboundQueue:          "outbound_messages",
		StatusQueue:            "status_updates",
		InboundProcessedQueue:  "inbound_processed",
		OutboundProcessedQueue: "outbound_processed",
		DeadLetterQueue:        "dead_letter",
		MaxRetries:             3,
	}
}

type harness struct {
	sm     *StateManager
	store  *memoryStore
	pub    *fakePublisher
	broker *fakeBroker
	mr     *miniredis.Miniredis
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	c := cache.NewRedisCache(client)
	h := &harness{
		store:  newMemoryStore(),
		pub:    newFakePublisher(),
		broker: &fakeBroker{connected: true, depth: 4},
		mr:     mr,
	}
	sm, err := New(Dependencies{
		Store:      h.store,
		Cache:      c,
		Locker:     redlock.NewLocker(c, 5*time.Second, 8, 5*time.Millisecond),
		Publisher:  h.pub,
		Broker:     h.broker,
		Validator:  validator.New([]string{"whatsapp.net", "fbcdn.net", "mypurecloud.com"}),
		Queues:     testQueues(),
		MappingTTL: time.Hour,
	})
	require.NoError(t, err)
	h.sm = sm
	return h
}
