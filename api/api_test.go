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

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/wagenesys/statemanager"
	"github.com/wagenesys/statemanager/api/middleware"
	"github.com/wagenesys/statemanager/config"
	"github.com/wagenesys/statemanager/database/mocks"
	"github.com/wagenesys/statemanager/internal/apierror"
	"github.com/wagenesys/statemanager/internal/cache"
	redlock "github.com/wagenesys/statemanager/internal/lock"
	"github.com/wagenesys/statemanager/internal/validator"
	"github.com/wagenesys/statemanager/model"
)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, interface{}) error { return nil }

type stubBroker struct{ connected bool }

func (b stubBroker) IsConnected() bool { return b.connected }

func (stubBroker) QueueDepth(string) (int, error) { return 7, nil }

func setupRouter(t *testing.T, conf *config.Configuration) (*gin.Engine, *mocks.MockDataSource) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := cache.NewRedisCache(client)

	store := new(mocks.MockDataSource)
	sm, err := statemanager.New(statemanager.Dependencies{
		Store:     store,
		Cache:     c,
		Locker:    redlock.NewLocker(c, 5*time.Second, 3, time.Millisecond),
		Publisher: nopPublisher{},
		Broker:    stubBroker{connected: true},
		Validator: validator.New([]string{"whatsapp.net"}),
		Queues:    config.BrokerConfig{InboundQueue: "inbound_messages"},
	})
	require.NoError(t, err)

	if conf == nil {
		conf = &config.Configuration{ProjectName: "State Manager"}
	}
	return NewAPI(sm, conf).Router(), store
}

func doRequest(r http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func sampleMapping() *model.ConversationMapping {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &model.ConversationMapping{
		ID:             "map_1",
		WaID:           "919876543210",
		ConversationID: model.StringPtr("conv_1"),
		Status:         model.ConversationActive,
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestGetMappingByWaID(t *testing.T) {
	router, store := setupRouter(t, nil)
	store.On("GetActiveMappingByWaID", mock.Anything, "919876543210").Return(sampleMapping(), nil).Once()

	w := doRequest(router, http.MethodGet, "/mappings/wa/919876543210", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var view model.MappingView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "map_1", view.InternalID)
	assert.Equal(t, "conv_1", model.StringValue(view.ConversationID))

	// served from cache the second time
	w = doRequest(router, http.MethodGet, "/mappings/wa/919876543210", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	store.AssertExpectations(t)
}

func TestGetMappingByWaID_NotFound(t *testing.T) {
	router, store := setupRouter(t, nil)
	store.On("GetActiveMappingByWaID", mock.Anything, "14155552671").
		Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "mapping not found", nil))

	w := doRequest(router, http.MethodGet, "/mappings/wa/14155552671", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), string(apierror.ErrNotFound))
}

func TestGetMappingByConversationID(t *testing.T) {
	router, store := setupRouter(t, nil)
	store.On("GetMappingByConversationID", mock.Anything, "conv_1").Return(sampleMapping(), nil)

	w := doRequest(router, http.MethodGet, "/mappings/conversation/conv_1", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"waId":"919876543210"`)
}

func TestUpdateMappingStatus(t *testing.T) {
	router, store := setupRouter(t, nil)
	closed := sampleMapping()
	closed.Status = model.ConversationClosed
	store.On("UpdateMappingStatus", mock.Anything, "919876543210", model.ConversationClosed).Return(closed, nil)

	w := doRequest(router, http.MethodPatch, "/mappings/wa/919876543210/status", map[string]string{"status": "active"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodPatch, "/mappings/wa/919876543210/status", map[string]string{"status": "closed"}, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"closed"`)
	store.AssertExpectations(t)
}

func TestListConversationMessages(t *testing.T) {
	router, store := setupRouter(t, nil)
	msgs := []model.MessageTracking{{ID: "msg_1", MappingID: "map_1", Status: model.StatusReceived, Direction: model.DirectionInbound}}
	store.On("ListMessagesByConversation", mock.Anything, "conv_1", 200, 10).Return(msgs, nil)
	store.On("ListMessagesByConversation", mock.Anything, "conv_1", 50, 0).Return([]model.MessageTracking{}, nil)

	w := doRequest(router, http.MethodGet, "/conversations/conv_1/messages?limit=500&offset=10", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "msg_1")

	w = doRequest(router, http.MethodGet, "/conversations/conv_1/messages", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = doRequest(router, http.MethodGet, "/conversations/conv_1/messages?limit=ten", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	store.AssertExpectations(t)
}

func TestConversationContextRoutes(t *testing.T) {
	router, store := setupRouter(t, nil)
	data := map[string]interface{}{"topic": "billing"}
	saved := &model.ConversationContext{ConversationID: "conv_1", Context: data, UpdatedAt: time.Now().UTC()}
	store.On("SaveConversationContext", mock.Anything, "conv_1", data).Return(saved, nil)
	store.On("GetConversationContext", mock.Anything, "conv_1").Return(saved, nil)
	store.On("GetConversationContext", mock.Anything, "conv_2").
		Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "context not found", nil))

	w := doRequest(router, http.MethodPut, "/conversations/conv_1/context", map[string]interface{}{"context": data}, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodPut, "/conversations/conv_1/context", map[string]interface{}{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodGet, "/conversations/conv_1/context", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "billing")

	w = doRequest(router, http.MethodGet, "/conversations/conv_2/context", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetStats(t *testing.T) {
	router, store := setupRouter(t, nil)
	store.On("GetStats", mock.Anything).Return(&model.Stats{TotalMappings: 3, TotalMessages: 9, ActiveConversations: 2}, nil)

	w := doRequest(router, http.MethodGet, "/stats", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"total_mappings":3,"total_messages":9,"active_conversations":2}`, w.Body.String())
}

func TestHealthRoute(t *testing.T) {
	router, store := setupRouter(t, nil)
	store.On("Ping", mock.Anything).Return(nil).Once()

	w := doRequest(router, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var report model.HealthReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, model.HealthHealthy, report.Status)
	assert.Equal(t, 7, report.InboundQueueDepth)

	store.On("Ping", mock.Anything).Return(assert.AnError).Once()
	w = doRequest(router, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSecureMode(t *testing.T) {
	conf := &config.Configuration{ProjectName: "State Manager", Server: config.ServerConfig{Secure: true, SecretKey: "s3cret"}}
	router, store := setupRouter(t, conf)
	store.On("GetStats", mock.Anything).Return(&model.Stats{}, nil)
	store.On("Ping", mock.Anything).Return(nil)

	w := doRequest(router, http.MethodGet, "/stats", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(router, http.MethodGet, "/stats", nil, map[string]string{middleware.KeyHeader: "s3cret"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
