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
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/wagenesys/statemanager"
	"github.com/wagenesys/statemanager/api/middleware"
	"github.com/wagenesys/statemanager/config"
	"github.com/wagenesys/statemanager/internal/apierror"
)

type Api struct {
	sm     *statemanager.StateManager
	router *gin.Engine
	conf   *config.Configuration
}

func (a Api) Router() *gin.Engine {
	router := a.router

	router.GET("/health", a.Health)

	authed := router.Group("/", middleware.TenantMiddleware())
	if a.conf.Server.Secure {
		authed.Use(middleware.SecretKeyAuthMiddleware(a.conf.Server.SecretKey))
	}

	authed.GET("/mappings/wa/:wa_id", a.GetMappingByWaID)
	authed.PATCH("/mappings/wa/:wa_id/status", a.UpdateMappingStatus)
	authed.GET("/mappings/conversation/:id", a.GetMappingByConversationID)

	authed.GET("/conversations/:id/messages", a.ListConversationMessages)
	authed.GET("/conversations/:id/context", a.GetConversationContext)
	authed.PUT("/conversations/:id/context", a.SaveConversationContext)

	authed.GET("/stats", a.GetStats)
	return a.router
}

func NewAPI(sm *statemanager.StateManager, conf *config.Configuration) *Api {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), otelgin.Middleware(conf.ProjectName), middleware.RateLimitMiddleware(conf))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{sm: sm, router: r, conf: conf}
}

func respondError(c *gin.Context, err error) {
	status := apierror.MapErrorToHTTPStatus(err)
	body := gin.H{"error": err.Error()}
	if code, ok := apierror.CodeOf(err); ok {
		body["code"] = code
	}
	c.JSON(status, body)
}
