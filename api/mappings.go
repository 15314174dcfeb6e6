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

	apimodel "github.com/wagenesys/statemanager/api/model"
	"github.com/wagenesys/statemanager/model"
)

func (a Api) GetMappingByWaID(c *gin.Context) {
	waID, passed := c.Params.Get("wa_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "wa_id is required. pass wa_id in the route /:wa_id"})
		return
	}

	resp, err := a.sm.GetMappingByWaID(c.Request.Context(), waID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.FormatMapping(resp))
}

func (a Api) GetMappingByConversationID(c *gin.Context) {
	id, passed := c.Params.Get("id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required. pass id in the route /:id"})
		return
	}

	resp, err := a.sm.GetMappingByConversationID(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.FormatMapping(resp))
}

func (a Api) UpdateMappingStatus(c *gin.Context) {
	waID, passed := c.Params.Get("wa_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "wa_id is required. pass wa_id in the route /:wa_id"})
		return
	}

	var req apimodel.UpdateMappingStatus
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}
	if err := req.ValidateUpdateMappingStatus(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.sm.UpdateMappingStatus(c.Request.Context(), waID, model.ConversationStatus(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.FormatMapping(resp))
}
