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

package model

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/wagenesys/statemanager/model"
)

type UpdateMappingStatus struct {
	Status string `json:"status"`
}

type SaveContext struct {
	Context map[string]interface{} `json:"context"`
}

func (u *UpdateMappingStatus) ValidateUpdateMappingStatus() error {
	return validation.ValidateStruct(u,
		validation.Field(&u.Status, validation.Required,
			validation.In(string(model.ConversationClosed), string(model.ConversationExpired)).
				Error("status must be closed or expired")),
	)
}

func (s *SaveContext) ValidateSaveContext() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Context, validation.By(func(value interface{}) error {
			if value.(map[string]interface{}) == nil {
				return errors.New("context object is required")
			}
			return nil
		})),
	)
}
