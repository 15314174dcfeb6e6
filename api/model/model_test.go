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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateUpdateMappingStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  string
		wantErr bool
	}{
		{name: "closed", status: "closed"},
		{name: "expired", status: "expired"},
		{name: "active is not settable", status: "active", wantErr: true},
		{name: "empty", status: "", wantErr: true},
		{name: "unknown", status: "archived", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := UpdateMappingStatus{Status: tt.status}
			err := req.ValidateUpdateMappingStatus()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateSaveContext(t *testing.T) {
	assert.Error(t, (&SaveContext{}).ValidateSaveContext())
	assert.NoError(t, (&SaveContext{Context: map[string]interface{}{}}).ValidateSaveContext())
	assert.NoError(t, (&SaveContext{Context: map[string]interface{}{"topic": "billing"}}).ValidateSaveContext())
}
