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

package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestValidator() *Validator {
	return New([]string{"whatsapp.net", ".fbcdn.net", "mypurecloud.com"})
}

func TestValidateContactID(t *testing.T) {
	v := newTestValidator()

	valid := []string{"919876543210", "+14155552671", "12", "123456789012345", "+447911123456"}
	for _, id := range valid {
		assert.True(t, v.ValidateContactID(id), id)
	}

	invalid := []string{"", "0919876543210", "+0123", "1", "1234567890123456", "91987abc3210", "+", "++1234", " 919876543210"}
	for _, id := range invalid {
		assert.False(t, v.ValidateContactID(id), id)
	}
}

func TestCheckContactID_ReturnsReason(t *testing.T) {
	v := newTestValidator()
	assert.ErrorIs(t, v.CheckContactID("0123"), ErrInvalidContactID)
	assert.NoError(t, v.CheckContactID("919876543210"))
}

func TestValidateMediaURL(t *testing.T) {
	v := newTestValidator()

	tests := []struct {
		url   string
		valid bool
	}{
		{"", true},
		{"https://mmg.whatsapp.net/v/t62/abc.jpg", true},
		{"http://whatsapp.net/media", true},
		{"https://scontent.xx.fbcdn.net/img.png", true},
		{"https://api.mypurecloud.com/uploads/1", true},
		{"https://evil.com/whatsapp.net/x.jpg", false},
		{"https://notwhatsapp.net/x.jpg", false},
		{"https://whatsapp.net.evil.com/x.jpg", false},
		{"ftp://mmg.whatsapp.net/file", false},
		{"javascript:alert(1)", false},
		{"not a url", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.valid, v.ValidateMediaURL(tt.url), tt.url)
	}
}

func TestValidateMediaURL_EmptyAllowList(t *testing.T) {
	v := New(nil)
	assert.True(t, v.ValidateMediaURL(""))
	assert.False(t, v.ValidateMediaURL("https://mmg.whatsapp.net/a.jpg"))
}
