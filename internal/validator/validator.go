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
	"errors"
	"net/url"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

var contactIDPattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)

var (
	ErrInvalidContactID = errors.New("contact id must be E.164: optional +, leading non-zero digit, 2 to 15 digits")
	ErrInvalidMediaURL  = errors.New("media url must be http(s) on an allowed host")
)

// Validator gates queue payloads before they reach storage.
type Validator struct {
	allowedHosts []string
}

// New returns a Validator accepting media from hosts that equal or end with one of allowedHosts.
func New(allowedHosts []string) *Validator {
	hosts := make([]string, 0, len(allowedHosts))
	for _, h := range allowedHosts {
		h = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "."))
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return &Validator{allowedHosts: hosts}
}

func (v *Validator) ValidateContactID(id string) bool {
	return v.CheckContactID(id) == nil
}

// CheckContactID is ValidateContactID returning the reason.
func (v *Validator) CheckContactID(id string) error {
	err := validation.Validate(id,
		validation.Required,
		validation.Match(contactIDPattern),
	)
	if err != nil {
		return ErrInvalidContactID
	}
	return nil
}

// ValidateMediaURL reports whether raw is an acceptable media reference. Empty means no media.
func (v *Validator) ValidateMediaURL(raw string) bool {
	return v.CheckMediaURL(raw) == nil
}

func (v *Validator) CheckMediaURL(raw string) error {
	if raw == "" {
		return nil
	}
	err := validation.Validate(raw,
		is.URL,
		validation.By(v.allowedMediaHost),
	)
	if err != nil {
		return ErrInvalidMediaURL
	}
	return nil
}

func (v *Validator) allowedMediaHost(value interface{}) error {
	s, _ := value.(string)
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ErrInvalidMediaURL
	}
	host := strings.ToLower(u.Hostname())
	for _, allowed := range v.allowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return nil
		}
	}
	return ErrInvalidMediaURL
}
