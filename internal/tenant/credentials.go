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

package tenant

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/wagenesys/statemanager/internal/request"
)

// Credentials locate one tenant's durable store.
type Credentials struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// DSN renders c as a postgres connection URL.
func (c Credentials) DSN(sslMode string, connectTimeout time.Duration) string {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	q := url.Values{}
	if sslMode != "" {
		q.Set("sslmode", sslMode)
	}
	if connectTimeout > 0 {
		secs := int(connectTimeout.Seconds())
		if secs < 1 {
			secs = 1
		}
		q.Set("connect_timeout", strconv.Itoa(secs))
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, port),
		Path:     "/" + c.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// CredentialResolver looks up the store credentials of a tenant.
type CredentialResolver interface {
	Resolve(ctx context.Context, tenantID string) (*Credentials, error)
}

// HTTPCredentialResolver asks the credential service over HTTP.
type HTTPCredentialResolver struct {
	baseURL string
	apiKey  string
}

func NewHTTPCredentialResolver(baseURL, apiKey string) *HTTPCredentialResolver {
	return &HTTPCredentialResolver{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

func (r *HTTPCredentialResolver) Resolve(ctx context.Context, tenantID string) (*Credentials, error) {
	if r.baseURL == "" {
		return nil, errors.New("credential service url is not configured")
	}
	endpoint := fmt.Sprintf("%s/tenants/%s/credentials", r.baseURL, url.PathEscape(tenantID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building credential request")
	}
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Basic "+request.BasicAuth("statemanager", r.apiKey))
	}

	var creds Credentials
	if _, err := request.Call(req, &creds); err != nil {
		return nil, errors.Wrapf(err, "resolving credentials for tenant %s", tenantID)
	}
	if creds.Host == "" || creds.Database == "" {
		return nil, errors.Errorf("credential service returned incomplete credentials for tenant %s", tenantID)
	}
	return &creds, nil
}
