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

package notification

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wagenesys/statemanager/config"
	"github.com/wagenesys/statemanager/internal/request"
)

// ErrorEvent is the body posted to the generic operator webhook.
type ErrorEvent struct {
	Event     string    `json:"event"`
	Project   string    `json:"project"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func slackPayload(project string, err error) json.RawMessage {
	msg, _ := json.Marshal(err.Error())
	return json.RawMessage(fmt.Sprintf(`{
		"blocks": [
			{
				"type": "header",
				"text": {"type": "plain_text", "text": "Error From %s", "emoji": true}
			},
			{
				"type": "section",
				"fields": [{"type": "mrkdwn", "text": %s}]
			},
			{
				"type": "section",
				"fields": [{"type": "mrkdwn", "text": "*Time:*\n%v"}]
			}
		]
	}`, project, msg, time.Now().Format(time.RFC822)))
}

// SlackNotification posts err to the configured Slack webhook.
func SlackNotification(err error) {
	conf, cErr := config.Fetch()
	if cErr != nil {
		logrus.Error(cErr)
		return
	}

	payload, rErr := request.ToJsonReq(slackPayload(conf.ProjectName, err))
	if rErr != nil {
		logrus.Error(rErr)
		return
	}

	req, rErr := http.NewRequest(http.MethodPost, conf.Notification.Slack.WebhookUrl, payload)
	if rErr != nil {
		logrus.Error(rErr)
		return
	}

	if _, rErr = request.Call(req, nil); rErr != nil {
		logrus.WithError(rErr).Warn("slack notification failed")
	}
}

// WebhookNotification posts err as an ErrorEvent to the configured operator webhook.
func WebhookNotification(err error) {
	conf, cErr := config.Fetch()
	if cErr != nil {
		logrus.Error(cErr)
		return
	}

	payload, rErr := request.ToJsonReq(ErrorEvent{
		Event:     "statemanager.error",
		Project:   conf.ProjectName,
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	})
	if rErr != nil {
		logrus.Error(rErr)
		return
	}

	req, rErr := http.NewRequest(http.MethodPost, conf.Notification.Webhook.Url, payload)
	if rErr != nil {
		logrus.Error(rErr)
		return
	}
	for k, v := range conf.Notification.Webhook.Headers {
		req.Header.Set(k, v)
	}

	if _, rErr = request.Call(req, nil); rErr != nil {
		logrus.WithError(rErr).Warn("webhook notification failed")
	}
}

// NotifyErrorSync logs systemError and delivers it to every configured channel before returning.
// Use it on paths that terminate the process right after.
func NotifyErrorSync(systemError error) {
	logrus.Error(systemError)

	conf, err := config.Fetch()
	if err != nil {
		logrus.Error(err)
		return
	}

	if conf.Notification.Slack.WebhookUrl != "" {
		SlackNotification(systemError)
	}
	if conf.Notification.Webhook.Url != "" {
		WebhookNotification(systemError)
	}
}

// NotifyError is the non-blocking form of NotifyErrorSync.
func NotifyError(systemError error) {
	go NotifyErrorSync(systemError)
}
