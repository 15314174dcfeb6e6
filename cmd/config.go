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

package main

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wagenesys/statemanager/config"
)

const redacted = "********"

// redact copies cfg with credentials masked so the output is safe to paste.
func redact(cfg config.Configuration) config.Configuration {
	if cfg.Server.SecretKey != "" {
		cfg.Server.SecretKey = redacted
	}
	if cfg.Tenant.CredentialServiceKey != "" {
		cfg.Tenant.CredentialServiceKey = redacted
	}
	if cfg.DataSource.Dns != "" {
		cfg.DataSource.Dns = redacted
	}
	if cfg.Broker.Url != "" {
		cfg.Broker.Url = redacted
	}
	if cfg.Redis.Dns != "" {
		cfg.Redis.Dns = redacted
	}
	return cfg
}

func configCommands() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "config outputs your instance's computed configuration",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Fetch()
			if err != nil {
				logrus.WithError(err).Fatal("error getting config")
			}

			data, err := json.MarshalIndent(redact(*cfg), "", "    ")
			if err != nil {
				logrus.WithError(err).Fatal("error printing config")
			}

			fmt.Println(string(data))
		},
	}
	return cmd
}
