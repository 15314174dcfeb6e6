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
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wagenesys/statemanager"
	"github.com/wagenesys/statemanager/config"
	"github.com/wagenesys/statemanager/database"
	"github.com/wagenesys/statemanager/internal/broker"
	"github.com/wagenesys/statemanager/internal/cache"
	redlock "github.com/wagenesys/statemanager/internal/lock"
	redis_db "github.com/wagenesys/statemanager/internal/redis-db"
	"github.com/wagenesys/statemanager/internal/tenant"
	"github.com/wagenesys/statemanager/internal/validator"
)

// StateManagerCLI represents the CLI application, encapsulating the root Cobra command.
type StateManagerCLI struct {
	cmd *cobra.Command
}

// appInstance holds what the commands share once the configuration is loaded.
type appInstance struct {
	cnf     *config.Configuration
	broker  *broker.Broker
	redis   *redis_db.Redis
	tenants *tenant.Router
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration before any command runs.
func preRun(app *appInstance, configFile *string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		logrus.SetFormatter(&logrus.JSONFormatter{})

		if err := config.InitConfig(*configFile); err != nil {
			logrus.WithError(err).Fatal("error loading config")
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}
		app.cnf = cnf
		app.broker = broker.New(cnf.Broker, nil)
		if cnf.Tenant.CredentialServiceUrl != "" {
			resolver := tenant.NewHTTPCredentialResolver(cnf.Tenant.CredentialServiceUrl, cnf.Tenant.CredentialServiceKey)
			app.tenants = tenant.NewRouter(resolver, cnf.Tenant)
		}
		return nil
	}
}

// setupStateManager connects storage and cache and assembles the state manager around the broker.
func (app *appInstance) setupStateManager() (*statemanager.StateManager, error) {
	cfg := app.cnf

	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	rdb, err := redis_db.NewRedisClient(redis_db.SplitAddresses(cfg.Redis.Dns), cfg.Redis.SkipTLSVerify)
	if err != nil {
		return nil, fmt.Errorf("error connecting to redis: %v", err)
	}
	app.redis = rdb
	c := cache.NewRedisCache(rdb.Client())

	deps := statemanager.Dependencies{
		Store: db,
		Cache: c,
		Locker: redlock.NewLocker(c,
			time.Duration(cfg.Lock.TTLSeconds)*time.Second,
			cfg.Lock.MaxAttempts,
			time.Duration(cfg.Lock.BaseDelayMs)*time.Millisecond),
		Publisher:  app.broker,
		Broker:     app.broker,
		Validator:  validator.New(cfg.Validation.AllowedMediaHosts),
		Queues:     cfg.Broker,
		MappingTTL: time.Duration(cfg.Cache.MappingTTLSeconds) * time.Second,

		ConversationTTL: time.Duration(cfg.Cache.ConversationTTLSeconds) * time.Second,
	}
	if app.tenants != nil {
		deps.Tenants = app.tenants
	}

	sm, err := statemanager.New(deps)
	if err != nil {
		return nil, fmt.Errorf("error creating state manager: %v", err)
	}
	return sm, nil
}

func (app *appInstance) shutdown() {
	if err := app.broker.Close(); err != nil {
		logrus.WithError(err).Warn("error closing broker")
	}
	if app.tenants != nil {
		if err := app.tenants.CloseAll(); err != nil {
			logrus.WithError(err).Warn("error closing tenant pools")
		}
	}
	if app.redis != nil {
		_ = app.redis.Close()
	}
}

// NewCLI creates the command-line interface with the start, workers, migrate and config commands.
func NewCLI() *StateManagerCLI {
	var configFile string
	app := &appInstance{}

	var rootCmd = &cobra.Command{
		Use:   "statemanager",
		Short: "WhatsApp to Genesys conversation state manager",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./statemanager.json", "Configuration file for the state manager")
	rootCmd.PersistentPreRunE = preRun(app, &configFile)

	rootCmd.AddCommand(serverCommands(app))
	rootCmd.AddCommand(workerCommands(app))
	rootCmd.AddCommand(migrateCommands(app))
	rootCmd.AddCommand(configCommands())

	return &StateManagerCLI{cmd: rootCmd}
}

func (w StateManagerCLI) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
