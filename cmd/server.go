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
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/wagenesys/statemanager/api"
	"github.com/wagenesys/statemanager/config"
	"github.com/wagenesys/statemanager/internal/notification"
)

const shutdownGrace = 10 * time.Second

/*
newTLSServer builds an HTTPS server whose certificates CertMagic obtains and renews.
With no domain configured it manages a certificate for localhost.
*/
func newTLSServer(ctx context.Context, r *gin.Engine, conf config.ServerConfig) (*http.Server, error) {
	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = conf.Email
	cfg := certmagic.NewDefault()
	cfg.Storage = &certmagic.FileStorage{Path: "./certmagic"}

	domains := []string{conf.Domain}
	if conf.Domain == "" {
		logrus.Info("No domain specified, defaulting to localhost")
		domains = []string{"localhost"}
	}

	if err := cfg.ManageSync(ctx, domains); err != nil {
		return nil, err
	}

	return &http.Server{
		Addr:      ":" + conf.Port,
		Handler:   r,
		TLSConfig: cfg.TLSConfig(),
	}, nil
}

// startServer serves until ctx is cancelled, then drains in-flight requests.
func startServer(ctx context.Context, router *gin.Engine, cfg config.ServerConfig) error {
	var server *http.Server
	if cfg.SSL {
		s, err := newTLSServer(ctx, router, cfg)
		if err != nil {
			return err
		}
		server = s
	} else {
		server = &http.Server{Addr: ":" + cfg.Port, Handler: router}
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithFields(logrus.Fields{"port": cfg.Port, "ssl": cfg.SSL}).Info("starting server")
		var err error
		if cfg.SSL {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

/*
serverCommands returns the command that starts the HTTP API. The broker connection only
backs the health report here, so it is established in the background and an outage at start-up is not fatal.
*/
func serverCommands(app *appInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start the state manager API server",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sm, err := app.setupStateManager()
			if err != nil {
				notification.NotifyErrorSync(err)
				logrus.WithError(err).Fatal("could not start state manager")
			}
			defer app.shutdown()

			go func() {
				if err := app.broker.Connect(ctx); err != nil {
					logrus.WithError(err).Warn("broker unavailable, health will report unhealthy")
				}
			}()

			router := api.NewAPI(sm, app.cnf).Router()
			if err := startServer(ctx, router, app.cnf.Server); err != nil {
				logrus.WithError(err).Fatal("server stopped")
			}
		},
	}

	return cmd
}
