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
	"fmt"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wagenesys/statemanager/internal/notification"
)

// connectBroker connects or exits. Workers cannot do anything useful without the broker,
// so exhausting the reconnect budget ends the process for the supervisor to restart.
func (app *appInstance) connectBroker(ctx context.Context) {
	if err := app.broker.Connect(ctx); err != nil {
		notification.NotifyErrorSync(err)
		logrus.WithError(err).Fatal("could not connect to broker")
	}
}

// runConsumers runs one consumer per input queue until ctx is cancelled.
func (app *appInstance) runConsumers(ctx context.Context) error {
	sm, err := app.setupStateManager()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for queue, handler := range sm.Consumers() {
		queue, handler := queue, handler
		g.Go(func() error {
			return app.broker.Consume(ctx, queue, handler)
		})
	}
	logrus.WithField("queues", len(sm.Consumers())).Info("workers started")
	return g.Wait()
}

func workerCommands(app *appInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start the inbound, outbound and status queue consumers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app.connectBroker(ctx)
			defer app.shutdown()

			if err := app.runConsumers(ctx); err != nil {
				notification.NotifyErrorSync(err)
				logrus.WithError(err).Fatal("workers stopped")
			}
			logrus.Info("workers shut down")
		},
	}

	cmd.AddCommand(dlqDepthCommand(app))
	return cmd
}

// dlqDepthCommand prints how many messages wait on the dead-letter queue.
func dlqDepthCommand(app *appInstance) *cobra.Command {
	return &cobra.Command{
		Use:   "dlq-depth",
		Short: "print the number of messages on the dead-letter queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			app.connectBroker(cmd.Context())
			defer app.shutdown()

			depth, err := app.broker.QueueDepth(app.cnf.Broker.DeadLetterQueue)
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d\n", app.cnf.Broker.DeadLetterQueue, depth)
			return nil
		},
	}
}
