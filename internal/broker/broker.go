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

package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/wagenesys/statemanager/config"
	"github.com/wagenesys/statemanager/internal/notification"
)

var ErrNotConnected = errors.New("broker is not connected")

// Publisher sends JSON messages to a named queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, v interface{}) error
}

// Broker owns the AMQP connection, keeps it alive and runs consumers on it.
type Broker struct {
	cfg  config.BrokerConfig
	dial Dialer

	mu      sync.RWMutex
	conn    Connection
	ch      Channel
	closing bool

	// fatal is called once reconnection is exhausted. The process is not expected to survive it.
	fatal func(error)
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg config.BrokerConfig, dial Dialer) *Broker {
	if dial == nil {
		dial = DialAMQP
	}
	return &Broker{
		cfg:   cfg,
		dial:  dial,
		fatal: exitFatally,
		sleep: sleepCtx,
	}
}

func exitFatally(err error) {
	notification.NotifyErrorSync(err)
	logrus.WithError(err).Fatal("broker unreachable, exiting for restart")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Queues lists every queue the pipeline uses.
func (b *Broker) Queues() []string {
	return []string{
		b.cfg.InboundQueue,
		b.cfg.OutboundQueue,
		b.cfg.StatusQueue,
		b.cfg.InboundProcessedQueue,
		b.cfg.OutboundProcessedQueue,
		b.cfg.DeadLetterQueue,
	}
}

func (b *Broker) baseDelay() time.Duration {
	return time.Duration(b.cfg.ReconnectBaseDelayMs) * time.Millisecond
}

// Connect dials the broker, retrying with a delay of baseDelay times the attempt number.
// It returns an error once MaxReconnectAttempts are used up.
func (b *Broker) Connect(ctx context.Context) error {
	maxAttempts := b.cfg.MaxReconnectAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		conn, ch, err := b.open()
		if err == nil {
			b.mu.Lock()
			b.conn, b.ch = conn, ch
			b.mu.Unlock()
			logrus.WithFields(logrus.Fields{
				"attempt":  attempt,
				"prefetch": b.cfg.Prefetch,
			}).Info("broker connected")
			go b.watch(ctx, conn, ch)
			return nil
		}

		lastErr = err
		delay := b.baseDelay() * time.Duration(attempt)
		logrus.WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": maxAttempts,
			"retry_in_ms":  delay.Milliseconds(),
		}).WithError(err).Warn("broker connection failed")

		if attempt == maxAttempts {
			break
		}
		if err := b.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("broker connection failed after %d attempts: %w", maxAttempts, lastErr)
}

func (b *Broker) open() (Connection, Channel, error) {
	conn, err := b.dial(b.cfg.Url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	if err := ch.Qos(b.cfg.Prefetch, 0, false); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("setting prefetch: %w", err)
	}
	for _, q := range b.Queues() {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			_ = conn.Close()
			return nil, nil, fmt.Errorf("declaring queue %s: %w", q, err)
		}
	}
	return conn, ch, nil
}

// watch reconnects when either the connection or its channel goes away. The server can close
// the channel alone (a failed ack, an unknown queue) while the connection stays up.
func (b *Broker) watch(ctx context.Context, conn Connection, ch Channel) {
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))

	var reason *amqp.Error
	scope := "connection"
	select {
	case <-ctx.Done():
		return
	case reason = <-connClosed:
	case reason = <-chClosed:
		scope = "channel"
	}

	b.mu.Lock()
	if b.closing || b.ch != ch {
		b.mu.Unlock()
		return
	}
	b.conn, b.ch = nil, nil
	b.mu.Unlock()

	if !conn.IsClosed() {
		_ = conn.Close()
	}

	logrus.WithFields(logrus.Fields{
		"scope":  scope,
		"reason": reason,
	}).Warn("broker connection lost, reconnecting")
	if err := b.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		b.fatal(err)
	}
}

// IsConnected reports whether a live connection and channel are held.
func (b *Broker) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conn != nil && !b.conn.IsClosed() && b.ch != nil && !b.ch.IsClosed()
}

func (b *Broker) channel() (Channel, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.ch == nil {
		return nil, ErrNotConnected
	}
	return b.ch, nil
}

// Publish sends v as a persistent JSON message to queue.
func (b *Broker) Publish(ctx context.Context, queue string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding message for %s: %w", queue, err)
	}
	return b.publishRaw(ctx, queue, body, nil)
}

func (b *Broker) publishRaw(ctx context.Context, queue string, body []byte, headers amqp.Table) error {
	ch, err := b.channel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         body,
	})
	if err != nil {
		logrus.WithField("queue", queue).WithError(err).Error("could not publish message")
		return err
	}
	logrus.WithField("queue", queue).Debug("published message")
	return nil
}

// QueueDepth returns the number of ready messages in queue. The passive declare runs on a
// channel of its own, since a failed one closes the channel it ran on.
func (b *Broker) QueueDepth(queue string) (int, error) {
	b.mu.RLock()
	conn := b.conn
	b.mu.RUnlock()
	if conn == nil {
		return 0, ErrNotConnected
	}

	ch, err := conn.Channel()
	if err != nil {
		return 0, err
	}
	defer func() { _ = ch.Close() }()

	q, err := ch.QueueDeclarePassive(queue, true, false, false, false, nil)
	if err != nil {
		return 0, err
	}
	return q.Messages, nil
}

// Close shuts the connection down without triggering a reconnect.
func (b *Broker) Close() error {
	b.mu.Lock()
	b.closing = true
	conn, ch := b.conn, b.ch
	b.conn, b.ch = nil, nil
	b.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}
