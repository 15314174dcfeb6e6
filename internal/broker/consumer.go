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
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/wagenesys/statemanager/model"
)

// RetryHeader carries how many times a message has been handed back to its queue.
const RetryHeader = "x-retry-count"

// Handler processes one message body. A returned error asks for a retry.
// Handlers dead-letter permanent failures themselves and return nil.
type Handler func(ctx context.Context, body []byte) error

// Consume delivers messages from queue to h until ctx is cancelled.
// Subscriptions lost to a reconnect are re-established once the broker is back.
func (b *Broker) Consume(ctx context.Context, queue string, h Handler) error {
	for {
		deliveries, err := b.subscribe(queue)
		if err != nil {
			logrus.WithField("queue", queue).WithError(err).Warn("waiting for broker before consuming")
			if err := b.sleep(ctx, b.resubscribeDelay()); err != nil {
				return nil
			}
			continue
		}

		logrus.WithField("queue", queue).Info("consumer started")
		b.dispatch(ctx, queue, deliveries, h)
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (b *Broker) resubscribeDelay() time.Duration {
	if d := b.baseDelay(); d > 0 {
		return d
	}
	return time.Second
}

func (b *Broker) subscribe(queue string) (<-chan amqp.Delivery, error) {
	ch, err := b.channel()
	if err != nil {
		return nil, err
	}
	return ch.Consume(queue, "", false, false, false, false, nil)
}

// dispatch runs each delivery on its own goroutine. In-flight work is bounded by the
// channel prefetch, since the broker stops pushing once that many are unacknowledged.
func (b *Broker) dispatch(ctx context.Context, queue string, deliveries <-chan amqp.Delivery, h Handler) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			wg.Add(1)
			go func(d amqp.Delivery) {
				defer wg.Done()
				b.process(ctx, queue, d, h)
			}(d)
		}
	}
}

type retryCountKey struct{}

// WithRetryCount stores the delivery's retry count on ctx for the handler.
func WithRetryCount(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, retryCountKey{}, n)
}

// RetryCountFrom returns the retry count stored by WithRetryCount, or 0.
func RetryCountFrom(ctx context.Context) int {
	n, _ := ctx.Value(retryCountKey{}).(int)
	return n
}

func (b *Broker) process(ctx context.Context, queue string, d amqp.Delivery, h Handler) {
	started := time.Now()
	retries := RetryCount(d.Headers)
	err := h(WithRetryCount(ctx, retries), d.Body)
	fields := logrus.Fields{
		"queue":       queue,
		"duration_ms": time.Since(started).Milliseconds(),
	}
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			logrus.WithFields(fields).WithError(ackErr).Warn("ack failed")
		}
		return
	}

	fields["retry_count"] = retries
	logrus.WithFields(fields).WithError(err).Warn("handler failed")

	if retries >= b.cfg.MaxRetries {
		b.deadLetter(ctx, queue, d, model.ReasonMaxRetriesReached, err, retries)
		return
	}

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[RetryHeader] = int32(retries + 1)
	if pubErr := b.publishRaw(ctx, queue, d.Body, headers); pubErr != nil {
		// the original stays on the broker rather than being lost
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

func (b *Broker) deadLetter(ctx context.Context, queue string, d amqp.Delivery, reason string, cause error, retries int) {
	if err := b.PublishDeadLetter(ctx, queue, d.Body, reason, cause, retries); err != nil {
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// PublishDeadLetter wraps body in the dead-letter envelope and publishes it.
func (b *Broker) PublishDeadLetter(ctx context.Context, queue string, body []byte, reason string, cause error, retries int) error {
	return b.Publish(ctx, b.cfg.DeadLetterQueue, NewDeadLetter(queue, body, reason, cause, retries))
}

// NewDeadLetter builds the envelope. Bodies that are not JSON are kept as a JSON string.
func NewDeadLetter(queue string, body []byte, reason string, cause error, retries int) model.DeadLetter {
	original := json.RawMessage(body)
	if !json.Valid(body) {
		quoted, _ := json.Marshal(string(body))
		original = quoted
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return model.DeadLetter{
		OriginalPayload: original,
		Queue:           queue,
		Reason:          reason,
		ErrorMessage:    msg,
		RetryCount:      retries,
		Timestamp:       time.Now().UTC(),
	}
}

// RetryCount reads RetryHeader, tolerating the integer widths AMQP peers send.
func RetryCount(headers amqp.Table) int {
	switch v := headers[RetryHeader].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
