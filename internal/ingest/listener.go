// Package ingest turns indexer pub/sub messages into events. Each channel
// pattern maps to one event type; the JSON message body is the payload.
package ingest

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/go-redis/redis/v8"

	"github.com/austindbirch/sol_hook/internal/logging"
)

// Notifier is the matcher's entry point
type Notifier interface {
	Notify(ctx context.Context, eventType string, payload map[string]any) (int, error)
}

type Listener struct {
	client   redis.UniversalClient
	channels map[string]string // pattern -> event type
	notifier Notifier
	logger   *logging.Logger
}

func NewListener(client redis.UniversalClient, channels map[string]string, notifier Notifier, logger *logging.Logger) *Listener {
	if logger == nil {
		logger = logging.New("solhook-ingest")
	}
	return &Listener{client: client, channels: channels, notifier: notifier, logger: logger}
}

func (l *Listener) patterns() []string {
	out := make([]string, 0, len(l.channels))
	for p := range l.channels {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Run subscribes to every configured pattern and dispatches messages until
// ctx is cancelled. A malformed message is logged and skipped.
func (l *Listener) Run(ctx context.Context) error {
	patterns := l.patterns()
	if len(patterns) == 0 {
		return errors.New("no ingest channels configured")
	}

	ps := l.client.PSubscribe(ctx, patterns...)
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		return errors.Wrap(err, "psubscribe")
	}
	l.logger.WithContext(ctx).WithField("patterns", patterns).Info("ingest listener subscribed")

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			l.Handle(ctx, msg.Pattern, msg.Channel, msg.Payload)
		}
	}
}

// Handle dispatches one message. It returns the number of jobs enqueued.
func (l *Listener) Handle(ctx context.Context, pattern, channel, body string) int {
	eventType, ok := l.channels[pattern]
	if !ok {
		l.logger.WithContext(ctx).WithField("channel", channel).Warn("message for unmapped pattern")
		return 0
	}

	// numbers stay json.Number so u64 amounts reach the webhook body unrounded
	var payload map[string]any
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		l.logger.WithContext(ctx).WithEvent(eventType).WithField("channel", channel).WithError(err).Warn("dropping malformed message")
		return 0
	}

	n, err := l.notifier.Notify(ctx, eventType, payload)
	if err != nil {
		l.logger.WithContext(ctx).WithEvent(eventType).WithField("channel", channel).WithError(err).Error("notify failed")
	}
	return n
}
