package delivery

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/nsqio/go-nsq"

	"github.com/austindbirch/sol_hook/internal/queue"
)

const DLQType = "delivery.dlq"

// DeadLetter is published once per exhausted job
type DeadLetter struct {
	Type       string    `json:"type"`    // "delivery.dlq"
	Version    string    `json:"version"` // schema version
	At         string    `json:"at"`      // RFC3339 time the DLQ was emitted
	Reason     string    `json:"reason"`  // failure class of the last attempt
	Attempt    int       `json:"attempt"` // attempt count when DLQ'd
	HTTPStatus int       `json:"http_status,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	Job        queue.Job `json:"job"` // delivery snapshot, secret removed
}

func NewDeadLetter(job queue.Job, httpStatus int, lastErr, reason string) DeadLetter {
	job.Secret = ""
	return DeadLetter{
		Type:       DLQType,
		Version:    "v1",
		At:         time.Now().UTC().Format(time.RFC3339Nano),
		Reason:     reason,
		Attempt:    job.Attempt,
		HTTPStatus: httpStatus,
		LastError:  lastErr,
		Job:        job,
	}
}

// DeadLetterPublisher hands exhausted jobs to operators
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, dl DeadLetter) error
}

// Producer is the part of *nsq.Producer the publisher needs
type Producer interface {
	Publish(topic string, body []byte) error
}

var _ Producer = (*nsq.Producer)(nil)

// NSQPublisher publishes dead letters as JSON to an NSQ topic
type NSQPublisher struct {
	producer Producer
	topic    string
}

func NewNSQPublisher(producer Producer, topic string) *NSQPublisher {
	return &NSQPublisher{producer: producer, topic: topic}
}

func (p *NSQPublisher) Topic() string {
	return p.topic
}

func (p *NSQPublisher) PublishDeadLetter(_ context.Context, dl DeadLetter) error {
	b, err := json.Marshal(dl)
	if err != nil {
		return errors.Wrap(err, "encode dead letter")
	}
	if err := p.producer.Publish(p.topic, b); err != nil {
		return errors.Wrapf(err, "publish dead letter to %s", p.topic)
	}
	return nil
}
