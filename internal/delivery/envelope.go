package delivery

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
)

// TimestampFormat is ISO-8601 in UTC with millisecond precision
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// Envelope is the JSON body POSTed to a webhook target
type Envelope struct {
	Event     string         `json:"event"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
}

// BuildBody serializes the envelope for one attempt. The returned bytes are
// exactly what is signed and sent.
func BuildBody(eventType string, data map[string]any, at time.Time) ([]byte, error) {
	body, err := json.Marshal(Envelope{
		Event:     eventType,
		Data:      data,
		Timestamp: at.UTC().Format(TimestampFormat),
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode webhook body")
	}
	return body, nil
}
