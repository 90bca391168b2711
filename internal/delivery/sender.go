package delivery

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/austindbirch/sol_hook/internal/queue"
)

var (
	// ErrTransient marks failures worth retrying: network errors, timeouts, non-2xx responses
	ErrTransient = errors.New("transient delivery error")
	// ErrPermanent marks failures no retry can fix, e.g. a malformed target URL.
	// They are still retried like transient ones; the marker only feeds diagnostics.
	ErrPermanent = errors.New("permanent delivery error")
)

const maxDrainBytes = 64 << 10

// Result is the outcome of one POST
type Result struct {
	StatusCode int
	Latency    time.Duration
	Err        error
	Reason     string // failure class for metrics, empty on success
}

func (r Result) OK() bool {
	return r.Err == nil
}

// Sender performs signed webhook POSTs
type Sender struct {
	client *http.Client
	now    func() time.Time
}

// NewSender returns a Sender whose client times out after timeout and
// propagates trace context on outbound requests
func NewSender(timeout time.Duration) *Sender {
	return NewSenderWithClient(&http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	})
}

func NewSenderWithClient(client *http.Client) *Sender {
	return &Sender{client: client, now: time.Now}
}

func validTarget(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}

// Send delivers job once. Any transport error or status outside 200-299 is a failure.
func (s *Sender) Send(ctx context.Context, job queue.Job) Result {
	if !validTarget(job.TargetURL) {
		err := errors.Mark(errors.Newf("invalid target url %q", job.TargetURL), ErrPermanent)
		return Result{Err: err, Reason: "invalid_url"}
	}

	body, err := BuildBody(job.EventType, job.Payload, s.now())
	if err != nil {
		return Result{Err: errors.Mark(err, ErrPermanent), Reason: "invalid_payload"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.TargetURL, bytes.NewReader(body))
	if err != nil {
		return Result{Err: errors.Mark(errors.Wrap(err, "build request"), ErrPermanent), Reason: "invalid_url"}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEventType, job.EventType)
	if job.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(job.Secret, body))
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return Result{
			Latency: latency,
			Err:     errors.Mark(errors.Wrap(err, "post webhook"), ErrTransient),
			Reason:  classifyReason(err, 0),
		}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	_ = resp.Body.Close()

	res := Result{StatusCode: resp.StatusCode, Latency: latency}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		res.Err = errors.Mark(errors.Newf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)), ErrTransient)
		res.Reason = classifyReason(nil, resp.StatusCode)
	}
	return res
}

func classifyReason(doErr error, status int) string {
	if doErr != nil {
		var netErr net.Error
		if errors.As(doErr, &netErr) && netErr.Timeout() {
			return "timeout"
		}
		errLower := strings.ToLower(doErr.Error())
		if strings.Contains(errLower, "timeout") || strings.Contains(errLower, "deadline exceeded") {
			return "timeout"
		}
		if strings.Contains(errLower, "connection refused") {
			return "connection_refused"
		}
		if strings.Contains(errLower, "no such host") || strings.Contains(errLower, "dns") {
			return "dns_error"
		}
		return "network"
	}
	if status >= 500 {
		return "http_5xx"
	}
	if status == 429 {
		return "http_429"
	}
	if status >= 400 {
		return "http_4xx"
	}
	return "other"
}
