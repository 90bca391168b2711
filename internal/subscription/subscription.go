// Package subscription holds webhook registrations and the filter semantics
// used to route events to them.
package subscription

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
)

var (
	ErrNotFound = errors.New("subscription not found")
	ErrInvalid  = errors.New("invalid subscription")
)

// Filters maps a payload field name to the exact string value it must equal.
// Keys are case-sensitive and all of them must hold (AND).
type Filters map[string]string

// Fields is the flat string view of an event payload that filters match against.
type Fields map[string]string

type Subscription struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	EventType string    `json:"event"`
	Filters   Filters   `json:"filters"`
	Secret    string    `json:"-"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasSecret reports whether deliveries to this subscription are signed
func (s Subscription) HasSecret() bool {
	return s.Secret != ""
}

// Matches reports whether s should receive an event of eventType with the
// given fields. A filter key missing from fields never matches.
func (s Subscription) Matches(eventType string, fields Fields) bool {
	if !s.Active || s.EventType != eventType {
		return false
	}
	for k, want := range s.Filters {
		got, ok := fields[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Flatten projects a payload onto the fields filters can see. Only top-level
// string values are kept; numbers, booleans, objects and nulls are absent.
func Flatten(payload map[string]any) Fields {
	fields := make(Fields, len(payload))
	for k, v := range payload {
		if s, ok := v.(string); ok {
			fields[k] = s
		}
	}
	return fields
}

func (f Filters) clone() Filters {
	out := make(Filters, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// NewSubscription is the input to Repository.Create
type NewSubscription struct {
	Owner     string  `json:"-" validate:"required"`
	Name      string  `json:"name" validate:"required,min=1,max=100"`
	URL       string  `json:"url" validate:"required,http_url"`
	EventType string  `json:"event" validate:"required,max=64"`
	Filters   Filters `json:"filters"`
	Secret    string  `json:"secret,omitempty" validate:"omitempty,max=256"`
}

// Patch is a partial update; nil fields are left unchanged
type Patch struct {
	Name      *string  `json:"name,omitempty" validate:"omitempty,min=1,max=100"`
	URL       *string  `json:"url,omitempty" validate:"omitempty,http_url"`
	EventType *string  `json:"event,omitempty" validate:"omitempty,min=1,max=64"`
	Filters   *Filters `json:"filters,omitempty"`
	Secret    *string  `json:"secret,omitempty" validate:"omitempty,max=256"`
	Active    *bool    `json:"active,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the input and returns an error marked ErrInvalid
func (n NewSubscription) Validate() error {
	if err := validate.Struct(n); err != nil {
		return errors.Mark(errors.Wrap(err, "validate subscription"), ErrInvalid)
	}
	if err := n.Filters.check(); err != nil {
		return err
	}
	return checkURL(n.URL)
}

// Validate checks the patch and returns an error marked ErrInvalid
func (p Patch) Validate() error {
	if err := validate.Struct(p); err != nil {
		return errors.Mark(errors.Wrap(err, "validate patch"), ErrInvalid)
	}
	if p.Filters != nil {
		if err := p.Filters.check(); err != nil {
			return err
		}
	}
	if p.URL != nil {
		return checkURL(*p.URL)
	}
	return nil
}

func (f Filters) check() error {
	for k := range f {
		if k == "" {
			return errors.Mark(errors.New("filter keys must be non-empty"), ErrInvalid)
		}
	}
	return nil
}

// checkURL requires an absolute http(s) URL with a host
func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "parse url"), ErrInvalid)
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return errors.Mark(errors.Newf("url %q must be an absolute http(s) URL", raw), ErrInvalid)
	}
	return nil
}

// apply returns s with the patch applied
func (p Patch) apply(s Subscription, now time.Time) Subscription {
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.URL != nil {
		s.URL = *p.URL
	}
	if p.EventType != nil {
		s.EventType = *p.EventType
	}
	if p.Filters != nil {
		s.Filters = p.Filters.clone()
	}
	if p.Secret != nil {
		s.Secret = *p.Secret
	}
	if p.Active != nil {
		s.Active = *p.Active
	}
	s.UpdatedAt = now
	return s
}

// Finder is the read side used by the matcher
type Finder interface {
	FindActiveByEvent(ctx context.Context, eventType string) ([]Subscription, error)
}

// Repository stores subscriptions. Every method other than
// FindActiveByEvent is scoped to the owning identity.
type Repository interface {
	Finder
	FindByID(ctx context.Context, owner, id string) (Subscription, error)
	ListByOwner(ctx context.Context, owner string) ([]Subscription, error)
	Create(ctx context.Context, in NewSubscription) (Subscription, error)
	Update(ctx context.Context, owner, id string, patch Patch) (Subscription, error)
	Delete(ctx context.Context, owner, id string) error
}
