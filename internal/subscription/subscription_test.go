package subscription

import (
	"testing"

	"github.com/cockroachdb/errors"
)

func TestSubscriptionMatches(t *testing.T) {
	tests := []struct {
		name      string
		sub       Subscription
		eventType string
		fields    Fields
		want      bool
	}{
		{
			name:      "empty filters match any payload of the event type",
			sub:       Subscription{Active: true, EventType: "token_transfer"},
			eventType: "token_transfer",
			fields:    Fields{"mint": "X"},
			want:      true,
		},
		{
			name:      "inactive never matches",
			sub:       Subscription{Active: false, EventType: "token_transfer"},
			eventType: "token_transfer",
			want:      false,
		},
		{
			name:      "event type must be equal",
			sub:       Subscription{Active: true, EventType: "token_transfer"},
			eventType: "account_update",
			want:      false,
		},
		{
			name:      "all filters equal",
			sub:       Subscription{Active: true, EventType: "swap", Filters: Filters{"mint": "X", "pool": "P"}},
			eventType: "swap",
			fields:    Fields{"mint": "X", "pool": "P", "extra": "ignored"},
			want:      true,
		},
		{
			name:      "one filter differs",
			sub:       Subscription{Active: true, EventType: "swap", Filters: Filters{"mint": "X", "pool": "P"}},
			eventType: "swap",
			fields:    Fields{"mint": "X", "pool": "Q"},
			want:      false,
		},
		{
			name:      "filter key absent from payload",
			sub:       Subscription{Active: true, EventType: "swap", Filters: Filters{"mint": "X"}},
			eventType: "swap",
			fields:    Fields{},
			want:      false,
		},
		{
			name:      "keys are case-sensitive",
			sub:       Subscription{Active: true, EventType: "swap", Filters: Filters{"Mint": "X"}},
			eventType: "swap",
			fields:    Fields{"mint": "X"},
			want:      false,
		},
		{
			name:      "empty filter value requires an empty field",
			sub:       Subscription{Active: true, EventType: "swap", Filters: Filters{"memo": ""}},
			eventType: "swap",
			fields:    Fields{"memo": ""},
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.Matches(tt.eventType, tt.fields); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFlatten(t *testing.T) {
	fields := Flatten(map[string]any{
		"mint":   "X",
		"amount": float64(12),
		"ok":     true,
		"nested": map[string]any{"mint": "Y"},
		"none":   nil,
	})

	if len(fields) != 1 || fields["mint"] != "X" {
		t.Errorf("Flatten() = %v, want only mint=X", fields)
	}

	// non-string values behave as absent keys
	sub := Subscription{Active: true, EventType: "e", Filters: Filters{"amount": "12"}}
	if sub.Matches("e", fields) {
		t.Error("numeric payload field matched a string filter")
	}
}

func TestNewSubscriptionValidate(t *testing.T) {
	valid := NewSubscription{
		Owner:     "owner-1",
		Name:      "transfers",
		URL:       "https://example.com/hook",
		EventType: "token_transfer",
		Filters:   Filters{"mint": "X"},
	}
	long := make([]byte, 101)
	for i := range long {
		long[i] = 'a'
	}

	tests := []struct {
		name    string
		mutate  func(n *NewSubscription)
		wantErr bool
	}{
		{name: "valid", mutate: func(n *NewSubscription) {}},
		{name: "http scheme", mutate: func(n *NewSubscription) { n.URL = "http://localhost:8081/hook" }},
		{name: "missing owner", mutate: func(n *NewSubscription) { n.Owner = "" }, wantErr: true},
		{name: "empty name", mutate: func(n *NewSubscription) { n.Name = "" }, wantErr: true},
		{name: "name too long", mutate: func(n *NewSubscription) { n.Name = string(long) }, wantErr: true},
		{name: "relative url", mutate: func(n *NewSubscription) { n.URL = "/hook" }, wantErr: true},
		{name: "ftp url", mutate: func(n *NewSubscription) { n.URL = "ftp://example.com/x" }, wantErr: true},
		{name: "missing event", mutate: func(n *NewSubscription) { n.EventType = "" }, wantErr: true},
		{name: "empty filter key", mutate: func(n *NewSubscription) { n.Filters = Filters{"": "x"} }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			err := in.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() error %v is not marked ErrInvalid", err)
			}
		})
	}
}

func TestPatchValidate(t *testing.T) {
	bad := "not a url"
	good := "https://example.com"

	if err := (Patch{URL: &good}).Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
	if err := (Patch{URL: &bad}).Validate(); !errors.Is(err, ErrInvalid) {
		t.Errorf("Validate() = %v, want ErrInvalid", err)
	}
	if err := (Patch{Filters: &Filters{"": "x"}}).Validate(); !errors.Is(err, ErrInvalid) {
		t.Errorf("Validate() = %v, want ErrInvalid", err)
	}
}
