package domain

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9_ ]+$`)

// Subscriber is a configured webhook endpoint. Records are owned by storage
// and consumed read-only by routing.
type Subscriber struct {
	ID      int64             `json:"id"`
	UUID    uuid.UUID         `json:"uuid"`
	Name    string            `json:"name"`
	URL     string            `json:"url"`
	Active  bool              `json:"active"`
	Topics  []string          `json:"topics"`
	Filters map[string]Filter `json:"filters,omitempty"`
	// FiltersInvalid is set when the stored filters could not be decoded.
	// Such a subscriber matches no subject until the record is fixed.
	FiltersInvalid bool      `json:"filters_invalid,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Recipient identifies one matched subscriber.
type Recipient struct {
	SubscriberID   int64     `json:"subscriber_id"`
	SubscriberUUID uuid.UUID `json:"subscriber_uuid"`
}

// SubscribedTo reports whether t is among the subscriber's topics.
func (s Subscriber) SubscribedTo(t string) bool {
	for _, have := range s.Topics {
		if have == t {
			return true
		}
	}
	return false
}

// FilterFor returns the filter keyed by model, if any.
func (s Subscriber) FilterFor(model string) (Filter, bool) {
	if len(s.Filters) == 0 {
		return Filter{}, false
	}
	f, ok := s.Filters[model]
	return f, ok
}

// Clone returns a deep copy so cached records cannot be mutated by callers.
func (s Subscriber) Clone() Subscriber {
	out := s
	if s.Topics != nil {
		out.Topics = append([]string(nil), s.Topics...)
	}
	if s.Filters != nil {
		out.Filters = make(map[string]Filter, len(s.Filters))
		for model, f := range s.Filters {
			out.Filters[model] = f.Clone()
		}
	}
	return out
}

// ValidateName applies the subscriber name rule: alphanumerics, underscores or spaces.
// Empty names are allowed.
func ValidateName(name string) error {
	if name == "" || namePattern.MatchString(name) {
		return nil
	}
	return fmt.Errorf("webhook name %q must contain only alphanumeric characters, underscores, or spaces", name)
}

// Secret is signing material bound to a subscriber.
type Secret struct {
	ID           int64     `json:"id"`
	SubscriberID int64     `json:"subscriber_id"`
	Token        string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// MinSecretLength is the shortest token accepted for signing.
const MinSecretLength = 12

func (s Secret) Valid() bool {
	return len(s.Token) >= MinSecretLength
}
