// Package topic owns the shape of webhook topic strings. Subscriber topic rows
// and runtime event topics are both produced here so they always agree.
package topic

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Priya8975/model-webhooks/internal/errs"
)

type Action string

const (
	Create Action = "create"
	Update Action = "update"
	Delete Action = "delete"
)

// Actions lists every lifecycle action in a stable order.
var Actions = []Action{Create, Update, Delete}

// Test is the topic used by manual verification deliveries.
const Test = "test/webhook"

var (
	modelPattern = regexp.MustCompile(`^\w+\.\w+$`)
	topicPattern = regexp.MustCompile(`^(\w+\.\w+)/(create|update|delete)$`)
)

// Resolve builds "<namespace>.<Model>/<action>".
func Resolve(model string, action Action) string {
	return model + "/" + string(action)
}

// Parse splits a topic back into model and action.
func Parse(t string) (string, Action, error) {
	m := topicPattern.FindStringSubmatch(t)
	if m == nil {
		return "", "", errs.Validation("topic", fmt.Sprintf("topic %q must match %s", t, topicPattern.String()))
	}
	return m[1], Action(m[2]), nil
}

// ValidateModel checks that a watched model name is in namespace.Model shape.
func ValidateModel(model string) error {
	if !modelPattern.MatchString(model) {
		return errs.Configuration(
			fmt.Sprintf("model %q must be in namespace.Model form", model),
			map[string]any{"model": model},
		)
	}
	return nil
}

// Allowed returns the sorted allow-list of topics for the given models.
// Models failing ValidateModel are skipped.
func Allowed(models []string) []string {
	seen := make(map[string]struct{}, len(models)*len(Actions))
	for _, model := range models {
		if ValidateModel(model) != nil {
			continue
		}
		for _, action := range Actions {
			seen[Resolve(model, action)] = struct{}{}
		}
	}

	topics := make([]string, 0, len(seen))
	for t := range seen {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// DisplayName turns "shop.Order/create" into "Order Create". Topics that do
// not parse are returned unchanged.
func DisplayName(t string) string {
	model, action, err := Parse(t)
	if err != nil {
		return t
	}
	name := model[strings.IndexByte(model, '.')+1:]
	a := string(action)
	return name + " " + strings.ToUpper(a[:1]) + a[1:]
}
