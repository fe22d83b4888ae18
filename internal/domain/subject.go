package domain

// Subject is the entity a lifecycle event is about. Filters only ever read a
// subject through this contract.
type Subject interface {
	// Model is the namespaced type name, e.g. "shop.Order".
	Model() string
	Identifier() string
	// Attribute returns a named attribute; ok is false when the subject has none.
	Attribute(name string) (value any, ok bool)
}

// Object is the Subject used by the HTTP ingress and tests.
type Object struct {
	ModelName  string         `json:"model"`
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func (o Object) Model() string      { return o.ModelName }
func (o Object) Identifier() string { return o.ID }

// Attribute treats nil values as absent.
func (o Object) Attribute(name string) (any, bool) {
	v, ok := o.Attributes[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}
