package models

// Entity is the evaluation context: who (or what) a feature or property is
// being resolved for. Attributes feed segment conditions; values may be
// strings, booleans or numerics. An Entity is read-only during evaluation and
// never retained by the SDK.
type Entity struct {
	ID         string
	Attributes map[string]any
}

// Validate checks the invariants the evaluation engine relies on.
func (e Entity) Validate() error {
	if e.ID == "" {
		return ValidationError{Field: "entity.id", Message: "entity id must not be empty"}
	}
	return nil
}
