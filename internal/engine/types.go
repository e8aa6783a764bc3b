package engine

// Result is the outcome of evaluating one feature or property for an entity.
type Result struct {
	// Value is the resolved configuration value.
	Value any
	// SegmentID names the segment that decided the outcome when a targeting
	// rule matched; it is empty on the default path.
	SegmentID string
	// UsedDefault is true when no targeting rule decided the outcome.
	UsedDefault bool
	// Enabled reports whether the enabled-side value was served. Properties
	// always report true.
	Enabled bool
}
