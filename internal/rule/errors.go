package rule

import "errors"

var (
	// ErrEmptyRuleID is returned when a rule is registered without an ID.
	ErrEmptyRuleID = errors.New("rule id must not be empty")

	// ErrMissingTemplate is returned when a rule has no usable template.
	ErrMissingTemplate = errors.New("rule template must have a subject or body")

	// ErrRuleNotFound is returned when a rule lookup misses.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrDuplicateRule is returned when a rule ID is registered twice.
	ErrDuplicateRule = errors.New("rule already registered")
)
