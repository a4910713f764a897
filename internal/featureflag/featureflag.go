// Package featureflag answers whether a named feature is switched on.
package featureflag

import "context"

// ConsentEnforcement rejects messages to recipients who opted out.
const ConsentEnforcement = "consent-enforcement"

// Checker reports whether a feature is active.
type Checker interface {
	IsActive(ctx context.Context, name string) bool
}

// Static is a Checker backed by the features section of the configuration.
// Unknown flags are off.
type Static map[string]bool

// IsActive implements Checker.
func (s Static) IsActive(_ context.Context, name string) bool {
	return s[name]
}
