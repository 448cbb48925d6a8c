// Package validation implements the compliance check side of the
// workflow: a stateless worker that evaluates a pluggable rule over a
// manifest's HTS codes.
package validation

import (
	"context"
	"fmt"
	"slices"
)

// RestrictedHtsCode is the code that always fails compliance.
const RestrictedHtsCode = "9999.99"

// Rule decides whether a set of HTS codes passes compliance. Evaluation
// must be pure: the worker may be invoked more than once for the same
// command and relies on re-evaluation being harmless.
type Rule interface {
	Evaluate(ctx context.Context, htsCodes []string) (valid bool, reason string)
}

// RestrictedCodes rejects any manifest containing one of the listed codes.
type RestrictedCodes struct {
	codes []string
}

func NewRestrictedCodes(codes ...string) *RestrictedCodes {
	return &RestrictedCodes{codes: codes}
}

// DefaultRule returns the shipped compliance rule.
func DefaultRule() *RestrictedCodes {
	return NewRestrictedCodes(RestrictedHtsCode)
}

func (r *RestrictedCodes) Evaluate(_ context.Context, htsCodes []string) (bool, string) {
	for _, code := range r.codes {
		if slices.Contains(htsCodes, code) {
			return false, fmt.Sprintf("Contains Restricted HTS Code: %s", code)
		}
	}

	return true, ""
}
