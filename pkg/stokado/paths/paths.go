// Package paths defines which object paths may be uploaded and how large
// each of them may be.
package paths

import (
	"regexp"
	"strings"
)

// Size limits, in bytes.
const (
	MaxNameLength       = 100
	MaxPictureLength    = 50_000
	SignatureSize       = 65
	MinCiphertextLength = 128
	MaxCiphertextLength = 130
)

var ciphertextPath = regexp.MustCompile(`^/ciphertexts/[a-fA-F0-9]+$`)

// Rule maps a family of paths to an allowed byte-length range.
type Rule struct {
	Name     string
	Match    func(path string) bool
	MinBytes uint64
	MaxBytes uint64
}

// Registry is an ordered rule list. The first matching rule governs a path.
type Registry struct {
	rules []Rule
}

// New builds a registry from rules, keeping their order.
func New(rules ...Rule) *Registry {
	r := &Registry{rules: make([]Rule, 0, len(rules))}
	for _, rule := range rules {
		if rule.MinBytes > rule.MaxBytes {
			panic("paths: rule " + rule.Name + " has min greater than max")
		}
		r.rules = append(r.rules, rule)
	}
	return r
}

// DefaultRegistry returns the canonical rule set.
func DefaultRegistry() *Registry {
	return New(
		Rule{
			Name:     "account-name",
			Match:    exactly("/account/name", "/account/name.enc"),
			MinBytes: 0,
			MaxBytes: MaxNameLength,
		},
		Rule{
			Name:     "account-picture",
			Match:    exactly("/account/picture", "/account/picture.enc"),
			MinBytes: 0,
			MaxBytes: MaxPictureLength,
		},
		Rule{
			Name:     "signature",
			Match:    func(path string) bool { return strings.HasSuffix(path, ".signature") },
			MinBytes: SignatureSize,
			MaxBytes: SignatureSize,
		},
		Rule{
			Name:     "ciphertext",
			Match:    ciphertextPath.MatchString,
			MinBytes: MinCiphertextLength,
			MaxBytes: MaxCiphertextLength,
		},
	)
}

func exactly(candidates ...string) func(string) bool {
	return func(path string) bool {
		for _, c := range candidates {
			if path == c {
				return true
			}
		}
		return false
	}
}

// Lookup returns the first rule matching path.
func (r *Registry) Lookup(path string) (Rule, bool) {
	for _, rule := range r.rules {
		if rule.Match(path) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Match reports whether any rule allows path.
func (r *Registry) Match(path string) bool {
	_, ok := r.Lookup(path)
	return ok
}

// Range returns the allowed size range for path. ok is false when no rule matches.
func (r *Registry) Range(path string) (minBytes, maxBytes uint64, ok bool) {
	rule, ok := r.Lookup(path)
	if !ok {
		return 0, 0, false
	}
	return rule.MinBytes, rule.MaxBytes, true
}

// ValidateAll returns the first path that matches no rule.
// The whole batch is rejected if any single path is illegal.
func (r *Registry) ValidateAll(paths []string) (invalid string, ok bool) {
	for _, p := range paths {
		if !r.Match(p) {
			return p, false
		}
	}
	return "", true
}
