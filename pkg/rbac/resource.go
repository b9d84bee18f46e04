package rbac

import (
	"fmt"
	"strings"
)

// ResourceKey is a parsed "<domain>.<action>" resource identifier
type ResourceKey struct {
	Domain string
	Action string
}

func (k ResourceKey) String() string {
	return k.Domain + "." + k.Action
}

// ParseResourceKey validates and splits a resource identifier such as "users.delete".
// Both halves must be non-empty lowercase identifiers (letters, digits, underscore,
// starting with a letter) and exactly one dot must separate them.
func ParseResourceKey(s string) (ResourceKey, error) {
	domain, action, ok := strings.Cut(s, ".")
	if !ok {
		return ResourceKey{}, fmt.Errorf("resource key %q: missing '.' separator", s)
	}
	if err := validateKeyPart(domain); err != nil {
		return ResourceKey{}, fmt.Errorf("resource key %q: domain %w", s, err)
	}
	if err := validateKeyPart(action); err != nil {
		return ResourceKey{}, fmt.Errorf("resource key %q: action %w", s, err)
	}
	return ResourceKey{Domain: domain, Action: action}, nil
}

// JoinResourceKey builds "<resource>.<action>" and validates the result
func JoinResourceKey(resource, action string) (string, error) {
	key, err := ParseResourceKey(resource + "." + action)
	if err != nil {
		return "", err
	}
	return key.String(), nil
}

func validateKeyPart(part string) error {
	if part == "" {
		return fmt.Errorf("is empty")
	}
	for i, r := range part {
		switch {
		case r >= 'a' && r <= 'z':
		case i > 0 && (r >= '0' && r <= '9' || r == '_'):
		default:
			return fmt.Errorf("has invalid character %q", r)
		}
	}
	return nil
}
