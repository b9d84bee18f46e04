// Package adminemails supplies the configured list of admin email addresses.
//
// Emails listed here are treated as admins by policy, independent of the role
// stored for the user. Sources are parsed the same way everywhere: entries are
// separated by commas or newlines, trimmed, lowercased, and blanks are dropped.
package adminemails

import (
	"os"
	"strings"
)

// Parse splits raw on commas and newlines and normalizes every entry.
// Lines starting with '#' are ignored so the file form can carry comments.
func Parse(raw string) []string {
	out := []string{}
	seen := make(map[string]struct{})
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			continue
		}
		for _, part := range strings.Split(line, ",") {
			email := strings.ToLower(strings.TrimSpace(part))
			if email == "" {
				continue
			}
			if _, dup := seen[email]; dup {
				continue
			}
			seen[email] = struct{}{}
			out = append(out, email)
		}
	}
	return out
}

// Static is a fixed admin email list
type Static []string

// NewStatic parses a comma separated list once
func NewStatic(raw string) Static {
	return Static(Parse(raw))
}

// AdminEmails returns a copy of the list
func (s Static) AdminEmails() ([]string, error) {
	out := make([]string, len(s))
	copy(out, s)
	return out, nil
}

// Env reads the list from an environment variable on every call, so an
// explicit change to the process environment is picked up without restart.
type Env struct {
	Var string
}

// AdminEmails parses the current value of the variable
func (e Env) AdminEmails() ([]string, error) {
	return Parse(os.Getenv(e.Var)), nil
}
