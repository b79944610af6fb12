package types

import (
	"fmt"
	"strings"
)

// SchemeFS is the scheme for filesystem resources under the mediated
// workspace root.
const SchemeFS = "fs"

// ResourceURI identifies any mutable resource the policy engine can
// reason about, e.g. "fs://workspace/src/main.go". Comparisons and
// pattern matches are always scheme-scoped.
type ResourceURI string

// FileURI builds a workspace filesystem URI from a slash-separated
// relative path.
func FileURI(relPath string) ResourceURI {
	return ResourceURI(SchemeFS + "://workspace/" + strings.TrimPrefix(relPath, "/"))
}

// Scheme returns the URI scheme, or "" if the URI is malformed.
func (u ResourceURI) Scheme() string {
	scheme, _, ok := strings.Cut(string(u), "://")
	if !ok {
		return ""
	}
	return scheme
}

// Rest returns everything after the scheme separator.
func (u ResourceURI) Rest() string {
	_, rest, _ := strings.Cut(string(u), "://")
	return rest
}

// Path returns the workspace-relative path for fs URIs. For other
// schemes it returns the path component after the authority.
func (u ResourceURI) Path() string {
	rest := u.Rest()
	_, path, ok := strings.Cut(rest, "/")
	if !ok {
		return ""
	}
	return path
}

// Validate ensures the URI has a scheme and a non-empty remainder.
func (u ResourceURI) Validate() error {
	scheme, rest, ok := strings.Cut(string(u), "://")
	if !ok {
		return fmt.Errorf("resource URI %q missing scheme separator", u)
	}
	if scheme == "" {
		return fmt.Errorf("resource URI %q has empty scheme", u)
	}
	if rest == "" {
		return fmt.Errorf("resource URI %q has empty body", u)
	}
	return nil
}

func (u ResourceURI) String() string {
	return string(u)
}
