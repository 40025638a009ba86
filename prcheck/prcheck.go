// Package prcheck is the read-only PR integrity collaborator. It fetches a
// pull request's head SHA, merge state, changed files and check runs by URL.
// Lookups may return StateUnknown; gate policy decides whether unknown
// blocks a transition.
package prcheck

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
)

// State is the observed state of a pull request.
type State string

const (
	StateOpen    State = "open"
	StateMerged  State = "merged"
	StateClosed  State = "closed" // closed without merge
	StateUnknown State = "unknown"
)

// PR is the subset of pull request data the gate chain consumes.
// All identifiers are plain strings; the engine validates format but does
// not assume provider semantics beyond these fields.
type PR struct {
	URL          string
	HeadSHA      string
	State        State
	ChangedFiles []string
	// ChecksPassed is nil when check-run state is unavailable.
	ChecksPassed *bool
}

// Checker looks up pull request state by URL.
type Checker interface {
	Lookup(ctx context.Context, prURL string) (*PR, error)
}

// prURLPattern matches GitHub pull request URLs.
var prURLPattern = regexp.MustCompile(`^https://github\.com/([\w.-]+)/([\w.-]+)/pull/(\d+)$`)

// ValidURL reports whether s looks like a GitHub pull request URL.
func ValidURL(s string) bool {
	return prURLPattern.MatchString(s)
}

// ParseURL splits a PR URL into owner, repo and number.
func ParseURL(s string) (owner, repo string, number int, err error) {
	m := prURLPattern.FindStringSubmatch(s)
	if m == nil {
		return "", "", 0, fmt.Errorf("not a pull request URL: %s", s)
	}
	n, err := strconv.Atoi(m[3])
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid PR number in %s: %w", s, err)
	}
	return m[1], m[2], n, nil
}

// commitPattern matches abbreviated or full commit SHAs (>=7 hex chars).
var commitPattern = regexp.MustCompile(`^[0-9a-f]{7,40}$`)

// ValidCommit reports whether s is a plausible commit SHA.
func ValidCommit(s string) bool {
	return commitPattern.MatchString(s)
}

// Offline is a Checker that always returns StateUnknown. Used when live
// lookups are disabled.
type Offline struct{}

// Lookup implements Checker.
func (Offline) Lookup(_ context.Context, prURL string) (*PR, error) {
	if !ValidURL(prURL) {
		return nil, fmt.Errorf("not a pull request URL: %s", prURL)
	}
	return &PR{URL: prURL, State: StateUnknown}, nil
}

// Stub is an in-memory Checker for tests. Unregistered URLs resolve to
// StateUnknown.
type Stub struct {
	PRs map[string]*PR
}

// NewStub creates an empty stub checker.
func NewStub() *Stub {
	return &Stub{PRs: make(map[string]*PR)}
}

// Set registers the PR returned for url.
func (s *Stub) Set(url string, pr *PR) {
	pr.URL = url
	s.PRs[url] = pr
}

// Lookup implements Checker.
func (s *Stub) Lookup(_ context.Context, prURL string) (*PR, error) {
	if !ValidURL(prURL) {
		return nil, fmt.Errorf("not a pull request URL: %s", prURL)
	}
	if pr, ok := s.PRs[prURL]; ok {
		return pr, nil
	}
	return &PR{URL: prURL, State: StateUnknown}, nil
}
