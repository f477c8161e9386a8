// Package sel computes the set of databases a run will replicate.
package sel

import (
	"context"
	"net/url"
	"strings"

	"github.com/couchrepl/couchrepl/errors"
	"github.com/couchrepl/couchrepl/log"
)

// ErrEmptySelection is returned when policy filtering leaves nothing to
// replicate. It is a configuration error, not a transient failure.
var ErrEmptySelection = errors.New("no databases selected")

// Lister lists database names on a cluster.
type Lister interface {
	ListDatabases(ctx context.Context) ([]string, error)
}

// Policy describes which databases to replicate.
type Policy struct {
	// Databases is the explicit list. When set, no discovery call is made.
	Databases []string
	// All selects every database discovered on the source.
	All bool
	// Skip lists databases to exclude. Matched against both the raw and the
	// URL-escaped form of a name.
	Skip []string
	// IncludeSystem keeps databases whose name starts with an underscore.
	IncludeSystem bool
}

// Filter returns true if a database name is allowed by the policy.
type Filter func(name string) bool

// MakeFilter builds the skip/system filter for a policy.
func MakeFilter(skip []string, includeSystem bool) Filter {
	skipSet := make(map[string]struct{}, len(skip))
	for _, name := range skip {
		skipSet[strings.TrimSpace(name)] = struct{}{}
	}

	return func(name string) bool {
		if !includeSystem && strings.HasPrefix(name, "_") {
			return false
		}

		if _, ok := skipSet[name]; ok {
			return false
		}

		if _, ok := skipSet[url.QueryEscape(name)]; ok {
			return false
		}

		return true
	}
}

// Select resolves the policy into an ordered, deduplicated list of database
// names. Order follows the explicit list or the discovery order.
func Select(ctx context.Context, policy Policy, source Lister) ([]string, error) {
	lg := log.New("sel")

	var databases []string

	if len(policy.Databases) != 0 {
		databases = policy.Databases
	} else {
		lg.Debug("Discovering databases on the source cluster")

		var err error

		databases, err = source.ListDatabases(ctx)
		if err != nil {
			return nil, err
		}

		lg.Debugf("Discovered %d databases", len(databases))
	}

	allowed := MakeFilter(policy.Skip, policy.IncludeSystem)
	seen := make(map[string]struct{}, len(databases))
	selected := make([]string, 0, len(databases))

	for _, name := range databases {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}

		if !allowed(name) {
			lg.Debugf("Skipping database %q", name)

			continue
		}

		selected = append(selected, name)
	}

	if len(selected) == 0 {
		return nil, ErrEmptySelection
	}

	return selected, nil
}
