// Package matcher selects trace events with a "subsystem:name" filter.
//
// The filter forms are:
//
//	<subsystem>:<name>   both must match
//	*:<name> or :<name>  any event by that name
//	<subsystem>:* or <subsystem>:
//	                     every event of the subsystem
//	<token>              events named <token> or events of subsystem <token>
//	"" or *              every event
//
// Events flagged ignore or lacking a registration capability never match.
package matcher

import (
	"strings"

	"github.com/mrzor/probescript/internal/catalog"
)

// Filter is a parsed event filter.
type Filter struct {
	// Token is set when the filter had no colon; it is tested against both
	// the event name and the subsystem.
	Token string
	// Subsystem and Name are set when the filter had a colon.
	Subsystem string
	Name      string
}

// Parse parses a filter spec. Empty and "*" parts become wildcards.
func Parse(spec string) Filter {
	left, right, hasColon := strings.Cut(spec, ":")
	if !hasColon {
		return Filter{Token: wildcard(left)}
	}
	return Filter{
		Subsystem: wildcard(left),
		Name:      wildcard(right),
	}
}

// wildcard maps the "any" spellings to the empty string.
func wildcard(s string) string {
	if s == "*" {
		return ""
	}
	return s
}

// Match reports whether d is eligible and selected by the filter.
func (f Filter) Match(d *catalog.EventDescriptor) bool {
	if d == nil || !d.Eligible() {
		return false
	}
	if f.Token != "" && f.Token != d.Name && f.Token != d.Subsystem {
		return false
	}
	if f.Subsystem != "" && f.Subsystem != d.Subsystem {
		return false
	}
	if f.Name != "" && f.Name != d.Name {
		return false
	}
	return true
}

// Compile returns a catalog predicate for spec.
func Compile(spec string) catalog.Predicate {
	return Parse(spec).Match
}

// Select enumerates the catalog entries matching spec.
func Select(c catalog.Catalog, spec string) ([]*catalog.EventDescriptor, error) {
	return c.Enumerate(Compile(spec))
}
