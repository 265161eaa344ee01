package domain

import "regexp"

// Post type names end up embedded in table identifiers, so they are
// restricted to the CMS's own slug alphabet. Anything else is rejected
// before it reaches SQL.
var typeNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,19}$`)

// IsValidTypeName reports whether s is a safe post type name.
func IsValidTypeName(s string) bool {
	return typeNameRe.MatchString(s)
}
