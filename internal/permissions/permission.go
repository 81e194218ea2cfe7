// Package permissions defines the permission catalog and the pure permission check.
package permissions

import (
	"sort"
)

// Permission is a dot-namespaced capability name drawn from a Catalog.
type Permission string

// String implements fmt.Stringer.
func (p Permission) String() string {
	return string(p)
}

// Set is the effective permission set of a principal.
type Set map[Permission]struct{}

// NewSet builds a Set from the given permissions.
func NewSet(perms ...Permission) Set {
	set := make(Set, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

// Has reports whether the set satisfies at least one of the required
// permissions. SuperUser satisfies any requirement. An empty requirement
// never passes.
func (s Set) Has(required ...Permission) bool {
	if len(required) == 0 || len(s) == 0 {
		return false
	}
	if s.IsSuperUser() {
		return true
	}
	for _, p := range required {
		if _, ok := s[p]; ok {
			return true
		}
	}
	return false
}

// IsSuperUser reports whether the set holds the wildcard permission.
func (s Set) IsSuperUser() bool {
	_, ok := s[SuperUser]
	return ok
}

// Contains reports literal membership, ignoring the wildcard.
func (s Set) Contains(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Union returns a new set holding the permissions of s and other.
func (s Set) Union(other Set) Set {
	out := make(Set, len(s)+len(other))
	for p := range s {
		out[p] = struct{}{}
	}
	for p := range other {
		out[p] = struct{}{}
	}
	return out
}

// Names returns the permission names sorted alphabetically.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for p := range s {
		names = append(names, string(p))
	}
	sort.Strings(names)
	return names
}

// HasPermission is the permission check: true when granted contains
// SuperUser or intersects required.
func HasPermission(granted Set, required ...Permission) bool {
	return granted.Has(required...)
}
