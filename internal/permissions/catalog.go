package permissions

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ErrUnknownPermission is returned when a name is not part of the catalog.
var ErrUnknownPermission = errors.New("permissions: unknown permission")

// Built-in permissions.
const (
	SuperUser Permission = "SuperUser"

	AdminAccess      Permission = "Admin.Access"
	AdminUsers       Permission = "Admin.Users"
	AdminRoles       Permission = "Admin.Roles"
	AdminPermissions Permission = "Admin.Permissions"
	AdminPositions   Permission = "Admin.Positions"

	CalendarAdmin        Permission = "Calendar.Admin"
	CalendarMember       Permission = "Calendar.Member"
	CalendarShowAdmin    Permission = "Calendar.Show.Admin"
	CalendarMeetingAdmin Permission = "Calendar.Meeting.Admin"
	CalendarSocialAdmin  Permission = "Calendar.Social.Admin"

	QuotesEdit   Permission = "Quotes.Edit"
	WebcamsView  Permission = "Webcams.View"
	VideosView   Permission = "Videos.View"
	VideosManage Permission = "Videos.Manage"
)

var namePattern = regexp.MustCompile(`^[A-Z][A-Za-z0-9]*(\.[A-Z][A-Za-z0-9]*)*$`)

// Definition describes one catalog entry.
type Definition struct {
	Name        Permission
	Description string
}

func builtins() []Definition {
	return []Definition{
		{SuperUser, "Passes every permission check"},
		{AdminAccess, "Open the admin dashboard"},
		{AdminUsers, "Manage user accounts"},
		{AdminRoles, "Manage roles and role membership"},
		{AdminPermissions, "Manage stored permissions"},
		{AdminPositions, "Manage committee positions"},
		{CalendarAdmin, "Administer every calendar event"},
		{CalendarMember, "View the members calendar"},
		{CalendarShowAdmin, "Administer show events"},
		{CalendarMeetingAdmin, "Administer meeting events"},
		{CalendarSocialAdmin, "Administer social events"},
		{QuotesEdit, "Add and edit quotes board entries"},
		{WebcamsView, "Watch studio webcams"},
		{VideosView, "Browse video metadata"},
		{VideosManage, "Edit video metadata"},
	}
}

// Catalog is the closed set of permissions the application recognises.
// It is immutable once constructed.
type Catalog struct {
	defs   []Definition
	byName map[Permission]Definition
}

// NewCatalog builds the built-in catalog extended with extra definitions.
func NewCatalog(extra ...Definition) (*Catalog, error) {
	all := append(builtins(), extra...)
	c := &Catalog{byName: make(map[Permission]Definition, len(all))}
	for _, def := range all {
		if !namePattern.MatchString(string(def.Name)) {
			return nil, fmt.Errorf("permissions: malformed name %q", def.Name)
		}
		if _, dup := c.byName[def.Name]; dup {
			return nil, fmt.Errorf("permissions: duplicate name %q", def.Name)
		}
		c.byName[def.Name] = def
		c.defs = append(c.defs, def)
	}
	sort.Slice(c.defs, func(i, j int) bool { return c.defs[i].Name < c.defs[j].Name })
	return c, nil
}

// MustCatalog is NewCatalog that panics on error.
func MustCatalog(extra ...Definition) *Catalog {
	c, err := NewCatalog(extra...)
	if err != nil {
		panic(err)
	}
	return c
}

// Parse validates name against the catalog.
func (c *Catalog) Parse(name string) (Permission, error) {
	p := Permission(strings.TrimSpace(name))
	if _, ok := c.byName[p]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPermission, name)
	}
	return p, nil
}

// ParseAll validates every name and returns them deduplicated in input order.
func (c *Catalog) ParseAll(names []string) ([]Permission, error) {
	seen := make(map[Permission]struct{}, len(names))
	out := make([]Permission, 0, len(names))
	for _, name := range names {
		p, err := c.Parse(name)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, nil
}

// Contains reports whether p belongs to the catalog.
func (c *Catalog) Contains(p Permission) bool {
	_, ok := c.byName[p]
	return ok
}

// Describe returns the catalog description for p.
func (c *Catalog) Describe(p Permission) string {
	return c.byName[p].Description
}

// Definitions returns the catalog sorted by name.
func (c *Catalog) Definitions() []Definition {
	out := make([]Definition, len(c.defs))
	copy(out, c.defs)
	return out
}
