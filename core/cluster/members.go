// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cluster

import (
	"fmt"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/names/v5"
)

// MemberEntry is one "name=peer-url" element of the etcd initial cluster
// string.
type MemberEntry struct {
	Name    string
	PeerURL string
}

// String returns the entry in etcd's initial-cluster syntax.
func (e MemberEntry) String() string {
	return e.Name + "=" + e.PeerURL
}

// MemberEntries is the ordered member list kept in the cluster record.
type MemberEntries []MemberEntry

// ParseMemberEntries parses a comma separated initial cluster string such
// as "etcd0=http://10.0.0.1:2380,etcd1=http://10.0.0.2:2380".
func ParseMemberEntries(s string) (MemberEntries, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var entries MemberEntries
	for _, part := range strings.Split(s, ",") {
		name, url, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || name == "" || url == "" {
			return nil, errors.NotValidf("cluster member %q", part)
		}
		entries = append(entries, MemberEntry{Name: name, PeerURL: url})
	}
	return entries, nil
}

// String returns the entries in etcd's initial-cluster syntax.
func (m MemberEntries) String() string {
	parts := make([]string, len(m))
	for i, e := range m {
		parts[i] = e.String()
	}
	return strings.Join(parts, ",")
}

// Get returns the entry with the given member name.
func (m MemberEntries) Get(name string) (MemberEntry, bool) {
	for _, e := range m {
		if e.Name == name {
			return e, true
		}
	}
	return MemberEntry{}, false
}

// With returns a copy of m with entry appended, or with the existing entry
// of the same name replaced in place.
func (m MemberEntries) With(entry MemberEntry) MemberEntries {
	result := make(MemberEntries, 0, len(m)+1)
	replaced := false
	for _, e := range m {
		if e.Name == entry.Name {
			e = entry
			replaced = true
		}
		result = append(result, e)
	}
	if !replaced {
		result = append(result, entry)
	}
	return result
}

// Without returns a copy of m with the named entry dropped.
func (m MemberEntries) Without(name string) MemberEntries {
	result := make(MemberEntries, 0, len(m))
	for _, e := range m {
		if e.Name != name {
			result = append(result, e)
		}
	}
	return result
}

// MemberName returns the etcd member name for a unit, the application name
// followed by the unit number, e.g. "etcd/3" becomes "etcd3".
func MemberName(unit string) (string, error) {
	if !names.IsValidUnit(unit) {
		return "", errors.NotValidf("unit name %q", unit)
	}
	tag := names.NewUnitTag(unit)
	app, _ := names.UnitApplication(unit)
	return fmt.Sprintf("%s%d", app, tag.Number()), nil
}

// UnitNumber returns the number of the unit, or -1 if the name is not a
// valid unit name.
func UnitNumber(unit string) int {
	if !names.IsValidUnit(unit) {
		return -1
	}
	return names.NewUnitTag(unit).Number()
}

// URL returns the URL for host on port, using https when secure is set.
func URL(host string, port int, secure bool) string {
	scheme := "http"
	if secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}
