// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cluster

import (
	"sort"
)

// Snapshot is one unit's observation of the peer bus: every unit record
// it could read and the cluster record. It is never assumed fresher than
// the read that produced it.
type Snapshot struct {
	// Self is the name of the observing unit.
	Self    string
	Leader  bool
	Units   map[string]UnitRecord
	Cluster ClusterRecord
}

// Local returns the observing unit's own record.
func (s Snapshot) Local() UnitRecord {
	if r, ok := s.Units[s.Self]; ok {
		return r
	}
	return ParseUnitRecord(s.Self, nil)
}

// Unit returns the record of the named unit.
func (s Snapshot) Unit(name string) (UnitRecord, bool) {
	r, ok := s.Units[name]
	return r, ok
}

// All returns every unit record ordered by unit number.
func (s Snapshot) All() []UnitRecord {
	all := make([]UnitRecord, 0, len(s.Units))
	for _, r := range s.Units {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool {
		ni, nj := UnitNumber(all[i].Unit), UnitNumber(all[j].Unit)
		if ni != nj {
			return ni < nj
		}
		return all[i].Unit < all[j].Unit
	})
	return all
}

// Peers returns every record except the observing unit's, ordered by unit
// number.
func (s Snapshot) Peers() []UnitRecord {
	var peers []UnitRecord
	for _, r := range s.All() {
		if r.Unit != s.Self {
			peers = append(peers, r)
		}
	}
	return peers
}

// ByMemberName returns the unit whose record carries the given member
// name.
func (s Snapshot) ByMemberName(name string) (UnitRecord, bool) {
	for _, r := range s.Units {
		if r.MemberName == name {
			return r, true
		}
	}
	return UnitRecord{}, false
}

// ClientEndpoints returns the client URLs of every started unit that is
// not leaving. If no unit has started yet, every unit with a known address
// is returned.
func (s Snapshot) ClientEndpoints() []string {
	var started, known []string
	for _, r := range s.All() {
		if r.IP == "" || r.Departing {
			continue
		}
		known = append(known, r.ClientURL())
		if r.Started {
			started = append(started, r.ClientURL())
		}
	}
	if len(started) > 0 {
		return started
	}
	return known
}

// IsMember reports whether the named member is in the cluster record's
// member list.
func (s Snapshot) IsMember(memberName string) bool {
	_, ok := s.Cluster.Members.Get(memberName)
	return ok
}
