// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package cluster

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

// Unit record keys.
const (
	KeyMemberName     = "member_name"
	KeyHostname       = "hostname"
	KeyIP             = "ip"
	KeyState          = "state"
	KeyRestartRequest = "restart_request"
	KeyDeparting      = "departing"
)

// Cluster record keys.
const (
	KeyClusterState   = "cluster_state"
	KeyClusterMembers = "cluster_members"
	KeyLearningMember = "learning_member"
	KeyAdminPassword  = "internal_admin_password"
	KeyManagedUsers   = "managed_users"
	KeyAuthentication = "authentication"
	KeyRestartGranted = "restart_granted"
)

const (
	started       = "started"
	authEnabled   = "enabled"
	boolTrue      = "True"
	boolFalse     = "False"
	reasonDivider = ","
)

// TLSStateKey returns the unit record key holding the TLS state of link.
func TLSStateKey(link LinkType) string {
	return "tls_" + string(link) + "_state"
}

// CertReadyKey returns the unit record key holding the certificate
// readiness of link.
func CertReadyKey(link LinkType) string {
	return string(link) + "_cert_ready"
}

// RotationKey returns the unit record key holding the CA rotation state
// of link.
func RotationKey(link LinkType) string {
	return "tls_" + string(link) + "_ca_rotation"
}

// CAKey returns the unit record key holding the fingerprint of the newest
// CA trusted for link.
func CAKey(link LinkType) string {
	return "tls_" + string(link) + "_ca"
}

// FormatBool renders b the way the peer bus stores booleans.
func FormatBool(b bool) string {
	if b {
		return boolTrue
	}
	return boolFalse
}

func parseBool(s string) bool {
	return s == boolTrue
}

// LinkState is the per link part of a unit record.
type LinkState struct {
	TLS       TLSState
	CertReady bool
	Rotation  RotationState
	CAPrint   string
}

// UnitRecord is the typed form of the data a unit publishes about itself.
type UnitRecord struct {
	// Unit is the unit name, e.g. "etcd/0". It is the record's key and
	// not a field of the record.
	Unit string

	MemberName string
	Hostname   string
	IP         string
	Started    bool
	Departing  bool

	Links map[LinkType]LinkState

	// RestartRequest holds the pending rolling restart reasons.
	RestartRequest []string
}

// ParseUnitRecord builds a UnitRecord from the raw fields read off the bus.
// Missing link fields take their zero state.
func ParseUnitRecord(unit string, fields map[string]string) UnitRecord {
	r := UnitRecord{
		Unit:       unit,
		MemberName: fields[KeyMemberName],
		Hostname:   fields[KeyHostname],
		IP:         fields[KeyIP],
		Started:    fields[KeyState] == started,
		Departing:  parseBool(fields[KeyDeparting]),
		Links:      make(map[LinkType]LinkState, len(Links)),
	}
	for _, link := range Links {
		ls := LinkState{
			TLS:       TLSState(fields[TLSStateKey(link)]),
			CertReady: parseBool(fields[CertReadyKey(link)]),
			Rotation:  RotationState(fields[RotationKey(link)]),
			CAPrint:   fields[CAKey(link)],
		}
		if ls.TLS == "" {
			ls.TLS = NoTLS
		}
		if ls.Rotation == "" {
			ls.Rotation = NoRotation
		}
		r.Links[link] = ls
	}
	if req := fields[KeyRestartRequest]; req != "" {
		r.RestartRequest = strings.Split(req, reasonDivider)
	}
	return r
}

// Link returns the state of the given link.
func (r UnitRecord) Link(link LinkType) LinkState {
	if ls, ok := r.Links[link]; ok {
		return ls
	}
	return LinkState{TLS: NoTLS, Rotation: NoRotation}
}

// TLSState returns the TLS state of link.
func (r UnitRecord) TLSState(link LinkType) TLSState {
	return r.Link(link).TLS
}

// CertReady returns whether the certificate for link is installed.
func (r UnitRecord) CertReady(link LinkType) bool {
	return r.Link(link).CertReady
}

// Rotation returns the CA rotation state of link.
func (r UnitRecord) Rotation(link LinkType) RotationState {
	return r.Link(link).Rotation
}

// PeerURL returns the URL other members reach this unit on. The scheme
// follows the unit's own peer TLS state.
func (r UnitRecord) PeerURL() string {
	return URL(r.IP, PeerPort, r.TLSState(Peer) == TLS)
}

// ClientURL returns the URL clients reach this unit on. The scheme follows
// the unit's own client TLS state.
func (r UnitRecord) ClientURL() string {
	return URL(r.IP, ClientPort, r.TLSState(Client) == TLS)
}

// HasIdentity reports whether the unit has published everything needed to
// become a cluster member.
func (r UnitRecord) HasIdentity() bool {
	return r.MemberName != "" && r.IP != ""
}

// ClusterRecord is the typed form of the application wide data written by
// the leader.
type ClusterRecord struct {
	State          State
	Members        MemberEntries
	LearningMember string
	AdminPassword  string
	ManagedUsers   map[int]ManagedUser
	Authentication bool
	RestartGranted string
}

// ParseClusterRecord builds a ClusterRecord from raw bus fields.
func ParseClusterRecord(fields map[string]string) (ClusterRecord, error) {
	r := ClusterRecord{
		State:          State(fields[KeyClusterState]),
		LearningMember: fields[KeyLearningMember],
		AdminPassword:  fields[KeyAdminPassword],
		Authentication: fields[KeyAuthentication] == authEnabled,
		RestartGranted: fields[KeyRestartGranted],
		ManagedUsers:   make(map[int]ManagedUser),
	}
	if r.State == "" {
		r.State = StateNew
	}
	members, err := ParseMemberEntries(fields[KeyClusterMembers])
	if err != nil {
		return ClusterRecord{}, errors.Trace(err)
	}
	r.Members = members
	if raw := fields[KeyManagedUsers]; raw != "" {
		var users []ManagedUser
		if err := json.Unmarshal([]byte(raw), &users); err != nil {
			return ClusterRecord{}, errors.Annotate(err, "parsing managed users")
		}
		for _, u := range users {
			r.ManagedUsers[u.RelationID] = u
		}
	}
	return r, nil
}

// Merge applies patch onto fields in place. An empty value deletes the
// key. It reports whether anything changed.
func Merge(fields, patch map[string]string) bool {
	changed := false
	for k, v := range patch {
		old, ok := fields[k]
		if v == "" {
			if ok {
				delete(fields, k)
				changed = true
			}
			continue
		}
		if !ok || old != v {
			fields[k] = v
			changed = true
		}
	}
	return changed
}

// UnitPatch collects changes to a unit record. The zero value is empty
// and ready to use.
type UnitPatch struct {
	fields map[string]string
}

// NewUnitPatch returns an empty UnitPatch.
func NewUnitPatch() *UnitPatch {
	return &UnitPatch{fields: make(map[string]string)}
}

func (p *UnitPatch) set(key, value string) *UnitPatch {
	if p.fields == nil {
		p.fields = make(map[string]string)
	}
	p.fields[key] = value
	return p
}

// SetIdentity records the unit's member name, hostname and address.
func (p *UnitPatch) SetIdentity(memberName, hostname, ip string) *UnitPatch {
	p.set(KeyMemberName, memberName)
	p.set(KeyHostname, hostname)
	return p.set(KeyIP, ip)
}

// SetStarted marks the workload as started.
func (p *UnitPatch) SetStarted() *UnitPatch {
	return p.set(KeyState, started)
}

// SetDeparting marks the unit as leaving the cluster.
func (p *UnitPatch) SetDeparting(departing bool) *UnitPatch {
	if !departing {
		return p.set(KeyDeparting, "")
	}
	return p.set(KeyDeparting, boolTrue)
}

// SetTLSState records the TLS state of link.
func (p *UnitPatch) SetTLSState(link LinkType, state TLSState) *UnitPatch {
	return p.set(TLSStateKey(link), string(state))
}

// SetCertReady records the certificate readiness of link.
func (p *UnitPatch) SetCertReady(link LinkType, ready bool) *UnitPatch {
	return p.set(CertReadyKey(link), FormatBool(ready))
}

// SetRotation records the CA rotation state of link.
func (p *UnitPatch) SetRotation(link LinkType, state RotationState) *UnitPatch {
	return p.set(RotationKey(link), string(state))
}

// SetCAPrint records the fingerprint of the newest CA trusted for link. An
// empty fingerprint deletes the field.
func (p *UnitPatch) SetCAPrint(link LinkType, fingerprint string) *UnitPatch {
	return p.set(CAKey(link), fingerprint)
}

// SetRestartRequest records the pending restart reasons. An empty list
// deletes the field.
func (p *UnitPatch) SetRestartRequest(reasons []string) *UnitPatch {
	sorted := set.NewStrings(reasons...).SortedValues()
	return p.set(KeyRestartRequest, strings.Join(sorted, reasonDivider))
}

// Fields returns the raw fields to write.
func (p *UnitPatch) Fields() map[string]string {
	out := make(map[string]string, len(p.fields))
	for k, v := range p.fields {
		out[k] = v
	}
	return out
}

// Empty reports whether the patch holds no changes.
func (p *UnitPatch) Empty() bool {
	return len(p.fields) == 0
}

// ClusterPatch collects changes to the cluster record.
type ClusterPatch struct {
	fields map[string]string
}

// NewClusterPatch returns an empty ClusterPatch.
func NewClusterPatch() *ClusterPatch {
	return &ClusterPatch{fields: make(map[string]string)}
}

func (p *ClusterPatch) set(key, value string) *ClusterPatch {
	if p.fields == nil {
		p.fields = make(map[string]string)
	}
	p.fields[key] = value
	return p
}

// SetState records the cluster bootstrap state.
func (p *ClusterPatch) SetState(state State) *ClusterPatch {
	return p.set(KeyClusterState, string(state))
}

// SetMembers records the member list.
func (p *ClusterPatch) SetMembers(members MemberEntries) *ClusterPatch {
	return p.set(KeyClusterMembers, members.String())
}

// SetLearningMember records the pending learner id. An empty id clears it.
func (p *ClusterPatch) SetLearningMember(id string) *ClusterPatch {
	return p.set(KeyLearningMember, id)
}

// SetAdminPassword records the internal admin password.
func (p *ClusterPatch) SetAdminPassword(password string) *ClusterPatch {
	return p.set(KeyAdminPassword, password)
}

// SetAuthenticationEnabled records that authentication is on.
func (p *ClusterPatch) SetAuthenticationEnabled() *ClusterPatch {
	return p.set(KeyAuthentication, authEnabled)
}

// SetRestartGranted records the unit holding the restart lock. An empty
// unit releases the lock.
func (p *ClusterPatch) SetRestartGranted(unit string) *ClusterPatch {
	return p.set(KeyRestartGranted, unit)
}

// SetManagedUsers records the managed users, ordered by relation id.
func (p *ClusterPatch) SetManagedUsers(users map[int]ManagedUser) (*ClusterPatch, error) {
	if len(users) == 0 {
		return p.set(KeyManagedUsers, ""), nil
	}
	ids := make([]int, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	list := make([]ManagedUser, 0, len(ids))
	for _, id := range ids {
		list = append(list, users[id])
	}
	data, err := json.Marshal(list)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return p.set(KeyManagedUsers, string(data)), nil
}

// Fields returns the raw fields to write.
func (p *ClusterPatch) Fields() map[string]string {
	out := make(map[string]string, len(p.fields))
	for k, v := range p.fields {
		out[k] = v
	}
	return out
}

// Empty reports whether the patch holds no changes.
func (p *ClusterPatch) Empty() bool {
	return len(p.fields) == 0
}

// FormatRelationID renders a relation id the way file names and keys
// use it.
func FormatRelationID(id int) string {
	return strconv.Itoa(id)
}
