package model

import (
	"net/netip"
	"time"
)

// WhitelistKind distinguishes how an entry was created.
type WhitelistKind string

const (
	// WhitelistStatic entries come from the admin surface and never expire
	// unless ExpiresAt is set explicitly.
	WhitelistStatic WhitelistKind = "static"
	// WhitelistDynamic entries are earned by sustained successful
	// authentication and always carry a TTL.
	WhitelistDynamic WhitelistKind = "dynamic"
	// WhitelistLearned entries come from the behavioral profiler.
	WhitelistLearned WhitelistKind = "learned"
)

// WhitelistTarget selects what an entry matches against.
type WhitelistTarget string

const (
	TargetIP     WhitelistTarget = "ip"
	TargetCIDR   WhitelistTarget = "cidr"
	TargetUser   WhitelistTarget = "user"
	TargetUserIP WhitelistTarget = "user@ip"
)

// WhitelistEntry suppresses candidates matching its target.
type WhitelistEntry struct {
	Kind      WhitelistKind
	Target    WhitelistTarget
	IP        netip.Addr   // TargetIP, TargetUserIP
	CIDR      netip.Prefix // TargetCIDR
	Username  string       // TargetUser, TargetUserIP
	Reason    string
	CreatedAt time.Time
	ExpiresAt time.Time // zero value means no expiry (static only)
}

// Expired reports whether the entry has lapsed at t.
func (e WhitelistEntry) Expired(t time.Time) bool {
	return !e.ExpiresAt.IsZero() && t.After(e.ExpiresAt)
}

// Matches reports whether the entry covers the given source IP and username.
func (e WhitelistEntry) Matches(ip netip.Addr, username string) bool {
	switch e.Target {
	case TargetIP:
		return e.IP == ip
	case TargetCIDR:
		return e.CIDR.IsValid() && ip.IsValid() && e.CIDR.Contains(ip)
	case TargetUser:
		return username != "" && e.Username == username
	case TargetUserIP:
		return username != "" && e.Username == username && e.IP == ip
	}
	return false
}
