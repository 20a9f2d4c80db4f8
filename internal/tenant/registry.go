// Package tenant holds the tenant registry: the isolation boundary every
// event, whitelist entry, and alert is partitioned by. The registry is fed
// by the external admin surface and consulted on the ingest hot path, so
// lookups take a read lock only.
package tenant

import (
	"net/netip"
	"sort"
	"sync"
	"time"
)

// BusinessHours describes when a tenant considers activity normal.
// Weekday and weekend windows are expressed as minutes since midnight in
// the tenant's own timezone.
type BusinessHours struct {
	Location     *time.Location
	WeekdayStart int // minutes since midnight
	WeekdayEnd   int
	WeekendStart int // 0,0 means closed on weekends
	WeekendEnd   int
	Holidays     []time.Time // date-only, in Location
}

// Contains reports whether t falls inside the tenant's business hours.
func (bh BusinessHours) Contains(t time.Time) bool {
	loc := bh.Location
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	for _, h := range bh.Holidays {
		if h.Year() == lt.Year() && h.YearDay() == lt.YearDay() {
			return false
		}
	}
	minutes := lt.Hour()*60 + lt.Minute()
	if lt.Weekday() == time.Saturday || lt.Weekday() == time.Sunday {
		if bh.WeekendStart == 0 && bh.WeekendEnd == 0 {
			return false
		}
		return minutes >= bh.WeekendStart && minutes < bh.WeekendEnd
	}
	return minutes >= bh.WeekdayStart && minutes < bh.WeekdayEnd
}

// MaintenanceWindow pairs a time range with the sources authorized to act
// during it. Candidates from authorized sources inside the window are
// suppressed by the false-positive filter.
type MaintenanceWindow struct {
	Start      time.Time
	End        time.Time
	Authorized []netip.Prefix
}

// Active reports whether the window covers t.
func (mw MaintenanceWindow) Active(t time.Time) bool {
	return !t.Before(mw.Start) && t.Before(mw.End)
}

// Authorizes reports whether ip is in the window's authorized source list.
func (mw MaintenanceWindow) Authorizes(ip netip.Addr) bool {
	for _, p := range mw.Authorized {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// Tenant is one customer organization.
type Tenant struct {
	ID          string
	SNINames    []string
	CIDRs       []netip.Prefix
	Hours       BusinessHours
	Maintenance []MaintenanceWindow
}

// ActiveMaintenance returns the maintenance window covering t that
// authorizes ip, or nil.
func (t *Tenant) ActiveMaintenance(at time.Time, ip netip.Addr) *MaintenanceWindow {
	for i := range t.Maintenance {
		mw := &t.Maintenance[i]
		if mw.Active(at) && mw.Authorizes(ip) {
			return mw
		}
	}
	return nil
}

// Registry maps peer addresses and SNI names to tenants. Attribution by
// address uses longest-prefix match across all tenants.
type Registry struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant
	bySNI   map[string]string // sni -> tenant id
}

func NewRegistry() *Registry {
	return &Registry{
		tenants: make(map[string]*Tenant),
		bySNI:   make(map[string]string),
	}
}

// Upsert installs or replaces a tenant definition.
func (r *Registry) Upsert(t *Tenant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.tenants[t.ID]; ok {
		for _, sni := range old.SNINames {
			delete(r.bySNI, sni)
		}
	}
	// Keep CIDRs sorted by descending prefix length so the first hit in
	// MatchAddr is the longest match.
	sort.Slice(t.CIDRs, func(i, j int) bool { return t.CIDRs[i].Bits() > t.CIDRs[j].Bits() })
	r.tenants[t.ID] = t
	for _, sni := range t.SNINames {
		r.bySNI[sni] = t.ID
	}
}

// Remove deletes a tenant.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tenants[id]; ok {
		for _, sni := range t.SNINames {
			delete(r.bySNI, sni)
		}
		delete(r.tenants, id)
	}
}

// Get returns a tenant by id.
func (r *Registry) Get(id string) (*Tenant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[id]
	return t, ok
}

// MatchAddr resolves a peer address to a tenant by longest-prefix match
// over all tenant CIDRs.
func (r *Registry) MatchAddr(ip netip.Addr) (*Tenant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *Tenant
	bestBits := -1
	for _, t := range r.tenants {
		for _, p := range t.CIDRs {
			if p.Contains(ip) {
				if p.Bits() > bestBits {
					best, bestBits = t, p.Bits()
				}
				break // CIDRs are sorted, first hit is this tenant's longest
			}
		}
	}
	return best, best != nil
}

// MatchSNI resolves a TLS server name to a tenant.
func (r *Registry) MatchSNI(serverName string) (*Tenant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.bySNI[serverName]
	if !ok {
		return nil, false
	}
	t, ok := r.tenants[id]
	return t, ok
}
