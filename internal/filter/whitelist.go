// Package filter implements false-positive reduction: whitelist tiers,
// behavioral profiles, business-hours and maintenance context, and the
// impossible-travel override.
package filter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/ashisays/BITS-SIEM-sub001/internal/model"
	"github.com/ashisays/BITS-SIEM-sub001/internal/store"
)

// Whitelists is the three-tier whitelist store. Reads take a per-tenant
// read lock so readers never block readers; writes take a short exclusive
// lock on the single tenant they touch.
type Whitelists struct {
	mu      sync.RWMutex
	tenants map[string]*tenantWhitelist

	hot store.HotStore // dynamic-entry persistence; nil disables
	log *slog.Logger

	// HasConfirmedAlert guards dynamic grants: a source with a confirmed
	// alert in the last 24h cannot earn trust. Nil means no check.
	HasConfirmedAlert func(tenantID, sourceIP string) bool
}

type tenantWhitelist struct {
	mu      sync.RWMutex
	static  []model.WhitelistEntry
	dynamic map[string]model.WhitelistEntry // source ip -> entry
	learned map[string]model.WhitelistEntry // principal -> entry
}

func NewWhitelists(hot store.HotStore, logger *slog.Logger) *Whitelists {
	return &Whitelists{
		tenants: make(map[string]*tenantWhitelist),
		hot:     hot,
		log:     logger.With("component", "whitelist"),
	}
}

func (w *Whitelists) forTenant(tenantID string) *tenantWhitelist {
	w.mu.RLock()
	tw, ok := w.tenants[tenantID]
	w.mu.RUnlock()
	if ok {
		return tw
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if tw, ok = w.tenants[tenantID]; ok {
		return tw
	}
	tw = &tenantWhitelist{
		dynamic: make(map[string]model.WhitelistEntry),
		learned: make(map[string]model.WhitelistEntry),
	}
	w.tenants[tenantID] = tw
	return tw
}

// SetStatic replaces the static tier for a tenant (fed from the admin
// surface / durable store).
func (w *Whitelists) SetStatic(tenantID string, entries []model.WhitelistEntry) {
	tw := w.forTenant(tenantID)
	tw.mu.Lock()
	tw.static = entries
	tw.mu.Unlock()
}

// MatchStatic returns the static entry covering ip or username, if any.
func (w *Whitelists) MatchStatic(tenantID string, ip netip.Addr, username string, now time.Time) (model.WhitelistEntry, bool) {
	tw := w.forTenant(tenantID)
	tw.mu.RLock()
	defer tw.mu.RUnlock()
	for _, e := range tw.static {
		if !e.Expired(now) && e.Matches(ip, username) {
			return e, true
		}
	}
	return model.WhitelistEntry{}, false
}

// GrantDynamic installs a time-bounded dynamic entry for a source IP,
// unless the source has a confirmed alert on record.
func (w *Whitelists) GrantDynamic(ctx context.Context, tenantID, sourceIP string, ttl time.Duration, now time.Time) bool {
	if w.HasConfirmedAlert != nil && w.HasConfirmedAlert(tenantID, sourceIP) {
		w.log.Info("dynamic whitelist denied, confirmed alert on record",
			"tenant", tenantID, "source_ip", sourceIP)
		return false
	}
	ip, err := netip.ParseAddr(sourceIP)
	if err != nil {
		return false
	}
	entry := model.WhitelistEntry{
		Kind:      model.WhitelistDynamic,
		Target:    model.TargetIP,
		IP:        ip,
		Reason:    "earned via sustained successful authentication",
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	tw := w.forTenant(tenantID)
	tw.mu.Lock()
	tw.dynamic[sourceIP] = entry
	tw.mu.Unlock()

	if w.hot != nil {
		if data, err := json.Marshal(entry); err == nil {
			key := store.Key("dwl", tenantID, sourceIP)
			if err := w.hot.Set(ctx, key, data, ttl); err != nil {
				w.log.Warn("dynamic whitelist not persisted", "error", err)
			}
		}
	}
	w.log.Info("dynamic whitelist granted", "tenant", tenantID, "source_ip", sourceIP, "ttl", ttl)
	return true
}

// MatchDynamic reports whether ip holds an unexpired dynamic entry. On a
// local miss the hot store is consulted so entries survive restarts; a hot
// store error is reported through degraded so the caller can skip this tier.
func (w *Whitelists) MatchDynamic(ctx context.Context, tenantID string, ip netip.Addr, now time.Time) (hit bool, degraded bool) {
	tw := w.forTenant(tenantID)
	key := ip.String()

	tw.mu.RLock()
	e, ok := tw.dynamic[key]
	tw.mu.RUnlock()
	if ok {
		if e.Expired(now) {
			tw.mu.Lock()
			delete(tw.dynamic, key)
			tw.mu.Unlock()
		} else {
			return true, false
		}
	}

	if w.hot == nil {
		return false, false
	}
	data, err := w.hot.Get(ctx, store.Key("dwl", tenantID, key))
	if err == store.ErrNotFound {
		return false, false
	}
	if err != nil {
		return false, true
	}
	if err := json.Unmarshal(data, &e); err != nil || e.Expired(now) {
		return false, false
	}
	tw.mu.Lock()
	tw.dynamic[key] = e
	tw.mu.Unlock()
	return true, false
}

// GrantLearned installs a learned entry for a principal, produced by the
// behavioral profiler.
func (w *Whitelists) GrantLearned(tenantID, principal, reason string, ttl time.Duration, now time.Time) {
	tw := w.forTenant(tenantID)
	tw.mu.Lock()
	tw.learned[principal] = model.WhitelistEntry{
		Kind:      model.WhitelistLearned,
		Target:    model.TargetUser,
		Username:  principal,
		Reason:    reason,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	tw.mu.Unlock()
}

// MatchLearned reports whether the principal holds an unexpired learned entry.
func (w *Whitelists) MatchLearned(tenantID, principal string, now time.Time) bool {
	if principal == "" {
		return false
	}
	tw := w.forTenant(tenantID)
	tw.mu.RLock()
	e, ok := tw.learned[principal]
	tw.mu.RUnlock()
	return ok && !e.Expired(now)
}
