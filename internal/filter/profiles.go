package filter

import (
	"sync"
	"time"

	"github.com/ashisays/BITS-SIEM-sub001/internal/model"
)

// learnedWhitelistConfidence is the profile confidence at which a
// service-account principal earns a learned whitelist entry.
const learnedWhitelistConfidence = 0.8

// Profiles holds the behavioral profiles for login principals, keyed by
// tenant and principal (username or source IP). Mutations are serialized
// per tenant.
type Profiles struct {
	mu      sync.RWMutex
	tenants map[string]*tenantProfiles

	// OnServiceAccount fires when a principal is first classified as a
	// service account with high confidence; used to grant learned
	// whitelist entries.
	OnServiceAccount func(tenantID, principal string, confidence float64)
}

type tenantProfiles struct {
	mu       sync.RWMutex
	profiles map[string]*model.BehavioralProfile
}

func NewProfiles() *Profiles {
	return &Profiles{tenants: make(map[string]*tenantProfiles)}
}

func (p *Profiles) forTenant(tenantID string) *tenantProfiles {
	p.mu.RLock()
	tp, ok := p.tenants[tenantID]
	p.mu.RUnlock()
	if ok {
		return tp
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if tp, ok = p.tenants[tenantID]; ok {
		return tp
	}
	tp = &tenantProfiles{profiles: make(map[string]*model.BehavioralProfile)}
	p.tenants[tenantID] = tp
	return tp
}

// RecordSuccess folds one successful login into the principal's profile.
func (p *Profiles) RecordSuccess(tenantID, principal string, at time.Time, offHours bool) {
	if principal == "" {
		return
	}
	tp := p.forTenant(tenantID)
	tp.mu.Lock()
	prof, ok := tp.profiles[principal]
	if !ok {
		prof = model.NewBehavioralProfile(tenantID, principal)
		tp.profiles[principal] = prof
	}
	wasService := prof.Class == model.ClassServiceAccount
	prof.RecordSuccess(at, offHours)
	nowService := prof.Class == model.ClassServiceAccount && prof.Confidence >= learnedWhitelistConfidence
	tp.mu.Unlock()

	if !wasService && nowService && p.OnServiceAccount != nil {
		p.OnServiceAccount(tenantID, principal, prof.Confidence)
	}
}

// Classify returns the current classification and confidence for a
// principal; unknown principals report ClassUnknown.
func (p *Profiles) Classify(tenantID, principal string) (model.PrincipalClass, float64) {
	if principal == "" {
		return model.ClassUnknown, 0
	}
	tp := p.forTenant(tenantID)
	tp.mu.RLock()
	defer tp.mu.RUnlock()
	if prof, ok := tp.profiles[principal]; ok {
		return prof.Class, prof.Confidence
	}
	return model.ClassUnknown, 0
}

// SetProfile installs a profile directly; used by tests and by hot-store
// rehydration at startup.
func (p *Profiles) SetProfile(prof *model.BehavioralProfile) {
	tp := p.forTenant(prof.TenantID)
	tp.mu.Lock()
	tp.profiles[prof.Principal] = prof
	tp.mu.Unlock()
}
