package model

import (
	"math"
	"time"
)

// PrincipalClass is the behavioral classification of a login principal.
type PrincipalClass string

const (
	ClassHuman          PrincipalClass = "human"
	ClassServiceAccount PrincipalClass = "service_account"
	ClassSystem         PrincipalClass = "system"
	ClassUnknown        PrincipalClass = "unknown"
)

// Promotion thresholds for service-account classification.
const (
	serviceAccountMinSamples = 20
	serviceAccountMaxCV      = 0.1
	serviceAccountMinOffHrs  = 0.4
)

// BehavioralProfile holds rolling login statistics for one principal
// (username or source IP) within one tenant. Counters use Welford's
// online algorithm so no sample history is retained.
type BehavioralProfile struct {
	TenantID  string
	Principal string

	SuccessCount  int64
	LastLogin     time.Time
	MeanInterval  float64 // seconds
	m2Interval    float64 // Welford accumulator
	OffHoursCount int64

	Class      PrincipalClass
	Confidence float64
}

// NewBehavioralProfile returns an empty profile classified as unknown.
func NewBehavioralProfile(tenantID, principal string) *BehavioralProfile {
	return &BehavioralProfile{
		TenantID:  tenantID,
		Principal: principal,
		Class:     ClassUnknown,
	}
}

// RecordSuccess folds one successful login into the rolling counters and
// re-evaluates the classification.
func (p *BehavioralProfile) RecordSuccess(at time.Time, offHours bool) {
	if !p.LastLogin.IsZero() {
		interval := at.Sub(p.LastLogin).Seconds()
		if interval > 0 {
			n := float64(p.SuccessCount) // intervals observed so far
			delta := interval - p.MeanInterval
			p.MeanInterval += delta / (n + 1)
			p.m2Interval += delta * (interval - p.MeanInterval)
		}
	}
	p.SuccessCount++
	p.LastLogin = at
	if offHours {
		p.OffHoursCount++
	}
	p.reclassify()
}

// StddevInterval returns the sample standard deviation of login intervals.
func (p *BehavioralProfile) StddevInterval() float64 {
	if p.SuccessCount < 3 {
		return 0
	}
	return math.Sqrt(p.m2Interval / float64(p.SuccessCount-2))
}

// OffHoursRatio is the fraction of successful logins outside business hours.
func (p *BehavioralProfile) OffHoursRatio() float64 {
	if p.SuccessCount == 0 {
		return 0
	}
	return float64(p.OffHoursCount) / float64(p.SuccessCount)
}

// CoefficientOfVariation is stddev/mean of login intervals; low values mean
// machine-regular timing.
func (p *BehavioralProfile) CoefficientOfVariation() float64 {
	if p.MeanInterval <= 0 {
		return math.Inf(1)
	}
	return p.StddevInterval() / p.MeanInterval
}

func (p *BehavioralProfile) reclassify() {
	if p.SuccessCount < serviceAccountMinSamples {
		if p.Class == ClassUnknown && p.SuccessCount >= 5 {
			p.Class = ClassHuman
			p.Confidence = 0.4
		}
		return
	}
	cv := p.CoefficientOfVariation()
	if cv < serviceAccountMaxCV && p.OffHoursRatio() > serviceAccountMinOffHrs {
		p.Class = ClassServiceAccount
		p.Confidence = math.Min(1, 0.6+float64(p.SuccessCount)/100)
		return
	}
	p.Class = ClassHuman
	p.Confidence = math.Min(1, 0.5+float64(p.SuccessCount)/200)
}
