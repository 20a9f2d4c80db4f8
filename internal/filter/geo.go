package filter

import (
	"math"
	"net/netip"
	"sync"
	"time"
)

// impossibleVelocityKmh is the travel speed above which two logins for the
// same user cannot both be legitimate.
const impossibleVelocityKmh = 900.0

// geoHistoryWindow bounds how far back successful-login geography is
// considered.
const geoHistoryWindow = time.Hour

// LatLon is a geographic coordinate.
type LatLon struct {
	Lat float64
	Lon float64
}

// GeoResolver maps an address to a coordinate. When no resolver is
// configured the impossible-travel rule is skipped.
type GeoResolver interface {
	Locate(ip netip.Addr) (LatLon, bool)
}

// geoTracker remembers where each user last logged in successfully.
type geoTracker struct {
	mu       sync.Mutex
	resolver GeoResolver
	// tenant:user -> recent login locations
	history map[string][]geoPoint
}

type geoPoint struct {
	ip  netip.Addr
	loc LatLon
	at  time.Time
}

func newGeoTracker(resolver GeoResolver) *geoTracker {
	return &geoTracker{
		resolver: resolver,
		history:  make(map[string][]geoPoint),
	}
}

// RecordLogin stores the location of a successful login.
func (g *geoTracker) RecordLogin(tenantID, username string, ip netip.Addr, at time.Time) {
	if g.resolver == nil || username == "" {
		return
	}
	loc, ok := g.resolver.Locate(ip)
	if !ok {
		return
	}
	key := tenantID + ":" + username
	g.mu.Lock()
	defer g.mu.Unlock()
	pts := g.history[key]
	// Drop points behind the window.
	kept := pts[:0]
	for _, p := range pts {
		if at.Sub(p.at) < geoHistoryWindow {
			kept = append(kept, p)
		}
	}
	g.history[key] = append(kept, geoPoint{ip: ip, loc: loc, at: at})
}

// ImpossibleTravel reports whether reaching ip from any login location of
// the user within the last hour would require travel above the velocity cap.
func (g *geoTracker) ImpossibleTravel(tenantID, username string, ip netip.Addr, at time.Time) bool {
	if g.resolver == nil || username == "" {
		return false
	}
	here, ok := g.resolver.Locate(ip)
	if !ok {
		return false
	}
	key := tenantID + ":" + username
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range g.history[key] {
		if p.ip == ip {
			continue
		}
		dt := at.Sub(p.at)
		if dt <= 0 || dt >= geoHistoryWindow {
			continue
		}
		distance := haversineKm(p.loc, here)
		if distance/dt.Hours() > impossibleVelocityKmh {
			return true
		}
	}
	return false
}

// haversineKm is the great-circle distance between two coordinates.
func haversineKm(a, b LatLon) float64 {
	const earthRadiusKm = 6371.0
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
