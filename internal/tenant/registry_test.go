package tenant

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchAddrLongestPrefix(t *testing.T) {
	r := NewRegistry()
	r.Upsert(&Tenant{ID: "broad", CIDRs: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}})
	r.Upsert(&Tenant{ID: "narrow", CIDRs: []netip.Prefix{
		netip.MustParsePrefix("10.5.0.0/16"),
		netip.MustParsePrefix("10.5.1.0/24"),
	}})

	got, ok := r.MatchAddr(netip.MustParseAddr("10.5.1.77"))
	require.True(t, ok)
	assert.Equal(t, "narrow", got.ID)

	got, ok = r.MatchAddr(netip.MustParseAddr("10.9.9.9"))
	require.True(t, ok)
	assert.Equal(t, "broad", got.ID)

	_, ok = r.MatchAddr(netip.MustParseAddr("192.0.2.1"))
	assert.False(t, ok)
}

func TestMatchSNI(t *testing.T) {
	r := NewRegistry()
	r.Upsert(&Tenant{ID: "acme", SNINames: []string{"logs.acme.example", "syslog.acme.example"}})

	got, ok := r.MatchSNI("syslog.acme.example")
	require.True(t, ok)
	assert.Equal(t, "acme", got.ID)

	_, ok = r.MatchSNI("other.example")
	assert.False(t, ok)
}

func TestUpsertReplacesSNINames(t *testing.T) {
	r := NewRegistry()
	r.Upsert(&Tenant{ID: "acme", SNINames: []string{"old.acme.example"}})
	r.Upsert(&Tenant{ID: "acme", SNINames: []string{"new.acme.example"}})

	_, ok := r.MatchSNI("old.acme.example")
	assert.False(t, ok)
	_, ok = r.MatchSNI("new.acme.example")
	assert.True(t, ok)
}

func TestRemove(t *testing.T) {
	r := NewRegistry()
	r.Upsert(&Tenant{ID: "acme", SNINames: []string{"logs.acme.example"},
		CIDRs: []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}})
	r.Remove("acme")

	_, ok := r.Get("acme")
	assert.False(t, ok)
	_, ok = r.MatchSNI("logs.acme.example")
	assert.False(t, ok)
	_, ok = r.MatchAddr(netip.MustParseAddr("10.1.1.1"))
	assert.False(t, ok)
}

func TestBusinessHours(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	bh := BusinessHours{
		Location:     ny,
		WeekdayStart: 9 * 60,
		WeekdayEnd:   18 * 60,
		// Weekends closed.
	}

	// Tuesday 10:00 New York.
	assert.True(t, bh.Contains(time.Date(2026, 8, 25, 10, 0, 0, 0, ny)))
	// Tuesday 08:59.
	assert.False(t, bh.Contains(time.Date(2026, 8, 25, 8, 59, 0, 0, ny)))
	// End boundary is exclusive.
	assert.False(t, bh.Contains(time.Date(2026, 8, 25, 18, 0, 0, 0, ny)))
	// Saturday, weekends closed.
	assert.False(t, bh.Contains(time.Date(2026, 8, 29, 10, 0, 0, 0, ny)))

	// The instant is converted into the tenant's timezone first:
	// 14:00 UTC is 10:00 in New York during DST.
	assert.True(t, bh.Contains(time.Date(2026, 8, 25, 14, 0, 0, 0, time.UTC)))
}

func TestBusinessHoursWeekendWindow(t *testing.T) {
	bh := BusinessHours{
		WeekdayStart: 9 * 60, WeekdayEnd: 18 * 60,
		WeekendStart: 10 * 60, WeekendEnd: 14 * 60,
	}
	sat := time.Date(2026, 8, 29, 11, 0, 0, 0, time.UTC)
	assert.True(t, bh.Contains(sat))
	assert.False(t, bh.Contains(sat.Add(4*time.Hour)))
}

func TestBusinessHoursHoliday(t *testing.T) {
	holiday := time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)
	bh := BusinessHours{
		WeekdayStart: 9 * 60, WeekdayEnd: 18 * 60,
		Holidays: []time.Time{holiday},
	}
	assert.False(t, bh.Contains(time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)))
	assert.True(t, bh.Contains(time.Date(2026, 8, 26, 10, 0, 0, 0, time.UTC)))
}

func TestActiveMaintenance(t *testing.T) {
	start := time.Date(2026, 8, 25, 2, 0, 0, 0, time.UTC)
	tn := &Tenant{
		ID: "acme",
		Maintenance: []MaintenanceWindow{{
			Start:      start,
			End:        start.Add(2 * time.Hour),
			Authorized: []netip.Prefix{netip.MustParsePrefix("10.8.0.0/16")},
		}},
	}

	inside := netip.MustParseAddr("10.8.1.1")
	outside := netip.MustParseAddr("203.0.113.5")

	assert.NotNil(t, tn.ActiveMaintenance(start.Add(time.Hour), inside))
	// Authorized source list is enforced.
	assert.Nil(t, tn.ActiveMaintenance(start.Add(time.Hour), outside))
	// Window bounds: start inclusive, end exclusive.
	assert.NotNil(t, tn.ActiveMaintenance(start, inside))
	assert.Nil(t, tn.ActiveMaintenance(start.Add(2*time.Hour), inside))
	assert.Nil(t, tn.ActiveMaintenance(start.Add(-time.Minute), inside))
}
