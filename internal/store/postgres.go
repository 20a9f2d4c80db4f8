package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/netip"
	"time"

	"github.com/lib/pq"

	"github.com/ashisays/BITS-SIEM-sub001/internal/model"
)

// DurableStore persists alerts, whitelist entries, and the suppression
// audit in Postgres. Schema provisioning is handled by the admin surface;
// this store only reads and writes.
type DurableStore struct {
	db *sql.DB
}

// NewDurableStore opens a Postgres connection pool.
func NewDurableStore(ctx context.Context, dsn string) (*DurableStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxIdleTime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &DurableStore{db: db}, nil
}

func (s *DurableStore) Close() error { return s.db.Close() }

// UpsertAlert writes an alert, replacing any previous row with the same id.
func (s *DurableStore) UpsertAlert(ctx context.Context, a *model.Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (
			alert_id, tenant_id, source_ip, kind, status, severity, risk,
			evidence, first_seen, last_seen, created_at, updated_at,
			correlation_group, degraded, tags
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (alert_id) DO UPDATE SET
			status = EXCLUDED.status,
			severity = EXCLUDED.severity,
			risk = EXCLUDED.risk,
			evidence = EXCLUDED.evidence,
			last_seen = EXCLUDED.last_seen,
			updated_at = EXCLUDED.updated_at,
			correlation_group = EXCLUDED.correlation_group,
			degraded = EXCLUDED.degraded,
			tags = EXCLUDED.tags`,
		a.AlertID, a.TenantID, a.SourceIP.String(), string(a.Kind),
		string(a.Status), string(a.Severity), a.Risk,
		pq.Array(a.Evidence), a.FirstSeen, a.LastSeen, a.CreatedAt, a.UpdatedAt,
		nullable(a.CorrelationGroup), a.Degraded, pq.Array(a.Tags))
	return err
}

// GetAlert loads one alert by id.
func (s *DurableStore) GetAlert(ctx context.Context, alertID string) (*model.Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT alert_id, tenant_id, source_ip, kind, status, severity, risk,
		       evidence, first_seen, last_seen, created_at, updated_at,
		       COALESCE(correlation_group, ''), degraded, tags
		FROM alerts WHERE alert_id = $1`, alertID)

	var a model.Alert
	var sourceIP, kind, status, severity string
	var evidence, tags []string
	err := row.Scan(&a.AlertID, &a.TenantID, &sourceIP, &kind, &status,
		&severity, &a.Risk, pq.Array(&evidence), &a.FirstSeen, &a.LastSeen,
		&a.CreatedAt, &a.UpdatedAt, &a.CorrelationGroup, &a.Degraded, pq.Array(&tags))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.SourceIP, _ = netip.ParseAddr(sourceIP)
	a.Kind = model.ThreatKind(kind)
	a.Status = model.AlertStatus(status)
	a.Severity = model.Severity(severity)
	a.Evidence = evidence
	a.Tags = tags
	return &a, nil
}

// UpdateAlertStatus applies a lifecycle transition; validity is enforced
// by the alert manager before calling.
func (s *DurableStore) UpdateAlertStatus(ctx context.Context, alertID string, status model.AlertStatus, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET status = $2, updated_at = $3 WHERE alert_id = $1`,
		alertID, string(status), at)
	return err
}

// InsertSuppression appends one row to the suppression audit.
func (s *DurableStore) InsertSuppression(ctx context.Context, tenantID, reason, fingerprint string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppression_audit (tenant_id, reason, fingerprint, suppressed_at)
		VALUES ($1,$2,$3,$4)`, tenantID, reason, fingerprint, at)
	return err
}

// LoadStaticWhitelist returns the admin-managed static entries for a tenant.
func (s *DurableStore) LoadStaticWhitelist(ctx context.Context, tenantID string) ([]model.WhitelistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT target, ip, cidr, username, reason, created_at, expires_at
		FROM static_whitelist WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.WhitelistEntry
	for rows.Next() {
		var e model.WhitelistEntry
		var target, ip, cidr string
		var expires sql.NullTime
		if err := rows.Scan(&target, &ip, &cidr, &e.Username, &e.Reason, &e.CreatedAt, &expires); err != nil {
			return nil, err
		}
		e.Kind = model.WhitelistStatic
		e.Target = model.WhitelistTarget(target)
		if ip != "" {
			e.IP, _ = netip.ParseAddr(ip)
		}
		if cidr != "" {
			e.CIDR, _ = netip.ParsePrefix(cidr)
		}
		if expires.Valid {
			e.ExpiresAt = expires.Time
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// InsertDeadLetter records a notification that exhausted its retries.
func (s *DurableStore) InsertDeadLetter(ctx context.Context, sink string, payload []byte, lastErr string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notify_dead_letters (sink, payload, last_error, failed_at)
		VALUES ($1,$2,$3,$4)`, sink, payload, lastErr, at)
	return err
}

// LoadTenants reads the tenant registry maintained by the admin surface.
// CIDR lists and SNI names are stored as text arrays; maintenance windows
// live in their own table, see LoadMaintenance.
func (s *DurableStore) LoadTenants(ctx context.Context) ([]TenantRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, cidrs, sni_names, timezone,
		       weekday_start_min, weekday_end_min, weekend_start_min, weekend_end_min
		FROM tenants`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TenantRow
	for rows.Next() {
		var t TenantRow
		if err := rows.Scan(&t.ID, pq.Array(&t.CIDRs), pq.Array(&t.SNINames), &t.Timezone,
			&t.WeekdayStartMin, &t.WeekdayEndMin, &t.WeekendStartMin, &t.WeekendEndMin); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// LoadMaintenance returns a tenant's maintenance windows that have not yet
// ended. Expired windows are left to the admin surface to prune.
func (s *DurableStore) LoadMaintenance(ctx context.Context, tenantID string, now time.Time) ([]MaintenanceRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT starts_at, ends_at, authorized_cidrs
		FROM maintenance_windows
		WHERE tenant_id = $1 AND ends_at > $2`, tenantID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MaintenanceRow
	for rows.Next() {
		var m MaintenanceRow
		if err := rows.Scan(&m.Start, &m.End, pq.Array(&m.Authorized)); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// TenantRow is the raw tenant record; cmd/siemd converts it into the
// registry form.
type TenantRow struct {
	ID              string
	CIDRs           []string
	SNINames        []string
	Timezone        string
	WeekdayStartMin int
	WeekdayEndMin   int
	WeekendStartMin int
	WeekendEndMin   int
}

// MaintenanceRow is one scheduled maintenance window with its authorized
// source CIDRs as text.
type MaintenanceRow struct {
	Start      time.Time
	End        time.Time
	Authorized []string
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
