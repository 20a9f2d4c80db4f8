// Command siemd runs the SIEM core: syslog receivers, detection pipeline,
// false-positive filter, alert manager, and the WebSocket push hub.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashisays/BITS-SIEM-sub001/internal/alert"
	"github.com/ashisays/BITS-SIEM-sub001/internal/config"
	"github.com/ashisays/BITS-SIEM-sub001/internal/detect"
	"github.com/ashisays/BITS-SIEM-sub001/internal/filter"
	"github.com/ashisays/BITS-SIEM-sub001/internal/ingest"
	"github.com/ashisays/BITS-SIEM-sub001/internal/metrics"
	"github.com/ashisays/BITS-SIEM-sub001/internal/model"
	"github.com/ashisays/BITS-SIEM-sub001/internal/normalize"
	"github.com/ashisays/BITS-SIEM-sub001/internal/notify"
	"github.com/ashisays/BITS-SIEM-sub001/internal/pipeline"
	"github.com/ashisays/BITS-SIEM-sub001/internal/store"
	"github.com/ashisays/BITS-SIEM-sub001/internal/tenant"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config")
	flag.Parse()

	godotenv.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	met := metrics.New(reg)

	// Hot store. Startup tolerates an unavailable Redis: detection runs
	// degraded until it comes back.
	var hot store.HotStore
	if cfg.Stores.RedisAddr != "" {
		rs, err := store.NewRedisStore(ctx, cfg.Stores.RedisAddr, cfg.Stores.RedisPassword)
		if err != nil {
			logger.Warn("redis unavailable, starting degraded", "error", err)
		} else {
			hot = rs
			defer rs.Close()
		}
	}

	// Durable store is optional in development; without it alerts live in
	// memory only.
	var durable *store.DurableStore
	if cfg.Stores.PostgresDSN != "" {
		durable, err = store.NewDurableStore(ctx, cfg.Stores.PostgresDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			os.Exit(1)
		}
		defer durable.Close()
	}

	registry := tenant.NewRegistry()
	whitelists := filter.NewWhitelists(hot, logger)
	if durable != nil {
		loadTenants(ctx, durable, registry, whitelists, logger)
	}

	profiles := filter.NewProfiles()
	profiles.OnServiceAccount = func(tenantID, principal string, confidence float64) {
		whitelists.GrantLearned(tenantID, principal, "profiled service account", 7*24*time.Hour, time.Now())
	}

	// Write paths go through a circuit breaker so a failing database sheds
	// load instead of stalling the pipeline on timeouts.
	var audit filter.AuditSink
	var deadLetters notify.DeadLetterSink
	var alertStore alert.Store
	if durable != nil {
		guarded := store.NewGuardedStore(durable, logger)
		audit = guarded
		deadLetters = guarded
		alertStore = guarded
	}

	fpFilter := filter.New(cfg.Filter, cfg.Detection, cfg.Alerting,
		registry, whitelists, profiles, nil, audit, met, logger)

	hub := notify.NewHub(met, logger)
	dispatcher := notify.NewDispatcher(nil, deadLetters, 4, met, logger)
	dispatcher.Start(ctx, 4)

	alerts := alert.NewManager(alertStore,
		time.Duration(cfg.Alerting.DedupBucketSeconds)*time.Second,
		time.Duration(cfg.Alerting.CorrelationWindowSeconds)*time.Second,
		func(a *model.Alert, escalated bool) {
			hub.Broadcast(a)
			dispatcher.Dispatch(a)
		},
		met, logger)
	whitelists.HasConfirmedAlert = alerts.HasConfirmedAlert

	engine := detect.NewEngine(cfg.Detection, hot, met, logger)
	receiver := ingest.NewReceiver(cfg.Ingest, registry, met, logger)
	norm := normalize.New(met, logger)

	// HTTP surface: push channel, metrics, health, and the consumption
	// point for admin ack/resolve requests.
	verifier := notify.NewTokenVerifier(cfg.Push.JWTSecret)
	idle := time.Duration(cfg.Push.SessionIdleTimeoutSeconds) * time.Second
	router := mux.NewRouter()
	router.HandleFunc("/ws/notifications/{tenant_id}", hub.HandleWebSocket(verifier, idle))
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"hot_store": hot != nil,
			"durable":   durable != nil,
		})
	})
	router.HandleFunc("/admin/alerts/{tenant_id}/{alert_id}/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		vars := mux.Vars(r)
		err := alerts.Transition(r.Context(), vars["tenant_id"], vars["alert_id"], model.AlertStatus(body.Status))
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http server listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	p := &pipeline.Pipeline{
		Receiver:          receiver,
		Norm:              norm,
		Engine:            engine,
		Filter:            fpFilter,
		Alerts:            alerts,
		Log:               logger,
		NormalizerWorkers: cfg.Ingest.ParserWorkers,
	}

	logger.Info("siemd starting",
		"udp", cfg.Ingest.UDPAddr, "tcp", cfg.Ingest.TCPAddr, "tls", cfg.Ingest.TLSAddr,
		"shards", cfg.Detection.ShardCount)
	if err := p.Run(ctx); err != nil {
		logger.Error("pipeline failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)
	dispatcher.Wait()
}

// loadTenants hydrates the registry and static whitelists from the
// durable store.
func loadTenants(ctx context.Context, durable *store.DurableStore, registry *tenant.Registry, whitelists *filter.Whitelists, logger *slog.Logger) {
	rows, err := durable.LoadTenants(ctx)
	if err != nil {
		logger.Warn("tenant load failed", "error", err)
		return
	}
	for _, row := range rows {
		loc, err := time.LoadLocation(row.Timezone)
		if err != nil {
			loc = time.UTC
		}
		t := &tenant.Tenant{
			ID:       row.ID,
			SNINames: row.SNINames,
			Hours: tenant.BusinessHours{
				Location:     loc,
				WeekdayStart: row.WeekdayStartMin,
				WeekdayEnd:   row.WeekdayEndMin,
				WeekendStart: row.WeekendStartMin,
				WeekendEnd:   row.WeekendEndMin,
			},
		}
		for _, c := range row.CIDRs {
			if p, err := netip.ParsePrefix(c); err == nil {
				t.CIDRs = append(t.CIDRs, p)
			}
		}

		windows, err := durable.LoadMaintenance(ctx, row.ID, time.Now())
		if err != nil {
			logger.Warn("maintenance load failed", "tenant", row.ID, "error", err)
		}
		for _, w := range windows {
			mw := tenant.MaintenanceWindow{Start: w.Start, End: w.End}
			for _, c := range w.Authorized {
				if p, err := netip.ParsePrefix(c); err == nil {
					mw.Authorized = append(mw.Authorized, p)
				}
			}
			t.Maintenance = append(t.Maintenance, mw)
		}
		registry.Upsert(t)

		entries, err := durable.LoadStaticWhitelist(ctx, row.ID)
		if err != nil {
			logger.Warn("static whitelist load failed", "tenant", row.ID, "error", err)
			continue
		}
		whitelists.SetStatic(row.ID, entries)
	}
	logger.Info("tenant registry loaded", "tenants", len(rows))
}
