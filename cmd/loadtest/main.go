// Command loadtest floods a running ingestion endpoint with synthetic
// syslog traffic: auth failures, auth successes, and firewall drops spread
// across tenants and source addresses. Used to size shard counts and queue
// capacities before rollout.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashisays/BITS-SIEM-sub001/internal/syslog"
)

type loadConfig struct {
	Addr           string
	Proto          string
	Messages       int
	Concurrency    int
	Tenants        int
	Sources        int
	ReportInterval time.Duration
}

type loadStats struct {
	Sent       uint64
	Errors     uint64
	MaxLatency time.Duration
	MinLatency time.Duration
}

func main() {
	addr := flag.String("addr", "127.0.0.1:601", "ingestion endpoint")
	proto := flag.String("proto", "tcp", "transport: tcp (octet-counted) or udp")
	messages := flag.Int("msgs", 10000, "number of messages to send")
	concurrency := flag.Int("concurrency", 16, "number of concurrent senders")
	tenants := flag.Int("tenants", 4, "number of synthetic tenants")
	sources := flag.Int("sources", 50, "number of synthetic source addresses")
	reportInterval := flag.Duration("report", 5*time.Second, "stats reporting interval")
	flag.Parse()

	cfg := loadConfig{
		Addr:           *addr,
		Proto:          *proto,
		Messages:       *messages,
		Concurrency:    *concurrency,
		Tenants:        *tenants,
		Sources:        *sources,
		ReportInterval: *reportInterval,
	}
	if cfg.Proto != "tcp" && cfg.Proto != "udp" {
		slog.Error("unsupported transport", "proto", cfg.Proto)
		os.Exit(1)
	}

	slog.Info("starting syslog load test",
		"addr", cfg.Addr, "proto", cfg.Proto,
		"messages", cfg.Messages, "concurrency", cfg.Concurrency)

	stats, latencies := runLoad(cfg)
	printResults(cfg, stats, latencies)
	if stats.Errors > 0 {
		os.Exit(1)
	}
}

func runLoad(cfg loadConfig) (*loadStats, []time.Duration) {
	stats := &loadStats{MinLatency: time.Hour}
	var latencies []time.Duration
	var latenciesMu sync.Mutex

	msgChan := make(chan int, cfg.Concurrency)
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reportStats(ctx, stats, cfg.ReportInterval)

	start := time.Now()
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			sender, err := newSender(cfg)
			if err != nil {
				slog.Error("sender setup failed", "worker", workerID, "error", err)
				atomic.AddUint64(&stats.Errors, 1)
				for range msgChan {
				}
				return
			}
			defer sender.Close()

			rng := rand.New(rand.NewSource(int64(workerID)))
			for seq := range msgChan {
				sendOne(sender, cfg, rng, seq, stats, &latencies, &latenciesMu)
			}
		}(i)
	}

	for i := 0; i < cfg.Messages; i++ {
		msgChan <- i
	}
	close(msgChan)
	wg.Wait()

	elapsed := time.Since(start)
	slog.Info("load test finished",
		"sent", atomic.LoadUint64(&stats.Sent),
		"errors", atomic.LoadUint64(&stats.Errors),
		"elapsed", elapsed,
		"throughput_per_sec", float64(stats.Sent)/elapsed.Seconds())
	return stats, latencies
}

type sender struct {
	conn  net.Conn
	octet bool
}

func newSender(cfg loadConfig) (*sender, error) {
	conn, err := net.DialTimeout(cfg.Proto, cfg.Addr, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return &sender{conn: conn, octet: cfg.Proto == "tcp"}, nil
}

func (s *sender) Send(msg string) error {
	if s.octet {
		_, err := fmt.Fprintf(s.conn, "%d %s", len(msg), msg)
		return err
	}
	_, err := s.conn.Write([]byte(msg))
	return err
}

func (s *sender) Close() { s.conn.Close() }

func sendOne(s *sender, cfg loadConfig, rng *rand.Rand, seq int,
	stats *loadStats, latencies *[]time.Duration, latenciesMu *sync.Mutex) {
	msg := buildMessage(cfg, rng, seq)

	start := time.Now()
	err := s.Send(msg)
	latency := time.Since(start)

	atomic.AddUint64(&stats.Sent, 1)
	if err != nil {
		atomic.AddUint64(&stats.Errors, 1)
		return
	}

	latenciesMu.Lock()
	*latencies = append(*latencies, latency)
	if latency > stats.MaxLatency {
		stats.MaxLatency = latency
	}
	if latency < stats.MinLatency {
		stats.MinLatency = latency
	}
	latenciesMu.Unlock()
}

// buildMessage produces an RFC5424 frame carrying the tenant in structured
// data, the way provisioned collectors tag their output. Roughly 70% auth
// failures so detection state gets exercised, the rest successes and
// firewall drops.
func buildMessage(cfg loadConfig, rng *rand.Rand, seq int) string {
	tenantID := fmt.Sprintf("tenant-%d", rng.Intn(cfg.Tenants))
	sourceIP := fmt.Sprintf("203.0.113.%d", rng.Intn(cfg.Sources))
	user := fmt.Sprintf("user%d", rng.Intn(10))

	var text string
	switch {
	case rng.Float64() < 0.7:
		text = fmt.Sprintf("Failed password for %s from %s port %d ssh2", user, sourceIP, 40000+rng.Intn(2000))
	case rng.Float64() < 0.5:
		text = fmt.Sprintf("Accepted password for %s from %s port %d ssh2", user, sourceIP, 40000+rng.Intn(2000))
	default:
		text = fmt.Sprintf("DROP IN=eth0 SRC=%s DST=10.0.0.1 PROTO=TCP DPT=%d", sourceIP, 1+rng.Intn(9999))
	}

	m := &syslog.Message{
		Facility: 4,
		Severity: 6,
		Version:  1,
		Time:     time.Now().UTC(),
		Hostname: fmt.Sprintf("host-%d", seq%8),
		AppName:  "sshd",
		ProcID:   fmt.Sprintf("%d", 1000+seq%5000),
		SD: []syslog.SDElement{{
			ID: "meta@32473",
			Params: []syslog.SDParam{
				{Name: "tenant", Value: tenantID},
			},
		}},
		Text: text,
	}
	return m.Format()
}

func reportStats(ctx context.Context, stats *loadStats, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			slog.Info("progress",
				"sent", atomic.LoadUint64(&stats.Sent),
				"errors", atomic.LoadUint64(&stats.Errors),
				"min_latency", stats.MinLatency,
				"max_latency", stats.MaxLatency)
		case <-ctx.Done():
			return
		}
	}
}

func printResults(cfg loadConfig, stats *loadStats, latencies []time.Duration) {
	fmt.Printf("messages sent:    %d\n", stats.Sent)
	fmt.Printf("send errors:      %d\n", stats.Errors)
	if len(latencies) == 0 {
		return
	}
	fmt.Printf("latency (min):    %v\n", stats.MinLatency)
	fmt.Printf("latency (avg):    %v\n", average(latencies))
	fmt.Printf("latency (p95):    %v\n", percentile(latencies, 95))
	fmt.Printf("latency (p99):    %v\n", percentile(latencies, 99))
	fmt.Printf("latency (max):    %v\n", stats.MaxLatency)
}

func average(latencies []time.Duration) time.Duration {
	var total time.Duration
	for _, l := range latencies {
		total += l
	}
	return total / time.Duration(len(latencies))
}

func percentile(latencies []time.Duration, p int) time.Duration {
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
