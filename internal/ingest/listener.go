package ingest

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/ashisays/BITS-SIEM-sub001/internal/config"
	"github.com/ashisays/BITS-SIEM-sub001/internal/metrics"
	"github.com/ashisays/BITS-SIEM-sub001/internal/model"
	"github.com/ashisays/BITS-SIEM-sub001/internal/syslog"
	"github.com/ashisays/BITS-SIEM-sub001/internal/tenant"
)

// Envelope pairs a RawEvent with its parsed syslog message so the
// normalizer never re-parses the wire bytes.
type Envelope struct {
	Raw model.RawEvent
	Msg *syslog.Message
}

// Receiver owns the three syslog listeners and the bounded handoff queue.
//
// Backpressure differs by transport: UDP frames are parsed on a shared
// worker pool and dropped (counted) when the queue is full; TCP and TLS
// connections parse inline on their connection goroutine and block on the
// queue, which stops reads and pushes backpressure to the socket.
type Receiver struct {
	reg *tenant.Registry
	met *metrics.Metrics
	cfg config.IngestConfig
	out chan *Envelope
	log *slog.Logger

	now func() time.Time

	mu        sync.Mutex
	closers   []interface{ Close() error }
	udpJobs   chan udpJob
	wg        sync.WaitGroup
	tlsConfig *tls.Config
}

type udpJob struct {
	data []byte
	peer netip.AddrPort
}

// NewReceiver builds a receiver; Start launches its listeners.
func NewReceiver(cfg config.IngestConfig, reg *tenant.Registry, met *metrics.Metrics, logger *slog.Logger) *Receiver {
	return &Receiver{
		reg: reg,
		met: met,
		cfg: cfg,
		out: make(chan *Envelope, cfg.ListenerQueueCapacity),
		log: logger.With("component", "ingest"),
		now: time.Now,
	}
}

// Events is the ingestion queue consumed by the normalizer.
func (r *Receiver) Events() <-chan *Envelope { return r.out }

// Start opens the configured listeners. Listeners whose address is empty
// are skipped. The receiver stops when ctx is cancelled.
func (r *Receiver) Start(ctx context.Context) error {
	r.udpJobs = make(chan udpJob, r.cfg.ParserWorkers*16)
	for i := 0; i < r.cfg.ParserWorkers; i++ {
		r.wg.Add(1)
		go r.parseWorker(ctx)
	}

	if r.cfg.UDPAddr != "" {
		if err := r.startUDP(ctx); err != nil {
			return err
		}
	}
	if r.cfg.TCPAddr != "" {
		if err := r.startStream(ctx, r.cfg.TCPAddr, model.TransportTCP, nil); err != nil {
			return err
		}
	}
	if r.cfg.TLSAddr != "" && r.cfg.TLSCertFile != "" {
		cert, err := tls.LoadX509KeyPair(r.cfg.TLSCertFile, r.cfg.TLSKeyFile)
		if err != nil {
			return err
		}
		r.tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		if err := r.startStream(ctx, r.cfg.TLSAddr, model.TransportTLS, r.tlsConfig); err != nil {
			return err
		}
	}

	go func() {
		<-ctx.Done()
		r.closeAll()
	}()
	return nil
}

// Wait blocks until all listener and worker goroutines have exited.
func (r *Receiver) Wait() { r.wg.Wait() }

func (r *Receiver) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.closers {
		c.Close()
	}
	r.closers = nil
}

func (r *Receiver) track(c interface{ Close() error }) {
	r.mu.Lock()
	r.closers = append(r.closers, c)
	r.mu.Unlock()
}

// ── UDP ──────────────────────────────────────────────────────────────────

func (r *Receiver) startUDP(ctx context.Context) error {
	conn, err := net.ListenPacket("udp", r.cfg.UDPAddr)
	if err != nil {
		return err
	}
	r.track(conn)
	r.log.Info("udp listener started", "addr", conn.LocalAddr().String())

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		// One extra byte so an oversized datagram is distinguishable from
		// one of exactly max_frame_bytes.
		buf := make([]byte, r.cfg.MaxFrameBytes+1)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				r.log.Warn("udp read failed", "error", err)
				continue
			}
			r.met.IngestReceived.WithLabelValues("udp").Inc()
			if n > r.cfg.MaxFrameBytes {
				r.met.IngestMalformed.WithLabelValues("udp").Inc()
				continue
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			peer := addrPortOf(addr)
			select {
			case r.udpJobs <- udpJob{data: data, peer: peer}:
			default:
				// Parser pool saturated: UDP drops rather than blocking.
				r.met.IngestDropped.WithLabelValues("udp").Inc()
			}
		}
	}()
	return nil
}

// parseWorker parses UDP frames off the shared job channel. It never
// blocks on the downstream queue.
func (r *Receiver) parseWorker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-r.udpJobs:
			env, err := r.buildEnvelope(job.data, job.peer, model.TransportUDP, "")
			if err != nil {
				continue // counted inside buildEnvelope
			}
			select {
			case r.out <- env:
			default:
				r.met.IngestDropped.WithLabelValues("udp").Inc()
			}
		}
	}
}

// ── TCP / TLS ────────────────────────────────────────────────────────────

func (r *Receiver) startStream(ctx context.Context, addr string, transport model.Transport, tc *tls.Config) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	r.track(ln)
	r.log.Info("stream listener started", "addr", ln.Addr().String(), "transport", string(transport))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				r.log.Warn("accept failed", "transport", string(transport), "error", err)
				continue
			}
			r.wg.Add(1)
			go r.serveConn(ctx, conn, transport, tc)
		}
	}()
	return nil
}

func (r *Receiver) serveConn(ctx context.Context, conn net.Conn, transport model.Transport, tc *tls.Config) {
	defer r.wg.Done()
	defer conn.Close()

	sni := ""
	if tc != nil {
		tlsConn := tls.Server(conn, tc)
		conn.SetDeadline(r.now().Add(time.Duration(r.cfg.TLSHandshakeSeconds) * time.Second))
		if err := tlsConn.Handshake(); err != nil {
			r.log.Warn("tls handshake failed", "peer", conn.RemoteAddr().String(), "error", err)
			return
		}
		sni = tlsConn.ConnectionState().ServerName
		conn = tlsConn
	}

	peer := addrPortOf(conn.RemoteAddr())
	br := bufio.NewReaderSize(conn, 16*1024)
	readTimeout := time.Duration(r.cfg.ReadTimeoutSeconds) * time.Second

	for {
		conn.SetReadDeadline(r.now().Add(readTimeout))
		frame, err := ReadFrame(br, r.cfg.MaxFrameBytes)
		if err != nil {
			if errors.Is(err, model.ErrMalformedFrame) {
				r.met.IngestMalformed.WithLabelValues(string(transport)).Inc()
				// Framing desync on a stream is unrecoverable: drop the
				// connection, the sender will reconnect.
			}
			return
		}
		r.met.IngestReceived.WithLabelValues(string(transport)).Inc()
		env, err := r.buildEnvelope(frame, peer, transport, sni)
		if err != nil {
			continue
		}
		// Blocking send: when the queue is full this goroutine stops
		// reading and the kernel applies socket-level backpressure.
		select {
		case r.out <- env:
		case <-ctx.Done():
			return
		}
	}
}

// ── Attribution ──────────────────────────────────────────────────────────

// buildEnvelope parses the frame and attributes it to a tenant, in order:
// explicit tenant key in RFC5424 structured data, TLS SNI, then
// longest-prefix match of the peer address against tenant CIDRs.
func (r *Receiver) buildEnvelope(frame []byte, peer netip.AddrPort, transport model.Transport, sni string) (*Envelope, error) {
	now := r.now()
	msg, err := syslog.Parse(frame, now)
	if err != nil {
		r.met.IngestMalformed.WithLabelValues(string(transport)).Inc()
		return nil, err
	}

	tenantID := ""
	if id := msg.Param("tenant"); id != "" {
		if _, ok := r.reg.Get(id); ok {
			tenantID = id
		}
	}
	if tenantID == "" && sni != "" {
		if t, ok := r.reg.MatchSNI(sni); ok {
			tenantID = t.ID
		}
	}
	if tenantID == "" {
		if t, ok := r.reg.MatchAddr(peer.Addr()); ok {
			tenantID = t.ID
		}
	}
	if tenantID == "" {
		r.met.IngestUntenanted.WithLabelValues(string(transport)).Inc()
		return nil, model.ErrUnknownTenant
	}

	return &Envelope{
		Raw: model.RawEvent{
			ReceivedAt: now,
			Bytes:      frame,
			Peer:       peer,
			Transport:  transport,
			TenantID:   tenantID,
		},
		Msg: msg,
	}, nil
}

func addrPortOf(a net.Addr) netip.AddrPort {
	switch v := a.(type) {
	case *net.UDPAddr:
		return v.AddrPort()
	case *net.TCPAddr:
		return v.AddrPort()
	}
	if ap, err := netip.ParseAddrPort(a.String()); err == nil {
		return ap
	}
	return netip.AddrPort{}
}
