package tunnel

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/mark0725/natproxy-go/internal/config"
)

// Timeouts named after original_source's constants (spec.md §4.3, §4.4).
const (
	mainConnectionKeepaliveTimeout = 10 * time.Second
	forwardConnectionBindTimeout   = 5 * time.Second
)

// proxyBindRequest asks the control loop to register a fresh bind slot and
// emit the corresponding ProxyRequest (spec.md §4.4 steps 2-3).
type proxyBindRequest struct {
	bindID  string
	mapping config.MappingConfig
	respond chan *bindSlot
}

// matchRequest asks the control loop to deliver a just-arrived data
// channel into its bind slot (spec.md §4.5).
type matchRequest struct {
	bindID   string
	delivery dataChannelDelivery
	result   chan bool
}

// Server is a server node: it owns the signal and data listeners, the
// bind-queue control loop, and one accept loop per configured mapping
// (spec.md §2, §4.4, §4.5).
type Server struct {
	opt       *config.AppOption
	logger    Logger
	tlsConfig *tls.Config
	stats     flowStats
}

func NewServer(opt *config.AppOption, logger Logger) *Server {
	return &Server{opt: opt, logger: logger}
}

// Run builds the TLS listeners, accepts exactly one control connection
// (spec.md §9 "single control connection per node lifetime"), then drives
// the control loop and every mapping's dispatcher until ctx is cancelled
// or the control channel ends. A non-nil error is a transient-network
// failure the supervisor should retry (spec.md §7).
func (s *Server) Run(ctx context.Context) error {
	opt := s.opt

	tlsConfig, err := ServerTLSConfig(opt.CACert, opt.Cert, opt.Key)
	if err != nil {
		return fmt.Errorf("natproxy: server tls config: %w", err)
	}
	s.tlsConfig = tlsConfig

	lc := newLifecycle(ctx)
	defer lc.shutdown()

	watchCertFiles(lc.ctx, s.logger, opt.CACert, opt.Cert, opt.Key)

	signalAddr := fmt.Sprintf("%s:%d", opt.Listen, opt.SignalPort)
	signalLn, err := tls.Listen("tcp", signalAddr, tlsConfig)
	if err != nil {
		return fmt.Errorf("natproxy: signal listen %s: %w", signalAddr, err)
	}
	defer signalLn.Close()

	dataAddr := fmt.Sprintf("%s:%d", opt.Listen, opt.DataPort)
	dataLn, err := tls.Listen("tcp", dataAddr, tlsConfig)
	if err != nil {
		return fmt.Errorf("natproxy: data listen %s: %w", dataAddr, err)
	}
	defer dataLn.Close()

	s.logger.ILogf("server listening: signal=%s data=%s", signalAddr, dataAddr)

	lc.spawn(func() {
		<-lc.Done()
		signalLn.Close()
	})

	controlConn, controlReader, clientName, clientID, err := s.acceptControlConnection(signalLn)
	if err != nil {
		select {
		case <-lc.Done():
			return nil
		default:
			return err
		}
	}
	defer controlConn.Close()
	s.logger.ILogf("client %q (%s) connected on control channel", clientName, clientID)

	bq := newBindQueue()
	proxyBindCh := make(chan proxyBindRequest, 1000)
	evictCh := make(chan string, 1000)
	matchCh := make(chan matchRequest, 1000)

	lc.spawn(func() { s.readControlChannel(lc, controlReader) })
	lc.spawn(func() { s.controlLoop(lc, controlConn, bq, proxyBindCh, evictCh, matchCh) })
	lc.spawn(func() { s.acceptDataChannels(lc, dataLn, matchCh) })

	for _, m := range opt.Mappings {
		if m.Listen == "" {
			continue
		}
		mapping := m
		lc.spawn(func() { s.dispatchMapping(lc, mapping, proxyBindCh, evictCh) })
	}

	<-lc.Done()
	return nil
}

// acceptControlConnection accepts and TLS-handshakes exactly one
// connection on the signal listener and reads its main: handshake frame.
func (s *Server) acceptControlConnection(ln net.Listener) (net.Conn, *bufio.Reader, string, string, error) {
	conn, err := ln.Accept()
	if err != nil {
		return nil, nil, "", "", fmt.Errorf("natproxy: accept control connection: %w", err)
	}
	if tlsConn, ok := conn.(*tls.Conn); ok {
		if err := tlsConn.HandshakeContext(context.Background()); err != nil {
			conn.Close()
			return nil, nil, "", "", fmt.Errorf("natproxy: control channel tls handshake: %w", err)
		}
	}

	r := bufio.NewReader(conn)
	payload, err := readFrame(r)
	if err != nil {
		conn.Close()
		return nil, nil, "", "", fmt.Errorf("natproxy: control channel handshake read: %w", err)
	}
	tokens := splitHandshake(string(payload))
	if len(tokens) != 3 || tokens[0] != "main" {
		conn.Close()
		return nil, nil, "", "", fmt.Errorf("natproxy: control channel: expected main handshake, got %q", payload)
	}
	return conn, r, tokens[1], tokens[2], nil
}

// readControlChannel drains client-originated frames (mostly the advisory
// Response to each Request) and cancels the node's lifecycle as soon as
// the control channel ends, cleanly or not (spec.md §4.3, §7).
func (s *Server) readControlChannel(lc *lifecycle, r *bufio.Reader) {
	for {
		payload, err := readFrame(r)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				s.logger.ILogf("control channel closed by client")
			} else {
				s.logger.WLogf("control channel read error: %v", err)
			}
			lc.cancel()
			return
		}
		var cmd ProtoCmd
		if err := json.Unmarshal(payload, &cmd); err != nil {
			s.logger.WLogf("control channel: malformed frame: %v", err)
			continue
		}
		// Responses are advisory only (spec.md §4.3); nothing to act on.
	}
}

// controlLoop is the single owner of the bind-queue (spec.md §4.5, §5): it
// registers bind slots, writes ProxyRequests and keepalives, evicts timed
// out slots, and matches arriving data channels, all from one goroutine so
// bq needs no lock.
func (s *Server) controlLoop(lc *lifecycle, conn net.Conn, bq *bindQueue, proxyBindCh chan proxyBindRequest, evictCh chan string, matchCh chan matchRequest) {
	keepalive := time.NewTimer(mainConnectionKeepaliveTimeout)
	defer keepalive.Stop()

	for {
		select {
		case <-lc.Done():
			return

		case req := <-proxyBindCh:
			slot := bq.register(req.bindID)
			req.respond <- slot
			if err := s.sendRequest(conn, "conn", NewProxyRequestBody(req.bindID, req.mapping)); err != nil {
				s.logger.ELogf("control channel write failed: %v", err)
				lc.cancel()
				return
			}
			resetTimer(keepalive, mainConnectionKeepaliveTimeout)

		case bindID := <-evictCh:
			if bq.evict(bindID) {
				s.logger.DLogf("bind %s evicted after timeout", bindID)
			}

		case m := <-matchCh:
			ok := bq.deliver(m.bindID, m.delivery)
			m.result <- ok
			if !ok {
				s.logger.ELogf("cannot find match binding for bind id %s", m.bindID)
			}

		case <-keepalive.C:
			if err := s.sendRequest(conn, "keepalive", nil); err != nil {
				s.logger.ELogf("control channel write failed: %v", err)
				lc.cancel()
				return
			}
			keepalive.Reset(mainConnectionKeepaliveTimeout)
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (s *Server) sendRequest(conn net.Conn, cmdType string, body *ProtoCmdBody) error {
	req := NewRequest(cmdType, body)
	data, err := json.Marshal(ProtoCmd{Request: &req})
	if err != nil {
		return err
	}
	return writeFrame(conn, data)
}

// dispatchMapping accepts public connections for one mapping and spawns a
// flow handler per connection without blocking the accept loop (spec.md
// §4.4).
func (s *Server) dispatchMapping(lc *lifecycle, mapping config.MappingConfig, proxyBindCh chan proxyBindRequest, evictCh chan string) {
	ln, err := net.Listen("tcp", mapping.Listen)
	if err != nil {
		s.logger.ELogf("mapping %s: listen %s: %v", mapping.Name, mapping.Listen, err)
		return
	}
	defer ln.Close()

	lc.spawn(func() {
		<-lc.Done()
		ln.Close()
	})

	s.logger.ILogf("mapping %s: public listener on %s", mapping.Name, mapping.Listen)
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-lc.Done():
				return
			default:
				s.logger.WLogf("mapping %s: accept: %v", mapping.Name, err)
				return
			}
		}
		lc.spawn(func() { s.handleFlow(lc, mapping, conn, proxyBindCh, evictCh) })
	}
}

// handleFlow mints a bind id for one accepted public connection, waits for
// the matched data channel or eviction, and runs the byte pump (spec.md
// §4.4 steps 1, 5-6).
func (s *Server) handleFlow(lc *lifecycle, mapping config.MappingConfig, publicConn net.Conn, proxyBindCh chan proxyBindRequest, evictCh chan string) {
	total := s.stats.opened()
	defer s.stats.closed()
	bindID := newID()
	s.logger.DLogf("mapping %s: flow %d started %s", mapping.Name, total, s.stats.String())
	respond := make(chan *bindSlot, 1)

	select {
	case proxyBindCh <- proxyBindRequest{bindID: bindID, mapping: mapping, respond: respond}:
	case <-lc.Done():
		publicConn.Close()
		return
	}

	var slot *bindSlot
	select {
	case slot = <-respond:
	case <-lc.Done():
		publicConn.Close()
		return
	}

	lc.spawn(func() {
		select {
		case <-time.After(forwardConnectionBindTimeout):
			select {
			case evictCh <- bindID:
			case <-lc.Done():
			}
		case <-lc.Done():
		}
	})

	select {
	case d, ok := <-slot.ch:
		if !ok {
			s.logger.DLogf("bind %s: evicted before a data channel arrived", bindID)
			publicConn.Close()
			return
		}
		label := fmt.Sprintf("mapping=%s bind=%s", mapping.Name, bindID)
		if err := Pump(s.logger, label, publicConn, d.conn); err != nil {
			s.logger.WLogf("%s: pump error: %v", label, err)
		}
	case <-lc.Done():
		publicConn.Close()
	}
}

// acceptDataChannels is the data-channel matcher (spec.md §4.5): it
// accepts on the data listener and hands each connection's handshake to
// the control loop via matchCh.
func (s *Server) acceptDataChannels(lc *lifecycle, ln net.Listener, matchCh chan matchRequest) {
	lc.spawn(func() {
		<-lc.Done()
		ln.Close()
	})

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-lc.Done():
				return
			default:
				s.logger.WLogf("data listener accept: %v", err)
				lc.cancel()
				return
			}
		}
		lc.spawn(func() { s.matchDataChannel(lc, conn, matchCh) })
	}
}

func (s *Server) matchDataChannel(lc *lifecycle, conn net.Conn, matchCh chan matchRequest) {
	if tlsConn, ok := conn.(*tls.Conn); ok {
		if err := tlsConn.HandshakeContext(context.Background()); err != nil {
			s.logger.WLogf("data channel tls handshake: %v", err)
			conn.Close()
			return
		}
	}

	r := bufio.NewReader(conn)
	payload, err := readFrame(r)
	if err != nil {
		s.logger.WLogf("data channel handshake read: %v", err)
		conn.Close()
		return
	}
	tokens := splitHandshake(string(payload))
	if len(tokens) != 3 || tokens[0] != "data" {
		s.logger.WLogf("data channel: expected data handshake, got %q", payload)
		conn.Close()
		return
	}
	clientID, bindID := tokens[1], tokens[2]

	result := make(chan bool, 1)
	req := matchRequest{
		bindID:   bindID,
		delivery: dataChannelDelivery{clientID: clientID, conn: conn, remote: conn.RemoteAddr()},
		result:   result,
	}
	select {
	case matchCh <- req:
	case <-lc.Done():
		conn.Close()
		return
	}

	select {
	case ok := <-result:
		if !ok {
			conn.Close()
		}
	case <-lc.Done():
	}
}
