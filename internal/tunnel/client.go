package tunnel

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"

	"github.com/mark0725/natproxy-go/internal/config"
)

// Client is a client node: it dials the server's signal port, performs
// the main: handshake, and loops replying to control-channel requests,
// spawning one data-channel dialer per proxy request (spec.md §4.6).
type Client struct {
	opt       *config.AppOption
	logger    Logger
	tlsConfig *tls.Config
	stats     flowStats
}

func NewClient(opt *config.AppOption, logger Logger) *Client {
	return &Client{opt: opt, logger: logger}
}

// Run dials the server, handshakes, and services control-channel requests
// until ctx is cancelled or the control channel ends. A clean EOF returns
// nil; any other failure returns an error for the supervisor to retry
// (spec.md §4.6, §4.8).
func (c *Client) Run(ctx context.Context) error {
	opt := c.opt

	tlsConfig, err := ClientTLSConfig(opt.CACert, opt.Cert, opt.Key)
	if err != nil {
		return fmt.Errorf("natproxy: client tls config: %w", err)
	}
	c.tlsConfig = tlsConfig

	lc := newLifecycle(ctx)
	defer lc.shutdown()

	watchCertFiles(lc.ctx, c.logger, opt.CACert, opt.Cert, opt.Key)

	signalAddr := fmt.Sprintf("%s:%d", opt.Server, opt.SignalPort)
	dialer := &tls.Dialer{Config: tlsConfig}
	rawConn, err := dialer.DialContext(lc.ctx, "tcp", signalAddr)
	if err != nil {
		return fmt.Errorf("natproxy: dial signal port %s: %w", signalAddr, err)
	}
	conn := rawConn.(*tls.Conn)
	defer conn.Close()

	clientID := newID()
	if err := writeFrame(conn, []byte(mainHandshake(clientPeerName, clientID))); err != nil {
		return fmt.Errorf("natproxy: write main handshake: %w", err)
	}
	c.logger.ILogf("connected to %s as %s (%s)", signalAddr, clientPeerName, clientID)

	lc.spawn(func() {
		<-lc.Done()
		conn.Close()
	})

	r := bufio.NewReader(conn)
	for {
		payload, err := readFrame(r)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				c.logger.ILogf("control channel closed")
				return nil
			}
			select {
			case <-lc.Done():
				return nil
			default:
			}
			return fmt.Errorf("natproxy: control channel read: %w", err)
		}

		var cmd ProtoCmd
		if err := json.Unmarshal(payload, &cmd); err != nil {
			c.logger.WLogf("control channel: malformed frame: %v", err)
			continue
		}
		if cmd.Request == nil {
			// A bare Response addressed to us is not expected on this
			// channel; ignore rather than drop the connection.
			continue
		}

		req := cmd.Request
		switch req.CmdType {
		case "keepalive":
			c.reply(conn, req)
		case "conn":
			if req.Body == nil || !req.Body.IsProxyRequest() {
				c.logger.WLogf("malformed conn request %s", req.ID)
				continue
			}
			body := *req.Body
			lc.spawn(func() { c.serveProxyRequest(lc, clientID, body) })
			c.reply(conn, req)
		default:
			c.logger.DLogf("ignoring unknown cmd_type %q", req.CmdType)
		}
	}
}

func (c *Client) reply(conn net.Conn, req *ProtoCmdRequest) {
	resp := NewResponse(req.ID, req.CmdType, "Ok", "proccess success", nil)
	data, err := json.Marshal(ProtoCmd{Response: &resp})
	if err != nil {
		c.logger.ELogf("encode response: %v", err)
		return
	}
	if err := writeFrame(conn, data); err != nil {
		c.logger.WLogf("write response: %v", err)
	}
}

// serveProxyRequest dials a fresh data channel, announces it with the
// data: handshake, dials the mapping's forward target, and runs the byte
// pump (spec.md §4.6 bullet 2, §4.7).
func (c *Client) serveProxyRequest(lc *lifecycle, clientID string, body ProtoCmdBody) {
	total := c.stats.opened()
	defer c.stats.closed()
	c.logger.DLogf("bind %s: flow %d started %s", body.BindID, total, c.stats.String())

	opt := c.opt
	dataAddr := fmt.Sprintf("%s:%d", opt.Server, opt.DataPort)

	dataConn, err := tls.Dial("tcp", dataAddr, c.tlsConfig)
	if err != nil {
		c.logger.ELogf("bind %s: dial data port %s: %v", body.BindID, dataAddr, err)
		return
	}

	if err := writeFrame(dataConn, []byte(dataHandshake(clientID, body.BindID))); err != nil {
		c.logger.ELogf("bind %s: write data handshake: %v", body.BindID, err)
		dataConn.Close()
		return
	}

	forward := ""
	if body.Mapping != nil {
		forward = body.Mapping.Forward
	}
	targetConn, err := net.Dial("tcp", forward)
	if err != nil {
		c.logger.ELogf("bind %s: dial forward target %s: %v", body.BindID, forward, err)
		dataConn.Close()
		return
	}

	label := fmt.Sprintf("bind=%s forward=%s", body.BindID, forward)
	if err := Pump(c.logger, label, dataConn, targetConn); err != nil {
		c.logger.WLogf("%s: pump error: %v", label, err)
	}
}
