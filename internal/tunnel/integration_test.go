package tunnel

import (
	"bytes"
	"context"
	"io"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/mark0725/natproxy-go/internal/config"
)

// freePort asks the OS for an unused TCP port on 127.0.0.1.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestServerAndClientProxyOneTCPFlowEndToEnd(t *testing.T) {
	dir := t.TempDir()
	newTestPKI(t, dir)

	targetLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer targetLn.Close()

	echoDone := make(chan struct{})
	go func() {
		defer close(echoDone)
		conn, err := targetLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()

	publicPort := freePort(t)
	signalPort := freePort(t)
	dataPort := freePort(t)

	mapping := config.MappingConfig{
		Name:    "echo",
		Mode:    "tcp",
		Listen:  "127.0.0.1:" + strconv.Itoa(publicPort),
		Forward: targetLn.Addr().String(),
	}

	serverOpt := &config.AppOption{
		Role:       "server",
		Listen:     "127.0.0.1",
		SignalPort: signalPort,
		DataPort:   dataPort,
		CACert:     filepath.Join(dir, "ca.pem"),
		Cert:       filepath.Join(dir, "server-cert.pem"),
		Key:        filepath.Join(dir, "server-key.pem"),
		Mappings:   []config.MappingConfig{mapping},
	}
	clientOpt := &config.AppOption{
		Role:       "client",
		Server:     "127.0.0.1",
		SignalPort: signalPort,
		DataPort:   dataPort,
		CACert:     filepath.Join(dir, "ca.pem"),
		Cert:       filepath.Join(dir, "client-cert.pem"),
		Key:        filepath.Join(dir, "client-key.pem"),
		Mappings:   []config.MappingConfig{mapping},
	}

	logger := NewLogger("test", LogLevelError)
	srv := NewServer(serverOpt, logger)
	cli := NewClient(clientOpt, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverErr := make(chan error, 1)
	go func() { serverErr <- srv.Run(ctx) }()

	// Give the server a moment to bind its listeners before the client
	// dials in.
	time.Sleep(150 * time.Millisecond)

	clientErr := make(chan error, 1)
	go func() { clientErr <- cli.Run(ctx) }()

	time.Sleep(250 * time.Millisecond)

	publicConn, err := net.DialTimeout("tcp", "127.0.0.1:"+strconv.Itoa(publicPort), 2*time.Second)
	if err != nil {
		t.Fatalf("dial public listener: %v", err)
	}
	defer publicConn.Close()

	payload := make([]byte, 16)
	for i := range payload {
		payload[i] = byte(i)
	}
	if _, err := publicConn.Write(payload); err != nil {
		t.Fatal(err)
	}

	publicConn.SetReadDeadline(time.Now().Add(3 * time.Second))
	got := make([]byte, 16)
	if _, err := io.ReadFull(publicConn, got); err != nil {
		t.Fatalf("read echoed payload: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %v, want %v", got, payload)
	}

	cancel()
	// Node shutdown does not cancel a running byte pump; closing the public
	// side ends the flow, which in turn closes the forward connection.
	publicConn.Close()
	<-echoDone
}
