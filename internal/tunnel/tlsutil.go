package tunnel

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// serverName is hard-coded on the client side regardless of the real dial
// target (spec.md §4.2, §9 "Hard-coded peer names"): the certificates used
// by this system are not issued for routable DNS names, only for mutual
// possession, so there is nothing meaningful to verify a SAN against.
const serverName = "localhost"

// loadCAPool reads a PEM bundle of one or more CA certificates used to
// verify the peer's certificate, on both ends of the control channel.
func loadCAPool(caFile string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("natproxy: read ca bundle %s: %w", caFile, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("natproxy: no certificates found in ca bundle %s", caFile)
	}
	return pool, nil
}

// ServerTLSConfig builds the mTLS config a signal/data listener accepts
// connections under: present certFile/keyFile, require and verify a
// client certificate signed by caFile (spec.md §4.2).
func ServerTLSConfig(caFile, certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("natproxy: load server keypair: %w", err)
	}
	clientCAs, err := loadCAPool(caFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    clientCAs,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ClientTLSConfig builds the mTLS config a client node dials out under:
// present certFile/keyFile, trust only caFile, and verify the server name
// as the hard-coded serverName (spec.md §4.2).
func ClientTLSConfig(caFile, certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("natproxy: load client keypair: %w", err)
	}
	rootCAs, err := loadCAPool(caFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      rootCAs,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
