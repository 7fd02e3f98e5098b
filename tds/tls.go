package tds

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// The PRELOGIN handshake can negotiate an optional TLS upgrade: the
// client's TLS record layer is tunneled inside PRELOGIN-typed TDS packets
// until the handshake completes, per MS-TDS 2.2.6.4/2.2.6.5. Once
// negotiation settles on EncryptOn or EncryptReq, every byte that follows
// (including LOGIN7) is carried over the resulting tls.Conn instead of the
// raw socket; EncryptOff leaves the connection in the clear for the rest
// of the session.

// handshakeTunnel adapts a Framer's underlying net.Conn into a net.Conn that
// frames each read/write inside a TDS PRELOGIN packet, so crypto/tls's
// handshake can run directly against the TDS wire without knowing about TDS
// framing at all. Once the handshake completes, markEstablished switches the
// tunnel to a raw passthrough over the socket: the TLS record layer's
// ciphertext travels directly over the wire, and it is the Framer layered on
// top of the resulting tls.Conn (not this tunnel) that wraps the plaintext
// in ordinary TDS packets from that point on.
type handshakeTunnel struct {
	raw    net.Conn
	framer *Framer

	established atomic.Bool

	mu      sync.Mutex
	pending bytes.Buffer
}

func newHandshakeTunnel(raw net.Conn, framer *Framer) *handshakeTunnel {
	return &handshakeTunnel{raw: raw, framer: framer}
}

// markEstablished switches the tunnel out of PRELOGIN-wrapped handshake mode
// into raw passthrough, called once crypto/tls reports the handshake done.
func (t *handshakeTunnel) markEstablished() {
	t.established.Store(true)
}

func (t *handshakeTunnel) Read(b []byte) (int, error) {
	if t.established.Load() {
		return t.raw.Read(b)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending.Len() == 0 {
		pktType, _, payload, err := t.framer.Recv()
		if err != nil {
			return 0, err
		}
		if pktType != PacketPrelogin {
			return 0, newProtocolError("expected PRELOGIN-framed TLS record, got %s", pktType)
		}
		t.pending.Write(payload)
	}
	return t.pending.Read(b)
}

func (t *handshakeTunnel) Write(b []byte) (int, error) {
	if t.established.Load() {
		return t.raw.Write(b)
	}
	if err := t.framer.Send(PacketPrelogin, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (t *handshakeTunnel) Close() error                        { return nil }
func (t *handshakeTunnel) LocalAddr() net.Addr                 { return t.raw.LocalAddr() }
func (t *handshakeTunnel) RemoteAddr() net.Addr                { return t.raw.RemoteAddr() }
func (t *handshakeTunnel) SetDeadline(dl time.Time) error      { return t.raw.SetDeadline(dl) }
func (t *handshakeTunnel) SetReadDeadline(dl time.Time) error  { return t.raw.SetReadDeadline(dl) }
func (t *handshakeTunnel) SetWriteDeadline(dl time.Time) error { return t.raw.SetWriteDeadline(dl) }

// upgradeToTLS runs a client TLS handshake tunneled inside PRELOGIN packets
// on framer, then returns a net.Conn backed by the negotiated tls.Conn. The
// caller must replace the Framer's underlying writer/reader with the
// returned connection before continuing the LOGIN7 exchange.
func upgradeToTLS(raw net.Conn, framer *Framer, cfg *tls.Config, serverName string) (net.Conn, error) {
	tunnel := newHandshakeTunnel(raw, framer)

	clientCfg := cfg.Clone()
	if clientCfg.ServerName == "" {
		clientCfg.ServerName = serverName
	}

	tlsConn := tls.Client(tunnel, clientCfg)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return nil, wrapTransportError(err, "TLS handshake")
	}
	tunnel.markEstablished()
	return tlsConn, nil
}

// loadCABundle reads a PEM-encoded CA bundle from path and returns a pool
// seeded with it, for verifying the server's certificate against a private
// CA instead of the system trust store.
func loadCABundle(path string) (*x509.CertPool, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, wrapTransportError(err, "reading CA bundle %s", path)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemBytes) {
		return nil, newTransportError("no valid certificates found in CA bundle %s", path)
	}
	return pool, nil
}

// buildTLSConfig assembles the tls.Config for a connection attempt from the
// Session's TLS-related options: an optional CA bundle and, for the rare
// self-signed/test deployment, verification skip.
func buildTLSConfig(serverName string, caBundlePath string, insecureSkipVerify bool) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}
	if insecureSkipVerify {
		cfg.InsecureSkipVerify = true
	}
	if caBundlePath != "" {
		pool, err := loadCABundle(caBundlePath)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}
