package tds

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"
)

// sessionState is the Session lifecycle state, after spec.md §4.6's state
// machine. The handshake steps (PreLoginSent, the TLS handshake loop,
// LoginSent) are not states of their own: Connect runs them in sequence and
// returns a Session only once it is Idle. Idle <-> InFlight follows, with
// Closed reachable from any state.
type sessionState int

const (
	stateUnconnected sessionState = iota
	stateIdle
	stateInFlight
	stateClosed
)

// UseTLS selects the PRELOGIN encryption mode a Session requests.
type UseTLS int

const (
	TLSOff UseTLS = iota
	TLSOn
	TLSRequired
)

// Description is one column's metadata as returned by Execute/CallProc,
// mirroring the cursor-level contract in spec.md §6.
type Description struct {
	Name        string
	TypeID      SQLType
	Size        uint32
	DisplaySize uint32
	Precision   uint8
	Scale       uint8
	Nullable    bool
}

// Session owns one TCP connection to a TDS server: the socket, negotiated
// packet size, packet-id sequence, current transaction descriptor, and
// configured options. At most one request may be in flight at a time; the
// mutex enforces that invariant across concurrent callers.
type Session struct {
	mu sync.Mutex

	conn   net.Conn
	framer *Framer
	state  sessionState

	host     string
	port     int
	database string

	isolationLevel byte
	autocommit     bool
	localeID       uint32
	serverEncoding string
	useTLS         UseTLS
	caBundle       string
	appName        string
	instanceName   string
	timeout        time.Duration
	packetSize     int

	codec       *textCodec
	logger      *Logger
	decimalPrec uint8

	txnDescriptor uint64
	dirty         bool

	certWatcher *certWatcher
}

// Option configures a Session at Connect time, following the teacher's
// dial-time functional-option pattern.
type Option func(*Session)

func WithIsolationLevel(level byte) Option {
	return func(s *Session) { s.isolationLevel = level }
}

func WithAutocommit(autocommit bool) Option {
	return func(s *Session) { s.autocommit = autocommit }
}

func WithLocaleID(id uint32) Option {
	return func(s *Session) { s.localeID = id }
}

func WithServerEncoding(encoding string) Option {
	return func(s *Session) { s.serverEncoding = encoding }
}

func WithUseTLS(mode UseTLS) Option {
	return func(s *Session) { s.useTLS = mode }
}

func WithTimeout(d time.Duration) Option {
	return func(s *Session) { s.timeout = d }
}

func WithPacketSize(size int) Option {
	return func(s *Session) { s.packetSize = size }
}

func WithAppName(name string) Option {
	return func(s *Session) { s.appName = name }
}

// WithInstanceName names the server instance requested in PRELOGIN; the
// default is the server's default instance, MSSQLServer.
func WithInstanceName(name string) Option {
	return func(s *Session) { s.instanceName = name }
}

// WithCABundle points the TLS tunnel at a PEM-encoded CA bundle file rather
// than the system trust store, and starts a background watch on that file
// so a rotated bundle is picked up by future Connect calls.
func WithCABundle(path string) Option {
	return func(s *Session) { s.caBundle = path }
}

// WithLogger overrides the Logger used for this session's diagnostic
// output; absent this option, Connect uses DefaultLogger().
func WithLogger(logger *Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithDecimalPrecision sets the precision used to describe decimal.Decimal
// parameters that don't otherwise carry one, standing in for the
// thread-local decimal context the wire format's originating driver reads
// implicitly. Default 28.
func WithDecimalPrecision(precision uint8) Option {
	return func(s *Session) { s.decimalPrec = precision }
}

// Connect dials host:port, runs the PRELOGIN/LOGIN7 handshake (with an
// optional TLS upgrade), authenticates as user/password against database,
// and returns a Session in the Idle state.
func Connect(host string, port int, user, password, database string, opts ...Option) (*Session, error) {
	s := newSession(host, port, database, opts...)

	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := net.DialTimeout("tcp", addr, s.timeout)
	if err != nil {
		s.logger.Transport().Error("dial failed", err, "addr", addr)
		return nil, newTransportError("dialing %s: %v", addr, err)
	}
	s.logger.Transport().Info("connected", "addr", addr)

	return connectOverConn(s, conn, user, password, database)
}

// connectOverConn drives the handshake/login sequence over an
// already-established connection, used by Connect after a real TCP dial
// and directly by tests that supply an in-memory net.Conn (a net.Pipe half)
// standing in for a server.
func connectOverConn(s *Session, conn net.Conn, user, password, database string) (*Session, error) {
	s.conn = conn
	s.framer = NewFramer(conn, s.packetSize)

	if err := s.handshake(); err != nil {
		s.logger.Protocol().Error("handshake failed", err)
		conn.Close()
		return nil, err
	}
	if err := s.login(user, password); err != nil {
		s.logger.Protocol().Error("login failed", err, "user", user, "database", database)
		conn.Close()
		return nil, err
	}

	s.logger.Session().Info("session ready", "database", s.database)
	s.state = stateIdle
	return s, nil
}

// newSession builds a Session with defaults and opts applied, but no
// connection yet.
func newSession(host string, port int, database string, opts ...Option) *Session {
	s := &Session{
		host:           host,
		port:           port,
		database:       database,
		isolationLevel: IsolationReadCommitted,
		localeID:       0x0409,
		serverEncoding: "utf8",
		useTLS:         TLSOff,
		appName:        "go-tds",
		instanceName:   "MSSQLServer",
		timeout:        30 * time.Second,
		packetSize:     DefaultPacketSize,
		decimalPrec:    28,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.codec = newTextCodec(s.serverEncoding)
	if s.logger == nil {
		s.logger = DefaultLogger()
	}
	return s
}

func (s *Session) deadline() time.Time {
	if s.timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(s.timeout)
}

// handshake drives PRELOGIN and the optional TLS upgrade, per spec.md §4.6's
// state machine; login then sends LOGIN7 and reads the LOGINACK response.
func (s *Session) handshake() error {
	s.conn.SetDeadline(s.deadline())
	defer s.conn.SetDeadline(time.Time{})

	requestedEncrypt := EncryptOff
	switch s.useTLS {
	case TLSOn:
		requestedEncrypt = EncryptOn
	case TLSRequired:
		requestedEncrypt = EncryptReq
	}

	if err := s.framer.Send(PacketPrelogin, buildPrelogin(requestedEncrypt, s.instanceName)); err != nil {
		return wrapTransportError(err, "sending PRELOGIN")
	}

	pktType, data, err := s.framer.RecvMessage()
	if err != nil {
		return wrapTransportError(err, "receiving PRELOGIN response")
	}
	if pktType != PacketReply {
		return newProtocolError("expected REPLY packet for PRELOGIN response, got %s", pktType)
	}
	resp, err := parsePrelogin(data)
	if err != nil {
		return err
	}

	if resp.encryption == EncryptOn || resp.encryption == EncryptReq {
		if err := s.upgradeConnection(); err != nil {
			return err
		}
	} else if requestedEncrypt == EncryptReq {
		return newNotSupportedError("server does not support required TLS encryption")
	}

	return nil
}

// upgradeConnection performs the TLS handshake tunneled inside PRELOGIN
// framing and swaps the Framer's underlying connection for the resulting
// tls.Conn, so every subsequent Send/Recv transparently runs over TLS.
func (s *Session) upgradeConnection() error {
	var cfg *tls.Config
	var err error

	if s.caBundle != "" {
		if s.certWatcher == nil {
			s.certWatcher, err = newCertWatcher(s.caBundle, nil)
			if err != nil {
				return err
			}
		}
		cfg, err = buildTLSConfig(s.host, "", false)
		if err != nil {
			return err
		}
		s.certWatcher.applyToConfig(cfg)
	} else {
		cfg, err = buildTLSConfig(s.host, "", false)
		if err != nil {
			return err
		}
	}

	tlsConn, err := upgradeToTLS(s.conn, s.framer, cfg, s.host)
	if err != nil {
		return err
	}
	s.conn = tlsConn
	s.framer = NewFramer(tlsConn, s.packetSize)
	s.logger.Transport().Info("TLS upgrade complete", "host", s.host)
	return nil
}

// login completes LOGIN7 with the real credentials, reading the LOGINACK
// token stream and applying its ENVCHANGE side effects.
func (s *Session) login(user, password string) error {
	loginOpts := defaultLoginOptions(s.database, s.appName)
	loginOpts.packetSize = uint32(s.packetSize)
	loginOpts.localeID = s.localeID

	if err := s.framer.Send(PacketLogin7, buildLogin7(user, password, loginOpts)); err != nil {
		return wrapTransportError(err, "sending LOGIN7")
	}

	pktType, data, err := s.framer.RecvMessage()
	if err != nil {
		return wrapTransportError(err, "receiving LOGIN7 response")
	}
	if pktType != PacketReply {
		return newProtocolError("expected REPLY packet for LOGIN7 response, got %s", pktType)
	}

	resp, err := parseTokenStream(data, s.codec, s.applyEnvChange)
	if err != nil {
		return err
	}
	if len(resp.serverErrors) > 0 {
		return resp.serverErrors[0]
	}
	return nil
}

// applyEnvChange updates session-local state from an ENVCHANGE token: the
// current database, negotiated packet size, and transaction descriptor.
func (s *Session) applyEnvChange(kind uint8, newVal, oldVal []byte) {
	switch kind {
	case envDatabase:
		s.database = ucs2ToString(newVal)
	case envPacketSize:
		var n int
		fmt.Sscanf(ucs2ToString(newVal), "%d", &n)
		if n > 0 {
			s.framer.SetPacketSize(n)
		}
	case envBeginTxn:
		s.txnDescriptor = txnDescriptorFromBytes(newVal)
	case envCommitTxn, envRollbackTxn:
		s.txnDescriptor = 0
	}
}

func txnDescriptorFromBytes(b []byte) uint64 {
	var v uint64
	for i := 0; i < len(b) && i < 8; i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}

// sendAndReceive frames req as a message of the given packet type, sends it,
// and parses the resulting token stream. It assumes the caller already holds
// s.mu and has validated session state.
func (s *Session) sendAndReceive(pktType PacketType, req []byte) (*response, error) {
	s.conn.SetDeadline(s.deadline())
	defer s.conn.SetDeadline(time.Time{})

	if err := s.framer.Send(pktType, req); err != nil {
		s.state = stateClosed
		return nil, wrapTransportError(err, "sending request")
	}

	respType, data, err := s.framer.RecvMessage()
	if err != nil {
		s.state = stateClosed
		return nil, wrapTransportError(err, "receiving response")
	}
	if respType != PacketReply {
		s.state = stateClosed
		return nil, newProtocolError("expected REPLY packet, got %s", respType)
	}

	resp, err := parseTokenStream(data, s.codec, s.applyEnvChange)
	if err != nil {
		s.state = stateClosed
		return nil, err
	}
	return resp, nil
}

// ensureTransaction sends a BEGIN TRANSACTION request if none is active,
// per spec.md §4.6's transaction policy: begin is always implicit.
func (s *Session) ensureTransaction() error {
	if s.txnDescriptor != 0 {
		return nil
	}
	resp, err := s.sendAndReceive(PacketTransMgrReq, buildBeginTransaction(s.isolationLevel, 0))
	if err != nil {
		return err
	}
	if len(resp.serverErrors) > 0 {
		return resp.serverErrors[0]
	}
	if s.txnDescriptor == 0 {
		return newProtocolError("server did not report a transaction descriptor for BEGIN")
	}
	return nil
}

// Execute runs sql (optionally as a parameterized sp_executesql call when
// params is non-empty) and returns its column descriptions, materialized
// rows, and the server-reported row count.
func (s *Session) Execute(sql string, params ...Param) (description []Description, rows []Row, rowCount int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return nil, nil, 0, newProgrammingError("execute on a closed session")
	}

	if err := s.ensureTransaction(); err != nil {
		return nil, nil, 0, err
	}

	s.state = stateInFlight
	var req []byte
	pktType := PacketSQLBatch
	if len(params) > 0 {
		req, err = buildExecuteSQL(sql, params, s.txnDescriptor, s.decimalPrec)
		if err != nil {
			s.state = stateIdle
			return nil, nil, 0, err
		}
		pktType = PacketRPCRequest
	} else {
		req = buildSQLBatch(sql, s.txnDescriptor)
	}

	resp, err := s.sendAndReceive(pktType, req)
	if err != nil {
		return nil, nil, 0, err
	}
	s.state = stateIdle
	s.dirty = true

	if len(resp.serverErrors) > 0 {
		err = resp.serverErrors[0]
	}
	description, rows, rowCount = flattenResponse(resp)

	if s.autocommit && s.dirty {
		if commitErr := s.commitLocked(); commitErr != nil && err == nil {
			err = commitErr
		}
	}
	return description, rows, rowCount, err
}

// CallProc invokes a stored procedure by name with the given parameters,
// returning its return status (nil if the procedure never issued
// RETURN), column descriptions, and materialized rows.
func (s *Session) CallProc(name string, params ...Param) (returnStatus *int32, description []Description, rows []Row, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return nil, nil, nil, newProgrammingError("callproc on a closed session")
	}
	if err := s.ensureTransaction(); err != nil {
		return nil, nil, nil, err
	}

	s.state = stateInFlight
	req, err := buildRPCRequest(name, 0, params, s.txnDescriptor, s.decimalPrec)
	if err != nil {
		s.state = stateIdle
		return nil, nil, nil, err
	}

	resp, err := s.sendAndReceive(PacketRPCRequest, req)
	if err != nil {
		return nil, nil, nil, err
	}
	s.state = stateIdle
	s.dirty = true

	if len(resp.serverErrors) > 0 {
		err = resp.serverErrors[0]
	}
	description, rows, _ = flattenResponse(resp)
	returnStatus = resp.returnStatus

	if s.autocommit && s.dirty {
		if commitErr := s.commitLocked(); commitErr != nil && err == nil {
			err = commitErr
		}
	}
	return returnStatus, description, rows, err
}

func flattenResponse(resp *response) ([]Description, []Row, int64) {
	var description []Description
	var rows []Row
	if len(resp.resultSets) > 0 {
		last := resp.resultSets[len(resp.resultSets)-1]
		for _, col := range last.columns {
			description = append(description, columnToDescription(col))
		}
		rows = last.rows
	}
	return description, rows, int64(resp.totalRows)
}

func columnToDescription(col Column) Description {
	return Description{
		Name:        col.Name,
		TypeID:      col.Type,
		Size:        col.Length,
		DisplaySize: col.Length,
		Precision:   col.Precision,
		Scale:       col.Scale,
		Nullable:    col.Nullable(),
	}
}

// Begin is a no-op placeholder: spec.md §4.6 makes transaction begin
// implicit on the first execute/callproc after Idle, so there is no
// explicit caller-visible Begin in the Session API. It exists only to
// satisfy callers written against the cursor-wrapper contract in spec.md
// §6, which names begin/commit/rollback/close symmetrically.
func (s *Session) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return newProgrammingError("begin on a closed session")
	}
	return nil
}

// Commit commits the current transaction, if one is active.
func (s *Session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commitLocked()
}

func (s *Session) commitLocked() error {
	if s.state == stateClosed {
		return newProgrammingError("commit on a closed session")
	}
	if !s.dirty || s.txnDescriptor == 0 {
		return nil
	}
	resp, err := s.sendAndReceive(PacketTransMgrReq, buildCommitTransaction(s.txnDescriptor))
	if err != nil {
		return err
	}
	s.dirty = false
	if len(resp.serverErrors) > 0 {
		return resp.serverErrors[0]
	}
	return nil
}

// Rollback rolls back the current transaction, if one is active.
func (s *Session) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return newProgrammingError("rollback on a closed session")
	}
	if s.txnDescriptor == 0 {
		return nil
	}
	resp, err := s.sendAndReceive(PacketTransMgrReq, buildRollbackTransaction(s.txnDescriptor))
	if err != nil {
		return err
	}
	s.dirty = false
	s.txnDescriptor = 0
	if len(resp.serverErrors) > 0 {
		return resp.serverErrors[0]
	}
	return nil
}

// Close tears down the underlying connection. It is safe to call more than
// once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateClosed {
		return nil
	}
	s.state = stateClosed
	if s.certWatcher != nil {
		s.certWatcher.Close()
	}
	return s.conn.Close()
}

// VerifyConnection reports whether the session is still usable, without
// issuing any wire traffic. It is the dial-time option pattern's "ping"
// hook, letting a caller-side pool cheaply skip dead sessions.
func (s *Session) VerifyConnection() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateClosed {
		return newTransportError("session is closed")
	}
	return nil
}
