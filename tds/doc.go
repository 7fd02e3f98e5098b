// Package tds implements a client-side driver for the Tabular Data Stream
// (TDS) wire protocol, version 7.4, as spoken by Microsoft SQL Server and
// Sybase database engines.
//
// It opens a TCP connection, performs the PRELOGIN/LOGIN7 handshake
// (including an optional TLS upgrade tunneled inside PRELOGIN framing),
// authenticates with a user name and obfuscated password, drives an
// explicit transaction, executes SQL batches or remote procedure calls, and
// decodes the resulting token stream into native Go values.
//
// The implementation is grounded on the MS-TDS specification and on
// observed behaviour of existing client and server implementations; it
// targets TDS 7.4 only and does not implement MARS, bulk-load streaming,
// ATTENTION/cancel, SSPI/Kerberos authentication, connection pooling, or
// the UDP instance-resolution service.
package tds
