package main

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/horgh/catboxd/internal/ircmsg"
)

// Conn is a connection to a client/server. It may be a plain TCP connection
// or a TLS-wrapped one -- net.Conn covers both since *tls.Conn satisfies it.
type Conn struct {
	// conn: The connection if we are actively connected.
	conn net.Conn

	// rw: Read/write handle to the connection
	rw *bufio.ReadWriter

	ioWait time.Duration

	IP net.IP

	TLS bool
}

// NewConn initializes a Conn struct.
func NewConn(conn net.Conn, ioWait time.Duration) Conn {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	var ip net.IP
	if err == nil {
		ip = net.ParseIP(host)
	}

	_, isTLS := conn.(*tls.Conn)

	return Conn{
		conn:   conn,
		rw:     bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		ioWait: ioWait,
		IP:     ip,
		TLS:    isTLS,
	}
}

// Close closes the underlying connection.
func (c Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the remote network address.
func (c Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Read reads a line from the connection.
func (c Conn) Read() (string, error) {
	// Deadline so we will eventually give up.
	if err := c.conn.SetDeadline(time.Now().Add(c.ioWait)); err != nil {
		return "", fmt.Errorf("unable to set deadline: %s", err)
	}

	line, err := c.rw.ReadString('\n')
	if err != nil {
		return "", err
	}

	log.Printf("read: %s", strings.TrimRight(line, "\r\n"))

	return line, nil
}

// Write writes a string to the connection.
func (c Conn) Write(s string) error {
	if err := c.conn.SetDeadline(time.Now().Add(c.ioWait)); err != nil {
		return fmt.Errorf("unable to set deadline: %s", err)
	}

	sz, err := c.rw.WriteString(s)
	if err != nil {
		return err
	}

	if sz != len(s) {
		return fmt.Errorf("short write")
	}

	if err := c.rw.Flush(); err != nil {
		return fmt.Errorf("flush error: %s", err)
	}

	log.Printf("sent: %s", strings.TrimRight(s, "\r\n"))

	return nil
}

// WriteMessage writes an IRC message to the connection.
func (c Conn) WriteMessage(m ircmsg.Message) error {
	buf, err := m.Encode()
	if err != nil {
		return fmt.Errorf("unable to encode message: %s", err)
	}

	return c.Write(buf)
}

// listen opens a plain or TLS listener depending on whether a certificate
// pair is configured, per SPEC_FULL.md's TCP/TLS requirement.
func listen(addr string, tlsConfig *tls.Config) (net.Listener, error) {
	if tlsConfig != nil {
		return tls.Listen("tcp", addr, tlsConfig)
	}
	return net.Listen("tcp", addr)
}

func loadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	if certFile == "" && keyFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("error loading TLS keypair: %s", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}
