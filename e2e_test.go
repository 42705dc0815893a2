package main

import (
	"bufio"
	"fmt"
	"net"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// This file replaces the out-of-process harness legacy/tests/mode_test.go
// used (it spawned "go build" and ran the resulting binary, which this
// module must never do even from its own tests). Instead it builds a
// *Catbox directly in-process and drives it over real loopback TCP
// connections, keeping the same "connect, send, wait for a matching
// message" shape the old harness used.

func testConfig(sid string) *Config {
	return &Config{
		ListenHost:     "127.0.0.1",
		ListenPort:     "0",
		ServerName:     "irc.example.org",
		ServerInfo:     "test server",
		Network:        "TestNet",
		Version:        "catboxd-test",
		CreatedDate:    "today",
		MOTD:           "welcome",
		MaxNickLength:  30,
		WakeupTime:     time.Second,
		PingTime:       time.Minute,
		DeadTime:       2 * time.Minute,
		ServerPingTime: 4 * time.Minute,
		ServerDeadTime: 8 * time.Minute,
		Opers:          map[string]string{},
		Servers:        map[string]LinkInfo{},
		TS6SID:         sid,
	}
}

// startTestCatbox binds an ephemeral port and runs the event loop in the
// background, returning the address clients should dial.
func startTestCatbox(t *testing.T, cfg *Config) (*Catbox, string) {
	t.Helper()

	ln, err := net.Listen("tcp", net.JoinHostPort(cfg.ListenHost, "0"))
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	cfg.ListenPort = port

	cb := NewCatbox(cfg)

	go func() {
		_ = cb.Start()
	}()

	// Wait for the listener to actually come up before returning.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return cb, addr
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server never came up listening on %s", addr)
	return nil, ""
}

// testClient is a minimal line-oriented IRC client used only by these tests.
type testClient struct {
	conn net.Conn
	r    *bufio.Reader
}

func dialTestClient(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	return &testClient{conn: conn, r: bufio.NewReader(conn)}
}

func (c *testClient) send(line string) {
	_, _ = c.conn.Write([]byte(line + "\r\n"))
}

func (c *testClient) register(nick, user string) {
	c.send(fmt.Sprintf("NICK %s", nick))
	c.send(fmt.Sprintf("USER %s 0 * :%s", user, user))
}

// waitForLine reads lines until one matches re, failing the test if none
// arrives before the deadline. Mirrors the old harness's waitForMessage
// regex-polling shape.
func (c *testClient) waitForLine(t *testing.T, re *regexp.Regexp) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		_ = c.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		line, err := c.r.ReadString('\n')
		if err != nil {
			continue
		}
		if re.MatchString(line) {
			return line
		}
	}
	t.Fatalf("timed out waiting for %s", re.String())
	return ""
}

func (c *testClient) close() {
	_ = c.conn.Close()
}

func TestRegistrationAndWelcome(t *testing.T) {
	cb, addr := startTestCatbox(t, testConfig("001"))
	defer cb.RequestShutdown("test done")

	client := dialTestClient(t, addr)
	defer client.close()

	client.register("alice", "alice")
	client.waitForLine(t, regexp.MustCompile(` 001 alice :`))
}

func TestJoinAndPrivmsgFanOut(t *testing.T) {
	cb, addr := startTestCatbox(t, testConfig("001"))
	defer cb.RequestShutdown("test done")

	alice := dialTestClient(t, addr)
	defer alice.close()
	bob := dialTestClient(t, addr)
	defer bob.close()

	alice.register("alice", "alice")
	alice.waitForLine(t, regexp.MustCompile(` 001 alice :`))

	bob.register("bob", "bob")
	bob.waitForLine(t, regexp.MustCompile(` 001 bob :`))

	alice.send("JOIN #test")
	alice.waitForLine(t, regexp.MustCompile(`JOIN #test`))
	alice.waitForLine(t, regexp.MustCompile(` 366 alice #test :`))

	bob.send("JOIN #test")
	bob.waitForLine(t, regexp.MustCompile(` 366 bob #test :`))
	// Alice sees bob's join.
	alice.waitForLine(t, regexp.MustCompile(`JOIN #test`))

	bob.send("PRIVMSG #test :hello there")
	alice.waitForLine(t, regexp.MustCompile(`PRIVMSG #test :hello there`))
}

func TestNickCollisionRejected(t *testing.T) {
	cb, addr := startTestCatbox(t, testConfig("001"))
	defer cb.RequestShutdown("test done")

	alice := dialTestClient(t, addr)
	defer alice.close()
	alice.register("carol", "carol")
	alice.waitForLine(t, regexp.MustCompile(` 001 carol :`))

	dave := dialTestClient(t, addr)
	defer dave.close()
	dave.register("carol", "dave")
	dave.waitForLine(t, regexp.MustCompile(` 433 `))
}
