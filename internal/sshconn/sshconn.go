// Package sshconn dials SSH transports for terminal sessions.
//
// Given a decrypted connection spec it produces a ready *ssh.Client, dialing
// directly or through a SOCKS5 / HTTP CONNECT proxy. Failures carry the stage
// they occurred in so callers can report "proxy refused" differently from
// "authentication failed". Credentials are consumed once during Dial and are
// never stored.
package sshconn

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	cryptossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	// DialTimeout bounds live connects, including any proxy handshake.
	DialTimeout = 20 * time.Second
	// TestDialTimeout bounds one-shot connectivity tests.
	TestDialTimeout = 15 * time.Second
)

// Auth method names accepted in Spec.AuthMethod.
const (
	AuthPassword = "password"
	AuthKey      = "key"
)

// Proxy kinds accepted in Proxy.Kind, matched case-insensitively since the
// values come from stored profile rows.
const (
	ProxySOCKS5 = "SOCKS5"
	ProxyHTTP   = "HTTP"
)

// Dial stages reported in Error.Stage.
const (
	StageConfig    = "config"
	StageProxy     = "proxy"
	StageDial      = "dial"
	StageHandshake = "handshake"
)

// Spec carries the decrypted parameters for one connection attempt.
type Spec struct {
	Host string
	Port int
	User string
	// AuthMethod is AuthPassword or AuthKey.
	AuthMethod string
	// Password is the login password (AuthPassword).
	Password string
	// PrivateKey is the PEM private key (AuthKey).
	PrivateKey string
	// Passphrase decrypts PrivateKey when non-empty.
	Passphrase string
	// Proxy is nil for a direct TCP connection.
	Proxy *Proxy
}

// Proxy describes an intermediate SOCKS5 or HTTP CONNECT hop.
type Proxy struct {
	Kind     string
	Host     string
	Port     int
	Username string
	Password string
}

// Error reports a failed connection attempt and the stage it failed in.
type Error struct {
	Stage string
	Addr  string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ssh %s %s: %v", e.Stage, e.Addr, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Dial opens an SSH transport per spec. The timeout covers the TCP dial, any
// proxy handshake, and the SSH handshake together; zero or negative means
// DialTimeout. The returned client is ready for sessions and subchannels.
func Dial(ctx context.Context, spec Spec, timeout time.Duration) (*cryptossh.Client, error) {
	if timeout <= 0 {
		timeout = DialTimeout
	}

	addr := net.JoinHostPort(spec.Host, strconv.Itoa(spec.Port))

	auth, err := authMethod(spec)
	if err != nil {
		return nil, &Error{Stage: StageConfig, Addr: addr, Err: err}
	}
	hostKeyCallback, err := HostKeyCallback()
	if err != nil {
		return nil, &Error{Stage: StageConfig, Addr: addr, Err: err}
	}

	clientCfg := &cryptossh.ClientConfig{
		User:            spec.User,
		Auth:            []cryptossh.AuthMethod{auth},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Respect context cancellation during dial.
	type dialResult struct {
		client *cryptossh.Client
		err    error
	}
	ch := make(chan dialResult, 1)
	go func() {
		client, dialErr := dialTransport(dialCtx, spec, addr, clientCfg)
		ch <- dialResult{client: client, err: dialErr}
	}()

	select {
	case <-dialCtx.Done():
		// The dial goroutine may still win the race; close whatever it
		// delivers so an abandoned transport does not linger.
		go func() {
			if r := <-ch; r.client != nil {
				_ = r.client.Close()
			}
		}()
		return nil, &Error{Stage: StageDial, Addr: addr, Err: dialCtx.Err()}
	case r := <-ch:
		return r.client, r.err
	}
}

// dialTransport produces the raw connection (direct or proxied) and runs the
// SSH handshake over it.
func dialTransport(ctx context.Context, spec Spec, addr string, cfg *cryptossh.ClientConfig) (*cryptossh.Client, error) {
	var (
		conn net.Conn
		err  error
	)
	switch {
	case spec.Proxy == nil:
		conn, err = (&net.Dialer{}).DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, &Error{Stage: StageDial, Addr: addr, Err: err}
		}
	case strings.EqualFold(spec.Proxy.Kind, ProxySOCKS5):
		conn, err = dialSOCKS5(ctx, spec.Proxy, addr)
		if err != nil {
			return nil, &Error{Stage: StageProxy, Addr: addr, Err: err}
		}
	case strings.EqualFold(spec.Proxy.Kind, ProxyHTTP):
		conn, err = dialHTTPConnect(ctx, spec.Proxy, addr)
		if err != nil {
			return nil, &Error{Stage: StageProxy, Addr: addr, Err: err}
		}
	default:
		return nil, &Error{Stage: StageConfig, Addr: addr, Err: fmt.Errorf("unsupported proxy type %q", spec.Proxy.Kind)}
	}
	return handshake(conn, addr, cfg)
}

// handshake runs the SSH client handshake over an established connection.
// The config timeout is applied as a connection deadline because
// NewClientConn has no deadline of its own.
func handshake(conn net.Conn, addr string, cfg *cryptossh.ClientConfig) (*cryptossh.Client, error) {
	if cfg.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.Timeout))
	}
	c, chans, reqs, err := cryptossh.NewClientConn(conn, addr, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, &Error{Stage: StageHandshake, Addr: addr, Err: err}
	}
	_ = conn.SetDeadline(time.Time{})
	return cryptossh.NewClient(c, chans, reqs), nil
}

// authMethod builds the SSH auth method from the spec.
func authMethod(spec Spec) (cryptossh.AuthMethod, error) {
	switch spec.AuthMethod {
	case AuthPassword:
		return cryptossh.Password(spec.Password), nil
	case AuthKey, "private_key":
		var (
			signer cryptossh.Signer
			err    error
		)
		if spec.Passphrase != "" {
			signer, err = cryptossh.ParsePrivateKeyWithPassphrase([]byte(spec.PrivateKey), []byte(spec.Passphrase))
		} else {
			signer, err = cryptossh.ParsePrivateKey([]byte(spec.PrivateKey))
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return cryptossh.PublicKeys(signer), nil
	default:
		return nil, fmt.Errorf("unsupported auth method %q", spec.AuthMethod)
	}
}

// cachedHostKeyCallback is resolved once at first use and reused for the
// process lifetime, avoiding repeated disk I/O on every connect.
var (
	hostKeyMu         sync.Mutex
	cachedHostKeyCB   cryptossh.HostKeyCallback
	cachedHostKeyCBOK bool
)

// HostKeyCallback returns the host key verification policy.
//
// Resolution order:
//  1. If PORTSIDE_SSH_KNOWN_HOSTS or a standard known_hosts file exists,
//     verify against it.
//  2. If PORTSIDE_REQUIRE_SSH_HOST_KEY is truthy, refuse to connect without
//     a known_hosts file.
//  3. Otherwise skip host-key verification.
func HostKeyCallback() (cryptossh.HostKeyCallback, error) {
	hostKeyMu.Lock()
	defer hostKeyMu.Unlock()
	if cachedHostKeyCBOK {
		return cachedHostKeyCB, nil
	}

	cb, err := resolveHostKeyCallback()
	if err != nil {
		return nil, err
	}
	cachedHostKeyCB = cb
	cachedHostKeyCBOK = true
	return cb, nil
}

func resolveHostKeyCallback() (cryptossh.HostKeyCallback, error) {
	knownHostsPath := strings.TrimSpace(os.Getenv("PORTSIDE_SSH_KNOWN_HOSTS"))
	candidates := make([]string, 0, 3)
	if knownHostsPath != "" {
		candidates = append(candidates, knownHostsPath)
	}
	if homeDir, err := os.UserHomeDir(); err == nil && homeDir != "" {
		candidates = append(candidates, filepath.Join(homeDir, ".ssh", "known_hosts"))
	}
	candidates = append(candidates, "/etc/ssh/ssh_known_hosts")

	existing := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		if candidate == "" {
			continue
		}
		if _, ok := seen[candidate]; ok {
			continue
		}
		seen[candidate] = struct{}{}
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			existing = append(existing, candidate)
		}
	}

	if len(existing) > 0 {
		callback, err := knownhosts.New(existing...)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		return callback, nil
	}

	requireStrict := strings.ToLower(strings.TrimSpace(os.Getenv("PORTSIDE_REQUIRE_SSH_HOST_KEY")))
	if requireStrict == "1" || requireStrict == "true" || requireStrict == "yes" {
		return nil, fmt.Errorf("ssh host key verification required: no known_hosts file found (set by PORTSIDE_REQUIRE_SSH_HOST_KEY)")
	}

	return cryptossh.InsecureIgnoreHostKey(), nil
}

// resetHostKeyCache is for testing only.
func resetHostKeyCache() {
	hostKeyMu.Lock()
	defer hostKeyMu.Unlock()
	cachedHostKeyCB = nil
	cachedHostKeyCBOK = false
}
