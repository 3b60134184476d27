package sshconn

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	xproxy "golang.org/x/net/proxy"
)

// dialSOCKS5 opens a connection to target through a SOCKS5 proxy.
func dialSOCKS5(ctx context.Context, p *Proxy, target string) (net.Conn, error) {
	proxyAddr := net.JoinHostPort(p.Host, strconv.Itoa(p.Port))

	var auth *xproxy.Auth
	if p.Username != "" || p.Password != "" {
		auth = &xproxy.Auth{User: p.Username, Password: p.Password}
	}

	dialer, err := xproxy.SOCKS5("tcp", proxyAddr, auth, &net.Dialer{})
	if err != nil {
		return nil, fmt.Errorf("socks5 %s: %w", proxyAddr, err)
	}

	contextDialer, ok := dialer.(xproxy.ContextDialer)
	if !ok {
		// The x/net SOCKS5 dialer implements ContextDialer; this branch only
		// applies if that ever changes.
		return dialer.Dial("tcp", target)
	}
	conn, err := contextDialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, fmt.Errorf("socks5 %s: %w", proxyAddr, err)
	}
	return conn, nil
}

// dialHTTPConnect opens a connection to target through an HTTP CONNECT proxy.
// The proxy must answer the CONNECT with status 200 before the connection is
// handed to the SSH handshake.
func dialHTTPConnect(ctx context.Context, p *Proxy, target string) (net.Conn, error) {
	proxyAddr := net.JoinHostPort(p.Host, strconv.Itoa(p.Port))

	conn, err := (&net.Dialer{}).DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("http proxy %s: %w", proxyAddr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", target, target)
	if p.Username != "" || p.Password != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(p.Username + ":" + p.Password))
		req += "Proxy-Authorization: Basic " + cred + "\r\n"
	}
	req += "\r\n"

	if _, err := conn.Write([]byte(req)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("http proxy %s: write CONNECT: %w", proxyAddr, err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodConnect})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("http proxy %s: read CONNECT response: %w", proxyAddr, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_ = conn.Close()
		return nil, fmt.Errorf("http proxy %s: CONNECT returned %s", proxyAddr, resp.Status)
	}

	_ = conn.SetDeadline(time.Time{})
	if br.Buffered() > 0 {
		// Bytes after the response headers belong to the tunneled stream.
		return &bufferedConn{Conn: conn, reader: br}, nil
	}
	return conn, nil
}

// bufferedConn keeps bytes the response reader buffered past the CONNECT
// headers available to subsequent reads.
type bufferedConn struct {
	net.Conn
	reader *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.reader.Read(p)
}
