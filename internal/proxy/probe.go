package proxy

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	xproxy "golang.org/x/net/proxy"
)

func init() {
	xproxy.RegisterDialerType("http", newConnectDialer)
	xproxy.RegisterDialerType("https", newConnectDialer)
}

// ProbeResult reports whether a target could be reached through a proxy.
type ProbeResult struct {
	Endpoint  string        `json:"endpoint"`
	Address   string        `json:"address"`
	Reachable bool          `json:"reachable"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
}

// Probe opens a TCP connection to address through endpoint and closes it.
// socks5:// endpoints are handled by x/net/proxy, http:// ones with CONNECT.
func Probe(ctx context.Context, endpoint, address string) ProbeResult {
	res := ProbeResult{Endpoint: endpoint, Address: address}
	start := time.Now()

	conn, err := dialThrough(ctx, endpoint, address)
	res.Latency = time.Since(start)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	conn.Close()
	res.Reachable = true
	return res
}

func dialThrough(ctx context.Context, endpoint, address string) (net.Conn, error) {
	u, err := parseEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	d, err := xproxy.FromURL(u, xproxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("building dialer for %s: %w", endpoint, err)
	}
	cd, ok := d.(xproxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("dialer for scheme %q does not support contexts", u.Scheme)
	}
	return cd.DialContext(ctx, "tcp", address)
}

// parseEndpoint accepts scheme-less host:port as an HTTP proxy, the form
// browsers take for --proxy-server.
func parseEndpoint(endpoint string) (*url.URL, error) {
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid proxy endpoint %q: missing host", endpoint)
	}
	return u, nil
}

// connectDialer tunnels through an HTTP proxy with CONNECT.
type connectDialer struct {
	proxy   *url.URL
	forward xproxy.Dialer
}

func newConnectDialer(u *url.URL, forward xproxy.Dialer) (xproxy.Dialer, error) {
	return &connectDialer{proxy: u, forward: forward}, nil
}

func (d *connectDialer) Dial(network, addr string) (net.Conn, error) {
	return d.DialContext(context.Background(), network, addr)
}

func (d *connectDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host := d.proxy.Host
	if d.proxy.Port() == "" {
		host = net.JoinHostPort(d.proxy.Hostname(), "80")
	}

	var conn net.Conn
	var err error
	if cd, ok := d.forward.(xproxy.ContextDialer); ok {
		conn, err = cd.DialContext(ctx, "tcp", host)
	} else {
		conn, err = d.forward.Dial("tcp", host)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to proxy %s: %w", host, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if u := d.proxy.User; u != nil {
		pass, _ := u.Password()
		token := base64.StdEncoding.EncodeToString([]byte(u.Username() + ":" + pass))
		req.Header.Set("Proxy-Authorization", "Basic "+token)
	}
	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sending CONNECT: %w", err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading CONNECT response: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		conn.Close()
		return nil, fmt.Errorf("proxy refused CONNECT to %s: %s", addr, resp.Status)
	}
	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}
