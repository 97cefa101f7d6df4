package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrPoolClosed is returned once a Pool has been closed.
var ErrPoolClosed = errors.New("http pool closed")

// PoolConfig sizes the shared client. Zero values fall back to the defaults.
type PoolConfig struct {
	BaseURL      string
	Header       http.Header
	Timeout      time.Duration
	MaxIdleConns int
	MaxConns     int
	HTTP2        bool
}

const (
	DefaultTimeout      = 30 * time.Second
	DefaultMaxIdleConns = 5
	DefaultMaxConns     = 10
)

// maxErrorBody caps how much of a failed response is kept in a BackendError.
const maxErrorBody = 4 << 10

// Pool owns the single HTTP client used to reach one backend. The client is
// built on first use; every later caller shares it. Close is idempotent and
// safe on a pool that was never used.
type Pool struct {
	cfg PoolConfig
	log logrus.FieldLogger

	once      sync.Once
	built     atomic.Bool
	client    *http.Client
	transport *http.Transport

	mu     sync.Mutex
	closed bool
}

type PoolOption func(*Pool)

func WithPoolLogger(l logrus.FieldLogger) PoolOption {
	return func(p *Pool) {
		if l != nil {
			p.log = l
		}
	}
}

func NewPool(cfg PoolConfig, opts ...PoolOption) *Pool {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = DefaultMaxIdleConns
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = DefaultMaxConns
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	p := &Pool{cfg: cfg, log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Client returns the shared client, building it on the first call.
func (p *Pool) Client() (*http.Client, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return nil, ErrPoolClosed
	}
	p.once.Do(p.build)
	if p.client == nil {
		return nil, ErrPoolClosed
	}
	return p.client, nil
}

func (p *Pool) build() {
	p.transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   p.cfg.HTTP2,
		MaxIdleConns:        p.cfg.MaxIdleConns,
		MaxIdleConnsPerHost: p.cfg.MaxIdleConns,
		MaxConnsPerHost:     p.cfg.MaxConns,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	p.client = &http.Client{Transport: p.transport, Timeout: p.cfg.Timeout}
	p.built.Store(true)
}

// Opened reports whether the client has been built.
func (p *Pool) Opened() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.built.Load() && !p.closed
}

// Close drops every idle connection and prevents further use. Requests
// already in flight finish, then their connections are dropped too.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.once.Do(func() {})
	if p.transport != nil {
		p.transport.CloseIdleConnections()
	}
	return nil
}

// dropIfClosed closes connections a request handed back to the idle pool
// after Close had already run.
func (p *Pool) dropIfClosed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed && p.transport != nil {
		p.transport.CloseIdleConnections()
	}
}

// Do sends a JSON request to path under the base URL and decodes a JSON
// response into out. Failures come back as *BackendError; cancellation of
// ctx comes back as ctx.Err().
func (p *Pool) Do(ctx context.Context, op, method, path string, body, out any) error {
	client, err := p.Client()
	if err != nil {
		return unexpected(op, err)
	}
	defer p.dropIfClosed()

	var buf io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return unexpected(op, fmt.Errorf("encode request: %w", err))
		}
		buf = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, buf)
	if err != nil {
		return unexpected(op, err)
	}
	for k, vs := range p.cfg.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.log.WithFields(logrus.Fields{"op": op, "path": path}).WithError(err).Error("vector store transport error")
		return &BackendError{Op: op, Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &BackendError{Op: op, Kind: KindTransport, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := strings.TrimSpace(string(payload))
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		p.log.WithFields(logrus.Fields{
			"op":     op,
			"status": resp.StatusCode,
			"body":   text,
		}).Error("vector store http error")
		return httpError(op, resp.StatusCode, text)
	}

	if out != nil && len(bytes.TrimSpace(payload)) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			p.log.WithField("op", op).WithError(err).Error("vector store returned undecodable body")
			return unexpected(op, fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}
