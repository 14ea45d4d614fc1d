// Package proxyauth lets SigV4-signed S3 requests pass through an active
// storage proxy.
//
// A proxy URL such as
//
//	http://proxy:8000/sum/int32/bucket/key
//
// is signed as if it were the upstream object URL
//
//	http://upstream:9000/bucket/key
//
// so the upstream accepts the signature when the proxy forwards the request
// headers unchanged. Discovery learns the upstream address of a proxy host
// from its well-known document, and Signer applies the rewrite around the
// SDK's own SigV4 signer.
package proxyauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
)

// WellKnownPath is served by every proxy and queried by Discovery.
const WellKnownPath = "/.well-known/s3-active-storage"

// Version is the active storage protocol version advertised by the proxy.
const Version = "v1"

// WellKnown is the discovery document.
type WellKnown struct {
	ActiveStorageVersion string   `json:"active_storage_version"`
	S3Endpoint           string   `json:"s3_endpoint"`
	AvailableReducers    []string `json:"available_reducers"`
	SupportedDatatypes   []string `json:"supported_datatypes"`
}

// ProxyInfo describes how a proxy's URLs map onto its upstream store.
type ProxyInfo struct {
	UpstreamScheme string
	UpstreamHost   string

	// PathPattern matches the proxy-specific path prefix: /{reducer}/{dtype}
	// or /obj.
	PathPattern *regexp.Regexp
}

// NewProxyInfo builds the URL mapping advertised by doc.
func NewProxyInfo(doc WellKnown) (*ProxyInfo, error) {
	u, err := url.Parse(doc.S3Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid s3_endpoint %q", doc.S3Endpoint)
	}
	pattern := fmt.Sprintf("^/(((%s)/(%s))|obj)", alternation(doc.AvailableReducers), alternation(doc.SupportedDatatypes))
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to compile path pattern: %w", err)
	}
	return &ProxyInfo{
		UpstreamScheme: u.Scheme,
		UpstreamHost:   u.Host,
		PathPattern:    re,
	}, nil
}

func alternation(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = regexp.QuoteMeta(n)
	}
	return strings.Join(quoted, "|")
}

// CanonicalURL returns the upstream object URL that proxyURL stands for.
// proxyURL itself is not modified.
func (p *ProxyInfo) CanonicalURL(proxyURL *url.URL) *url.URL {
	out := *proxyURL
	out.Scheme = p.UpstreamScheme
	out.Host = p.UpstreamHost

	escaped := p.PathPattern.ReplaceAllLiteralString(proxyURL.EscapedPath(), "")
	if path, err := url.PathUnescape(escaped); err == nil {
		out.Path = path
		out.RawPath = escaped
	}
	out.Opaque = ""
	return &out
}

// Discovery caches the ProxyInfo of each host. Each host is queried until one
// lookup completes; a host that is not a proxy is remembered as such. A lookup
// cut short by the caller's context is not remembered.
type Discovery struct {
	client aws.HTTPClient
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	done bool
	info *ProxyInfo
}

// NewDiscovery creates a Discovery. client may be nil.
func NewDiscovery(client aws.HTTPClient, logger *slog.Logger) *Discovery {
	if client == nil {
		client = awshttp.NewBuildableClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Discovery{
		client:  client,
		logger:  logger.With("component", "discovery"),
		entries: make(map[string]*entry),
	}
}

// Info returns the ProxyInfo for the host of u, or nil when that host does
// not serve a usable well-known document.
func (d *Discovery) Info(ctx context.Context, u *url.URL) *ProxyInfo {
	host := u.Host

	d.mu.RLock()
	e, ok := d.entries[host]
	d.mu.RUnlock()
	if !ok {
		d.mu.Lock()
		if e, ok = d.entries[host]; !ok {
			e = &entry{}
			d.entries[host] = e
		}
		d.mu.Unlock()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return e.info
	}

	info, err := d.fetch(ctx, u.Scheme, host)
	if err != nil {
		if ctx.Err() != nil {
			d.logger.Debug("Discovery interrupted", "host", host, "error", err)
			return nil
		}
		d.logger.Debug("Host is not an active storage proxy", "host", host, "error", err)
	} else {
		d.logger.Debug("Discovered active storage proxy",
			"host", host,
			"upstream", info.UpstreamScheme+"://"+info.UpstreamHost)
	}
	e.done = true
	e.info = info
	return info
}

func (d *Discovery) fetch(ctx context.Context, scheme, host string) (*ProxyInfo, error) {
	doc, err := FetchWellKnown(ctx, d.client, &url.URL{Scheme: scheme, Host: host})
	if err != nil {
		return nil, err
	}
	return NewProxyInfo(*doc)
}

// FetchWellKnown retrieves the discovery document served at the root of base.
// Any path on base is ignored.
func FetchWellKnown(ctx context.Context, client aws.HTTPClient, base *url.URL) (*WellKnown, error) {
	endpoint := (&url.URL{Scheme: base.Scheme, Host: base.Host, Path: WellKnownPath}).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("well-known request returned %d", resp.StatusCode)
	}

	var doc WellKnown
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode well-known document: %w", err)
	}
	return &doc, nil
}
