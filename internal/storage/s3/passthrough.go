package s3

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/activestorage/s3-active-storage/internal/plan"
	pkgerrors "github.com/activestorage/s3-active-storage/pkg/errors"
)

// maxErrorBody bounds how much of an upstream error document is buffered.
const maxErrorBody = 64 << 10

// hopHeaders are never forwarded upstream.
var hopHeaders = []string{
	"Host",
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Content-Length",
}

// Passthrough forwards GETs to the configured upstream with the caller's own
// headers, so a signature the caller computed for the upstream URL still
// verifies there.
type Passthrough struct {
	client   aws.HTTPClient
	endpoint string
	metrics  *MetricsCollector
	logger   *slog.Logger
}

// NewPassthrough creates a forwarder for endpoint sharing the manager's transport.
func NewPassthrough(cm *ClientManager, endpoint string) *Passthrough {
	return &Passthrough{
		client:   cm.HTTPClient(),
		endpoint: strings.TrimRight(endpoint, "/"),
		metrics:  cm.Metrics(),
		logger:   cm.logger,
	}
}

// Endpoint is the upstream base URL.
func (p *Passthrough) Endpoint() string {
	return p.endpoint
}

// Get forwards a GET for objectPath ("bucket/key", optionally followed by
// "?query") and returns the upstream response on success. When br is not the whole object a Range header is
// added. Upstream error responses are returned as errors carrying the
// upstream's status, S3 code and raw body.
func (p *Passthrough) Get(ctx context.Context, objectPath string, header http.Header, br plan.ByteRange) (*http.Response, error) {
	objectPath = strings.TrimLeft(objectPath, "/")
	url := p.endpoint + "/" + objectPath
	resource, _, _ := strings.Cut(objectPath, "?")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, pkgerrors.NewInvalidRequest("invalid object path %q: %v", objectPath, err)
	}
	for k, vs := range header {
		req.Header[k] = append([]string(nil), vs...)
	}
	for _, h := range hopHeaders {
		req.Header.Del(h)
	}
	if !br.Whole() {
		req.Header.Set("Range", br.Header())
	}

	start := time.Now()
	p.metrics.RecordPassthrough()
	resp, err := p.client.Do(req)
	if err != nil {
		p.metrics.RecordMetrics(time.Since(start), true)
		p.metrics.RecordError(err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, pkgerrors.NewUpstreamUnreachable(err)
	}

	isError := resp.StatusCode >= http.StatusBadRequest
	p.metrics.RecordMetrics(time.Since(start), isError)
	if isError {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		perr := parseErrorDocument(resp.StatusCode, body, "/"+resource).
			WithUpstreamBody(body, resp.Header.Get("Content-Type"))
		p.metrics.RecordError(perr)
		p.logger.Debug("Upstream passthrough failed",
			"url", url, "status", resp.StatusCode, "code", perr.S3Code)
		return nil, perr
	}

	resp.Body = &countingBody{ReadCloser: resp.Body, metrics: p.metrics}
	return resp, nil
}

// Probe checks that the upstream answers HTTP at all. Any response, error
// statuses included, counts as reachable.
func (p *Passthrough) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.endpoint+"/", nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return pkgerrors.NewUpstreamUnreachable(err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// Object returns a range source reading objectPath with the given headers.
func (p *Passthrough) Object(objectPath string, header http.Header) *PassthroughObject {
	return &PassthroughObject{p: p, path: strings.TrimLeft(objectPath, "/"), header: header}
}

// PassthroughObject is a ranged reader over one object reached through a
// Passthrough.
type PassthroughObject struct {
	p      *Passthrough
	path   string
	header http.Header
}

// Resource names the object in S3 path form.
func (o *PassthroughObject) Resource() string {
	resource, _, _ := strings.Cut(o.path, "?")
	return "/" + resource
}

// GetRange opens the body of one byte range.
func (o *PassthroughObject) GetRange(ctx context.Context, br plan.ByteRange) (io.ReadCloser, error) {
	resp, err := o.p.Get(ctx, o.path, o.header, br)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// errorDocument is the S3 XML error body.
type errorDocument struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	Resource  string   `xml:"Resource"`
	RequestID string   `xml:"RequestId"`
}

func parseErrorDocument(status int, body []byte, resource string) *pkgerrors.ProxyError {
	var doc errorDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		doc = errorDocument{}
	}
	if doc.Resource != "" {
		resource = doc.Resource
	}
	perr := upstreamError(status, doc.Code, doc.Message, resource)
	if doc.RequestID != "" {
		perr.WithDetail("upstream_request_id", doc.RequestID)
	}
	return perr.WithCause(fmt.Errorf("upstream returned %d", status))
}
