// Package client calls an active storage proxy. Requests are signed with the
// proxy-aware SigV4 adapter from pkg/proxyauth, so credentials valid for the
// upstream store work unchanged through the proxy.
package client

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/activestorage/s3-active-storage/internal/dtype"
	"github.com/activestorage/s3-active-storage/pkg/errors"
	"github.com/activestorage/s3-active-storage/pkg/proxyauth"
)

// Result metadata headers set by the proxy.
const (
	HeaderDType = "x-activestorage-dtype"
	HeaderShape = "x-activestorage-shape"
)

// emptyPayloadHash is the SHA-256 of an empty body.
const emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

const maxErrorBody = 64 << 10

// Options configures a Client.
type Options struct {
	// Endpoint is the proxy base URL, e.g. http://localhost:8000.
	Endpoint string

	// Region used in the credential scope. Defaults to us-east-1.
	Region string

	// Credentials for the upstream store. Requests are unsigned when nil.
	Credentials aws.CredentialsProvider

	HTTPClient aws.HTTPClient
	Logger     *slog.Logger
}

// Client talks to one proxy.
type Client struct {
	endpoint    *url.URL
	region      string
	credentials aws.CredentialsProvider
	httpClient  aws.HTTPClient
	discovery   *proxyauth.Discovery
	signer      *proxyauth.Signer
	logger      *slog.Logger
}

// New creates a Client.
func New(opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(opts.Endpoint, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid proxy endpoint %q", opts.Endpoint)
	}
	if opts.Region == "" {
		opts.Region = "us-east-1"
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = awshttp.NewBuildableClient()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	discovery := proxyauth.NewDiscovery(opts.HTTPClient, opts.Logger)
	return &Client{
		endpoint:    u,
		region:      opts.Region,
		credentials: opts.Credentials,
		httpClient:  opts.HTTPClient,
		discovery:   discovery,
		signer:      proxyauth.NewSigner(discovery),
		logger:      opts.Logger.With("component", "client"),
	}, nil
}

// WellKnown fetches the proxy's discovery document.
func (c *Client) WellKnown(ctx context.Context) (*proxyauth.WellKnown, error) {
	return proxyauth.FetchWellKnown(ctx, c.httpClient, c.endpoint)
}

// Result is a decoded reduction response.
type Result struct {
	Body  []byte
	DType string
	Shape []int
}

// Values decodes the little-endian body as float64s.
func (r *Result) Values() ([]float64, error) {
	d, err := dtype.Parse(r.DType)
	if err != nil {
		return nil, err
	}
	order := dtype.LittleEndian.Binary()
	switch d {
	case dtype.Int32:
		return widen[int32](r.Body, order)
	case dtype.Int64:
		return widen[int64](r.Body, order)
	case dtype.Uint32:
		return widen[uint32](r.Body, order)
	case dtype.Uint64:
		return widen[uint64](r.Body, order)
	case dtype.Float32:
		return widen[float32](r.Body, order)
	default:
		return dtype.Decode[float64](r.Body, order)
	}
}

// Reduce applies reducer over the whole object bucket/key using the
// path-addressed form.
func (c *Client) Reduce(ctx context.Context, reducer, dtypeName, bucket, key string) (*Result, error) {
	u := c.endpoint.JoinPath(reducer, dtypeName, bucket, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if err := c.sign(ctx, req); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", c.endpoint.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, decodeError(resp.StatusCode, body, u.Path)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read reduction result: %w", err)
	}
	res := &Result{Body: body, DType: resp.Header.Get(HeaderDType)}
	if shape := resp.Header.Get(HeaderShape); shape != "" {
		if err := json.Unmarshal([]byte(shape), &res.Shape); err != nil {
			return nil, fmt.Errorf("invalid %s header %q: %w", HeaderShape, shape, err)
		}
	}

	c.logger.Debug("Reduction complete",
		"url", u.String(),
		"dtype", res.DType,
		"bytes", len(body),
		"duration", time.Since(start))
	return res, nil
}

func (c *Client) sign(ctx context.Context, req *http.Request) error {
	req.Header.Set("X-Amz-Content-Sha256", emptyPayloadHash)
	if c.credentials == nil {
		return nil
	}
	creds, err := c.credentials.Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("failed to retrieve credentials: %w", err)
	}
	return c.signer.SignHTTP(ctx, creds, req, emptyPayloadHash, "s3", c.region, time.Now().UTC())
}

// NewS3Client returns an SDK S3 client whose object reads go through the
// proxy's /{reducer}/{dtype} prefix. GetObject on it returns the reduced
// bytes; the signature is computed for the upstream object URL.
func (c *Client) NewS3Client(reducer, dtypeName string, optFns ...func(*s3.Options)) *s3.Client {
	creds := c.credentials
	if creds == nil {
		creds = aws.AnonymousCredentials{}
	}
	return s3.New(s3.Options{
		Region:                     c.region,
		BaseEndpoint:               aws.String(c.endpoint.JoinPath(reducer, dtypeName).String()),
		UsePathStyle:               true,
		Credentials:                creds,
		HTTPClient:                 c.httpClient,
		HTTPSignerV4:               c.signer,
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	}, optFns...)
}

// errorDocument covers both the JSON and XML error bodies the proxy sends.
type errorDocument struct {
	Detail string `json:"detail"`

	AWSCode     string `json:"aws_error_code"`
	AWSMessage  string `json:"aws_error_message"`
	AWSResource string `json:"aws_target"`

	Code     string `xml:"Code"`
	Message  string `xml:"Message"`
	Resource string `xml:"Resource"`
}

func decodeError(status int, body []byte, resource string) *errors.ProxyError {
	var doc errorDocument
	switch {
	case json.Unmarshal(body, &doc) == nil && doc.AWSCode != "":
		return errors.NewUpstreamObjectError(status, doc.AWSCode, doc.AWSMessage, doc.AWSResource)
	case doc.Detail != "":
		e := errors.NewError(codeForStatus(status), doc.Detail).WithResource(resource)
		e.HTTPStatus = status
		return e
	case xml.Unmarshal(body, &doc) == nil && doc.Code != "":
		if doc.Resource == "" {
			doc.Resource = resource
		}
		return errors.NewUpstreamObjectError(status, doc.Code, doc.Message, doc.Resource)
	}
	return errors.NewUpstreamObjectError(status, http.StatusText(status), strings.TrimSpace(string(body)), resource)
}

func codeForStatus(status int) errors.ErrorCode {
	switch status {
	case http.StatusBadRequest:
		return errors.ErrCodeInvalidRequest
	case http.StatusUnauthorized:
		return errors.ErrCodeAuthenticationRequired
	case http.StatusNotFound:
		return errors.ErrCodeNotFound
	}
	if status >= http.StatusInternalServerError {
		return errors.ErrCodeInternalError
	}
	return errors.ErrCodeInvalidRequest
}

func widen[T dtype.Number](b []byte, order binary.ByteOrder) ([]float64, error) {
	values, err := dtype.Decode[T](b, order)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out, nil
}
