package client

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/activestorage/s3-active-storage/internal/fetch"
	"github.com/activestorage/s3-active-storage/internal/pipeline"
	"github.com/activestorage/s3-active-storage/internal/reduce"
	storage "github.com/activestorage/s3-active-storage/internal/storage/s3"
	"github.com/activestorage/s3-active-storage/pkg/api"
	"github.com/activestorage/s3-active-storage/pkg/errors"
)

type upstream struct {
	mu       sync.Mutex
	objects  map[string][]byte
	requests []*http.Request
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.mu.Lock()
	u.requests = append(u.requests, r.Clone(context.Background()))
	u.mu.Unlock()

	data, ok := u.objects[r.URL.Path]
	if !ok {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message>`+
			`<Resource>`+r.URL.Path+`</Resource></Error>`)
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (u *upstream) last() *http.Request {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.requests[len(u.requests)-1]
}

func int32s(values ...int32) []byte {
	out, _ := binary.Append(nil, binary.LittleEndian, values)
	return out
}

var testCredentials = aws.Credentials{AccessKeyID: "AKID", SecretAccessKey: "SECRET"}

// newProxy starts a proxy in front of a fake upstream store.
func newProxy(t *testing.T) (*upstream, *httptest.Server, *httptest.Server) {
	t.Helper()
	t.Setenv("AWS_ACCESS_KEY_ID", "")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "")

	store := &upstream{objects: map[string][]byte{
		"/sample-data/data.dat": int32s(0, 1, 2, 3, 4, 5, 6, 7, 8, 9),
	}}
	upstreamSrv := httptest.NewServer(store)
	t.Cleanup(upstreamSrv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cm, err := storage.NewClientManager(context.Background(), nil, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cm.Close() })

	srv := api.NewServer(api.DefaultServerConfig(), api.Dependencies{
		Pipeline:    pipeline.New(reduce.NewRegistry(), fetch.New(fetch.Options{}, nil, logger), nil, logger),
		Storage:     cm,
		Passthrough: storage.NewPassthrough(cm, upstreamSrv.URL),
		Logger:      logger,
	})
	proxySrv := httptest.NewServer(srv.Handler())
	t.Cleanup(proxySrv.Close)

	return store, upstreamSrv, proxySrv
}

func newClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	c, err := New(Options{
		Endpoint: endpoint,
		Credentials: credentials.NewStaticCredentialsProvider(
			testCredentials.AccessKeyID, testCredentials.SecretAccessKey, ""),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadEndpoint(t *testing.T) {
	for _, endpoint := range []string{"", "localhost:8000", "://bad"} {
		_, err := New(Options{Endpoint: endpoint})
		assert.Error(t, err, endpoint)
	}
}

func TestWellKnown(t *testing.T) {
	_, upstreamSrv, proxySrv := newProxy(t)

	doc, err := newClient(t, proxySrv.URL).WellKnown(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1", doc.ActiveStorageVersion)
	assert.Equal(t, upstreamSrv.URL, doc.S3Endpoint)
	assert.Contains(t, doc.AvailableReducers, "mean")
}

func TestReduceThroughProxy(t *testing.T) {
	store, upstreamSrv, proxySrv := newProxy(t)
	ctx := context.Background()

	res, err := newClient(t, proxySrv.URL).Reduce(ctx, "sum", "int32", "sample-data", "data.dat")
	require.NoError(t, err)
	assert.Equal(t, "int32", res.DType)
	assert.Equal(t, []int{}, res.Shape)
	values, err := res.Values()
	require.NoError(t, err)
	assert.Equal(t, []float64{45}, values)

	// The upstream must see a signature computed for its own object URL.
	sent := store.last()
	assert.Equal(t, "/sample-data/data.dat", sent.URL.Path)
	signedAt, err := time.Parse("20060102T150405Z", sent.Header.Get("X-Amz-Date"))
	require.NoError(t, err)

	canonical, err := http.NewRequest(http.MethodGet, upstreamSrv.URL+"/sample-data/data.dat", nil)
	require.NoError(t, err)
	canonical.Header.Set("X-Amz-Content-Sha256", emptyPayloadHash)
	require.NoError(t, v4.NewSigner().SignHTTP(ctx, testCredentials, canonical, emptyPayloadHash, "s3", "us-east-1", signedAt))
	assert.Equal(t, canonical.Header.Get("Authorization"), sent.Header.Get("Authorization"))
}

func TestReduceErrors(t *testing.T) {
	_, _, proxySrv := newProxy(t)
	c := newClient(t, proxySrv.URL)

	_, err := c.Reduce(context.Background(), "median", "int32", "sample-data", "data.dat")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotFound), err)

	_, err = c.Reduce(context.Background(), "max", "int32", "sample-data", "missing.dat")
	require.Error(t, err)
	pe := errors.AsProxyError(err)
	assert.Equal(t, errors.ErrCodeUpstreamObjectError, pe.Code)
	assert.Equal(t, http.StatusNotFound, pe.HTTPStatus)
	assert.Equal(t, "NoSuchKey", pe.S3Code)
	assert.Equal(t, "/sample-data/missing.dat", pe.Resource)
}

func TestNewS3Client(t *testing.T) {
	store, _, proxySrv := newProxy(t)

	out, err := newClient(t, proxySrv.URL).NewS3Client("max", "int32").GetObject(context.Background(), &s3.GetObjectInput{
		Bucket: aws.String("sample-data"),
		Key:    aws.String("data.dat"),
	})
	require.NoError(t, err)
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	require.NoError(t, err)
	assert.Equal(t, int32s(9), body)

	sent := store.last()
	assert.Equal(t, "/sample-data/data.dat", sent.URL.Path)
	assert.Contains(t, sent.Header.Get("Authorization"), "Credential=AKID/")
}

func TestDecodeError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   errors.ErrorCode
		s3Code string
		msg    string
	}{
		{"upstream json", 404, `{"aws_error_code":"NoSuchKey","aws_error_message":"gone","aws_target":"/b/k"}`,
			errors.ErrCodeUpstreamObjectError, "NoSuchKey", "gone"},
		{"request json", 400, `{"detail":"bad offset"}`, errors.ErrCodeInvalidRequest, "InvalidRequest", "bad offset"},
		{"auth", 401, `{"detail":"Not authenticated"}`, errors.ErrCodeAuthenticationRequired, "AccessDenied", "Not authenticated"},
		{"xml", 403, `<Error><Code>AccessDenied</Code><Message>denied</Message></Error>`,
			errors.ErrCodeUpstreamObjectError, "AccessDenied", "denied"},
		{"plain", 502, "bad gateway\n", errors.ErrCodeUpstreamObjectError, "Bad Gateway", "bad gateway"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe := decodeError(tt.status, []byte(tt.body), "/sum/int32/b/k")
			assert.Equal(t, tt.code, pe.Code)
			assert.Equal(t, tt.status, pe.HTTPStatus)
			assert.Equal(t, tt.s3Code, pe.S3Code)
			assert.Equal(t, tt.msg, pe.Message)
		})
	}
}

func TestResultValues(t *testing.T) {
	res := &Result{Body: int32s(-1, 2), DType: "int32"}
	values, err := res.Values()
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, 2}, values)

	res = &Result{Body: []byte{1, 2, 3}, DType: "int32"}
	_, err = res.Values()
	assert.Error(t, err)

	res = &Result{DType: "int8"}
	_, err = res.Values()
	assert.Error(t, err)
}
