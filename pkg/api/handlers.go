package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/activestorage/s3-active-storage/internal/dtype"
	"github.com/activestorage/s3-active-storage/internal/plan"
	"github.com/activestorage/s3-active-storage/internal/reduce"
	storage "github.com/activestorage/s3-active-storage/internal/storage/s3"
	"github.com/activestorage/s3-active-storage/pkg/errors"
	"github.com/activestorage/s3-active-storage/pkg/proxyauth"
	"github.com/activestorage/s3-active-storage/pkg/types"
)

// Result metadata headers.
const (
	HeaderDType = "x-activestorage-dtype"
	HeaderShape = "x-activestorage-shape"
)

// maxRequestBody bounds the JSON body of the body-addressed form.
const maxRequestBody = 1 << 20

// passthroughHeaders are copied from an upstream object response.
var passthroughHeaders = []string{
	"Accept-Ranges",
	"Content-Length",
	"Content-Range",
	"Content-Type",
	"ETag",
	"Last-Modified",
}

func (s *Server) handleWellKnown(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, proxyauth.WellKnown{
		ActiveStorageVersion: proxyauth.Version,
		S3Endpoint:           s.passthrough.Endpoint(),
		AvailableReducers:    s.pipeline.Registry().Names(),
		SupportedDatatypes:   dtype.Names(),
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alive":     true,
		"timestamp": time.Now(),
	})
}

// handleReadiness reports upstream reachability and read statistics. It
// answers 503 once the configured upstream is unavailable.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	endpoint := s.passthrough.Endpoint()
	upstream := s.storage.Metrics().GetMetrics()
	component, _ := s.health.GetComponentHealth(endpoint)

	ready := s.health.IsAvailable(endpoint)
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	s.respondJSON(w, status, map[string]interface{}{
		"ready":       ready,
		"timestamp":   time.Now(),
		"s3_endpoint": endpoint,
		"upstream": map[string]interface{}{
			"state":                component.State,
			"consecutive_errors":   component.ConsecutiveErrors,
			"last_error":           component.LastErrorMessage,
			"requests":             upstream.Requests,
			"errors":               upstream.Errors,
			"error_rate":           s.storage.Metrics().GetErrorRate(),
			"bytes_downloaded":     upstream.BytesDownloaded,
			"passthrough_requests": upstream.PassthroughRequests,
			"average_latency":      upstream.AverageLatency.String(),
		},
		"clients": s.storage.GetStats(),
	})
}

// observeUpstream feeds the outcome of a request that reached endpoint into
// the health tracker. Failures that happened before any upstream contact are
// not observations.
func (s *Server) observeUpstream(endpoint string, err error) {
	switch {
	case err == nil:
		s.health.RecordSuccess(endpoint)
	case errors.IsCode(err, errors.ErrCodeUpstreamUnreachable):
		s.health.RecordError(endpoint, err)
	case errors.AsProxyError(err).Category == errors.CategoryUpstream:
		s.health.RecordSuccess(endpoint)
	}
}

// handleObject relays the raw object, forwarding the caller's headers.
func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	objectPath := chi.URLParam(r, "*")
	resp, err := s.passthrough.Get(r.Context(), withQuery(objectPath, r), r.Header, plan.ByteRange{Open: true})
	s.observeUpstream(s.passthrough.Endpoint(), err)
	if err != nil {
		s.respondError(w, r, err, true)
		return
	}
	defer resp.Body.Close()

	for _, h := range passthroughHeaders {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		s.logger.Warn("Object relay interrupted",
			"path", objectPath,
			"error", err,
			"request_id", RequestID(r.Context()))
	}
}

// handleReducer applies a reducer to a whole object addressed by path. The
// upstream sees the caller's own signed headers.
func (s *Server) handleReducer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "reducer")
	if _, err := s.pipeline.Registry().Lookup(name); err != nil {
		s.respondError(w, r, notFound(r.URL.Path), false)
		return
	}
	d, err := dtype.Parse(chi.URLParam(r, "dtype"))
	if err != nil {
		s.respondError(w, r, notFound(r.URL.Path), false)
		return
	}

	objectPath := chi.URLParam(r, "*")
	bucket, key, _ := strings.Cut(objectPath, "/")
	spec := &types.RequestSpec{
		Source: s.passthrough.Endpoint(),
		Bucket: bucket,
		Object: key,
		DType:  d,
	}

	enc, err := s.pipeline.Run(r.Context(), name, spec, s.passthrough.Object(withQuery(objectPath, r), r.Header))
	s.observeUpstream(spec.Source, err)
	if err != nil {
		s.respondError(w, r, err, true)
		return
	}
	s.respondResult(w, enc)
}

// handleV1 runs a reduction described by a JSON body against the upstream
// it names, authenticating with the caller's Basic credentials.
func (s *Server) handleV1(w http.ResponseWriter, r *http.Request) {
	operation := chi.URLParam(r, "operation")
	if _, err := s.pipeline.Registry().Lookup(operation); err != nil {
		s.respondError(w, r, err, false)
		return
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		s.respondError(w, r, errors.NewError(errors.ErrCodeAuthenticationRequired, "Not authenticated"), false)
		return
	}

	var spec types.RequestSpec
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(&spec); err != nil {
		s.respondError(w, r, errors.NewInvalidRequest("invalid request body: %v", err), false)
		return
	}
	// Validate before a client is built for spec.Source.
	if err := spec.Validate(); err != nil {
		s.respondError(w, r, err, false)
		return
	}

	creds := storage.Credentials{AccessKeyID: user, SecretAccessKey: pass}
	src := s.storage.Object(spec.Source, creds, spec.Bucket, spec.Object)

	enc, err := s.pipeline.Run(r.Context(), operation, &spec, src)
	s.observeUpstream(strings.TrimRight(spec.Source, "/"), err)
	if err != nil {
		s.respondError(w, r, err, false)
		return
	}
	s.respondResult(w, enc)
}

// withQuery keeps the caller's query string, which the caller's signature
// covers.
func withQuery(objectPath string, r *http.Request) string {
	if r.URL.RawQuery == "" {
		return objectPath
	}
	return objectPath + "?" + r.URL.RawQuery
}

func (s *Server) respondResult(w http.ResponseWriter, enc *reduce.Encoded) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(enc.Body)))
	w.Header().Set(HeaderDType, string(enc.DType))
	w.Header().Set(HeaderShape, enc.ShapeHeader())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(enc.Body)
}
