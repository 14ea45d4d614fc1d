package api

import (
	"encoding/json"
	"encoding/xml"
	"net/http"

	"github.com/activestorage/s3-active-storage/pkg/errors"
)

// errorDocument is the S3 XML error body.
type errorDocument struct {
	XMLName   xml.Name `xml:"Error"`
	Code      string   `xml:"Code"`
	Message   string   `xml:"Message"`
	Resource  string   `xml:"Resource"`
	RequestID string   `xml:"RequestId,omitempty"`
}

// upstreamErrorBody is the JSON body for errors raised by the upstream store.
type upstreamErrorBody struct {
	Code     string `json:"aws_error_code"`
	Message  string `json:"aws_error_message"`
	Resource string `json:"aws_target"`
}

// errorBody is the JSON body for every other error.
type errorBody struct {
	Detail string `json:"detail"`
}

func notFound(path string) *errors.ProxyError {
	return errors.NewError(errors.ErrCodeNotFound, "Not Found").WithResource(path)
}

func methodNotAllowed(method string) *errors.ProxyError {
	e := errors.NewError(errors.ErrCodeInvalidRequest, "Method Not Allowed").
		WithDetail("method", method)
	e.HTTPStatus = http.StatusMethodNotAllowed
	e.S3Code = "MethodNotAllowed"
	return e
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Error encoding JSON response", "error", err)
	}
}

// respondError renders err as a structured error document. With verbatim
// set, an upstream error document is relayed exactly as the upstream sent it.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, verbatim bool) {
	pe := errors.AsProxyError(err)
	status := pe.HTTPStatus
	if status == 0 {
		status = errors.GetDefaultHTTPStatus(pe.Code)
	}
	requestID := RequestID(r.Context())

	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", pe.String(), "request_id", requestID)
	} else {
		s.logger.Debug("Request rejected", "error", pe.Error(), "status", status, "request_id", requestID)
	}

	if verbatim && len(pe.UpstreamBody) > 0 {
		contentType := pe.UpstreamContentType
		if contentType == "" {
			contentType = "application/xml"
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_, _ = w.Write(pe.UpstreamBody)
		return
	}

	if pe.Code == errors.ErrCodeAuthenticationRequired {
		w.Header().Set("WWW-Authenticate", "Basic")
	}

	code := pe.S3Code
	if code == "" {
		code = errors.GetDefaultS3Code(pe.Code)
	}
	resource := pe.Resource
	if resource == "" && pe.Category != errors.CategoryUpstream {
		resource = r.URL.Path
	}

	if s.config.ErrorFormat == "xml" {
		body, err := xml.Marshal(errorDocument{
			Code:      code,
			Message:   pe.Message,
			Resource:  resource,
			RequestID: requestID,
		})
		if err != nil {
			s.logger.Error("Error encoding XML response", "error", err)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(xml.Header))
		_, _ = w.Write(body)
		return
	}

	if pe.Category == errors.CategoryUpstream {
		s.respondJSON(w, status, upstreamErrorBody{Code: code, Message: pe.Message, Resource: resource})
		return
	}
	s.respondJSON(w, status, errorBody{Detail: pe.Message})
}
