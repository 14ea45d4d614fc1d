package s3

import (
	"context"
	"errors"
	"net"
	"net/http"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	pkgerrors "github.com/activestorage/s3-active-storage/pkg/errors"
)

// translateError maps an SDK error onto the proxy error taxonomy. Upstream
// HTTP errors keep the upstream's status, code and message; transport
// failures become the synthetic unreachable error.
func translateError(err error, resource string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		status := http.StatusBadGateway
		var respErr *awshttp.ResponseError
		if errors.As(err, &respErr) {
			status = respErr.HTTPStatusCode()
		}
		return upstreamError(status, apiErr.ErrorCode(), apiErr.ErrorMessage(), resource).WithCause(err)
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return upstreamError(respErr.HTTPStatusCode(), "", "", resource).WithCause(err)
	}

	if isErrorType[*smithyhttp.RequestSendError](err) || isErrorType[net.Error](err) {
		return pkgerrors.NewUpstreamUnreachable(err)
	}

	return pkgerrors.AsProxyError(err)
}

// upstreamError fills in a code and message from the status when the upstream
// sent none, as happens for bodiless error responses.
func upstreamError(status int, code, message, resource string) *pkgerrors.ProxyError {
	if code == "" {
		code = http.StatusText(status)
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return pkgerrors.NewUpstreamObjectError(status, code, message, resource)
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
