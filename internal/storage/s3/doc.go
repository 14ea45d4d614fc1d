/*
Package s3 reads byte ranges of objects held in an S3-compatible store.

Two access paths are provided:

	┌──────────────────────────────┐   ┌──────────────────────────────┐
	│        ObjectReader          │   │      PassthroughObject       │
	│ SDK GetObject, credentials   │   │ plain GET, caller's headers  │
	│ from the inbound request     │   │ forwarded verbatim           │
	└──────────────────────────────┘   └──────────────────────────────┘
	               │                                  │
	┌─────────────────────────────────────────────────────────────────┐
	│        ClientManager: client pool, shared HTTP transport        │
	└─────────────────────────────────────────────────────────────────┘

ObjectReader is used by the JSON API, where the request body names the
upstream endpoint and the caller authenticates to the proxy with Basic
credentials that are reused as the S3 key pair. Clients are cached per
endpoint and key pair:

	cm, err := s3.NewClientManager(ctx, s3.NewDefaultConfig(), logger)
	obj := cm.Object("http://localhost:9000", creds, "bucket", "data.dat")
	body, err := obj.GetRange(ctx, plan.ByteRange{Start: 0, Open: true})

PassthroughObject serves the path-routed GET form. The caller has already
signed the request for the upstream URL, so the proxy must not re-sign it.

# Error Handling

Upstream HTTP errors keep their status, S3 code and message and are returned
as *errors.ProxyError with code UPSTREAM_OBJECT_ERROR. Connection failures
become UPSTREAM_UNREACHABLE. Requests are never retried.
*/
package s3
