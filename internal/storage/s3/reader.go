package s3

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/activestorage/s3-active-storage/internal/plan"
)

// ObjectReader issues ranged GETs against one upstream object using the
// caller's credentials.
type ObjectReader struct {
	client  *s3.Client
	bucket  string
	key     string
	metrics *MetricsCollector
	logger  *slog.Logger
}

// Resource names the object in S3 path form.
func (r *ObjectReader) Resource() string {
	return "/" + r.bucket + "/" + r.key
}

// GetRange opens the body of one byte range. A Range header is always sent,
// including the open "bytes=0-" form for whole-object reads. The caller must
// close the returned body.
func (r *ObjectReader) GetRange(ctx context.Context, br plan.ByteRange) (io.ReadCloser, error) {
	start := time.Now()

	out, err := r.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key),
		Range:  aws.String(br.Header()),
	})
	r.metrics.RecordMetrics(time.Since(start), err != nil)
	if err != nil {
		r.metrics.RecordError(err)
		r.logger.Debug("Upstream GetObject failed",
			"resource", r.Resource(), "range", br.Header(), "error", err)
		return nil, translateError(err, r.Resource())
	}

	return &countingBody{ReadCloser: out.Body, metrics: r.metrics}, nil
}

// countingBody reports bytes read from an upstream body.
type countingBody struct {
	io.ReadCloser
	metrics *MetricsCollector
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.metrics.RecordBytesDownloaded(int64(n))
	}
	return n, err
}
