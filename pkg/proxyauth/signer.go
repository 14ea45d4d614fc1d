package proxyauth

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

// Signer is a SigV4 signer that signs requests to a discovered proxy as if
// they were addressed to the proxy's upstream object. It can be installed as
// the HTTPSignerV4 of an S3 client.
type Signer struct {
	signer    *v4.Signer
	discovery *Discovery
}

// NewSigner creates a Signer that consults discovery for every request.
func NewSigner(discovery *Discovery, optFns ...func(*v4.SignerOptions)) *Signer {
	return &Signer{
		signer:    v4.NewSigner(optFns...),
		discovery: discovery,
	}
}

// SignHTTP signs r. When r targets a known proxy, the signature covers the
// canonical upstream URL; r is sent to the proxy unchanged apart from the
// added signature headers.
func (s *Signer) SignHTTP(ctx context.Context, credentials aws.Credentials, r *http.Request, payloadHash string, service string, region string, signingTime time.Time, optFns ...func(*v4.SignerOptions)) error {
	info := s.discovery.Info(ctx, r.URL)
	if info == nil {
		return s.signer.SignHTTP(ctx, credentials, r, payloadHash, service, region, signingTime, optFns...)
	}

	proxyURL, proxyHost := r.URL, r.Host
	r.URL = info.CanonicalURL(proxyURL)
	r.Host = r.URL.Host
	defer func() {
		r.URL, r.Host = proxyURL, proxyHost
	}()

	return s.signer.SignHTTP(ctx, credentials, r, payloadHash, service, region, signingTime, optFns...)
}
