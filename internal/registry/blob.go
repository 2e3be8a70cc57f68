package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/opencontainers/go-digest"
	"go.uber.org/zap"
)

const defaultS3Region = "us-east-1"

type S3Location struct {
	Region string `json:"region"`
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// BlobInfo describes a stored blob. S3 is set when the size came from the
// registry's S3 storage backend.
type BlobInfo struct {
	Digest   digest.Digest `json:"digest"`
	Size     int64         `json:"size"`
	Modified time.Time     `json:"modified,omitempty"`
	S3       *S3Location   `json:"s3,omitempty"`
}

// S3HeadObjectAPI is the part of the S3 client BlobInfo uses.
type S3HeadObjectAPI interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3ClientFactory returns an S3 client for region.
type S3ClientFactory func(ctx context.Context, region string) (S3HeadObjectAPI, error)

// DefaultS3ClientFactory loads the ambient AWS configuration (environment,
// shared config files, instance role) for each region.
func DefaultS3ClientFactory(opts ...func(*awsconfig.LoadOptions) error) S3ClientFactory {
	return func(ctx context.Context, region string) (S3HeadObjectAPI, error) {
		loadOpts := append([]func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}, opts...)
		cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		return s3.NewFromConfig(cfg), nil
	}
}

// WithS3HeadObject makes BlobInfo ask S3 directly when the registry
// redirects a blob to an S3 bucket.
func WithS3HeadObject(factory S3ClientFactory) Option {
	return func(c *Client) {
		if factory == nil {
			c.s3 = nil
			return
		}
		c.s3 = &s3Lookup{factory: factory, clients: make(map[string]S3HeadObjectAPI)}
	}
}

type s3Lookup struct {
	factory S3ClientFactory

	mu      sync.Mutex
	clients map[string]S3HeadObjectAPI
}

func (l *s3Lookup) client(ctx context.Context, region string) (S3HeadObjectAPI, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if client, ok := l.clients[region]; ok {
		return client, nil
	}
	client, err := l.factory(ctx, region)
	if err != nil {
		return nil, err
	}
	l.clients[region] = client
	return client, nil
}

func (l *s3Lookup) head(ctx context.Context, loc S3Location) (int64, time.Time, error) {
	client, err := l.client(ctx, loc.Region)
	if err != nil {
		return 0, time.Time{}, err
	}
	out, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
	if err != nil {
		return 0, time.Time{}, classifyS3Error(err, loc)
	}
	return aws.ToInt64(out.ContentLength), aws.ToTime(out.LastModified), nil
}

func classifyS3Error(err error, loc S3Location) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("s3 head object s3://%s/%s (code: %s): %w", loc.Bucket, loc.Key, apiErr.ErrorCode(), err)
	}
	return fmt.Errorf("s3 head object s3://%s/%s: %w", loc.Bucket, loc.Key, err)
}

// parseS3Location recognizes path-style (s3-<region>.amazonaws.com/bucket/key,
// s3.<region>.amazonaws.com/bucket/key) and virtual-hosted
// (bucket.s3.<region>.amazonaws.com/key) S3 URLs.
func parseS3Location(location *url.URL) (S3Location, bool) {
	host := strings.ToLower(location.Hostname())
	rest, ok := strings.CutSuffix(host, ".amazonaws.com")
	if !ok {
		return S3Location{}, false
	}
	labels := strings.Split(rest, ".")

	idx := -1
	region := ""
	for i, label := range labels {
		if label == "s3" {
			idx = i
			region = defaultS3Region
			if i+1 < len(labels) {
				region = labels[i+1]
			}
			break
		}
		if strings.HasPrefix(label, "s3-") && len(label) > 3 {
			idx = i
			region = label[3:]
			break
		}
	}
	if idx < 0 {
		return S3Location{}, false
	}

	path := strings.TrimPrefix(location.Path, "/")
	var bucket, key string
	if idx == 0 {
		bucket, key, _ = strings.Cut(path, "/")
	} else {
		bucket = strings.Join(labels[:idx], ".")
		key = path
	}
	if bucket == "" || key == "" {
		return S3Location{}, false
	}
	return S3Location{Region: region, Bucket: bucket, Key: key}, true
}

// BlobInfo reports the size and modification time of a blob. The registry
// HEAD is not redirected; a Location pointing at S3 is resolved with
// HeadObject when an S3 client factory is configured, any other Location with
// an unauthenticated HEAD. Only the registry HEAD takes a limiter permit; the
// follow-up HEAD or HeadObject goes to the storage backend and is not metered.
func (c *Client) BlobInfo(ctx context.Context, image string, blobDigest string) (BlobInfo, error) {
	parsed, err := digest.Parse(strings.TrimSpace(blobDigest))
	if err != nil {
		return BlobInfo{}, fmt.Errorf("invalid blob digest %q: %w", blobDigest, err)
	}
	image = strings.Trim(strings.TrimSpace(image), "/")
	endpoint := resolveURL(c.baseURL, "/v2/"+image+"/blobs/"+parsed.String(), nil)

	resp, err := c.do(ContextWithScope(ctx, repositoryScope(image)), Request{Method: http.MethodHead, URL: endpoint})
	if err != nil {
		return BlobInfo{}, err
	}

	info := BlobInfo{Digest: parsed}
	if !isRedirect(resp.StatusCode) {
		if err := c.classify(http.MethodHead, endpoint, resp); err != nil {
			return BlobInfo{}, err
		}
		return fillBlobInfo(info, endpoint, resp.Header)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return BlobInfo{}, &MalformedResponseError{URL: endpoint, Reason: "redirect without Location"}
	}
	target, err := url.Parse(resolveNextURL(c.baseURL, location))
	if err != nil {
		return BlobInfo{}, &MalformedResponseError{URL: endpoint, Reason: "parse Location", Err: err}
	}

	if loc, ok := parseS3Location(target); ok && c.s3 != nil {
		size, modified, err := c.s3.head(ctx, loc)
		if err != nil {
			return BlobInfo{}, err
		}
		c.logger.Debug("blob resolved through s3",
			zap.String("digest", parsed.String()),
			zap.String("bucket", loc.Bucket),
			zap.String("region", loc.Region))
		info.Size = size
		info.Modified = modified
		info.S3 = &loc
		return info, nil
	}

	redirected, err := c.send(ctx, Request{Method: http.MethodHead, URL: target.String()})
	if err != nil {
		return BlobInfo{}, err
	}
	if err := c.classify(http.MethodHead, target.String(), redirected); err != nil {
		return BlobInfo{}, err
	}
	return fillBlobInfo(info, target.String(), redirected.Header)
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func fillBlobInfo(info BlobInfo, endpoint string, header http.Header) (BlobInfo, error) {
	size, err := strconv.ParseInt(strings.TrimSpace(header.Get("Content-Length")), 10, 64)
	if err != nil || size < 0 {
		return BlobInfo{}, &MalformedResponseError{URL: endpoint, Reason: "missing or invalid Content-Length", Err: err}
	}
	info.Size = size

	if value := header.Get("Last-Modified"); value != "" {
		modified, err := http.ParseTime(value)
		if err != nil {
			return BlobInfo{}, &MalformedResponseError{URL: endpoint, Reason: "parse Last-Modified", Err: err}
		}
		info.Modified = modified.UTC()
	}
	return info, nil
}
