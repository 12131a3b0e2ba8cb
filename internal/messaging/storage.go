// internal/messaging/storage.go
// Attachment inspection. Clients upload directly to the bucket; the
// message only carries the URL, which is checked against the stored object.

package messaging

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/imadgeboyega/kiekky-chat/internal/common/apperr"
)

// AttachmentInfo describes a stored object
type AttachmentInfo struct {
	Size        int64  `json:"size"`
	ContentType string `json:"content_type,omitempty"`
}

// AttachmentInspector looks up attachments this deployment stores.
// It returns nil info for URLs it does not own.
type AttachmentInspector interface {
	Inspect(ctx context.Context, rawURL string) (*AttachmentInfo, error)
}

type s3Inspector struct {
	client     s3iface.S3API
	bucketName string
	cdnURL     string
	maxSize    int64
}

// NewS3Inspector creates an inspector for objects served from the bucket or the CDN
func NewS3Inspector(awsSession *session.Session, bucketName, cdnURL string, maxSize int64) AttachmentInspector {
	return newS3Inspector(s3.New(awsSession), bucketName, cdnURL, maxSize)
}

func newS3Inspector(client s3iface.S3API, bucketName, cdnURL string, maxSize int64) *s3Inspector {
	return &s3Inspector{
		client:     client,
		bucketName: bucketName,
		cdnURL:     strings.TrimSuffix(cdnURL, "/"),
		maxSize:    maxSize,
	}
}

func (s *s3Inspector) Inspect(ctx context.Context, rawURL string) (*AttachmentInfo, error) {
	key, ok := s.objectKey(rawURL)
	if !ok {
		return nil, nil
	}

	result, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		var reqErr awserr.RequestFailure
		if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
			return nil, ErrAttachmentMissing
		}
		return nil, apperr.Transient("attachment storage unavailable", fmt.Errorf("head %s: %w", key, err))
	}

	info := &AttachmentInfo{
		Size:        aws.Int64Value(result.ContentLength),
		ContentType: aws.StringValue(result.ContentType),
	}
	if info.Size > s.maxSize {
		return nil, ErrAttachmentTooLarge
	}
	return info, nil
}

// objectKey maps a CDN or virtual-hosted bucket URL to its key
func (s *s3Inspector) objectKey(rawURL string) (string, bool) {
	if s.cdnURL != "" && strings.HasPrefix(rawURL, s.cdnURL+"/") {
		key := strings.TrimPrefix(rawURL, s.cdnURL+"/")
		return stripQuery(key), key != ""
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	if strings.HasPrefix(u.Host, s.bucketName+".s3.") && strings.HasSuffix(u.Host, ".amazonaws.com") {
		key := strings.TrimPrefix(u.Path, "/")
		return key, key != ""
	}
	return "", false
}

func stripQuery(key string) string {
	if i := strings.IndexAny(key, "?#"); i >= 0 {
		return key[:i]
	}
	return key
}
