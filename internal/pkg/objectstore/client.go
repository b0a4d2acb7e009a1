package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/VisageAI/visage/app/models"
)

// Client mirrors provider output files into our own bucket so results
// survive the provider's retention window. It implements the tracker's
// OutputMirror interface.
type Client struct {
	s3Client   *s3.Client
	httpClient *http.Client
	config     *Config
}

// NewClient creates a new object storage client.
func NewClient(cfg *Config) (*Client, error) {
	if !cfg.IsEnabled() {
		return nil, fmt.Errorf("output mirroring is disabled")
	}

	awsConfig, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			// S3-compatible services need path-style URLs
			o.UsePathStyle = true
			o.UseAccelerate = false
		}
	})

	client := &Client{
		s3Client:   s3Client,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		config:     cfg,
	}

	if err := client.testConnection(); err != nil {
		return nil, fmt.Errorf("failed to connect to S3: %w", err)
	}

	log.Printf("[ObjectStore] Successfully initialized S3 client for bucket: %s", cfg.GetBucketName())
	return client, nil
}

// NewClientFromEnv builds a client from environment configuration. It
// returns (nil, nil) when mirroring is disabled.
func NewClientFromEnv() (*Client, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.IsEnabled() {
		return nil, nil
	}
	return NewClient(cfg)
}

var (
	mirrorOnce sync.Once
	mirror     *Client
)

// GetMirror returns the process-wide mirror client, built once from the
// environment on first use. Returns nil when mirroring is disabled or the
// bucket is unreachable; callers skip mirroring in that case.
func GetMirror() *Client {
	mirrorOnce.Do(func() {
		client, err := NewClientFromEnv()
		if err != nil {
			log.Printf("[ObjectStore] output mirroring unavailable: %v", err)
			return
		}
		mirror = client
	})
	return mirror
}

// testConnection checks that the configured bucket is accessible.
func (c *Client) testConnection() error {
	_, err := c.s3Client.HeadBucket(context.Background(), &s3.HeadBucketInput{
		Bucket: aws.String(c.config.GetBucketName()),
	})
	if err != nil {
		return fmt.Errorf("bucket %s not accessible: %w", c.config.GetBucketName(), err)
	}
	return nil
}

// MirrorOutput streams a provider output file into the bucket and returns
// the public URL of the stored copy.
func (c *Client) MirrorOutput(ctx context.Context, gen *models.Generation, sourceURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download output: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("output download returned status %d", resp.StatusCode)
	}

	now := time.Now().UTC()
	objectKey := c.config.GetObjectKey(gen.UUID, sourceURL, now.Year(), int(now.Month()))

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = getContentType(path.Ext(sourceURL))
	}

	// Provider responses are streamed without a reliable Content-Length,
	// so buffer before uploading.
	data, err := io.ReadAll(io.LimitReader(resp.Body, 128<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read output: %w", err)
	}

	_, err = c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.config.GetBucketName()),
		Key:           aws.String(objectKey),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
		Metadata: map[string]string{
			"generation-uuid": gen.UUID,
			"upload-source":   "visage-mirror",
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Printf("[ObjectStore] Mirrored output for generation %s: s3://%s/%s", gen.UUID, c.config.GetBucketName(), objectKey)
	return c.config.PublicURL(objectKey), nil
}

// DeleteOutput removes a mirrored object, used when a generation's assets
// are deleted.
func (c *Client) DeleteOutput(ctx context.Context, objectKey string) error {
	_, err := c.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.config.GetBucketName()),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object from S3: %w", err)
	}
	return nil
}

// getContentType returns the MIME type based on file extension.
func getContentType(ext string) string {
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".avif":
		return "image/avif"
	default:
		return "application/octet-stream"
	}
}
