package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/njh/silentjack/internal/types"
	"github.com/njh/silentjack/internal/util"
)

// s3Timeout bounds a single archive upload.
const s3Timeout = 30 * time.Second

// S3Archiver stores each fire as a JSON object in an S3 bucket.
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Archiver creates an archiver for cfg. A custom endpoint switches to
// path-style addressing for S3-compatible stores.
func NewS3Archiver(cfg *types.S3Config) *S3Archiver {
	creds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKeyID,
		cfg.SecretAccessKey,
		"",
	)

	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	options := []func(*s3.Options){
		func(o *s3.Options) {
			o.Credentials = creds
			o.Region = region
		},
	}

	if cfg.Endpoint != "" {
		options = append(options, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Archiver{
		client: s3.New(s3.Options{}, options...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}
}

// archivedAlert is the stored object body.
type archivedAlert struct {
	App string `json:"app"`
	*Alert
}

// ObjectKey returns the key an alert is stored under:
// <prefix>/YYYY/MM/DD/<unix>-<id>.json, dated in UTC.
func (a *S3Archiver) ObjectKey(alert *Alert) string {
	t := alert.Time.UTC()
	name := fmt.Sprintf("%d-%s.json", t.Unix(), alert.ID)
	return path.Join(a.prefix, t.Format("2006/01/02"), name)
}

// Archive uploads alert.
func (a *S3Archiver) Archive(ctx context.Context, alert *Alert) error {
	data, err := json.Marshal(archivedAlert{App: AppName, Alert: alert})
	if err != nil {
		return util.WrapError("marshal alert", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s3Timeout)
	defer cancel()

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(a.ObjectKey(alert)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return util.WrapError("upload alert to S3", err)
	}
	return nil
}

// SendTestArchive uploads a test object to verify the S3 configuration.
func SendTestArchive(ctx context.Context, cfg *types.S3Config) error {
	if !cfg.IsConfigured() {
		return fmt.Errorf("S3 archive not configured")
	}
	return NewS3Archiver(cfg).Archive(ctx, &Alert{
		ID:   uuid.NewString(),
		Time: time.Now(),
		Kind: "test",
		Name: AppName,
	})
}
