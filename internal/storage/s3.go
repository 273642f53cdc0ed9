package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
)

// Options configures an S3Client.
type Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	// Password seals uploads and opens sealed downloads.
	Password string
}

// Object is a stored document.
type Object struct {
	Data   []byte
	Name   string
	Sealed bool
	Size   int64
}

// S3Client moves document bytes to and from S3.
type S3Client struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	password string
}

// NewS3Client creates a new S3 client. Static keys are used when both are
// set; otherwise the default AWS credential chain applies.
func NewS3Client(ctx context.Context, opts Options) (*S3Client, error) {
	var loaders []func(*awscfg.LoadOptions) error
	if opts.Region != "" {
		loaders = append(loaders, awscfg.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loaders = append(loaders, awscfg.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, "")))
	}
	cfg, err := awscfg.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	cli := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Client{
		client:   cli,
		uploader: manager.NewUploader(cli),
		bucket:   opts.Bucket,
		password: opts.Password,
	}, nil
}

func (s *S3Client) bucketOr(b string) string {
	if b != "" {
		return b
	}
	return s.bucket
}

// CheckBucket confirms the default bucket exists and is reachable.
func (s *S3Client) CheckBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

// Download fetches an object and opens it when it is sealed.
func (s *S3Client) Download(ctx context.Context, bucket, key string) (*Object, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketOr(bucket)),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download from S3: %w", err)
	}
	defer result.Body.Close()

	raw, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object: %w", err)
	}

	obj := &Object{Data: raw, Size: int64(len(raw))}
	for k, v := range result.Metadata {
		if strings.EqualFold(k, "name") {
			obj.Name = v
		}
	}
	if IsSealed(raw) {
		plain, err := Unseal(raw, s.password)
		if err != nil {
			return nil, fmt.Errorf("failed to open sealed object %s: %w", key, err)
		}
		obj.Data, obj.Sealed = plain, true
	}

	log.Info().
		Str("key", key).
		Bool("sealed", obj.Sealed).
		Str("original_name", obj.Name).
		Int("size", len(obj.Data)).
		Msg("downloaded file from S3")
	return obj, nil
}

// Upload stores data under key, sealing it when a password is configured.
func (s *S3Client) Upload(ctx context.Context, bucket, key, name string, data []byte) error {
	body := data
	meta := map[string]string{"name": name, "content-type": "application/pdf"}
	if s.password != "" {
		sealed, err := Seal(data, s.password)
		if err != nil {
			return fmt.Errorf("failed to seal data: %w", err)
		}
		body = sealed
		meta["encrypted"] = "true"
		meta["encryption-format"] = sealMagic
	}

	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucketOr(bucket)),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/pdf"),
		Metadata:    meta,
	})
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("upload to S3 failed")
		return fmt.Errorf("failed to upload to S3: %w", err)
	}
	log.Info().Str("key", key).Str("location", out.Location).Bool("sealed", s.password != "").Msg("uploaded file to S3")
	return nil
}

// NextVersion returns the next free suffix N for keys named baseKey_vN.
func (s *S3Client) NextVersion(ctx context.Context, bucket, baseKey string) (int, error) {
	if baseKey == "" {
		return 1, nil
	}
	prefix := strings.TrimSuffix(baseKey, ".pdf") + "_v"
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucketOr(bucket)),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 1, fmt.Errorf("list versions failed: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}
	return nextVersion(prefix, keys), nil
}

func nextVersion(prefix string, keys []string) int {
	maxVersion := 0
	for _, key := range keys {
		rest, ok := strings.CutPrefix(key, prefix)
		if !ok {
			continue
		}
		rest = strings.TrimSuffix(rest, ".pdf")
		if n, err := strconv.Atoi(rest); err == nil && n > maxVersion {
			maxVersion = n
		}
	}
	return maxVersion + 1
}

// VersionedKey inserts a _vN suffix before a .pdf extension.
func VersionedKey(baseKey string, n int) string {
	if stem, ok := strings.CutSuffix(baseKey, ".pdf"); ok {
		return fmt.Sprintf("%s_v%d.pdf", stem, n)
	}
	return fmt.Sprintf("%s_v%d", baseKey, n)
}
