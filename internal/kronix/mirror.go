package kronix

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// mirrorPrefix namespaces archive objects inside the bucket.
const mirrorPrefix = "archives/"

// Mirror caches release archives in an S3-compatible bucket, so repeated
// builds and CI machines stop hammering the upstream release servers.
type Mirror struct {
	Client *s3.Client
	Bucket string
}

// MirrorFromConfig builds a Mirror from the MIRROR_* configuration keys.
// When none are set the mirror is simply disabled and (nil, nil) is
// returned; a partial configuration is an error.
func MirrorFromConfig(ctx context.Context, cfg *Config) (*Mirror, error) {
	endpoint := cfg.Values["MIRROR_ENDPOINT"]
	accessKey := cfg.Values["MIRROR_ACCESS_KEY_ID"]
	secretKey := cfg.Values["MIRROR_SECRET_ACCESS_KEY"]
	bucket := cfg.Values["MIRROR_BUCKET"]

	if endpoint == "" && accessKey == "" && secretKey == "" && bucket == "" {
		return nil, nil
	}
	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		return nil, fmt.Errorf("mirror configuration incomplete (need MIRROR_ENDPOINT, MIRROR_ACCESS_KEY_ID, MIRROR_SECRET_ACCESS_KEY, MIRROR_BUCKET)")
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{URL: endpoint}, nil
	})

	options := []func(*config.LoadOptions) error{
		config.WithEndpointResolverWithOptions(resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
		config.WithRegion(cfg.Get("MIRROR_REGION", "auto")),
	}

	if Debug {
		options = append(options, config.WithClientLogMode(aws.LogSigning|aws.LogRetries|aws.LogRequest|aws.LogResponse))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load mirror config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &Mirror{Client: client, Bucket: bucket}, nil
}

// Download fetches the named archive from the mirror into dest, staging
// through a .part file so an interrupted transfer never leaves a truncated
// archive behind.
func (m *Mirror) Download(ctx context.Context, name, dest string) error {
	output, err := m.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.Bucket),
		Key:    aws.String(mirrorPrefix + name),
	})
	if err != nil {
		return err
	}
	defer output.Body.Close()

	part := dest + ".part"
	f, err := os.Create(part)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, output.Body); err != nil {
		f.Close()
		os.Remove(part)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(part)
		return err
	}
	return os.Rename(part, dest)
}

// Upload stores a local archive on the mirror under its archive name.
func (m *Mirror) Upload(ctx context.Context, name, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return err
	}

	contentType := "application/octet-stream"
	if strings.HasSuffix(name, ".zip") {
		contentType = "application/zip"
	} else if strings.HasSuffix(name, ".gz") || strings.HasSuffix(name, ".tgz") {
		contentType = "application/gzip"
	}

	_, err = m.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.Bucket),
		Key:           aws.String(mirrorPrefix + name),
		Body:          file,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String(contentType),
	})
	return err
}
