package wfdb

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

// MirrorClient wraps the S3 client for the source mirror bucket.
type MirrorClient struct {
	Client *s3.Client
	Bucket string
	Prefix string
}

// NewMirrorClient initializes the mirror client from the [mirror]
// configuration. account_id selects the Cloudflare R2 endpoint; endpoint
// overrides it for plain S3 deployments.
func NewMirrorClient(mc *MirrorConfig) (*MirrorClient, error) {
	if mc.AccessKey == "" || mc.SecretKey == "" || mc.Bucket == "" {
		return nil, fmt.Errorf("mirror credentials missing in configuration (access_key, secret_key, bucket)")
	}
	endpoint := mc.Endpoint
	if endpoint == "" {
		if mc.AccountID == "" {
			return nil, fmt.Errorf("mirror needs either endpoint or account_id in configuration")
		}
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", mc.AccountID)
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{URL: endpoint}, nil
	})

	options := []func(*config.LoadOptions) error{
		config.WithEndpointResolverWithOptions(resolver),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(mc.AccessKey, mc.SecretKey, "")),
		config.WithRegion("auto"),
	}

	if Debug {
		options = append(options, config.WithClientLogMode(aws.LogSigning|aws.LogRetries|aws.LogRequest|aws.LogResponse|aws.LogRequestWithBody|aws.LogResponseWithBody))
	}

	awsCfg, err := config.LoadDefaultConfig(context.TODO(), options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load mirror config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = true
	})

	return &MirrorClient{
		Client: client,
		Bucket: mc.Bucket,
		Prefix: strings.Trim(mc.Prefix, "/"),
	}, nil
}

// objectKey places name under the configured key prefix.
func (m *MirrorClient) objectKey(name string) string {
	if m.Prefix == "" {
		return name
	}
	return m.Prefix + "/" + name
}

// MirrorObject is the metadata for one object in the bucket.
type MirrorObject struct {
	Key  string
	Size int64
}

// List returns the objects under the configured prefix.
func (m *MirrorClient) List(ctx context.Context) ([]MirrorObject, error) {
	var objects []MirrorObject
	paginator := s3.NewListObjectsV2Paginator(m.Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.Bucket),
		Prefix: aws.String(m.Prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			objects = append(objects, MirrorObject{
				Key:  *obj.Key,
				Size: *obj.Size,
			})
		}
	}
	return objects, nil
}

// contentTypeFor maps an archive filename to its upload content type.
func contentTypeFor(key string) string {
	switch {
	case strings.HasSuffix(key, ".tar.gz"), strings.HasSuffix(key, ".tgz"):
		return "application/gzip"
	case strings.HasSuffix(key, ".tar.xz"):
		return "application/x-xz"
	case strings.HasSuffix(key, ".tar.bz2"):
		return "application/x-bzip2"
	case strings.HasSuffix(key, ".tar.zst"):
		return "application/zstd"
	case strings.HasSuffix(key, ".zip"):
		return "application/zip"
	}
	return "application/octet-stream"
}

// UploadLocal uploads a file from disk under the configured prefix.
func (m *MirrorClient) UploadLocal(ctx context.Context, name, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return err
	}

	key := m.objectKey(name)
	_, err = m.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.Bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String(contentTypeFor(key)),
	})
	return err
}

// DownloadTo streams an object to destPath through a .part file so an
// interrupted transfer never looks like a cached archive.
func (m *MirrorClient) DownloadTo(ctx context.Context, key, destPath string) error {
	output, err := m.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return err
	}
	defer output.Body.Close()

	part := destPath + ".part"
	f, err := os.Create(part)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, output.Body); err != nil {
		f.Close()
		_ = os.Remove(part)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(part)
		return err
	}
	return os.Rename(part, destPath)
}
