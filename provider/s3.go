package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ensure interface is implemented
var _ Provider = (*S3Provider)(nil)

// ErrNotS3URI is returned by ParseS3URI for anything that is not s3://bucket[/prefix].
var ErrNotS3URI = errors.New("not an s3:// uri")

// S3Provider stores files as objects under a bucket prefix. The relay uses it
// to mirror the sent archive off-host.
type S3Provider struct {
	client   *s3.Client
	bucket   string
	prefix   string
	uploader *manager.Uploader
}

// ParseS3URI splits s3://bucket/prefix into its bucket and prefix.
func ParseS3URI(uri string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrNotS3URI, uri)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("%w: missing bucket in %q", ErrNotS3URI, uri)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// NewS3Provider creates a new S3Provider using the default AWS credential chain.
func NewS3Provider(ctx context.Context, bucket string, prefix string) (*S3Provider, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	return &S3Provider{
		client:   client,
		bucket:   bucket,
		prefix:   prefix,
		uploader: manager.NewUploader(client),
	}, nil
}

// buildKey constructs the full S3 key based on the provider's prefix
func (p *S3Provider) buildKey(subPath string) string {
	subPath = strings.TrimPrefix(subPath, "/")
	if p.prefix == "" {
		return subPath
	}
	key := path.Join(p.prefix, subPath)
	return strings.TrimPrefix(key, "/")
}

// String returns the provider location as an s3:// uri.
func (p *S3Provider) String() string {
	return "s3://" + path.Join(p.bucket, p.prefix)
}

// Stat returns the FileInfo for the given object key.
func (p *S3Provider) Stat(ctx context.Context, pth string) (FileInfo, error) {
	key := p.buildKey(pth)

	headOut, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("stat failed for %q: %w", pth, err)
	}

	var modTime time.Time
	if headOut.LastModified != nil {
		modTime = *headOut.LastModified
	}
	return NewFileInfo(path.Base(key), aws.ToInt64(headOut.ContentLength), false, modTime), nil
}

// List returns the objects and common prefixes directly under the given directory.
func (p *S3Provider) List(ctx context.Context, pth string) ([]FileInfo, error) {
	dirPrefix := p.buildKey(pth)
	if dirPrefix != "" && !strings.HasSuffix(dirPrefix, "/") {
		dirPrefix += "/"
	}

	infos := []FileInfo{}
	var continuationToken *string

	for {
		out, err := p.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(p.bucket),
			Prefix:            aws.String(dirPrefix),
			Delimiter:         aws.String("/"),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list %q: %w", pth, err)
		}

		for _, cp := range out.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), dirPrefix), "/")
			infos = append(infos, NewFileInfo(name, 0, true, time.Time{}))
		}

		for _, obj := range out.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), dirPrefix)
			if name == "" || strings.HasSuffix(name, "/") {
				continue
			}
			var modTime time.Time
			if obj.LastModified != nil {
				modTime = *obj.LastModified
			}
			infos = append(infos, NewFileInfo(name, aws.ToInt64(obj.Size), false, modTime))
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		continuationToken = out.NextContinuationToken
	}

	return infos, nil
}

// OpenRead opens an object for streaming reads.
func (p *S3Provider) OpenRead(ctx context.Context, pth string) (io.ReadCloser, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.buildKey(pth)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open read %q: %w", pth, err)
	}
	return out.Body, nil
}

// OpenWrite streams into a multipart upload. The object exists once Close returns nil;
// existing objects under the same key are replaced.
func (p *S3Provider) OpenWrite(ctx context.Context, pth string, _ FileInfo) (io.WriteCloser, error) {
	key := p.buildKey(pth)
	if key == "" || strings.HasSuffix(key, "/") {
		return nil, fmt.Errorf("invalid object key %q", key)
	}

	pr, pw := io.Pipe()
	errChan := make(chan error, 1)

	go func() {
		_, err := p.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(p.bucket),
			Key:    aws.String(key),
			Body:   pr,
		})
		pr.CloseWithError(err)
		errChan <- err
	}()

	return &asyncS3Writer{pw: pw, errChan: errChan}, nil
}

type asyncS3Writer struct {
	pw      *io.PipeWriter
	errChan <-chan error

	once sync.Once
	err  error
}

func (w *asyncS3Writer) Write(p []byte) (n int, err error) {
	return w.pw.Write(p)
}

// wait collects the upload result exactly once; later callers see the same error.
func (w *asyncS3Writer) wait() error {
	w.once.Do(func() {
		w.err = <-w.errChan
	})
	return w.err
}

// Close waits for the upload to complete.
func (w *asyncS3Writer) Close() error {
	if err := w.pw.Close(); err != nil {
		return err
	}
	if err := w.wait(); err != nil {
		return fmt.Errorf("s3 upload failed: %w", err)
	}
	return nil
}

// Abort cancels the upload; the uploader discards any parts already sent.
// Safe to call after Close.
func (w *asyncS3Writer) Abort() error {
	w.pw.CloseWithError(errors.New("upload aborted"))
	_ = w.wait()
	return nil
}
