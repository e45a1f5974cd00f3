package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS3Provider_ImplementsProvider(t *testing.T) {
	var _ Provider = (*S3Provider)(nil)
	var _ Aborter = (*asyncS3Writer)(nil)
}

func TestS3Provider_BuildKey(t *testing.T) {
	tests := []struct {
		prefix string
		path   string
		expect string
	}{
		{"", "MX_1.zip", "MX_1.zip"},
		{"", "/MX_1.zip", "MX_1.zip"},
		{"sent", "MX_1.zip", "sent/MX_1.zip"},
		{"sent/", "MX_1.zip", "sent/MX_1.zip"},
		{"sent", "/MX_1.zip", "sent/MX_1.zip"},
		{"archive/cts/sent", "mx/MX_1.zip", "archive/cts/sent/mx/MX_1.zip"},
		{"", "", ""},
		{"sent", "", "sent"},
	}

	for _, tt := range tests {
		t.Run(tt.prefix+"+"+tt.path, func(t *testing.T) {
			p := &S3Provider{prefix: tt.prefix}
			actual := p.buildKey(tt.path)
			if actual != tt.expect {
				t.Errorf("buildKey(%q, %q) = %q; want %q", tt.prefix, tt.path, actual, tt.expect)
			}
		})
	}
}

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		uri    string
		bucket string
		prefix string
		err    bool
	}{
		{"s3://relay-archive", "relay-archive", "", false},
		{"s3://relay-archive/sent", "relay-archive", "sent", false},
		{"s3://relay-archive/sent/cts/", "relay-archive", "sent/cts", false},
		{"s3://", "", "", true},
		{"/var/sent", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, prefix, err := ParseS3URI(tt.uri)
			if tt.err {
				if !errors.Is(err, ErrNotS3URI) {
					t.Fatalf("expected ErrNotS3URI, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if bucket != tt.bucket || prefix != tt.prefix {
				t.Errorf("ParseS3URI(%q) = (%q, %q); want (%q, %q)", tt.uri, bucket, prefix, tt.bucket, tt.prefix)
			}
		})
	}
}

// deniedS3 points a provider at an endpoint that refuses every request.
func deniedS3(t *testing.T) *S3Provider {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`))
	}))
	t.Cleanup(srv.Close)

	client := s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(srv.URL),
		UsePathStyle: true,
		Retryer:      aws.NopRetryer{},
		Credentials: aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "relay", SecretAccessKey: "relay"}, nil
		}),
	})
	return &S3Provider{client: client, bucket: "archive", prefix: "sent", uploader: manager.NewUploader(client)}
}

func TestS3Writer_AbortAfterFailedClose(t *testing.T) {
	p := deniedS3(t)

	w, err := p.OpenWrite(context.Background(), "MX_1.zip", nil)
	require.NoError(t, err)
	_, err = w.Write([]byte("zip bytes"))
	require.NoError(t, err)

	closeErr := w.Close()
	require.Error(t, closeErr)
	assert.Contains(t, closeErr.Error(), "s3 upload failed")

	done := make(chan error, 1)
	go func() { done <- w.(Aborter).Abort() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Abort blocked after a failed Close")
	}

	// Close stays idempotent once the result is collected.
	assert.Error(t, w.Close())
}

func TestS3Writer_AbortBeforeClose(t *testing.T) {
	p := deniedS3(t)

	w, err := p.OpenWrite(context.Background(), "MX_2.zip", nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- w.(Aborter).Abort() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Abort did not return")
	}
}
