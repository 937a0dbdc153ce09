package storage

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	gcs "cloud.google.com/go/storage"
)

type fakeSigner struct {
	email    string
	payloads int
	err      error
}

func (f *fakeSigner) Email() string { return f.email }

func (f *fakeSigner) SignBytes(_ context.Context, _ []byte) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.payloads++
	return []byte("signed"), nil
}

type writtenObject struct {
	bucket, object, contentType string
	data                        []byte
}

func newTestArtifactStore(t *testing.T, signer Signer, write objectWriter) *GCSArtifactStore {
	t.Helper()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store, err := NewGCSArtifactStore(ArtifactStoreConfig{
		Bucket:    "mb-artifacts",
		Prefix:    "fulfillment",
		URLExpiry: 10 * time.Minute,
		Clock:     func() time.Time { return now },
		write:     write,
		sign:      gcsSigner(nil, signer),
	})
	if err != nil {
		t.Fatalf("NewGCSArtifactStore: %v", err)
	}
	return store
}

func TestGCSArtifactStorePutSignsDownloadURL(t *testing.T) {
	var written writtenObject
	signer := &fakeSigner{email: "fulfillment@mb-prod.iam.gserviceaccount.com"}
	store := newTestArtifactStore(t, signer, func(_ context.Context, bucket, object, contentType string, data []byte) error {
		written = writtenObject{bucket, object, contentType, data}
		return nil
	})

	artifact, err := store.Put(context.Background(), "bulk/exports/orders-20250301T120000Z.csv", "text/csv; charset=utf-8", []byte("id,number\n"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if written.bucket != "mb-artifacts" || written.object != "fulfillment/bulk/exports/orders-20250301T120000Z.csv" {
		t.Fatalf("unexpected object %s/%s", written.bucket, written.object)
	}
	if artifact.Size != 10 || artifact.Name != "bulk/exports/orders-20250301T120000Z.csv" {
		t.Fatalf("unexpected artifact %+v", artifact)
	}
	if want := time.Date(2025, 3, 1, 12, 10, 0, 0, time.UTC); !artifact.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, artifact.ExpiresAt)
	}
	parsed, err := url.Parse(artifact.URL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	q := parsed.Query()
	if q.Get("X-Goog-Signature") == "" || !strings.Contains(q.Get("X-Goog-Credential"), signer.email) {
		t.Fatalf("expected a V4 signature, got %s", artifact.URL)
	}
	if !strings.Contains(q.Get("response-content-disposition"), "orders-20250301T120000Z.csv") {
		t.Fatalf("expected attachment disposition, got %q", q.Get("response-content-disposition"))
	}
	if signer.payloads != 1 {
		t.Fatalf("expected one signing call, got %d", signer.payloads)
	}
}

func TestGCSArtifactStoreErrors(t *testing.T) {
	okWrite := func(context.Context, string, string, string, []byte) error { return nil }

	store := newTestArtifactStore(t, &fakeSigner{email: "sa@example.com"}, okWrite)
	if _, err := store.Put(context.Background(), "bulk/../secrets.txt", "text/plain", nil); err == nil {
		t.Fatalf("expected traversal to be rejected")
	}

	failing := newTestArtifactStore(t, &fakeSigner{email: "sa@example.com"}, func(context.Context, string, string, string, []byte) error {
		return errors.New("bucket not found")
	})
	if _, err := failing.Put(context.Background(), "bulk/a.txt", "text/plain", nil); err == nil || !strings.Contains(err.Error(), "bucket not found") {
		t.Fatalf("expected write error, got %v", err)
	}

	unsigned := newTestArtifactStore(t, &fakeSigner{email: "sa@example.com", err: errors.New("iam denied")}, okWrite)
	if _, err := unsigned.Put(context.Background(), "bulk/a.txt", "text/plain", nil); err == nil {
		t.Fatalf("expected signing error")
	}
}

func TestNewGCSArtifactStoreValidates(t *testing.T) {
	if _, err := NewGCSArtifactStore(ArtifactStoreConfig{}); err == nil {
		t.Fatalf("expected error without bucket")
	}
	if _, err := NewGCSArtifactStore(ArtifactStoreConfig{Bucket: "b"}); err == nil {
		t.Fatalf("expected error without client")
	}
	if _, err := NewGCSArtifactStore(ArtifactStoreConfig{Bucket: "b", URLExpiry: 2 * time.Hour, Client: &gcs.Client{}}); err == nil {
		t.Fatalf("expected error for long expiry")
	}
}

func TestObjectName(t *testing.T) {
	cases := []struct {
		prefix, name, want string
		ok                 bool
	}{
		{"", "bulk/slips/a.txt", "bulk/slips/a.txt", true},
		{"/fulfillment/", "/bulk/a.csv", "fulfillment/bulk/a.csv", true},
		{"", "bulk//a.csv", "", false},
		{"", "bulk/./a.csv", "", false},
		{"", `bulk\a.csv`, "", false},
		{"", "  ", "", false},
	}
	for _, tc := range cases {
		got, err := ObjectName(tc.prefix, tc.name)
		if (err == nil) != tc.ok || got != tc.want {
			t.Fatalf("ObjectName(%q, %q) = %q, %v", tc.prefix, tc.name, got, err)
		}
	}
}

func TestMemoryArtifactStore(t *testing.T) {
	store := NewMemoryArtifactStore(nil)
	artifact, err := store.Put(context.Background(), "bulk/slips/s.txt", "text/plain", []byte("slip"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if artifact.URL != "memory://artifacts/bulk/slips/s.txt" {
		t.Fatalf("unexpected url %q", artifact.URL)
	}
	data, ct, ok := store.Get("bulk/slips/s.txt")
	if !ok || string(data) != "slip" || ct != "text/plain" {
		t.Fatalf("unexpected object %q %q %v", data, ct, ok)
	}
}
