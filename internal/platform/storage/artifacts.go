package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	gcs "cloud.google.com/go/storage"

	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/services"
)

const (
	defaultArtifactURLExpiry = 15 * time.Minute
	maxArtifactURLExpiry     = time.Hour
)

type objectWriter func(ctx context.Context, bucket, object, contentType string, data []byte) error

type urlSigner func(ctx context.Context, bucket, object string, opts *gcs.SignedURLOptions) (string, error)

// ArtifactStoreConfig configures GCSArtifactStore.
type ArtifactStoreConfig struct {
	Client    *gcs.Client
	Bucket    string
	Prefix    string
	Signer    Signer
	URLExpiry time.Duration
	Clock     func() time.Time

	write objectWriter
	sign  urlSigner
}

// GCSArtifactStore writes bulk documents to Cloud Storage and hands back a short-lived signed
// download URL. Objects are private; the URL is the only way to read them.
type GCSArtifactStore struct {
	bucket string
	prefix string
	expiry time.Duration
	now    func() time.Time
	write  objectWriter
	sign   urlSigner
}

var _ services.ArtifactStore = (*GCSArtifactStore)(nil)

// NewGCSArtifactStore validates cfg.
func NewGCSArtifactStore(cfg ArtifactStoreConfig) (*GCSArtifactStore, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("storage: bucket name is required")
	}
	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = defaultArtifactURLExpiry
	}
	if expiry > maxArtifactURLExpiry {
		return nil, fmt.Errorf("storage: url expiry %s exceeds %s", expiry, maxArtifactURLExpiry)
	}
	write, sign := cfg.write, cfg.sign
	if write == nil || sign == nil {
		if cfg.Client == nil {
			return nil, errors.New("storage: client is required")
		}
	}
	if write == nil {
		write = gcsWriter(cfg.Client)
	}
	if sign == nil {
		sign = gcsSigner(cfg.Client, cfg.Signer)
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &GCSArtifactStore{
		bucket: bucket,
		prefix: cfg.Prefix,
		expiry: expiry,
		now:    func() time.Time { return now().UTC() },
		write:  write,
		sign:   sign,
	}, nil
}

func (s *GCSArtifactStore) Put(ctx context.Context, name, contentType string, data []byte) (services.Artifact, error) {
	object, err := ObjectName(s.prefix, name)
	if err != nil {
		return services.Artifact{}, err
	}
	if strings.TrimSpace(contentType) == "" {
		contentType = "application/octet-stream"
	}
	if err := s.write(ctx, s.bucket, object, contentType, data); err != nil {
		return services.Artifact{}, fmt.Errorf("storage: write %s: %w", object, err)
	}

	expires := s.now().Add(s.expiry)
	query := url.Values{}
	query.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", path.Base(object)))
	query.Set("response-content-type", contentType)
	signed, err := s.sign(ctx, s.bucket, object, &gcs.SignedURLOptions{
		Method:          "GET",
		Scheme:          gcs.SigningSchemeV4,
		Expires:         expires,
		QueryParameters: query,
	})
	if err != nil {
		return services.Artifact{}, fmt.Errorf("storage: sign %s: %w", object, err)
	}
	return services.Artifact{
		Name:        name,
		ContentType: contentType,
		Size:        len(data),
		URL:         signed,
		ExpiresAt:   expires,
	}, nil
}

func gcsWriter(client *gcs.Client) objectWriter {
	return func(ctx context.Context, bucket, object, contentType string, data []byte) error {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = contentType
		w.CacheControl = "private, no-store"
		if _, err := w.Write(data); err != nil {
			_ = w.Close()
			return err
		}
		return w.Close()
	}
}

// gcsSigner signs with signer when present; otherwise the bucket handle detects the runtime
// service account and signs through IAM.
func gcsSigner(client *gcs.Client, signer Signer) urlSigner {
	return func(ctx context.Context, bucket, object string, opts *gcs.SignedURLOptions) (string, error) {
		if signer != nil {
			opts.GoogleAccessID = signer.Email()
			opts.SignBytes = func(payload []byte) ([]byte, error) {
				return signer.SignBytes(ctx, payload)
			}
			return gcs.SignedURL(bucket, object, opts)
		}
		return client.Bucket(bucket).SignedURL(object, opts)
	}
}

// MemoryArtifactStore keeps artifacts in process for local runs. URLs use the memory:// scheme.
type MemoryArtifactStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	now     func() time.Time
}

type memoryObject struct {
	contentType string
	data        []byte
}

var _ services.ArtifactStore = (*MemoryArtifactStore)(nil)

// NewMemoryArtifactStore returns an empty store.
func NewMemoryArtifactStore(clock func() time.Time) *MemoryArtifactStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryArtifactStore{objects: make(map[string]memoryObject), now: clock}
}

func (s *MemoryArtifactStore) Put(_ context.Context, name, contentType string, data []byte) (services.Artifact, error) {
	object, err := ObjectName("", name)
	if err != nil {
		return services.Artifact{}, err
	}
	s.mu.Lock()
	s.objects[object] = memoryObject{contentType: contentType, data: append([]byte(nil), data...)}
	s.mu.Unlock()
	return services.Artifact{
		Name:        name,
		ContentType: contentType,
		Size:        len(data),
		URL:         "memory://artifacts/" + object,
		ExpiresAt:   s.now().UTC().Add(defaultArtifactURLExpiry),
	}, nil
}

// Get returns a stored object.
func (s *MemoryArtifactStore) Get(name string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[strings.Trim(name, "/")]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), obj.data...), obj.contentType, true
}
