// Package lake moves files between the local disk and the data lake.
package lake

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
)

// ErrNotFound is returned (wrapped) when an object does not exist.
var ErrNotFound = errors.New("lake: object not found")

// Store is an object store addressed by slash-separated keys.
type Store interface {
	// Put uploads the file at localPath to key, replacing any existing object.
	Put(ctx context.Context, key, localPath string) error
	// Get downloads key to localPath.
	Get(ctx context.Context, key, localPath string) error
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// URI returns the external address of key, as recorded in the catalog.
	URI(key string) string
}

// Options selects and configures a Store.
type Options struct {
	Driver    string // "local" or "minio"
	Root      string // local: base directory
	Bucket    string // minio: bucket name
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	Scheme    string // URI scheme for catalog entries, e.g. "gs" or "s3"
}

// Open builds the Store described by opts. Buckets are created on demand.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "local", "":
		return NewLocalStore(opts.Root)
	case "minio":
		s, err := NewMinioStore(opts)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, eris.Errorf("lake: unknown driver %q (valid: local, minio)", opts.Driver)
	}
}
