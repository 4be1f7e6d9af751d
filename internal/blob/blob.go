// Package blob is the cold-tier object store.
//
// Objects are immutable byte blobs addressed by a slash-separated key and
// carrying a content type and a small set of string tags. Put overwrites,
// so re-archiving a record after a failed hot delete is idempotent.
package blob

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"

	cserrors "github.com/xtxerr/contentstore/internal/errors"
)

// Object tag limits, as enforced by S3.
const (
	MaxTags        = 10
	maxTagKeyLen   = 128
	maxTagValueLen = 256
)

// Object is a stored blob with its attributes.
type Object struct {
	Key         string
	Data        []byte
	ContentType string
	Tags        map[string]string
}

// Store is an object store.
type Store interface {
	// Put writes data under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte, contentType string, tags map[string]string) error

	// Get reads an object, or returns errors.ErrNotFound.
	Get(ctx context.Context, key string) (*Object, error)

	// List returns the keys under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the store.
	Close() error
}

// ValidateKey rejects keys that are empty, absolute, or not in clean
// slash-separated form.
func ValidateKey(key string) error {
	if key == "" {
		return cserrors.NewInvalidInput("key", "empty")
	}
	if strings.HasPrefix(key, "/") || path.Clean(key) != key || key == "." {
		return cserrors.NewInvalidInput("key", fmt.Sprintf("%q is not a clean relative key", key))
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return cserrors.NewInvalidInput("key", fmt.Sprintf("%q escapes the store", key))
		}
	}
	return nil
}

var invalidTagChars = regexp.MustCompile(`[^a-zA-Z0-9+\-._:/@ =]`)

// CleanTags returns tags with unsupported characters replaced by '_' and
// over-long values truncated, so any metadata value is a valid object tag.
// Empty keys are dropped.
func CleanTags(tags map[string]string) (map[string]string, error) {
	if len(tags) > MaxTags {
		return nil, cserrors.NewInvalidInput("tags", fmt.Sprintf("%d tags, at most %d allowed", len(tags), MaxTags))
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		k = truncate(invalidTagChars.ReplaceAllString(k, "_"), maxTagKeyLen)
		if k == "" {
			continue
		}
		out[k] = truncate(invalidTagChars.ReplaceAllString(v, "_"), maxTagValueLen)
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Options selects and configures a Store.
type Options struct {
	// Driver is filesystem, s3 or memory.
	Driver string
	Dir    string
	S3     S3Config
}

// Open constructs the store named by opts.Driver.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "filesystem", "":
		return NewFilesystem(opts.Dir)
	case "s3":
		return NewS3(ctx, opts.S3)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, cserrors.NewInvalidInput("driver", fmt.Sprintf("unknown blob driver %q", opts.Driver))
	}
}
