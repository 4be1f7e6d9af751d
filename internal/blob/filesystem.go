package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	cserrors "github.com/xtxerr/contentstore/internal/errors"
)

// Filesystem stores objects as plain files under a root directory:
//
//	{root}/
//	  objects/{key}        # object data
//	  meta/{key}.json      # content type and tags
//
// Writes go through a temp file and a rename, so readers never observe a
// partial object.
type Filesystem struct {
	root string

	mu     sync.RWMutex
	closed bool
}

type fileMeta struct {
	ContentType string            `json:"content_type"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// NewFilesystem returns a store rooted at dir, creating it if needed.
func NewFilesystem(dir string) (*Filesystem, error) {
	if dir == "" {
		return nil, cserrors.NewMissingField("dir")
	}
	for _, sub := range []string{"objects", "meta"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", sub, err)
		}
	}
	return &Filesystem{root: dir}, nil
}

// Root returns the root directory.
func (f *Filesystem) Root() string {
	return f.root
}

func (f *Filesystem) objectPath(key string) string {
	return filepath.Join(f.root, "objects", filepath.FromSlash(key))
}

func (f *Filesystem) metaPath(key string) string {
	return filepath.Join(f.root, "meta", filepath.FromSlash(key)+".json")
}

func (f *Filesystem) check(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.closed {
		return cserrors.ErrClosed
	}
	return ValidateKey(key)
}

// Put writes the object and its metadata. The metadata is written second,
// so an object without metadata is one whose Put did not complete.
func (f *Filesystem) Put(ctx context.Context, key string, data []byte, contentType string, tags map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check(ctx, key); err != nil {
		return err
	}
	clean, err := CleanTags(tags)
	if err != nil {
		return err
	}

	meta, err := json.Marshal(fileMeta{ContentType: contentType, Tags: clean})
	if err != nil {
		return fmt.Errorf("marshal object meta: %w", err)
	}

	if err := writeFileAtomic(f.objectPath(key), data); err != nil {
		return fmt.Errorf("write object %s: %w", key, err)
	}
	if err := writeFileAtomic(f.metaPath(key), meta); err != nil {
		return fmt.Errorf("write object meta %s: %w", key, err)
	}
	return nil
}

// Get reads an object.
func (f *Filesystem) Get(ctx context.Context, key string) (*Object, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := f.check(ctx, key); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(f.metaPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cserrors.NewNotFound("object", key)
		}
		return nil, fmt.Errorf("read object meta %s: %w", key, err)
	}
	var meta fileMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode object meta %s: %w", key, err)
	}

	data, err := os.ReadFile(f.objectPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cserrors.NewNotFound("object", key)
		}
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}

	if meta.Tags == nil {
		meta.Tags = map[string]string{}
	}
	return &Object{Key: key, Data: data, ContentType: meta.ContentType, Tags: meta.Tags}, nil
}

// List returns the keys of complete objects under prefix.
func (f *Filesystem) List(ctx context.Context, prefix string) ([]string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.closed {
		return nil, cserrors.ErrClosed
	}

	base := filepath.Join(f.root, "meta")
	var keys []string
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".json") || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		key := strings.TrimSuffix(filepath.ToSlash(rel), ".json")
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}

	sort.Strings(keys)
	return keys, nil
}

// Delete removes an object and its metadata.
func (f *Filesystem) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.check(ctx, key); err != nil {
		return err
	}
	for _, p := range []string{f.metaPath(key), f.objectPath(key)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete object %s: %w", key, err)
		}
	}
	return nil
}

// Close marks the store closed.
func (f *Filesystem) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// writeFileAtomic writes data to a temp file in the target directory, syncs
// it and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(0644); err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	success = true
	return nil
}
