// Package archive encodes cold-tier snapshots.
//
// A snapshot is one ArchivedContent value written as a single object. The
// codec decides the byte format and the object's content type; the key is
// always types.ArchiveKey, independent of the format.
package archive

import (
	"fmt"

	"github.com/xtxerr/contentstore/internal/types"
)

// Content types of the supported formats.
const (
	ContentTypeJSON    = "application/json"
	ContentTypeParquet = "application/vnd.apache.parquet"
)

// Codec encodes and decodes snapshots.
type Codec interface {
	// Name is the configuration name of the format.
	Name() string

	// ContentType is the object content type.
	ContentType() string

	Encode(a *types.ArchivedContent) ([]byte, error)
	Decode(data []byte) (*types.ArchivedContent, error)
}

// NewCodec returns the codec for a configured format. compression applies
// to parquet only.
func NewCodec(format, compression string) (Codec, error) {
	switch format {
	case "json", "":
		return JSON{}, nil
	case "parquet":
		c, err := ParseCompression(compression)
		if err != nil {
			return nil, err
		}
		return Parquet{Compression: c}, nil
	default:
		return nil, fmt.Errorf("unknown archive format %q", format)
	}
}

// ForContentType returns a codec able to decode objects of contentType.
func ForContentType(contentType string) (Codec, error) {
	switch contentType {
	case ContentTypeJSON:
		return JSON{}, nil
	case ContentTypeParquet:
		return Parquet{}, nil
	default:
		return nil, fmt.Errorf("no archive codec for content type %q", contentType)
	}
}
