package archive

import (
	"encoding/json"
	"fmt"

	"github.com/xtxerr/contentstore/internal/types"
)

// JSON encodes snapshots as a JSON document.
type JSON struct{}

// Name implements Codec.
func (JSON) Name() string { return "json" }

// ContentType implements Codec.
func (JSON) ContentType() string { return ContentTypeJSON }

// Encode implements Codec.
func (JSON) Encode(a *types.ArchivedContent) ([]byte, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// Decode implements Codec.
func (JSON) Decode(data []byte) (*types.ArchivedContent, error) {
	var a types.ArchivedContent
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &a, nil
}
