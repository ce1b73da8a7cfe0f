package archive

import (
	"errors"
	"fmt"
	"time"

	"github.com/illmade-knight/captionflow/pkg/types"
)

// ToArchived converts one annotation document into an archive row stamped
// with archivedAt.
func ToArchived(doc types.Document, archivedAt time.Time) (*types.ArchivedAnnotation, error) {
	url, _ := doc.Fields["image_url"].(string)
	if url == "" {
		return nil, fmt.Errorf("document %q: %w", doc.ID, errors.New("no image_url"))
	}
	description, _ := doc.Fields["description"].(string)
	confidence, err := toFloat(doc.Fields["confidence"])
	if err != nil {
		return nil, fmt.Errorf("document %q: %w", doc.ID, err)
	}
	return &types.ArchivedAnnotation{
		DocumentID:  doc.ID,
		ImageURL:    url,
		Description: description,
		Confidence:  confidence,
		UpdatedAt:   doc.UpdateTime.UTC(),
		ArchivedAt:  archivedAt.UTC(),
	}, nil
}

// toFloat accepts the numeric types a store may hand back for a float field.
func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("confidence has unexpected type %T", v)
	}
}
