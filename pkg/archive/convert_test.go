package archive_test

import (
	"testing"
	"time"

	"github.com/illmade-knight/captionflow/pkg/archive"
	"github.com/illmade-knight/captionflow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToArchived(t *testing.T) {
	updated := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	archived := time.Date(2024, 5, 1, 9, 0, 5, 0, time.UTC)

	row, err := archive.ToArchived(types.Document{
		ID:         "doc-1",
		Fields:     map[string]interface{}{"image_url": "https://x/img.png", "description": "a cat", "confidence": 0.92},
		UpdateTime: updated,
	}, archived)
	require.NoError(t, err)
	assert.Equal(t, &types.ArchivedAnnotation{
		DocumentID:  "doc-1",
		ImageURL:    "https://x/img.png",
		Description: "a cat",
		Confidence:  0.92,
		UpdatedAt:   updated,
		ArchivedAt:  archived,
	}, row)
	assert.Equal(t, "2024/05/01", row.GetBatchKey())

	t.Run("integer confidence", func(t *testing.T) {
		row, err := archive.ToArchived(types.Document{ID: "d", Fields: map[string]interface{}{"image_url": "u", "confidence": int64(1)}}, archived)
		require.NoError(t, err)
		assert.Equal(t, 1.0, row.Confidence)
	})

	t.Run("missing url", func(t *testing.T) {
		_, err := archive.ToArchived(types.Document{ID: "d", Fields: map[string]interface{}{"description": "x"}}, archived)
		assert.Error(t, err)
	})

	t.Run("bad confidence", func(t *testing.T) {
		_, err := archive.ToArchived(types.Document{ID: "d", Fields: map[string]interface{}{"image_url": "u", "confidence": "high"}}, archived)
		assert.Error(t, err)
	})
}
