package annotate

import (
	"context"
	"fmt"

	"github.com/illmade-knight/captionflow/pkg/types"
	"github.com/illmade-knight/captionflow/pkg/vision"
	"github.com/rs/zerolog"
)

// Annotator turns an upload event into an AnnotationRecord by asking the
// description service for captions and keeping the first one.
type Annotator struct {
	describer vision.Describer
	logger    zerolog.Logger
}

// NewAnnotator creates an Annotator around a Describer.
func NewAnnotator(describer vision.Describer, logger zerolog.Logger) *Annotator {
	return &Annotator{
		describer: describer,
		logger:    logger.With().Str("component", "Annotator").Logger(),
	}
}

// Annotate describes the uploaded image. It returns (nil, nil) when the
// service produced no caption: that upload is skipped, not failed.
func (a *Annotator) Annotate(ctx context.Context, evt *types.UploadEvent) (*types.AnnotationRecord, error) {
	if evt == nil {
		return nil, types.ErrMissingURL
	}
	imageURL := evt.ImageURL()
	if imageURL == "" {
		return nil, types.ErrMissingURL
	}
	a.logger.Info().Str("image_url", imageURL).Interface("event", evt).Msg("Upload event received")

	desc, err := a.describer.Describe(ctx, imageURL)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", imageURL, err)
	}

	best, ok := desc.Best()
	if !ok {
		a.logger.Info().Str("image_url", imageURL).Msg("No description detected, nothing to record")
		return nil, nil
	}
	for _, c := range desc.Captions {
		a.logger.Info().Str("image_url", imageURL).Str("caption", c.Text).Float64("confidence", c.Confidence).Msg("Caption candidate")
	}

	return &types.AnnotationRecord{
		SourceURL:   imageURL,
		Description: best.Text,
		Confidence:  best.Confidence,
	}, nil
}
