package vision

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	visionapi "google.golang.org/api/vision/v1"
)

const labelDetection = "LABEL_DETECTION"

// GoogleDescriber uses Cloud Vision label detection as the caption source.
// Each label becomes one caption, in the order (descending score) the API returns.
type GoogleDescriber struct {
	service       *visionapi.Service
	maxCandidates int
	language      string
	logger        zerolog.Logger
}

// NewGoogleDescriber creates a describer backed by the Cloud Vision REST API.
// cfg.Key is used as the API key; cfg.Endpoint overrides the default base URL.
func NewGoogleDescriber(ctx context.Context, cfg Config, logger zerolog.Logger) (*GoogleDescriber, error) {
	if cfg.Key == "" {
		return nil, errors.New("vision key is required")
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = defaultMaxCandidate
	}
	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.Key)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	svc, err := visionapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("vision.NewService: %w", err)
	}

	return &GoogleDescriber{
		service:       svc,
		maxCandidates: cfg.MaxCandidates,
		language:      cfg.Language,
		logger:        logger.With().Str("component", "GoogleDescriber").Logger(),
	}, nil
}

// Describe runs label detection on the image at imageURL.
func (d *GoogleDescriber) Describe(ctx context.Context, imageURL string) (*ImageDescription, error) {
	req := &visionapi.BatchAnnotateImagesRequest{
		Requests: []*visionapi.AnnotateImageRequest{{
			Image:        &visionapi.Image{Source: &visionapi.ImageSource{ImageUri: imageURL}},
			Features:     []*visionapi.Feature{{Type: labelDetection, MaxResults: int64(d.maxCandidates)}},
			ImageContext: &visionapi.ImageContext{LanguageHints: []string{d.language}},
		}},
	}

	resp, err := d.service.Images.Annotate(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("images.annotate for %s: %w", imageURL, err)
	}
	if len(resp.Responses) == 0 {
		return &ImageDescription{}, nil
	}

	result := resp.Responses[0]
	if result.Error != nil && result.Error.Code != 0 {
		return nil, fmt.Errorf("images.annotate for %s: status %d: %s", imageURL, result.Error.Code, result.Error.Message)
	}

	desc := &ImageDescription{Captions: captionsFromLabels(result.LabelAnnotations)}
	d.logger.Debug().Str("image_url", imageURL).Int("caption_count", len(desc.Captions)).Msg("Label detection completed")
	return desc, nil
}

func captionsFromLabels(labels []*visionapi.EntityAnnotation) []Caption {
	captions := make([]Caption, 0, len(labels))
	for _, l := range labels {
		if l == nil || l.Description == "" {
			continue
		}
		captions = append(captions, Caption{Text: l.Description, Confidence: l.Score})
	}
	return captions
}
