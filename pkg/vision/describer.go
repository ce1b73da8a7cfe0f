package vision

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Caption is one candidate description of an image.
type Caption struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// ImageDescription is the ranked result of a describe call. Captions are kept
// in the order the service returned them; element zero is the best candidate.
// The order is not re-checked locally.
type ImageDescription struct {
	Captions  []Caption `json:"captions"`
	Tags      []string  `json:"tags,omitempty"`
	RequestID string    `json:"requestId,omitempty"`
}

// Best returns the top-ranked caption, or false when there is none.
func (d *ImageDescription) Best() (Caption, bool) {
	if d == nil || len(d.Captions) == 0 {
		return Caption{}, false
	}
	return d.Captions[0], true
}

// Describer produces captions for the image at a URL.
type Describer interface {
	Describe(ctx context.Context, imageURL string) (*ImageDescription, error)
}

// Provider names accepted by NewDescriber.
const (
	ProviderAzure  = "azure"
	ProviderGoogle = "google"
)

// Config selects and configures a description service.
type Config struct {
	Provider      string `mapstructure:"provider"`
	Endpoint      string `mapstructure:"endpoint"`
	Key           string `mapstructure:"key"`
	MaxCandidates int    `mapstructure:"max_candidates"`
	Language      string `mapstructure:"language"`
}

// NewDescriber builds the Describer named by cfg.Provider.
func NewDescriber(ctx context.Context, cfg Config, logger zerolog.Logger) (Describer, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderAzure:
		return NewAzureDescriber(cfg, logger)
	case ProviderGoogle:
		return NewGoogleDescriber(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown vision provider %q", cfg.Provider)
	}
}
