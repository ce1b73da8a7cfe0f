package vision

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/rs/zerolog"
)

const (
	azureDescribePath   = "vision/v3.2/describe"
	azureKeyHeader      = "Ocp-Apim-Subscription-Key"
	azureModuleName     = "captionflow/vision"
	azureModuleVersion  = "v0.1.0"
	defaultLanguage     = "en"
	defaultMaxCandidate = 1
)

type azureDescribeRequest struct {
	URL string `json:"url"`
}

type azureDescribeResponse struct {
	Description struct {
		Tags     []string  `json:"tags"`
		Captions []Caption `json:"captions"`
	} `json:"description"`
	RequestID string `json:"requestId"`
}

// AzureDescriber calls the Computer Vision "describe" operation.
// Retries are disabled in the pipeline; redelivery of the triggering event is
// the only retry mechanism.
type AzureDescriber struct {
	pipeline      runtime.Pipeline
	endpoint      string
	key           string
	maxCandidates int
	language      string
	logger        zerolog.Logger
}

// NewAzureDescriber creates a describer for an Azure Computer Vision resource.
func NewAzureDescriber(cfg Config, logger zerolog.Logger) (*AzureDescriber, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("vision endpoint is required")
	}
	if cfg.Key == "" {
		return nil, errors.New("vision key is required")
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = defaultMaxCandidate
	}
	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}

	pl := runtime.NewPipeline(azureModuleName, azureModuleVersion, runtime.PipelineOptions{}, &policy.ClientOptions{
		Retry: policy.RetryOptions{MaxRetries: -1},
	})

	return &AzureDescriber{
		pipeline:      pl,
		endpoint:      cfg.Endpoint,
		key:           cfg.Key,
		maxCandidates: cfg.MaxCandidates,
		language:      cfg.Language,
		logger:        logger.With().Str("component", "AzureDescriber").Logger(),
	}, nil
}

// Describe returns the captions Computer Vision generates for imageURL.
// A non-200 answer is returned as an *azcore.ResponseError.
func (d *AzureDescriber) Describe(ctx context.Context, imageURL string) (*ImageDescription, error) {
	req, err := runtime.NewRequest(ctx, http.MethodPost, runtime.JoinPaths(d.endpoint, azureDescribePath))
	if err != nil {
		return nil, fmt.Errorf("failed to build describe request: %w", err)
	}
	q := req.Raw().URL.Query()
	q.Set("maxCandidates", strconv.Itoa(d.maxCandidates))
	q.Set("language", d.language)
	req.Raw().URL.RawQuery = q.Encode()
	req.Raw().Header.Set(azureKeyHeader, d.key)
	req.Raw().Header.Set("Accept", "application/json")

	if err := runtime.MarshalAsJSON(req, azureDescribeRequest{URL: imageURL}); err != nil {
		return nil, fmt.Errorf("failed to encode describe request: %w", err)
	}

	resp, err := d.pipeline.Do(req)
	if err != nil {
		return nil, fmt.Errorf("describe call for %s: %w", imageURL, err)
	}
	if !runtime.HasStatusCode(resp, http.StatusOK) {
		return nil, runtime.NewResponseError(resp)
	}

	var body azureDescribeResponse
	if err := runtime.UnmarshalAsJSON(resp, &body); err != nil {
		return nil, fmt.Errorf("failed to decode describe response: %w", err)
	}

	d.logger.Debug().
		Str("image_url", imageURL).
		Str("request_id", body.RequestID).
		Int("caption_count", len(body.Description.Captions)).
		Msg("Describe call completed")

	return &ImageDescription{
		Captions:  body.Description.Captions,
		Tags:      body.Description.Tags,
		RequestID: body.RequestID,
	}, nil
}
