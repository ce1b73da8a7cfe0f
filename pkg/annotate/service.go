package annotate

import (
	"fmt"

	"github.com/illmade-knight/captionflow/pkg/consumers"
	"github.com/illmade-knight/captionflow/pkg/types"
	"github.com/rs/zerolog"
)

// NewIngestService wires a Processor behind the generic ProcessingService,
// decoding payloads with types.UploadEventDecoder.
func NewIngestService(
	numWorkers int,
	consumer consumers.MessageConsumer,
	processor *Processor,
	logger zerolog.Logger,
) (*consumers.ProcessingService[types.UploadEvent], error) {
	svc, err := consumers.NewProcessingService[types.UploadEvent](
		numWorkers,
		consumer,
		processor,
		types.UploadEventDecoder,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create processing service for ingest: %w", err)
	}
	return svc, nil
}
