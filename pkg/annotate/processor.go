package annotate

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/illmade-knight/captionflow/pkg/types"
	"github.com/rs/zerolog"
)

// AnnotationWriter persists one annotation under a caller-chosen document ID.
// Writing an ID that already exists must succeed without changing the record.
type AnnotationWriter interface {
	WriteAnnotation(ctx context.Context, id string, rec *types.AnnotationRecord) error
}

// ProcessorConfig holds configuration for the Processor.
type ProcessorConfig struct {
	NumWorkers int
}

// uploadNamespace scopes the document IDs derived from upload message IDs.
var uploadNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("captionflow/upload-events"))

// DocumentID derives the store ID for the record of one upload message, so a
// redelivered event addresses the same document.
func DocumentID(messageID string) string {
	if messageID == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(uploadNamespace, []byte(messageID)).String()
}

// Processor is the host adapter for IngestAndAnnotate. It implements
// consumers.MessageProcessor[types.UploadEvent]: each event is annotated,
// the record written, and the source message acked. Failures nack.
type Processor struct {
	config       ProcessorConfig
	annotator    *Annotator
	writer       AnnotationWriter
	logger       zerolog.Logger
	inputChan    chan *types.BatchedMessage[types.UploadEvent]
	wg           sync.WaitGroup
	shutdownCtx  context.Context
	shutdownFunc context.CancelFunc
}

// NewProcessor creates a Processor.
func NewProcessor(cfg ProcessorConfig, annotator *Annotator, writer AnnotationWriter, logger zerolog.Logger) *Processor {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	shutdownCtx, shutdownFunc := context.WithCancel(context.Background())
	return &Processor{
		config:       cfg,
		annotator:    annotator,
		writer:       writer,
		logger:       logger.With().Str("component", "AnnotateProcessor").Logger(),
		inputChan:    make(chan *types.BatchedMessage[types.UploadEvent], cfg.NumWorkers*2),
		shutdownCtx:  shutdownCtx,
		shutdownFunc: shutdownFunc,
	}
}

// Input returns the channel events are delivered on.
func (p *Processor) Input() chan<- *types.BatchedMessage[types.UploadEvent] {
	return p.inputChan
}

// Start launches the workers.
func (p *Processor) Start() {
	p.logger.Info().Int("workers", p.config.NumWorkers).Msg("Starting annotate processor...")
	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop drains events already handed over, then returns.
func (p *Processor) Stop() {
	p.logger.Info().Msg("Stopping annotate processor...")
	close(p.inputChan)
	p.wg.Wait()
	p.shutdownFunc()
	p.logger.Info().Msg("Annotate processor stopped.")
}

func (p *Processor) worker(workerID int) {
	defer p.wg.Done()
	for msg := range p.inputChan {
		p.handle(p.shutdownCtx, msg, workerID)
	}
}

func (p *Processor) handle(ctx context.Context, msg *types.BatchedMessage[types.UploadEvent], workerID int) {
	msgID := msg.OriginalMessage.ID
	log := p.logger.With().Int("worker_id", workerID).Str("msg_id", msgID).Logger()

	rec, err := p.annotator.Annotate(ctx, msg.Payload)
	if err != nil {
		log.Error().Err(err).Msg("Annotation failed, Nacking message.")
		msg.NackOriginal()
		return
	}
	if rec == nil {
		msg.AckOriginal()
		return
	}

	docID := DocumentID(msgID)
	if err := p.writer.WriteAnnotation(ctx, docID, rec); err != nil {
		log.Error().Err(err).Str("doc_id", docID).Msg("Failed to write annotation, Nacking message.")
		msg.NackOriginal()
		return
	}
	log.Info().
		Str("doc_id", docID).
		Str("image_url", rec.SourceURL).
		Str("description", rec.Description).
		Float64("confidence", rec.Confidence).
		Msg("Annotation written to document store")
	msg.AckOriginal()
}
