package annotate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/illmade-knight/captionflow/pkg/annotate"
	"github.com/illmade-knight/captionflow/pkg/types"
	"github.com/illmade-knight/captionflow/pkg/vision"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestAnnotator_TakesFirstCaption(t *testing.T) {
	describer := new(MockDescriber)
	describer.On("Describe", mock.Anything, "https://x/img.png").Return(&vision.ImageDescription{
		Captions: []vision.Caption{{Text: "a cat", Confidence: 0.92}, {Text: "an animal", Confidence: 0.5}},
	}, nil)

	a := annotate.NewAnnotator(describer, zerolog.Nop())
	rec, err := a.Annotate(context.Background(), &types.UploadEvent{URL: "https://x/img.png"})
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, types.AnnotationRecord{SourceURL: "https://x/img.png", Description: "a cat", Confidence: 0.92}, *rec)
	describer.AssertExpectations(t)
}

func TestAnnotator_NoCaptionsIsNoOp(t *testing.T) {
	describer := new(MockDescriber)
	describer.On("Describe", mock.Anything, "https://x/blank.png").Return(&vision.ImageDescription{}, nil)

	a := annotate.NewAnnotator(describer, zerolog.Nop())
	rec, err := a.Annotate(context.Background(), &types.UploadEvent{URL: "https://x/blank.png"})
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestAnnotator_DescribeFailure(t *testing.T) {
	describer := new(MockDescriber)
	upstream := errors.New("401 unauthorized")
	describer.On("Describe", mock.Anything, "https://x/img.png").Return(nil, upstream)

	a := annotate.NewAnnotator(describer, zerolog.Nop())
	_, err := a.Annotate(context.Background(), &types.UploadEvent{URL: "https://x/img.png"})
	require.ErrorIs(t, err, upstream)
}

func TestAnnotator_MissingURL(t *testing.T) {
	describer := new(MockDescriber)
	a := annotate.NewAnnotator(describer, zerolog.Nop())

	_, err := a.Annotate(context.Background(), &types.UploadEvent{})
	require.ErrorIs(t, err, types.ErrMissingURL)
	describer.AssertNotCalled(t, "Describe", mock.Anything, mock.Anything)
}
