package vision

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	visionapi "google.golang.org/api/vision/v1"
)

func TestCaptionsFromLabels(t *testing.T) {
	captions := captionsFromLabels([]*visionapi.EntityAnnotation{
		{Description: "Cat", Score: 0.97},
		nil,
		{Description: "", Score: 0.9},
		{Description: "Whiskers", Score: 0.81},
	})
	assert.Equal(t, []Caption{{Text: "Cat", Confidence: 0.97}, {Text: "Whiskers", Confidence: 0.81}}, captions)
}

func TestGoogleDescriber_Describe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/images:annotate", r.URL.Path)
		assert.Equal(t, "api-key", r.URL.Query().Get("key"))

		var req visionapi.BatchAnnotateImagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Requests, 1)
		assert.Equal(t, "https://x/img.png", req.Requests[0].Image.Source.ImageUri)
		assert.Equal(t, labelDetection, req.Requests[0].Features[0].Type)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"responses":[{"labelAnnotations":[
			{"description":"Cat","score":0.97},
			{"description":"Mammal","score":0.9}
		]}]}`))
	}))
	defer server.Close()

	d, err := NewGoogleDescriber(context.Background(), Config{Endpoint: server.URL + "/", Key: "api-key", MaxCandidates: 2}, zerolog.Nop())
	require.NoError(t, err)

	desc, err := d.Describe(context.Background(), "https://x/img.png")
	require.NoError(t, err)
	require.Len(t, desc.Captions, 2)
	assert.Equal(t, Caption{Text: "Cat", Confidence: 0.97}, desc.Captions[0])
}

func TestGoogleDescriber_PerImageError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"responses":[{"error":{"code":7,"message":"permission denied"}}]}`))
	}))
	defer server.Close()

	d, err := NewGoogleDescriber(context.Background(), Config{Endpoint: server.URL + "/", Key: "api-key"}, zerolog.Nop())
	require.NoError(t, err)

	_, err = d.Describe(context.Background(), "https://x/img.png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}
