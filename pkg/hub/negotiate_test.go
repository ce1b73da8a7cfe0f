package hub_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/illmade-knight/captionflow/pkg/hub"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNegotiator(t *testing.T) (*hub.Negotiator, *hub.TokenIssuer, hub.ConnectionString) {
	t.Helper()
	cs, err := hub.ParseConnectionString("Endpoint=https://hub.example.com;AccessKey=secret;Version=1.0;")
	require.NoError(t, err)
	tokens := hub.NewTokenIssuer(cs.AccessKey, time.Minute)
	return hub.NewNegotiator(cs, "captions", tokens), tokens, cs
}

func TestNegotiateHandler(t *testing.T) {
	n, tokens, cs := newTestNegotiator(t)
	handler := hub.NegotiateHandler(n, zerolog.Nop())

	req := httptest.NewRequest(http.MethodPost, "/api/negotiate", nil)
	req.Header.Set(hub.UserIDHeader, "alice")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var info hub.ConnectionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "https://hub.example.com/client/?hub=captions", info.URL)
	assert.NotEmpty(t, info.AccessToken)

	subject, err := tokens.Validate(info.AccessToken, cs.ClientURL("captions"))
	require.NoError(t, err)
	assert.Equal(t, "alice", subject)
}

func TestNegotiate_Anonymous(t *testing.T) {
	n, tokens, cs := newTestNegotiator(t)

	info, err := n.Negotiate(httptest.NewRequest(http.MethodGet, "/api/negotiate", nil))
	require.NoError(t, err)
	subject, err := tokens.Validate(info.AccessToken, cs.ClientURL("captions"))
	require.NoError(t, err)
	assert.Empty(t, subject)
}
