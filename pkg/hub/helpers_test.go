package hub

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func mustRequest(t *testing.T, target, authorization string) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, target, nil)
	if authorization != "" {
		r.Header.Set("Authorization", authorization)
	}
	return r
}
