package security

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func limited(max int64, seen *string) http.Handler {
	return BodyLimit{Max: max}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if seen != nil {
			*seen = string(data)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestBodyLimitPassesSmallCartPayload(t *testing.T) {
	var seen string
	body := `{"variantId":"v1","quantity":2}`
	rr := httptest.NewRecorder()
	limited(64, &seen).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/carts/c1/items", strings.NewReader(body)))

	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, body, seen)
}

func TestBodyLimitRejectsStreamedOversizedBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/carts", strings.NewReader(strings.Repeat("x", 65)))
	req.ContentLength = -1
	rr := httptest.NewRecorder()
	limited(64, nil).ServeHTTP(rr, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	require.Equal(t, "PAYLOAD_TOO_LARGE", payload.Error.Code)
}

func TestBodyLimitRejectsDeclaredLength(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/carts", strings.NewReader("{}"))
	req.ContentLength = 4096
	rr := httptest.NewRecorder()
	limited(64, nil).ServeHTTP(rr, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestBodyLimitDisabled(t *testing.T) {
	rr := httptest.NewRecorder()
	limited(0, nil).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 1<<12))))
	require.Equal(t, http.StatusNoContent, rr.Code)
}
