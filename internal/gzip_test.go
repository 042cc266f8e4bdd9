package internal

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func TestGzipMiddleware(t *testing.T) {
	h := GzipMiddleware(gzip.BestSpeed, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"status":"ok"}`)
	}))

	t.Run("accepted", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/health", nil)
		r.Header.Set("Accept-Encoding", "gzip, deflate")
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		if got := w.Header().Get("Content-Encoding"); got != "gzip" {
			t.Fatalf("wanted gzip encoding, got: %q", got)
		}

		gz, err := gzip.NewReader(w.Body)
		if err != nil {
			t.Fatal(err)
		}

		body, err := io.ReadAll(gz)
		if err != nil {
			t.Fatal(err)
		}

		if string(body) != `{"status":"ok"}` {
			t.Errorf("wrong body after decompression: %q", body)
		}
	})

	t.Run("not accepted", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)

		if got := w.Header().Get("Content-Encoding"); got != "" {
			t.Errorf("wanted no encoding, got: %q", got)
		}

		if w.Body.String() != `{"status":"ok"}` {
			t.Errorf("wrong body: %q", w.Body.String())
		}
	})
}
