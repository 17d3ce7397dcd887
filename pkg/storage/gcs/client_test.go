package gcs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kayakoyan/marketplace-backend/pkg/storage"
)

func TestClientRoundTrip(t *testing.T) {
	objects := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/upload/b/bucket/o"):
			assert.Equal(t, "media", r.URL.Query().Get("uploadType"))
			assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
			body, _ := io.ReadAll(r.Body)
			objects[r.URL.Query().Get("name")] = string(body)
			_, _ = w.Write([]byte(`{}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/b/bucket/o":
			_, _ = w.Write([]byte(`{"items":[]}`))
		case r.Method == http.MethodGet:
			name := strings.TrimPrefix(r.URL.Path, "/api/b/bucket/o/")
			body, ok := objects[name]
			if !ok {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte(body))
		case r.Method == http.MethodDelete:
			name := strings.TrimPrefix(r.URL.Path, "/api/b/bucket/o/")
			if _, ok := objects[name]; !ok {
				http.NotFound(w, r)
				return
			}
			delete(objects, name)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer srv.Close()

	client := newClient(srv.Client(), "bucket", srv.URL+"/api", srv.URL+"/upload")
	ctx := context.Background()

	require.NoError(t, client.Ping(ctx))
	require.NoError(t, client.Put(ctx, "proofs/1.png", strings.NewReader("png-bytes"), "image/png"))

	rc, err := client.Open(ctx, "proofs/1.png")
	require.NoError(t, err)
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	assert.Equal(t, "png-bytes", string(body))

	require.NoError(t, client.Delete(ctx, "proofs/1.png"))
	require.NoError(t, client.Delete(ctx, "proofs/1.png"))
	_, err = client.Open(ctx, "proofs/1.png")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestClientSurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newClient(srv.Client(), "bucket", srv.URL+"/api", srv.URL+"/upload")
	err := client.Put(context.Background(), "a", strings.NewReader("x"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestURL(t *testing.T) {
	client := newClient(http.DefaultClient, "kky-media", "", "")
	assert.Equal(t, "https://storage.googleapis.com/kky-media/chat/1/x.pdf", client.URL("/chat/1/x.pdf"))
}
