package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestSniff(t *testing.T) {
	mime, err := Sniff(pngHeader)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)

	_, err = Sniff([]byte("<html><body>hi</body></html>"))
	assert.ErrorIs(t, err, ErrNotImage)

	_, err = Sniff(nil)
	assert.ErrorIs(t, err, ErrNotImage)

	_, err = Sniff(make([]byte, MaxImageBytes+1))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestNewKeyAndOwnership(t *testing.T) {
	key, err := NewKey("user-1", "image/jpeg")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "user-1/"))
	assert.True(t, strings.HasSuffix(key, ".jpg"))
	assert.True(t, OwnedBy(key, "user-1"))
	assert.False(t, OwnedBy(key, "user-2"))

	for _, bad := range []string{"user-1", "user-1/../x", "user-1/.hidden", "/user-1/a.png", "user-1/a/b.png"} {
		assert.False(t, OwnedBy(bad, "user-1"), bad)
	}

	_, err = NewKey("user-1", "image/svg+xml")
	assert.ErrorIs(t, err, ErrNotImage)
	_, err = NewKey("../x", "image/png")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestMemoryStorageRoundTrip(t *testing.T) {
	storage := NewMemoryStorage()
	ctx := context.Background()

	key, err := storage.Put(ctx, "u1", pngHeader, "image/png")
	require.NoError(t, err)

	obj, err := storage.Get(ctx, key)
	require.NoError(t, err)
	defer obj.Body.Close()
	data, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, data)
	assert.Equal(t, "image/png", obj.ContentType)
	assert.EqualValues(t, len(pngHeader), obj.Size)

	_, err = storage.Get(ctx, "u1/missing.png")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url string
		ok  bool
	}{
		{"https://example.com/cat.png", true},
		{"http://example.com:80/cat.png", true},
		{"", false},
		{"ftp://example.com/cat.png", false},
		{"file:///etc/passwd", false},
		{"http://localhost/cat.png", false},
		{"http://127.0.0.1/cat.png", false},
		{"http://10.1.2.3/cat.png", false},
		{"http://169.254.169.254/latest/meta-data", false},
		{"http://[::1]/cat.png", false},
	}
	for _, tt := range tests {
		err := ValidateURL(tt.url)
		if tt.ok {
			assert.NoError(t, err, tt.url)
		} else {
			assert.Error(t, err, tt.url)
		}
	}
}

func TestImporterBlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(pngHeader)
	}))
	defer ts.Close()

	_, _, err := NewImporter(5*time.Second).Fetch(context.Background(), ts.URL)
	assert.Error(t, err)
}

func TestImporterFetch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/cat.png":
			_, _ = w.Write(pngHeader)
		case "/page":
			_, _ = w.Write([]byte("<html></html>"))
		case "/huge":
			_, _ = io.Copy(w, io.LimitReader(zeroReader{}, MaxImageBytes+10))
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	importer := &Importer{client: ts.Client(), validate: func(string) error { return nil }}
	ctx := context.Background()

	data, mime, err := importer.Fetch(ctx, ts.URL+"/cat.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.True(t, bytes.Equal(pngHeader, data))

	_, _, err = importer.Fetch(ctx, ts.URL+"/page")
	assert.True(t, errors.Is(err, ErrNotImage))

	_, _, err = importer.Fetch(ctx, ts.URL+"/huge")
	assert.ErrorIs(t, err, ErrTooLarge)

	_, _, err = importer.Fetch(ctx, ts.URL+"/missing")
	assert.Error(t, err)
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}
