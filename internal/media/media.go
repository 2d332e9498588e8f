// Package media stores uploaded images and imports remote ones safely.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MaxImageBytes is the largest accepted image.
const MaxImageBytes = 5 << 20

var (
	ErrTooLarge   = errors.New("image exceeds 5 MiB")
	ErrNotImage   = errors.New("unsupported image type")
	ErrNotFound   = errors.New("media not found")
	ErrInvalidKey = errors.New("invalid media key")
)

var extensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// Object is a stored image opened for reading.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// Storage persists image bytes under owner-prefixed keys.
type Storage interface {
	Put(ctx context.Context, userID string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) (Object, error)
}

// Sniff checks size and content and returns the detected image type.
// Detection is by content, not by the client-declared type.
func Sniff(data []byte) (string, error) {
	if len(data) > MaxImageBytes {
		return "", ErrTooLarge
	}
	if len(data) == 0 {
		return "", ErrNotImage
	}
	mime := http.DetectContentType(data)
	if _, ok := extensions[mime]; !ok {
		return "", fmt.Errorf("%w: %s", ErrNotImage, mime)
	}
	return mime, nil
}

// NewKey returns a fresh object key for userID.
func NewKey(userID, contentType string) (string, error) {
	ext, ok := extensions[contentType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotImage, contentType)
	}
	if !validSegment(userID) {
		return "", ErrInvalidKey
	}
	return userID + "/" + strings.ReplaceAll(uuid.NewString(), "-", "") + "." + ext, nil
}

// OwnedBy reports whether key belongs to userID.
func OwnedBy(key, userID string) bool {
	owner, name, ok := strings.Cut(key, "/")
	return ok && owner == userID && validSegment(owner) && validSegment(name)
}

func validSegment(s string) bool {
	if s == "" || s == "." || s == ".." || strings.HasPrefix(s, ".") {
		return false
	}
	return !strings.ContainsAny(s, "/\\")
}

// MemoryStorage keeps images in process memory.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string]memoryObject)}
}

func (m *MemoryStorage) Put(_ context.Context, userID string, data []byte, contentType string) (string, error) {
	key, err := NewKey(userID, contentType)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: append([]byte(nil), data...), contentType: contentType}
	return key, nil
}

func (m *MemoryStorage) Get(_ context.Context, key string) (Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return Object{}, ErrNotFound
	}
	return Object{
		Body:        io.NopCloser(bytes.NewReader(obj.data)),
		ContentType: obj.contentType,
		Size:        int64(len(obj.data)),
	}, nil
}
