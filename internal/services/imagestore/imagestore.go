// Package imagestore archives received images under a date-partitioned directory tree.
package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rpi-tgbot-go/internal/models"
)

const (
	baseName         = "image"
	defaultExtension = "jpg"
	dateLayout       = "2006-01-02"
)

// Store saves images to {basePath}/{YYYY-MM-DD}/image[_N].{ext}
type Store struct {
	basePath string
	client   *http.Client
	now      func() time.Time

	mu sync.Mutex
}

func New(basePath string, timeout time.Duration) *Store {
	return &Store{
		basePath: filepath.Clean(basePath),
		client:   &http.Client{Timeout: timeout},
		now:      time.Now,
	}
}

// Extension returns the extension of an uploaded file name, or jpg when there is none.
func Extension(fileName string) string {
	ext := strings.TrimPrefix(filepath.Ext(fileName), ".")
	if ext == "" {
		return defaultExtension
	}
	return ext
}

// Reserve creates today's directory if needed and exclusively creates the first unused
// image file name in it. The caller owns the returned file.
func (s *Store) Reserve(fileName string) (*os.File, error) {
	dir := filepath.Join(s.basePath, s.now().Format(dateLayout))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create image directory: %w", err)
	}

	ext := Extension(fileName)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; ; i++ {
		name := fmt.Sprintf("%s.%s", baseName, ext)
		if i > 0 {
			name = fmt.Sprintf("%s_%d.%s", baseName, i, ext)
		}

		f, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create image file: %w", err)
		}
		return f, nil
	}
}

// Save downloads url into a freshly reserved file. fileName only contributes its extension.
func (s *Store) Save(ctx context.Context, url, fileName string) (*models.SavedImage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download image: unexpected status %d", resp.StatusCode)
	}

	f, err := s.Reserve(fileName)
	if err != nil {
		return nil, err
	}

	size, err := io.Copy(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("write image: %w", err)
	}

	return &models.SavedImage{
		Path:    f.Name(),
		Size:    size,
		SavedAt: s.now(),
	}, nil
}
