// Package media stores product images on local disk.
package media

import (
	"context"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/inci-scraper/pkg/fetch"
	"github.com/Sriram-PR/inci-scraper/pkg/utils"
)

// DefaultMaxBytes caps a single stored image.
const DefaultMaxBytes = 10 << 20

// Getter downloads a URL.
type Getter interface {
	Get(ctx context.Context, rawURL string) (*fetch.Response, error)
}

// Store writes images under Dir/<entity id>/.
type Store struct {
	dir      string
	client   Getter
	maxBytes int64
	log      *logrus.Entry
}

// New returns a Store rooted at dir.
func New(dir string, client Getter, logger *logrus.Entry) *Store {
	return &Store{
		dir:      dir,
		client:   client,
		maxBytes: DefaultMaxBytes,
		log:      logger.WithField("component", "media"),
	}
}

// StoreImage downloads sourceURL and saves it for entityID, returning the
// local path. Any failure is logged and reported as false.
func (s *Store) StoreImage(ctx context.Context, sourceURL, entityID string) (string, bool) {
	if sourceURL == "" || entityID == "" {
		return "", false
	}
	imgLog := s.log.WithFields(logrus.Fields{"img_url": sourceURL, "entity_id": entityID})

	p, err := s.store(ctx, sourceURL, entityID)
	if err != nil {
		imgLog.WithField("error_type", utils.CategorizeError(err)).Warnf("Image not stored: %v", err)
		return "", false
	}
	imgLog.Debugf("Stored image at %s", p)
	return p, true
}

func (s *Store) store(ctx context.Context, sourceURL, entityID string) (string, error) {
	u, err := url.Parse(sourceURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("%w: unsupported image URL '%s'", utils.ErrParsing, sourceURL)
	}

	resp, err := s.client.Get(ctx, sourceURL)
	if err != nil {
		return "", err
	}
	if len(resp.Body) == 0 {
		return "", fmt.Errorf("empty image body from '%s'", resp.URL)
	}
	if s.maxBytes > 0 && int64(len(resp.Body)) > s.maxBytes {
		return "", fmt.Errorf("image '%s' exceeds max size (%d > %d bytes)", resp.URL, len(resp.Body), s.maxBytes)
	}

	ext, err := extension(u, resp.ContentType)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(s.dir, utils.SanitizeFilename(entityID))
	name := fmt.Sprintf("cover_%s%s", utils.CalculateBytesSHA256(resp.Body)[:16], ext)
	target := filepath.Join(dir, name)

	// Same bytes, same name.
	if info, statErr := os.Stat(target); statErr == nil && info.Size() == int64(len(resp.Body)) {
		return filepath.ToSlash(target), nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: creating image directory '%s': %w", utils.ErrFilesystem, dir, err)
	}
	if err := writeAtomic(dir, target, resp.Body); err != nil {
		return "", err
	}
	return filepath.ToSlash(target), nil
}

func writeAtomic(dir, target string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".img-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file in '%s': %w", utils.ErrFilesystem, dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: writing image '%s': %w", utils.ErrFilesystem, target, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: closing image '%s': %w", utils.ErrFilesystem, target, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: renaming image to '%s': %w", utils.ErrFilesystem, target, err)
	}
	return nil
}

// extension prefers the response media type and falls back to the URL path,
// then .jpg. Non-image media types are rejected.
func extension(u *url.URL, contentType string) (string, error) {
	urlExt := strings.ToLower(path.Ext(u.Path))
	if contentType == "" {
		if urlExt == "" {
			return ".jpg", nil
		}
		return urlExt, nil
	}

	mimeType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		if urlExt == "" {
			return ".jpg", nil
		}
		return urlExt, nil
	}
	switch mimeType {
	case "image/jpeg":
		return ".jpg", nil
	case "image/png":
		return ".png", nil
	case "image/gif":
		return ".gif", nil
	case "image/webp":
		return ".webp", nil
	case "image/svg+xml":
		return ".svg", nil
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return "", fmt.Errorf("%w: '%s' is not an image (%s)", utils.ErrParsing, u.String(), mimeType)
	}
	if urlExt != "" {
		return urlExt, nil
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0], nil
	}
	return ".img", nil
}
