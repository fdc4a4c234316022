package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-auth-api/internal/domain"
	"github.com/go-auth-api/internal/pkg/id"
)

const maxUploadSize = 10 << 20 // 10 MiB

// uploader is the minimal object-store surface the handlers need for
// staging and purging profile images.
type uploader interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

// stageImage uploads the optional "image" form file under a fresh key and
// returns that key, or nil when no file was sent. The caller owns the staged
// object: it must purge it if the surrounding operation fails.
func stageImage(r *http.Request, up uploader) (*string, error) {
	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read image upload: %w", domain.ErrBadRequest)
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif":
	default:
		return nil, fmt.Errorf("unsupported image type %q: %w", ext, domain.ErrBadRequest)
	}
	key := fmt.Sprintf("uploads/%s%s", id.New(), ext)
	if _, err := up.Upload(r.Context(), key, file, header.Header.Get("Content-Type")); err != nil {
		return nil, err
	}
	return &key, nil
}

// purgeImage removes a staged object after a failed operation. Best-effort:
// a cleanup failure is logged and never replaces the original error.
func purgeImage(ctx context.Context, up uploader, key *string) {
	if key == nil {
		return
	}
	if err := up.Delete(ctx, *key); err != nil {
		slog.Warn("failed to purge staged image", "key", *key, "err", err)
	}
}
