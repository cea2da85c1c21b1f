package agent

import (
	"encoding/base64"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/openclaw/openclaw/internal/providers"
)

// DefaultMediaMaxMB caps outbound image size when the config leaves
// media.mediaMaxMb unset.
const DefaultMediaMaxMB = 5.0

// maxImageBytes bounds images loaded for vision input.
const maxImageBytes = 10 * 1024 * 1024

// jpegQualitySteps are tried in order until the re-encoded image fits.
var jpegQualitySteps = []int{85, 70, 55, 40}

// PrepareImage makes path deliverable under the size cap. Files already
// under the cap pass through unchanged. Oversized PNG/JPEG/WebP images are
// re-encoded to JPEG (lowering quality, then halving dimensions) into a new
// temp file. Anything else fails; callers degrade to a text reply via
// MediaFailureText.
func PrepareImage(path string, maxMB float64) (string, error) {
	if maxMB <= 0 {
		maxMB = DefaultMediaMaxMB
	}
	maxBytes := int64(maxMB * 1024 * 1024)

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("media file: %w", err)
	}
	if info.Size() <= maxBytes {
		return path, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".webp":
	default:
		return "", fmt.Errorf("file exceeds %.1fMB and format %s cannot be re-encoded",
			maxMB, filepath.Ext(path))
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	for scale := 0; scale < 4; scale++ {
		for _, quality := range jpegQualitySteps {
			out, err := encodeJPEGTemp(img, quality)
			if err != nil {
				return "", err
			}
			st, err := os.Stat(out)
			if err != nil {
				return "", err
			}
			if st.Size() <= maxBytes {
				slog.Debug("re-encoded oversized image",
					"src", filepath.Base(path), "quality", quality,
					"scale_halvings", scale, "bytes", st.Size())
				return out, nil
			}
			os.Remove(out)
		}
		bounds := img.Bounds()
		img = imaging.Resize(img, bounds.Dx()/2, 0, imaging.Lanczos)
	}
	return "", fmt.Errorf("could not fit image under %.1fMB", maxMB)
}

func encodeJPEGTemp(img image.Image, quality int) (string, error) {
	f, err := os.CreateTemp("", "openclaw-media-*.jpg")
	if err != nil {
		return "", err
	}
	name := f.Name()
	f.Close()
	if err := imaging.Save(img, name, imaging.JPEGQuality(quality)); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("encode jpeg: %w", err)
	}
	return name, nil
}

// MediaFailureText builds the text fallback sent when media delivery fails:
// the original caption (if any) plus a "Media failed" suffix.
func MediaFailureText(caption, reason string) string {
	suffix := "Media failed: " + reason
	if strings.TrimSpace(caption) == "" {
		return suffix
	}
	return strings.TrimSpace(caption) + "\n\n" + suffix
}

// loadImages reads local image files as base64 vision inputs. Unreadable,
// oversized, or non-image files are skipped with a warning.
func loadImages(paths []string) []providers.ImageContent {
	if len(paths) == 0 {
		return nil
	}
	var images []providers.ImageContent
	for _, p := range paths {
		mime := inferImageMime(p)
		if mime == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			slog.Warn("vision: image read failed", "path", p, "error", err)
			continue
		}
		if len(data) > maxImageBytes {
			slog.Warn("vision: image too large, skipping", "path", p, "size", len(data))
			continue
		}
		images = append(images, providers.ImageContent{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(data),
		})
	}
	return images
}

func inferImageMime(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return ""
	}
}
