package service

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	_ "image/gif" // Register GIF decoder
	_ "image/png" // Register PNG decoder

	"codexverse/internal/config"
	"codexverse/internal/models"

	"github.com/chai2010/webp"
	"github.com/google/uuid"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

const (
	DefaultUploadDir       = "uploads"
	DefaultMaxUploadSizeMB = 16
	ThumbnailMaxSize       = 640
	JPEGQuality            = 82
	WebPQuality            = 70

	ThumbnailSubdir = "thumbnails"
)

// Thumbnail is a stored project thumbnail. Paths are relative to the upload dir.
type Thumbnail struct {
	Path     string `json:"path"`
	WebPPath string `json:"webp_path"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// ThumbnailService normalises uploaded project images into a bounded JPEG
// plus a WebP sibling under <upload dir>/thumbnails.
type ThumbnailService struct {
	uploadDir          string
	maxUploadSizeBytes int64
}

func NewThumbnailService(cfg *config.Config) *ThumbnailService {
	uploadDir := DefaultUploadDir
	maxUploadSizeMB := DefaultMaxUploadSizeMB

	if cfg != nil {
		if cfg.UploadDir != "" {
			uploadDir = cfg.UploadDir
		}
		if cfg.MaxUploadSizeMB > 0 {
			maxUploadSizeMB = cfg.MaxUploadSizeMB
		}
	}

	return &ThumbnailService{
		uploadDir:          uploadDir,
		maxUploadSizeBytes: int64(maxUploadSizeMB) * 1024 * 1024,
	}
}

// UploadDir is the directory thumbnails are stored under.
func (s *ThumbnailService) UploadDir() string {
	return s.uploadDir
}

// Save validates, resizes and stores an uploaded image.
func (s *ThumbnailService) Save(contentType string, content []byte) (*Thumbnail, error) {
	if len(content) == 0 {
		return nil, models.NewValidationError("No file uploaded")
	}
	if int64(len(content)) > s.maxUploadSizeBytes {
		return nil, models.NewValidationError(fmt.Sprintf("File too large (max %dMB)", s.maxUploadSizeBytes/(1024*1024)))
	}

	detectedType := http.DetectContentType(content)
	if !isAllowedImageMIME(detectedType) {
		return nil, models.NewValidationError("Invalid image type")
	}

	decoded, format, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, models.NewValidationError("Invalid image file")
	}
	if provided := normalizeContentType(contentType); strings.HasPrefix(provided, "image/") && !isMatchingContentType(provided, decodedFormatToMime(format)) {
		return nil, models.NewValidationError("Image content type mismatch")
	}

	thumb := flattenToOpaque(resizeToFit(decoded, ThumbnailMaxSize, ThumbnailMaxSize))

	encodedJPG, err := encodeJPEG(thumb, JPEGQuality)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	encodedWebP, err := encodeWebP(thumb, WebPQuality)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	name := uuid.New().String()
	jpgRel := filepath.ToSlash(filepath.Join(ThumbnailSubdir, name+".jpg"))
	webpRel := filepath.ToSlash(filepath.Join(ThumbnailSubdir, name+".webp"))
	jpgAbs := filepath.Join(s.uploadDir, filepath.FromSlash(jpgRel))
	webpAbs := filepath.Join(s.uploadDir, filepath.FromSlash(webpRel))

	if err := writeBytesToFile(jpgAbs, encodedJPG); err != nil {
		return nil, models.NewInternalError(err)
	}
	if err := writeBytesToFile(webpAbs, encodedWebP); err != nil {
		cleanupImageFiles([]string{jpgAbs})
		return nil, models.NewInternalError(err)
	}

	b := thumb.Bounds()
	return &Thumbnail{Path: jpgRel, WebPPath: webpRel, Width: b.Dx(), Height: b.Dy()}, nil
}

// Remove deletes a stored thumbnail and its WebP sibling. Paths outside the
// thumbnail directory are refused.
func (s *ThumbnailService) Remove(rel string) error {
	if rel == "" {
		return nil
	}
	abs, err := s.resolve(rel)
	if err != nil {
		return err
	}
	paths := []string{abs}
	if strings.HasSuffix(abs, ".jpg") {
		paths = append(paths, strings.TrimSuffix(abs, ".jpg")+".webp")
	}
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return models.NewInternalError(err)
		}
	}
	return nil
}

// URL is the public path a stored thumbnail is served from.
func (s *ThumbnailService) URL(rel string) string {
	if rel == "" {
		return ""
	}
	return "/media/" + strings.TrimPrefix(filepath.ToSlash(rel), "/")
}

func (s *ThumbnailService) resolve(rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || !strings.HasPrefix(clean, ThumbnailSubdir+string(filepath.Separator)) {
		return "", models.NewValidationError("Invalid thumbnail path")
	}
	return filepath.Join(s.uploadDir, clean), nil
}

func resizeToFit(src image.Image, maxWidth, maxHeight int) image.Image {
	bounds := src.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w <= 0 || h <= 0 {
		return src
	}
	if w <= maxWidth && h <= maxHeight {
		return src
	}

	scaleW := float64(maxWidth) / float64(w)
	scaleH := float64(maxHeight) / float64(h)
	scale := scaleW
	if scaleH < scale {
		scale = scaleH
	}
	newW := int(float64(w) * scale)
	newH := int(float64(h) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
	return dst
}

// flattenToOpaque composites src over white; JPEG has no alpha channel.
func flattenToOpaque(src image.Image) image.Image {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	return dst
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeWebP(img image.Image, quality int) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := webp.Encode(buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isAllowedImageMIME(contentType string) bool {
	switch normalizeContentType(contentType) {
	case "image/jpeg", "image/jpg", "image/png", "image/gif", "image/webp":
		return true
	default:
		return false
	}
}

func normalizeContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.ToLower(mediaType)
}

func isMatchingContentType(provided, detected string) bool {
	p := normalizeContentType(provided)
	d := normalizeContentType(detected)
	if p == d {
		return true
	}
	return (p == "image/jpg" && d == "image/jpeg") || (p == "image/jpeg" && d == "image/jpg")
}

func decodedFormatToMime(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return ""
	}
}

func writeBytesToFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func cleanupImageFiles(paths []string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}
