package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"io"
	"os"
	"sync"

	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
	_ "golang.org/x/image/webp" // Register WebP format decoder
)

// ErrUnsupportedImageFormat is returned when input cannot be decoded to a
// pixel array of at least 1x1.
var ErrUnsupportedImageFormat = errors.New("unsupported image format")

// Decode decodes encoded image bytes (PNG, JPEG, GIF, BMP, TIFF or WebP).
//
// Returns the decoded image and the format name reported by the decoder.
//
// # Errors
//
//   - Returns ErrUnsupportedImageFormat if the data is not a known format,
//     is corrupt, or decodes to an empty image.
func Decode(data []byte) (image.Image, string, error) {
	return decodeFrom(bytes.NewReader(data))
}

func decodeFrom(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedImageFormat, err)
	}
	if img.Bounds().Empty() {
		return nil, "", fmt.Errorf("%w: decoded image is empty", ErrUnsupportedImageFormat)
	}
	return img, format, nil
}

// ImageCache provides thread-safe caching of decoded photographs keyed by path.
//
// The tool server loads the same photograph repeatedly (detect, annotate, crop);
// the cache keeps the decoded image so only the first call reads the disk.
// Cached images remain in memory until Evict or Clear is called.
type ImageCache struct {
	mu      sync.RWMutex
	images  map[string]image.Image
	formats map[string]string
}

// NewImageCache creates an empty image cache.
func NewImageCache() *ImageCache {
	return &ImageCache{
		images:  make(map[string]image.Image),
		formats: make(map[string]string),
	}
}

// Load returns the cached image for path, decoding it from disk on first use.
//
// # Errors
//
//   - Returns an error wrapping the os error if the file cannot be opened.
//   - Returns ErrUnsupportedImageFormat if the file cannot be decoded.
func (c *ImageCache) Load(path string) (image.Image, error) {
	c.mu.RLock()
	if img, ok := c.images[path]; ok {
		c.mu.RUnlock()
		return img, nil
	}
	c.mu.RUnlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, format, err := decodeFrom(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	c.mu.Lock()
	c.images[path] = img
	c.formats[path] = format
	c.mu.Unlock()

	return img, nil
}

// Clear removes all images from the cache.
func (c *ImageCache) Clear() {
	c.mu.Lock()
	c.images = make(map[string]image.Image)
	c.formats = make(map[string]string)
	c.mu.Unlock()
}

// Evict removes a specific image from the cache by its path.
func (c *ImageCache) Evict(path string) {
	c.mu.Lock()
	delete(c.images, path)
	delete(c.formats, path)
	c.mu.Unlock()
}

// Len returns the number of cached images.
func (c *ImageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.images)
}

func (c *ImageCache) format(path string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if f, ok := c.formats[path]; ok {
		return f
	}
	return "unknown"
}

// ImageInfo contains metadata about a loaded photograph.
type ImageInfo struct {
	// Width is the image width in pixels.
	Width int `json:"width"`

	// Height is the image height in pixels.
	Height int `json:"height"`

	// Format is the format reported by the decoder ("png", "jpeg", ...).
	Format string `json:"format"`

	// Orientation is the letterbox fit the image gets: "wide", "tall" or "square".
	Orientation string `json:"orientation"`

	// HasAlpha indicates whether the decoded image carries an alpha channel.
	HasAlpha bool `json:"has_alpha"`

	// FileSizeBytes is the size of the image file on disk in bytes.
	FileSizeBytes int64 `json:"file_size_bytes"`
}

// LoadImageInfo loads an image into the cache and returns its metadata.
func LoadImageInfo(cache *ImageCache, path string) (*ImageInfo, error) {
	img, err := cache.Load(path)
	if err != nil {
		return nil, err
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	hasAlpha := false
	switch img.(type) {
	case *image.RGBA, *image.NRGBA, *image.RGBA64, *image.NRGBA64:
		hasAlpha = true
	}

	bounds := img.Bounds()
	return &ImageInfo{
		Width:         bounds.Dx(),
		Height:        bounds.Dy(),
		Format:        cache.format(path),
		Orientation:   fitFor(bounds.Dx(), bounds.Dy()).String(),
		HasAlpha:      hasAlpha,
		FileSizeBytes: stat.Size(),
	}, nil
}
