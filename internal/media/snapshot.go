package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

const (
	// StreamQuality is the JPEG quality of frames streamed during a session
	StreamQuality = 60
	// ManualQuality is the JPEG quality of on-demand snapshots sent for analysis
	ManualQuality = 80
	// DefaultMaxWidth bounds the width of encoded frames; taller aspect ratios scale with it
	DefaultMaxWidth = 640
)

// EncodeSnapshot renders img to JPEG at quality (1..100), downscaling so the
// width does not exceed maxWidth. maxWidth <= 0 keeps the native size.
func EncodeSnapshot(img image.Image, quality, maxWidth int) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("encode snapshot: no frame")
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, fmt.Errorf("encode snapshot: empty frame %v", bounds)
	}
	if quality < 1 || quality > 100 {
		quality = StreamQuality
	}

	src := img
	if maxWidth > 0 && bounds.Dx() > maxWidth {
		height := bounds.Dy() * maxWidth / bounds.Dx()
		if height < 1 {
			height = 1
		}
		dst := image.NewRGBA(image.Rect(0, 0, maxWidth, height))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
		src = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Recompress decodes an encoded image (JPEG, or PNG/GIF when registered) and
// re-encodes it as JPEG at quality
func Recompress(encoded []byte, quality, maxWidth int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return EncodeSnapshot(img, quality, maxWidth)
}

// CaptureSnapshot encodes the camera's current frame
func CaptureSnapshot(cam Camera, quality, maxWidth int) ([]byte, error) {
	if cam == nil {
		return nil, ErrDeviceNotFound
	}
	img, ok := cam.Frame()
	if !ok {
		return nil, fmt.Errorf("capture snapshot: no frame yet")
	}
	return EncodeSnapshot(img, quality, maxWidth)
}
