package loader

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"net/http"

	"github.com/gen2brain/webp"
)

var errEmptyTile = errors.New("empty tile data")

// DecodeImage decodes tile bytes. The content is sniffed first since servers
// do not always send what the source's tile type promises; format is the
// fallback. Supported formats: png, jpeg/jpg, webp.
func DecodeImage(data []byte, format string) (image.Image, error) {
	if len(data) == 0 {
		return nil, errEmptyTile
	}

	switch http.DetectContentType(data) {
	case "image/png":
		format = "png"
	case "image/jpeg":
		format = "jpeg"
	case "image/webp":
		format = "webp"
	}

	r := bytes.NewReader(data)
	switch format {
	case "png":
		return png.Decode(r)
	case "jpeg", "jpg":
		return jpeg.Decode(r)
	case "webp":
		return webp.Decode(r)
	default:
		return nil, fmt.Errorf("unsupported decode format: %q", format)
	}
}
