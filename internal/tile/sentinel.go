package tile

import (
	"image"
	"image/color"
	"sync"

	"golang.org/x/image/draw"

	"mapview/internal/tilesource"
)

var (
	loadingBackground = color.RGBA{R: 0xee, G: 0xee, B: 0xee, A: 0xff}
	loadingMark       = color.RGBA{R: 0xbb, G: 0xbb, B: 0xbb, A: 0xff}
	errorBackground   = color.RGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}
	errorMark         = color.RGBA{R: 0xcc, G: 0x22, B: 0x22, A: 0xff}
)

type sentinelKey struct {
	size   int
	failed bool
}

var (
	sentinelMu sync.Mutex
	sentinels  = map[sentinelKey]image.Image{}
)

// LoadingImage is shown while a tile has no better image. Images are shared;
// callers must not draw on them.
func LoadingImage(size int) image.Image {
	return sentinel(sentinelKey{size: size})
}

// ErrorImage is shown for tiles that failed to load.
func ErrorImage(size int) image.Image {
	return sentinel(sentinelKey{size: size, failed: true})
}

// IsSentinel reports whether img is one of the shared loading or error images.
func IsSentinel(img image.Image) bool {
	sentinelMu.Lock()
	defer sentinelMu.Unlock()
	for _, s := range sentinels {
		if s == img {
			return true
		}
	}
	return false
}

func sentinel(k sentinelKey) image.Image {
	if k.size <= 0 {
		k.size = tilesource.DefaultTileSize
	}
	sentinelMu.Lock()
	defer sentinelMu.Unlock()
	if img, ok := sentinels[k]; ok {
		return img
	}
	var img image.Image
	if k.failed {
		img = drawCross(k.size)
	} else {
		img = drawHourglass(k.size)
	}
	sentinels[k] = img
	return img
}

// drawHourglass renders two triangles meeting in the middle of the tile.
func drawHourglass(size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(loadingBackground), image.Point{}, draw.Src)

	c := size / 2
	h := size / 8
	for dy := 0; dy <= h; dy++ {
		w := h - dy
		for dx := -w; dx <= w; dx++ {
			img.SetRGBA(c+dx, c-dy, loadingMark)
			img.SetRGBA(c+dx, c+dy, loadingMark)
		}
	}
	return img
}

// drawCross renders a red diagonal cross.
func drawCross(size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(errorBackground), image.Point{}, draw.Src)

	margin := size / 4
	for i := margin; i < size-margin; i++ {
		for w := -1; w <= 1; w++ {
			img.SetRGBA(i+w, i, errorMark)
			img.SetRGBA(size-1-i+w, i, errorMark)
		}
	}
	return img
}
