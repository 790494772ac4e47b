package tile

import (
	"image"

	"golang.org/x/image/draw"

	"mapview/internal/tilesource"
)

// maxZoomDiff bounds how far the placeholder search walks from the tile's
// own zoom level.
const maxZoomDiff = 5

// Lookup is the read side of the tile cache.
type Lookup interface {
	GetTile(src *tilesource.Source, x, y, zoom int) *Tile
}

// LoadPlaceholderFromCache composes a stand-in image from loaded tiles at
// nearby zoom levels. For each distance it first tries the 2^d x 2^d tiles
// below (only for d < 3), then the single ancestor above. It reports whether
// a placeholder was installed; otherwise the loading image stays.
func (t *Tile) LoadPlaceholderFromCache(c Lookup) bool {
	img := t.composePlaceholder(c)
	if img == nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Loaded || t.state == Error {
		return false
	}
	t.img = img
	return true
}

func (t *Tile) composePlaceholder(c Lookup) image.Image {
	src := t.source
	size := src.TileSize

	for d := 1; d <= maxZoomDiff; d++ {
		factor := 1 << d

		if high := t.zoom + d; d < 3 && high <= src.MaxZoom {
			if img := composeChildren(c, src, t.x<<d, t.y<<d, high, factor, size); img != nil {
				return img
			}
		}

		if low := t.zoom - d; low >= src.MinZoom {
			parent := c.GetTile(src, t.x>>d, t.y>>d, low)
			if parent != nil && parent.State() == Loaded {
				return cropParent(parent.Image(), t.x%factor, t.y%factor, factor, size)
			}
		}
	}
	return nil
}

// composeChildren downscales the factor x factor tiles starting at (x0, y0)
// into one tile, or returns nil unless every one of them is loaded.
func composeChildren(c Lookup, src *tilesource.Source, x0, y0, zoom, factor, size int) image.Image {
	children := make([]image.Image, 0, factor*factor)
	for dy := range factor {
		for dx := range factor {
			child := c.GetTile(src, x0+dx, y0+dy, zoom)
			if child == nil || child.State() != Loaded {
				return nil
			}
			children = append(children, child.Image())
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	cell := size / factor
	for i, img := range children {
		dx, dy := i%factor, i/factor
		r := image.Rect(dx*cell, dy*cell, (dx+1)*cell, (dy+1)*cell)
		draw.ApproxBiLinear.Scale(dst, r, img, img.Bounds(), draw.Src, nil)
	}
	return dst
}

// cropParent upscales the (ox, oy) cell of a factor x factor split of img.
func cropParent(img image.Image, ox, oy, factor, size int) image.Image {
	b := img.Bounds()
	cw, ch := b.Dx()/factor, b.Dy()/factor
	if cw == 0 || ch == 0 {
		return nil
	}
	sr := image.Rect(b.Min.X+ox*cw, b.Min.Y+oy*ch, b.Min.X+(ox+1)*cw, b.Min.Y+(oy+1)*ch)

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, sr, draw.Src, nil)
	return dst
}
