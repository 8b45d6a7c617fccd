// Package split partitions a decoded image into a grid of tiles.
//
// The grid is described by cut counts: cols and rows are the number of cut
// lines, so the grid holds (cols+1) x (rows+1) tiles. Tile sizes come from
// integer division; remainder pixels on the right and bottom edges belong to
// no tile.
package split

import (
	"image"
	"math"

	"github.com/disintegration/imaging"

	apperrors "github.com/PhantomInTheWire/tilesplit/pkg/errors"
)

// Tile is one rectangular region of the source image.
type Tile struct {
	Row    int
	Col    int
	Bounds image.Rectangle
	Image  image.Image
}

// Empty reports whether the tile has zero area. This happens when more cuts
// are requested than the image has pixels in that direction.
func (t Tile) Empty() bool {
	return t.Bounds.Empty()
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// Count returns the number of tiles in a cols x rows cut grid. ok is false
// when a count is negative or (cols+1)*(rows+1) does not fit in an int.
func Count(cols, rows int) (n int, ok bool) {
	if cols < 0 || rows < 0 || cols == math.MaxInt || rows == math.MaxInt {
		return 0, false
	}
	c, r := cols+1, rows+1
	if c > math.MaxInt/r {
		return 0, false
	}
	return c * r, true
}

// Layout returns the grid dimensions and the size of each tile for an image
// of the given bounds.
func Layout(bounds image.Rectangle, cols, rows int) (totalCols, totalRows, tileWidth, tileHeight int) {
	totalCols, totalRows = cols+1, rows+1
	return totalCols, totalRows, bounds.Dx() / totalCols, bounds.Dy() / totalRows
}

// Index maps the k-th tile in row-major order to its grid position.
func Index(k, cols int) (row, col int) {
	return k / (cols + 1), k % (cols + 1)
}

// Each walks the grid in row-major order and calls fn for every tile. Only one
// tile is handed out at a time, so callers that persist tiles immediately never
// hold more than one tile buffer. Iteration stops at the first error from fn.
func Each(img image.Image, cols, rows int, fn func(Tile) error) error {
	if cols < 0 || rows < 0 {
		return apperrors.Validation("split", "split counts must be non-negative, got cols=%d rows=%d", cols, rows)
	}
	if _, ok := Count(cols, rows); !ok {
		return apperrors.Validation("split", "too many tiles for cols=%d rows=%d", cols, rows)
	}

	bounds := img.Bounds()
	totalCols, totalRows, tw, th := Layout(bounds, cols, rows)
	origin := bounds.Min

	for row := 0; row < totalRows; row++ {
		for col := 0; col < totalCols; col++ {
			rect := image.Rect(col*tw, row*th, (col+1)*tw, (row+1)*th).Add(origin)
			if err := fn(Tile{Row: row, Col: col, Bounds: rect, Image: crop(img, rect)}); err != nil {
				return err
			}
		}
	}
	return nil
}

// Grid returns all (cols+1)*(rows+1) tiles of img in row-major order.
func Grid(img image.Image, cols, rows int) ([]Tile, error) {
	var tiles []Tile
	err := Each(img, cols, rows, func(t Tile) error {
		tiles = append(tiles, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tiles, nil
}

// crop returns a view of rect when img supports SubImage, which keeps the
// source pixel format. Other image types are copied into an NRGBA buffer.
func crop(img image.Image, rect image.Rectangle) image.Image {
	if s, ok := img.(subImager); ok {
		return s.SubImage(rect)
	}
	return imaging.Crop(img, rect)
}
