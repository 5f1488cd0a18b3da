// Package removal is the bundled in-process background remover. It keys out
// the region connected to the image border whose colour is close to the
// average border colour. It stands in for a segmentation model and makes no
// attempt at subject detection.
package removal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// DefaultTolerance is the maximum RGB distance (0-441) from the border colour
// still treated as background.
const DefaultTolerance = 48.0

var (
	// ErrEmptyImage is returned for zero-byte input.
	ErrEmptyImage = errors.New("removal: empty image")
	// ErrDecode wraps decoder failures.
	ErrDecode = errors.New("removal: cannot decode image")
)

// Engine removes backgrounds. The zero value uses DefaultTolerance.
type Engine struct {
	Tolerance float64
}

// Remove returns a PNG with the background made transparent.
func (e Engine) Remove(ctx context.Context, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	out := imaging.Clone(src)
	if err := e.keyOut(ctx, out); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.PNG); err != nil {
		return nil, fmt.Errorf("removal: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func (e Engine) tolerance() float64 {
	if e.Tolerance <= 0 {
		return DefaultTolerance
	}
	return e.Tolerance
}

func (e Engine) keyOut(ctx context.Context, img *image.NRGBA) error {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return ErrEmptyImage
	}
	bg := borderColour(img)
	tol := e.tolerance()

	visited := make([]bool, w*h)
	queue := make([]int, 0, 2*(w+h))
	push := func(x, y int) {
		idx := y*w + x
		if visited[idx] {
			return
		}
		visited[idx] = true
		if distance(img, x, y, bg) <= tol {
			queue = append(queue, idx)
		}
	}
	for x := 0; x < w; x++ {
		push(x, 0)
		push(x, h-1)
	}
	for y := 0; y < h; y++ {
		push(0, y)
		push(w-1, y)
	}

	for n := 0; len(queue) > 0; n++ {
		if n%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		idx := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		x, y := idx%w, idx/w
		img.Pix[y*img.Stride+x*4+3] = 0
		if x > 0 {
			push(x-1, y)
		}
		if x < w-1 {
			push(x+1, y)
		}
		if y > 0 {
			push(x, y-1)
		}
		if y < h-1 {
			push(x, y+1)
		}
	}
	return nil
}

type rgb struct{ r, g, b float64 }

func borderColour(img *image.NRGBA) rgb {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	var sum rgb
	var n float64
	add := func(x, y int) {
		i := y*img.Stride + x*4
		sum.r += float64(img.Pix[i])
		sum.g += float64(img.Pix[i+1])
		sum.b += float64(img.Pix[i+2])
		n++
	}
	for x := 0; x < w; x++ {
		add(x, 0)
		add(x, h-1)
	}
	for y := 1; y < h-1; y++ {
		add(0, y)
		add(w-1, y)
	}
	return rgb{sum.r / n, sum.g / n, sum.b / n}
}

func distance(img *image.NRGBA, x, y int, c rgb) float64 {
	i := y*img.Stride + x*4
	dr := float64(img.Pix[i]) - c.r
	dg := float64(img.Pix[i+1]) - c.g
	db := float64(img.Pix[i+2]) - c.b
	return math.Sqrt(dr*dr + dg*dg + db*db)
}
