package search

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
)

// ColorFilter accepts images where the share of pixels within Difference
// (CIEDE2000) of the target color lies in [CoverRatioFrom, CoverRatioTo].
type ColorFilter struct {
	Red            uint8   `json:"red"`
	Green          uint8   `json:"green"`
	Blue           uint8   `json:"blue"`
	CoverRatioFrom float64 `json:"cover_ratio_from"`
	CoverRatioTo   float64 `json:"cover_ratio_to"`
	Difference     float64 `json:"difference"`
}

// key identifies the filter in verdict cache keys.
func (f ColorFilter) key() string {
	return fmt.Sprintf("%d,%d,%d|%g|%g|%g", f.Red, f.Green, f.Blue, f.CoverRatioFrom, f.CoverRatioTo, f.Difference)
}

func (f ColorFilter) target() colorful.Color {
	return colorful.Color{R: float64(f.Red) / 255, G: float64(f.Green) / 255, B: float64(f.Blue) / 255}
}

// deltaE is the CIEDE2000 difference on the conventional 0 to 100 scale.
func deltaE(a, b colorful.Color) float64 {
	return a.DistanceCIEDE2000(b) * 100
}

// Coverage decodes encoded and returns the fraction of pixels whose color
// is within Difference of the target. Alpha is ignored.
func (f ColorFilter) Coverage(encoded []byte) (float64, error) {
	img, err := imaging.Decode(bytes.NewReader(encoded))
	if err != nil {
		return 0, fmt.Errorf("decode image: %w", err)
	}
	return f.coverage(imaging.Clone(img)), nil
}

func (f ColorFilter) coverage(img *image.NRGBA) float64 {
	b := img.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0
	}

	target := f.target()
	// clipboard images repeat few colors; memoize per RGB value
	verdicts := make(map[uint32]bool)
	matched := 0
	for y := 0; y < b.Dy(); y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+b.Dx()*4]
		for x := 0; x < len(row); x += 4 {
			r, g, bl := row[x], row[x+1], row[x+2]
			key := uint32(r)<<16 | uint32(g)<<8 | uint32(bl)
			ok, seen := verdicts[key]
			if !seen {
				c := colorful.Color{R: float64(r) / 255, G: float64(g) / 255, B: float64(bl) / 255}
				ok = deltaE(target, c) <= f.Difference
				verdicts[key] = ok
			}
			if ok {
				matched++
			}
		}
	}
	return float64(matched) / float64(total)
}

// Accepts reports whether coverage is within the inclusive range.
func (f ColorFilter) Accepts(coverage float64) bool {
	return coverage >= f.CoverRatioFrom && coverage <= f.CoverRatioTo
}
