// ABOUTME: Stamp image loading and raster generation for panels and signature lines
// ABOUTME: Resamples images to exact placement size with golang.org/x/image/draw

package stamping

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"math"
	"os"

	"golang.org/x/image/draw"
)

// pixelsPerPoint is the raster density of generated stamp images. Images are
// placed at scale 1/density so one placement point maps to this many pixels.
const pixelsPerPoint = 2

// maxRasterSide caps the longest side of a generated image, in pixels. Larger
// boxes are rasterized at a lower density.
const maxRasterSide = 2400

// panelColor is the neutral background drawn behind stamps.
var panelColor = color.RGBA{R: 0xf4, G: 0xf4, B: 0xf4, A: 0xff}

// lineColor is the plain signature line used when an image is missing.
var lineColor = color.RGBA{A: 0xff}

// rasterDensity is the pixels per point used for a width x height box.
func rasterDensity(width, height float64) float64 {
	longest := math.Max(width, height)
	if longest*pixelsPerPoint > maxRasterSide {
		return maxRasterSide / longest
	}
	return pixelsPerPoint
}

func rasterSize(width, height float64) (int, int) {
	d := rasterDensity(width, height)
	w := int(math.Round(width * d))
	h := int(math.Round(height * d))
	return max(w, 1), max(h, 1)
}

// loadStamp decodes an image file and resamples it to the placement size.
func loadStamp(path string, width, height float64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	w, h := rasterSize(width, height)
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return encodePNG(dst)
}

// panelImage is a solid neutral rectangle of the given size.
func panelImage(width, height float64) ([]byte, error) {
	w, h := rasterSize(width, height)
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(panelColor), image.Point{}, draw.Src)
	return encodePNG(img)
}

// signatureLine is a transparent box with a horizontal rule near its bottom.
func signatureLine(width, height float64) ([]byte, error) {
	w, h := rasterSize(width, height)
	img := image.NewNRGBA(image.Rect(0, 0, w, h))

	thickness := max(pixelsPerPoint, 1)
	top := h - h/5 - thickness
	if top < 0 {
		top = 0
	}
	rule := image.Rect(0, top, w, min(top+thickness, h))
	draw.Draw(img, rule, image.NewUniform(lineColor), image.Point{}, draw.Src)
	return encodePNG(img)
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}
