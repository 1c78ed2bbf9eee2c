package ocr

import (
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"
	"os"
	"sort"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	thresholdBlock = 11
	thresholdC     = 2
)

// Preprocess decodes the image at path and returns a binarised copy:
// grayscale, 3x3 median denoise, then a Gaussian-weighted adaptive threshold.
func Preprocess(path string) (*image.Gray, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	gray := toGray(src)
	return adaptiveThreshold(medianBlur3(gray), thresholdBlock, thresholdC), nil
}

// writePNG stores img in a new file under dir and returns its path.
func writePNG(dir string, img image.Image) (string, error) {
	f, err := os.CreateTemp(dir, "ocr-pre-*.png")
	if err != nil {
		return "", err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func toGray(src image.Image) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			dst.SetGray(x, y, color.GrayModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.Gray))
		}
	}
	return dst
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// medianBlur3 replaces each pixel with the median of its 3x3 neighbourhood,
// replicating edge pixels.
func medianBlur3(src *image.Gray) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewGray(src.Rect)
	win := make([]uint8, 9)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					win[i] = src.GrayAt(clampInt(x+dx, 0, w-1), clampInt(y+dy, 0, h-1)).Y
					i++
				}
			}
			sort.Slice(win, func(a, b int) bool { return win[a] < win[b] })
			dst.SetGray(x, y, color.Gray{Y: win[4]})
		}
	}
	return dst
}

// gaussianKernel matches the sigma OpenCV derives from the kernel size.
func gaussianKernel(size int) []float64 {
	sigma := 0.3*(float64(size-1)*0.5-1) + 0.8
	k := make([]float64, size)
	half := size / 2
	var sum float64
	for i := range k {
		d := float64(i - half)
		k[i] = math.Exp(-(d * d) / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// adaptiveThreshold sets a pixel white when it is brighter than the
// Gaussian-weighted mean of its block minus c, black otherwise.
func adaptiveThreshold(src *image.Gray, block int, c float64) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	k := gaussianKernel(block)
	half := block / 2

	// separable blur: rows then columns
	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for i, kv := range k {
				acc += kv * float64(src.GrayAt(clampInt(x+i-half, 0, w-1), y).Y)
			}
			tmp[y*w+x] = acc
		}
	}

	dst := image.NewGray(src.Rect)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var mean float64
			for i, kv := range k {
				mean += kv * tmp[clampInt(y+i-half, 0, h-1)*w+x]
			}
			v := uint8(0)
			if float64(src.GrayAt(x, y).Y) > mean-c {
				v = 255
			}
			dst.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return dst
}
