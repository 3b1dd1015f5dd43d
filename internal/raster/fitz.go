package raster

import (
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
)

// fitzRenderer renders with MuPDF.
type fitzRenderer struct{}

func (fitzRenderer) Render(doc []byte, page int, dpi float64) (image.Image, error) {
	d, err := fitz.NewFromMemory(doc)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer d.Close()

	n := d.NumPage()
	if n == 0 {
		return nil, errNoPages
	}
	if page < 1 || page > n {
		return nil, fmt.Errorf("page %d out of range (document has %d)", page, n)
	}
	return d.ImageDPI(page-1, dpi)
}
