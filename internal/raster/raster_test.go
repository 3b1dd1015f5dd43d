package raster

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-dispatch/constants"
	"github.com/joseph-ayodele/invoice-dispatch/internal/common"
)

type fakeRenderer struct {
	img     image.Image
	err     error
	panics  bool
	gotPage int
	gotDPI  float64
}

func (f *fakeRenderer) Render(_ []byte, page int, dpi float64) (image.Image, error) {
	f.gotPage, f.gotDPI = page, dpi
	if f.panics {
		panic("no rendering surface")
	}
	return f.img, f.err
}

func solid(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(w, h)))
	return buf.Bytes()
}

var pdfStub = []byte("%PDF-1.7\n")

func TestRasterizePDFUsesScaledDPI(t *testing.T) {
	fr := &fakeRenderer{img: solid(120, 80)}
	rz := New(Options{Scale: 2, Quality: 70}, nil, WithRenderer(fr))

	out, err := rz.Rasterize(context.Background(), pdfStub, constants.MIMEPDF, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, fr.gotPage)
	assert.Equal(t, 144.0, fr.gotDPI)
	assert.Equal(t, constants.MIMEJPEG, out.MIMEType)
	assert.Equal(t, JPEG, out.Format)
	assert.Equal(t, 70, out.Quality)
	assert.Equal(t, 2.0, out.Scale)
	assert.Equal(t, constants.SourceRaster, out.Source)
	assert.Equal(t, 120, out.Width)
}

func TestRasterizeSelectedPageAndPNG(t *testing.T) {
	fr := &fakeRenderer{img: solid(10, 10)}
	rz := New(Options{}, nil, WithRenderer(fr))

	out, err := rz.Rasterize(context.Background(), pdfStub, "", Options{Page: 3, Format: "PNG"})
	require.NoError(t, err)
	assert.Equal(t, 3, fr.gotPage)
	assert.Equal(t, 3, out.Page)
	assert.Equal(t, constants.MIMEPNG, out.MIMEType)
}

func TestRasterizeImageUploadDownscales(t *testing.T) {
	rz := New(Options{MaxWidth: 50}, nil, WithRenderer(&fakeRenderer{err: errors.New("must not be called")}))

	out, err := rz.Rasterize(context.Background(), pngBytes(t, 200, 100), constants.MIMEPNG, Options{})
	require.NoError(t, err)
	assert.Equal(t, constants.SourceImageUpload, out.Source)
	assert.Equal(t, 50, out.Width)
	assert.Equal(t, 25, out.Height)
}

func TestRasterizeFailuresAreTyped(t *testing.T) {
	tests := []struct {
		name     string
		doc      []byte
		mime     string
		renderer *fakeRenderer
	}{
		{name: "empty document", doc: nil, mime: constants.MIMEPDF, renderer: &fakeRenderer{}},
		{name: "zero pages", doc: pdfStub, mime: constants.MIMEPDF, renderer: &fakeRenderer{err: errNoPages}},
		{name: "renderer unavailable", doc: pdfStub, mime: constants.MIMEPDF, renderer: &fakeRenderer{panics: true}},
		{name: "blank render", doc: pdfStub, mime: constants.MIMEPDF, renderer: &fakeRenderer{img: image.NewRGBA(image.Rect(0, 0, 0, 0))}},
		{name: "corrupt image", doc: []byte("not an image"), mime: constants.MIMEJPEG, renderer: &fakeRenderer{}},
		{name: "unsupported type", doc: []byte("hello"), mime: "text/plain", renderer: &fakeRenderer{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rz := New(Options{}, nil, WithRenderer(tt.renderer))
			out, err := rz.Rasterize(context.Background(), tt.doc, tt.mime, Options{})
			require.Error(t, err)
			assert.Nil(t, out)
			assert.True(t, common.IsKind(err, common.CodeRasterization), "got %v", err)
		})
	}
}

func TestRasterizeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	block := make(chan struct{})
	defer close(block)
	rz := New(Options{}, nil, WithRenderer(rendererFunc(func() { <-block })))

	_, err := rz.Rasterize(ctx, pdfStub, constants.MIMEPDF, Options{})
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.CodeRasterization))
	assert.ErrorIs(t, err, context.Canceled)
}

type rendererFunc func()

func (f rendererFunc) Render([]byte, int, float64) (image.Image, error) {
	f()
	return solid(1, 1), nil
}

func TestFitzRejectsCorruptPDF(t *testing.T) {
	rz := New(Options{}, nil)
	_, err := rz.Rasterize(context.Background(), []byte("%PDF-1.4 truncated garbage"), constants.MIMEPDF, Options{})
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.CodeRasterization))
}
