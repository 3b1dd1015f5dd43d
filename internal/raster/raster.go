package raster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/joseph-ayodele/invoice-dispatch/constants"
	"github.com/joseph-ayodele/invoice-dispatch/internal/common"
)

// Format is the encoding of a rendered page.
type Format string

const (
	JPEG Format = "jpeg"
	PNG  Format = "png"
)

// nativeDPI is the PDF user-space resolution; scale 1.0 renders at this DPI.
const nativeDPI = 72.0

// Options control a single rasterization.
type Options struct {
	Page     int     // 1-based; 0 means first page
	Scale    float64 // multiple of native resolution
	Format   Format
	Quality  int // JPEG only, 1..100
	MaxWidth int // 0 disables downscaling
}

// Image is an encoded page ready to embed in an extraction request.
type Image struct {
	Data     []byte
	MIMEType string
	Page     int
	Scale    float64
	Quality  int
	Format   Format
	Width    int
	Height   int
	Source   constants.ExtractionSource
}

// Renderer turns one page of a paginated document into pixels.
type Renderer interface {
	Render(doc []byte, page int, dpi float64) (image.Image, error)
}

type Rasterizer struct {
	defaults Options
	renderer Renderer
	logger   *slog.Logger
}

type Option func(*Rasterizer)

// WithRenderer replaces the PDF renderer.
func WithRenderer(r Renderer) Option {
	return func(rz *Rasterizer) {
		if r != nil {
			rz.renderer = r
		}
	}
}

func New(defaults Options, logger *slog.Logger, opts ...Option) *Rasterizer {
	if logger == nil {
		logger = slog.Default()
	}
	rz := &Rasterizer{
		defaults: defaults.withDefaults(Options{Page: 1, Scale: 1.5, Format: JPEG, Quality: 85}),
		renderer: fitzRenderer{},
		logger:   logger,
	}
	for _, o := range opts {
		o(rz)
	}
	return rz
}

// Defaults returns the options used when a call leaves fields unset.
func (r *Rasterizer) Defaults() Options {
	return r.defaults
}

// Rasterize renders a PDF page, or normalizes an uploaded image, into an encoded Image.
// Every failure is a RASTERIZATION_ERROR.
func (r *Rasterizer) Rasterize(ctx context.Context, doc []byte, mimeType string, opts Options) (*Image, error) {
	opts = opts.withDefaults(r.defaults)
	start := time.Now()

	if len(doc) == 0 {
		return nil, common.RasterizationError("document is empty", nil)
	}
	if mimeType == "" {
		mimeType = constants.DetectMIME(doc)
	}

	var (
		img    image.Image
		source constants.ExtractionSource
		err    error
	)
	switch constants.MapMIMEToFormat(mimeType) {
	case constants.PDF:
		source = constants.SourceRaster
		img, err = r.renderPage(ctx, doc, opts)
	case constants.IMAGE:
		source = constants.SourceImageUpload
		img, err = imaging.Decode(bytes.NewReader(doc), imaging.AutoOrientation(true))
		if err != nil {
			err = common.RasterizationError("image could not be decoded", err)
		}
	default:
		err = common.RasterizationError(fmt.Sprintf("unsupported document type %q", mimeType), nil)
	}
	if err != nil {
		r.logger.Warn("raster.render.failed",
			"mime", mimeType, "page", opts.Page, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	if opts.MaxWidth > 0 && img.Bounds().Dx() > opts.MaxWidth {
		img = imaging.Resize(img, opts.MaxWidth, 0, imaging.Lanczos)
	}

	out, err := encode(img, opts)
	if err != nil {
		return nil, err
	}
	out.Page = opts.Page
	out.Scale = opts.Scale
	out.Source = source

	r.logger.Info("raster.render.ok",
		"mime", mimeType,
		"page", out.Page,
		"scale", out.Scale,
		"format", out.Format,
		"width", out.Width,
		"height", out.Height,
		"bytes", len(out.Data),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

type renderResult struct {
	img image.Image
	err error
}

func (r *Rasterizer) renderPage(ctx context.Context, doc []byte, opts Options) (image.Image, error) {
	ch := make(chan renderResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- renderResult{err: fmt.Errorf("renderer panic: %v", p)}
			}
		}()
		img, err := r.renderer.Render(doc, opts.Page, nativeDPI*opts.Scale)
		ch <- renderResult{img: img, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, common.RasterizationError("rendering cancelled", ctx.Err())
	case res := <-ch:
		if res.err != nil {
			return nil, common.RasterizationError("page could not be rendered", res.err)
		}
		if res.img == nil || res.img.Bounds().Empty() {
			return nil, common.RasterizationError("renderer produced an empty page", nil)
		}
		return res.img, nil
	}
}

func encode(img image.Image, opts Options) (*Image, error) {
	var (
		buf bytes.Buffer
		err error
		mt  string
	)
	switch opts.Format {
	case PNG:
		mt = constants.MIMEPNG
		err = imaging.Encode(&buf, img, imaging.PNG)
	default:
		mt = constants.MIMEJPEG
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(opts.Quality))
	}
	if err != nil {
		return nil, common.RasterizationError("page could not be encoded", err)
	}
	b := img.Bounds()
	return &Image{
		Data:     buf.Bytes(),
		MIMEType: mt,
		Quality:  opts.Quality,
		Format:   opts.Format,
		Width:    b.Dx(),
		Height:   b.Dy(),
	}, nil
}

func (o Options) withDefaults(d Options) Options {
	if o.Page <= 0 {
		o.Page = d.Page
	}
	if o.Scale <= 0 {
		o.Scale = d.Scale
	}
	o.Format = Format(strings.ToLower(string(o.Format)))
	switch o.Format {
	case JPEG, PNG:
	case "jpg":
		o.Format = JPEG
	default:
		o.Format = d.Format
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = d.Quality
	}
	if o.MaxWidth <= 0 {
		o.MaxWidth = d.MaxWidth
	}
	return o
}

var errNoPages = errors.New("document has no pages")
