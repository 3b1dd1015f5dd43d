package constants

// ExtractionSource records which attachment produced an extraction.
type ExtractionSource string

// Stable values (logged and returned to clients).
const (
	SourceRaster      ExtractionSource = "RASTER"       // rendered page image
	SourceImageUpload ExtractionSource = "IMAGE_UPLOAD" // user uploaded an image directly
	SourceRawDocument ExtractionSource = "RAW_DOCUMENT" // fallback: original bytes, no rendering
)
