// Package jpegdec implements a baseline, extended sequential and progressive
// JPEG decoder with access to the image metadata (resolution, EXIF and ICC
// profiles) carried in the stream.
package jpegdec

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"sync"
)

// Standard error types for JPEG decoding.
var (
	ErrNoJPEG        = errors.New("not a JPEG file")
	ErrUnsupported   = errors.New("unsupported format")
	ErrOutOfMemory   = errors.New("out of memory")
	ErrInternal      = errors.New("internal error")
	ErrSyntax        = errors.New("syntax error")
	ErrUnexpectedEOF = errors.New("unexpected end of data")
)

// UpsampleMethod defines the algorithm used for chroma upsampling.
type UpsampleMethod int

const (
	// NearestNeighbor is a fast but low-quality upsampling method.
	NearestNeighbor UpsampleMethod = iota
	// CatmullRom is a higher-quality bicubic upsampling method.
	CatmullRom
)

// Options specifies decoding parameters.
type Options struct {
	// ToRGBA forces the output image to be in the RGBA color space.
	// If false, the image is returned in its native color space: Grayscale,
	// YCbCr, or CMYK. RGB-encoded images are always returned as RGBA.
	ToRGBA bool
	// UpsampleMethod defines the algorithm used for chroma upsampling when
	// converting a subsampled image to a full-resolution format.
	UpsampleMethod UpsampleMethod
	// AutoRotate enables automatic image rotation based on the EXIF
	// orientation tag. The output is forced to RGBA if a transformation
	// is applied.
	AutoRotate bool
	// IgnoreMetadata skips retention of the EXIF and ICC profile payloads.
	// Resolution and orientation are then reported from JFIF data only.
	IgnoreMetadata bool
}

// Metadata holds the stream metadata gathered while decoding.
type Metadata struct {
	// HorizontalResolution and VerticalResolution are in dots per inch.
	// EXIF resolution tags take precedence over the JFIF density fields.
	// Zero means unknown.
	HorizontalResolution float64
	VerticalResolution   float64
	// EXIF is the raw APP1 payload following the "Exif\0\0" signature,
	// or nil if the stream carries none (or IgnoreMetadata was set).
	EXIF []byte
	// ICC is the ICC profile assembled from one or more APP2 segments,
	// or nil if the stream carries none (or IgnoreMetadata was set).
	ICC []byte
	// Orientation is the EXIF orientation tag (1-8), 0 if absent.
	Orientation int
}

// A reasonable upper limit for the size of JPEG headers.
// Most headers are well under this size (64KB).
const maxHeaderSize = 65536

// A pool for header-sized buffers to reduce allocations in DecodeConfig.
var headerBufferPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, maxHeaderSize)

		return &b
	},
}

// decoderPool is a pool of decoder structs to reduce allocation overhead.
var decoderPool = sync.Pool{
	New: func() interface{} {
		return newDecoder()
	},
}

// Interface to check if a reader knows its remaining length.
type readerWithLen interface {
	Len() int
}

// readAllData reads data from r, pre-allocating if the size is known.
func readAllData(r io.Reader) ([]byte, error) {
	// Pre-allocate the buffer if the reader knows its remaining length.
	// This significantly reduces allocations compared to io.ReadAll for large images.
	if rl, ok := r.(readerWithLen); ok {
		size := rl.Len()
		if size > 0 {
			data := make([]byte, size)
			_, err := io.ReadFull(r, data)
			if err != nil {
				return nil, fmt.Errorf("failed to read image data: %w", err)
			}

			return data, nil
		}
	}

	// Fallback for readers that don't implement Len() (e.g., network streams, os.File) or were empty.
	return io.ReadAll(r)
}

// Decode reads a JPEG image from r and returns it as an [image.Image].
// It accepts an optional Options struct to control decoding parameters.
func Decode(r io.Reader, opts ...*Options) (image.Image, error) {
	img, _, err := decodeStream(r, opts...)

	return img, err
}

// DecodeWithMetadata reads a JPEG image from r and returns it together with
// the metadata (resolution, EXIF, ICC) carried by the stream.
func DecodeWithMetadata(r io.Reader, opts ...*Options) (image.Image, *Metadata, error) {
	return decodeStream(r, opts...)
}

// ParseMetadata reads only the headers of a JPEG stream, stopping once the
// frame header has been seen. It reports the image configuration and the
// metadata gathered from the segments preceding the frame header.
func ParseMetadata(r io.Reader) (image.Config, *Metadata, error) {
	data, err := readAllData(r)
	if err != nil {
		return image.Config{}, nil, err
	}

	d := decoderPool.Get().(*decoder)
	defer func() {
		d.reset()
		decoderPool.Put(d)
	}()

	if _, err := d.decode(data, true); err != nil {
		return image.Config{}, nil, err
	}

	cfg, err := d.config()
	if err != nil {
		return image.Config{}, nil, err
	}

	return cfg, d.metadata(), nil
}

func decodeStream(r io.Reader, opts ...*Options) (image.Image, *Metadata, error) {
	data, err := readAllData(r)
	if err != nil {
		return nil, nil, err
	}

	// Get a decoder from the pool.
	d := decoderPool.Get().(*decoder)
	// Ensure the decoder is reset and returned to the pool when finished.
	defer func() {
		d.reset()
		decoderPool.Put(d)
	}()

	// Initialize options.
	d.toRGBA = false
	d.upsampleMethod = NearestNeighbor
	d.autoRotate = false
	d.ignoreMetadata = false

	if len(opts) > 0 && opts[0] != nil {
		d.toRGBA = opts[0].ToRGBA
		d.upsampleMethod = opts[0].UpsampleMethod
		d.autoRotate = opts[0].AutoRotate
		d.ignoreMetadata = opts[0].IgnoreMetadata
	}

	img, err := d.decode(data, false)
	if err != nil {
		return nil, nil, err
	}

	return img, d.metadata(), nil
}

// DecodeConfig returns the color model and dimensions of a JPEG image without
// decoding the entire image data. The dimensions returned are as stored in the
// file (SOF marker), ignoring any EXIF orientation tags.
func DecodeConfig(r io.Reader) (image.Config, error) {
	// Get a buffer from the pool to avoid allocating a large slice on every call.
	bufPtr := headerBufferPool.Get().(*[]byte)
	defer headerBufferPool.Put(bufPtr)
	headerData := *bufPtr

	// Read the start of the file into the pooled buffer. We expect an
	// io.ErrUnexpectedEOF if the file is smaller than our buffer, which is normal.
	n, err := io.ReadFull(r, headerData)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		// A read error or an empty file (n=0, err=io.EOF) is fatal.
		return image.Config{}, err
	}

	if n == 0 {
		return image.Config{}, ErrNoJPEG
	}

	d := decoderPool.Get().(*decoder)
	defer func() {
		d.reset()
		decoderPool.Put(d)
	}()

	// Only the raw dimensions from SOF are needed.
	d.autoRotate = false

	if _, err := d.decode(headerData[:n], true); err != nil {
		return image.Config{}, err
	}

	return d.config()
}

// config builds the image.Config for the parsed frame header.
func (d *decoder) config() (image.Config, error) {
	var cm color.Model
	switch d.ncomp {
	case 1:
		cm = color.GrayModel
	case 3:
		if d.colorSpace == csRGB {
			cm = color.RGBAModel
		} else {
			cm = color.YCbCrModel
		}
	case 4:
		cm = color.CMYKModel
	default:
		return image.Config{}, ErrUnsupported
	}

	return image.Config{
		ColorModel: cm,
		Width:      d.width,
		Height:     d.height,
	}, nil
}

// metadata assembles the Metadata record after parsing.
func (d *decoder) metadata() *Metadata {
	m := &Metadata{
		EXIF:        d.exifData,
		ICC:         d.iccData,
		Orientation: d.exif.Orientation,
	}

	// EXIF resolution tags win over JFIF densities when present and positive.
	if d.exif.XResolution > 0 && d.exif.YResolution > 0 {
		m.HorizontalResolution = d.exif.XResolution
		m.VerticalResolution = d.exif.YResolution

		// ResolutionUnit 3 means centimeters; 2 (or absent) means inches.
		if d.exif.ResolutionUnit == 3 {
			m.HorizontalResolution *= 2.54
			m.VerticalResolution *= 2.54
		}

		return m
	}

	if d.jfifSeen {
		switch d.jfifUnits {
		case 1: // dots per inch
			m.HorizontalResolution = float64(d.jfifDensityX)
			m.VerticalResolution = float64(d.jfifDensityY)
		case 2: // dots per centimeter
			m.HorizontalResolution = float64(d.jfifDensityX) * 2.54
			m.VerticalResolution = float64(d.jfifDensityY) * 2.54
		}
	}

	return m
}

// init registers the JPEG format with the standard library's image package.
// This allows image.Decode to automatically recognize and decode JPEG files using this package.
func init() {
	decodeWrapper := func(r io.Reader) (image.Image, error) {
		return Decode(r)
	}

	image.RegisterFormat("jpeg", "\xff\xd8", decodeWrapper, DecodeConfig)
}
