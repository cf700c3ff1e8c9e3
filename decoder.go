package jpegdec

import (
	"fmt"
	"image"
)

// colorSpace identifies the encoded color model of the frame, deduced from
// the component count and the Adobe APP14 transform.
type colorSpace int

const (
	csGrayscale colorSpace = iota
	csYCbCr
	csRGB
	csCMYK
	csYCCK
)

// component stores information about a single color component (e.g., Y, Cb, or Cr).
type component struct {
	id                 int     // Component identifier from the frame header.
	ssX, ssY           int     // Sampling factors for X and Y axes.
	width, height      int     // Dimensions of this component in pixels.
	stride             int     // The number of bytes from one row of pixels to the next.
	qtSel              int     // Quantization table selector.
	acTabSel, dcTabSel int     // Huffman table selectors for AC and DC coefficients.
	dcPred             int     // DC prediction value for differential coding.
	nBlocksX, nBlocksY int     // Dimensions of the (padded) block grid.
	coeffs             []int32 // Spectral coefficients, progressive mode only.
	pixels             []byte  // Decoded pixel data for this component.
}

// decoder holds the state of the JPEG decoding process.
type decoder struct {
	jpegData      []byte       // Input buffer containing the entire JPEG file.
	pos           int          // Current position index in the input buffer.
	size          int          // Remaining bytes to be processed.
	length        int          // Length of the current marker segment.
	width, height int          // Dimensions of the final image.
	mbWidth       int          // Image width in MCU blocks.
	mbHeight      int          // Image height in MCU blocks.
	mbSizeX       int          // Width of a single MCU in pixels.
	mbSizeY       int          // Height of a single MCU in pixels.
	ncomp         int          // Number of color components.
	comp          [4]component // Per-component state.
	ssxMax        int          // Maximum horizontal sampling factor.
	ssyMax        int          // Maximum vertical sampling factor.

	qtab    [4]*[64]uint16 // Quantization tables in natural order. Pointers for pooling.
	qtAvail int            // Bitmask of defined quantization tables.

	dcVlcTab   [4]*[65536]vlcCode // DC Huffman lookup tables. Pointers for pooling.
	acVlcTab   [4]*[65536]vlcCode // AC Huffman lookup tables. Pointers for pooling.
	dcTabAvail int                // Bitmask of defined DC tables.
	acTabAvail int                // Bitmask of defined AC tables.

	buf       uint64    // Bit buffer; valid bits are the low bufBits bits.
	bufBits   int       // Number of valid bits in the bit buffer.
	markerHit bool      // A non-stuffing marker was seen while refilling.
	block     [64]int32 // Temporary storage for a single 8x8 block of DCT coefficients.

	rstInterval int // Restart interval in MCUs, for error resilience.
	eobRun      int // Remaining blocks covered by the current EOB run (progressive AC).

	isBaseline    bool // SOF0 frame.
	isProgressive bool // SOF2 frame.
	sofSeen       bool
	scanSeen      bool

	colorSpace     colorSpace
	adobeSeen      bool
	adobeTransform int

	jfifSeen     bool
	jfifUnits    int
	jfifDensityX int
	jfifDensityY int
	exifData     []byte
	iccData      []byte
	exif         Exif

	pixels         []byte                    // Final RGBA pixel data, when converting.
	subsampleRatio image.YCbCrSubsampleRatio // The detected YCbCr subsampling ratio.
	forceRGBA      bool                      // Native output cannot represent this frame.

	toRGBA         bool
	upsampleMethod UpsampleMethod
	autoRotate     bool
	ignoreMetadata bool
}

// errDecode is used for internal panics during the hot decoding path.
type errDecode struct{ error }

// newDecoder creates a new decoder instance and allocates the large tables.
func newDecoder() *decoder {
	d := new(decoder)
	for i := 0; i < 4; i++ {
		d.qtab[i] = new([64]uint16)
		d.dcVlcTab[i] = new([65536]vlcCode)
		d.acVlcTab[i] = new([65536]vlcCode)
	}

	return d
}

// reset clears the decoder state for reuse, preserving the allocated tables.
func (d *decoder) reset() {
	// Save pointers to the tables.
	qtabTmp := d.qtab
	dcTmp := d.dcVlcTab
	acTmp := d.acVlcTab

	// Zero the struct. This clears references (jpegData, pixels, etc.) allowing GC, and resets all state variables.
	*d = decoder{}

	// Restore pointers to the tables.
	d.qtab = qtabTmp
	d.dcVlcTab = dcTmp
	d.acVlcTab = acTmp
}

// panic triggers an internal panic to signal a decoding error in the hot path.
func (d *decoder) panic(err error) {
	panic(errDecode{err})
}

// zz is the zigzag ordering table. It maps the 1D order of coefficients in the JPEG stream to their 2D position in an 8x8 block.
var zz = [64]int{
	0, 1, 8, 16, 9, 2, 3, 10, 17, 24, 32, 25, 18,
	11, 4, 5, 12, 19, 26, 33, 40, 48, 41, 34, 27, 20, 13, 6, 7, 14, 21, 28, 35,
	42, 49, 56, 57, 50, 43, 36, 29, 22, 15, 23, 30, 37, 44, 51, 58, 59, 52, 45,
	38, 31, 39, 46, 53, 60, 61, 54, 47, 55, 62, 63,
}

// clamp clamps an int32 value to the valid 8-bit pixel range [0, 255].
func clamp(x int32) byte {
	if x < 0 {
		return 0
	}

	if x > 255 {
		return 255
	}

	return byte(x)
}

// skip advances the current position in the jpegData buffer by 'count' bytes.
func (d *decoder) skip(count int) error {
	d.pos += count
	d.size -= count

	if d.length >= count {
		d.length -= count
	} else {
		d.length = 0
	}

	if d.size < 0 {
		return ErrUnexpectedEOF
	}

	return nil
}

// decode16 reads a 16-bit big-endian integer from the specified offset.
func (d *decoder) decode16(offset int) int {
	p := d.pos + offset

	return (int(d.jpegData[p]) << 8) | int(d.jpegData[p+1])
}

// decodeLength reads the 16-bit length field of a JPEG marker segment and updates the decoder's internal length counter.
func (d *decoder) decodeLength() error {
	if d.size < 2 {
		return ErrUnexpectedEOF
	}

	d.length = d.decode16(0)
	if d.length > d.size {
		return ErrUnexpectedEOF
	}

	if d.length < 2 {
		return ErrSyntax // Length must include its own 2 bytes.
	}

	// Skip the 2 bytes of the length field itself.
	// d.length will now hold the size of the remaining payload.
	return d.skip(2)
}

// skipMarker reads the length of the current marker's payload and skips it.
func (d *decoder) skipMarker() error {
	if err := d.decodeLength(); err != nil {
		return err
	}

	return d.skip(d.length)
}

// Marker Decoders

// decodeAPP0 decodes the APP0 (JFIF) marker segment, extracting the pixel
// density fields used for resolution reporting.
func (d *decoder) decodeAPP0() error {
	if err := d.decodeLength(); err != nil {
		return err
	}

	// Check for the "JFIF\0" signature. Non-JFIF APP0 segments (e.g. JFXX)
	// are skipped without touching any state.
	if d.length >= 5 &&
		d.jpegData[d.pos+0] == 'J' &&
		d.jpegData[d.pos+1] == 'F' &&
		d.jpegData[d.pos+2] == 'I' &&
		d.jpegData[d.pos+3] == 'F' &&
		d.jpegData[d.pos+4] == 0 {

		d.jfifSeen = true

		// Version (2), units (1), X density (2), Y density (2). A conforming
		// JFIF segment carries all of them, but only read what is present.
		if d.length >= 12 {
			d.jfifUnits = int(d.jpegData[d.pos+7])
			d.jfifDensityX = (int(d.jpegData[d.pos+8]) << 8) | int(d.jpegData[d.pos+9])
			d.jfifDensityY = (int(d.jpegData[d.pos+10]) << 8) | int(d.jpegData[d.pos+11])
		}
	}

	return d.skip(d.length)
}

// decodeAPP1 decodes the APP1 marker segment, typically containing EXIF metadata.
// The payload after the signature is retained verbatim and walked for the
// orientation and resolution tags.
func (d *decoder) decodeAPP1() error {
	if err := d.decodeLength(); err != nil {
		return err
	}

	if d.ignoreMetadata {
		return d.skip(d.length)
	}

	// Check for "Exif\0\0" signature (6 bytes).
	if d.length >= 6 &&
		d.jpegData[d.pos+0] == 'E' &&
		d.jpegData[d.pos+1] == 'x' &&
		d.jpegData[d.pos+2] == 'i' &&
		d.jpegData[d.pos+3] == 'f' &&
		d.jpegData[d.pos+4] == 0 &&
		d.jpegData[d.pos+5] == 0 {

		payload := d.jpegData[d.pos+6 : d.pos+d.length]

		// Retain a copy; the input buffer is released after decoding.
		d.exifData = append([]byte(nil), payload...)

		// A malformed TIFF structure only loses the parsed tags, not the decode.
		_ = parseExifData(d.exifData, &d.exif)
	}

	return d.skip(d.length)
}

// decodeAPP2 decodes the APP2 marker segment, collecting ICC profile chunks.
// A profile larger than one segment is split across several APP2 segments;
// the chunks are appended in stream order.
func (d *decoder) decodeAPP2() error {
	if err := d.decodeLength(); err != nil {
		return err
	}

	if d.ignoreMetadata {
		return d.skip(d.length)
	}

	// "ICC_PROFILE\0" (12 bytes) + chunk index (1) + chunk count (1).
	const iccHeaderLen = 14

	if d.length >= iccHeaderLen && string(d.jpegData[d.pos:d.pos+12]) == "ICC_PROFILE\x00" {
		d.iccData = append(d.iccData, d.jpegData[d.pos+iccHeaderLen:d.pos+d.length]...)
	}

	return d.skip(d.length)
}

// decodeAPP14 decodes the APP14 "Adobe" marker segment, which specifies the color space transformation.
func (d *decoder) decodeAPP14() error {
	if err := d.decodeLength(); err != nil {
		return err
	}

	// Check for the "Adobe" signature.
	if d.length >= 12 &&
		d.jpegData[d.pos+0] == 'A' &&
		d.jpegData[d.pos+1] == 'd' &&
		d.jpegData[d.pos+2] == 'o' &&
		d.jpegData[d.pos+3] == 'b' &&
		d.jpegData[d.pos+4] == 'e' {

		// The color transform byte is at offset 11.
		// 0: unknown (RGB or CMYK)
		// 1: YCbCr
		// 2: YCCK
		d.adobeSeen = true
		d.adobeTransform = int(d.jpegData[d.pos+11])
	}

	return d.skip(d.length)
}

// decodeSOF decodes the Start of Frame segment. It extracts image dimensions,
// number of components, and component-specific information like subsampling factors.
// If configOnly is true, it doesn't allocate memory for pixel data.
func (d *decoder) decodeSOF(marker byte, configOnly bool) error {
	if d.sofSeen {
		return fmt.Errorf("multiple SOF segments: %w", ErrSyntax)
	}

	d.isBaseline = marker == 0xC0
	d.isProgressive = marker == 0xC2

	if err := d.decodeLength(); err != nil {
		return err
	}

	if d.length < 9 {
		return ErrSyntax
	}

	if d.jpegData[d.pos] != 8 {
		return fmt.Errorf("unsupported precision %d: %w", d.jpegData[d.pos], ErrUnsupported)
	}

	d.height = d.decode16(1)
	d.width = d.decode16(3)
	if d.width == 0 || d.height == 0 {
		return ErrSyntax
	}

	d.ncomp = int(d.jpegData[d.pos+5])
	if err := d.skip(6); err != nil {
		return err
	}

	switch d.ncomp {
	case 1, 3, 4: // Grayscale, YCbCr/RGB, CMYK/YCCK
	default:
		return fmt.Errorf("unsupported component count %d: %w", d.ncomp, ErrUnsupported)
	}

	if d.length < (d.ncomp * 3) {
		return ErrSyntax
	}

	d.ssxMax, d.ssyMax = 0, 0

	for i := 0; i < d.ncomp; i++ {
		c := &d.comp[i]
		c.id = int(d.jpegData[d.pos])

		// Frame component identifiers must be unique (B.2.2).
		for j := 0; j < i; j++ {
			if d.comp[j].id == c.id {
				return fmt.Errorf("repeated component identifier %d: %w", c.id, ErrSyntax)
			}
		}

		c.ssX = int(d.jpegData[d.pos+1]) >> 4
		c.ssY = int(d.jpegData[d.pos+1]) & 15
		if c.ssX < 1 || c.ssX > 4 || c.ssY < 1 || c.ssY > 4 {
			return fmt.Errorf("bad sampling factors %dx%d: %w", c.ssX, c.ssY, ErrSyntax)
		}

		c.qtSel = int(d.jpegData[d.pos+2])
		if (c.qtSel & 0xFC) != 0 {
			return ErrSyntax
		}

		if err := d.skip(3); err != nil {
			return err
		}

		if c.ssX > d.ssxMax {
			d.ssxMax = c.ssX
		}

		if c.ssY > d.ssyMax {
			d.ssyMax = c.ssY
		}
	}

	if d.ncomp == 1 {
		// Single-component frames always decode at full resolution.
		d.comp[0].ssX, d.comp[0].ssY = 1, 1
		d.ssxMax, d.ssyMax = 1, 1
	}

	d.deduceColorSpace()

	// Calculate MCU dimensions and image dimensions in MCUs.
	d.mbSizeX = d.ssxMax << 3
	d.mbSizeY = d.ssyMax << 3
	d.mbWidth = (d.width + d.mbSizeX - 1) / d.mbSizeX
	d.mbHeight = (d.height + d.mbSizeY - 1) / d.mbSizeY

	// Calculate component dimensions and allocate the spectral or pixel stores.
	for i := 0; i < d.ncomp; i++ {
		c := &d.comp[i]
		c.width = (d.width*c.ssX + d.ssxMax - 1) / d.ssxMax
		c.height = (d.height*c.ssY + d.ssyMax - 1) / d.ssyMax
		c.stride = d.mbWidth * c.ssX << 3
		c.nBlocksX = d.mbWidth * c.ssX
		c.nBlocksY = d.mbHeight * c.ssY

		if configOnly {
			continue
		}

		if d.isProgressive {
			// Progressive scans accumulate coefficients; pixels are produced
			// after the final scan.
			n := c.nBlocksX * c.nBlocksY * 64
			if n <= 0 {
				return ErrOutOfMemory
			}

			c.coeffs = make([]int32, n)

			continue
		}

		pixelSize := c.stride * d.mbHeight * c.ssY << 3
		if pixelSize <= 0 {
			return ErrOutOfMemory
		}

		c.pixels = make([]byte, pixelSize)
	}

	d.detectSubsampleRatio()

	d.sofSeen = true

	if d.length > 0 {
		return d.skip(d.length)
	}

	return nil
}

// deduceColorSpace classifies the frame color model from the component count
// and the Adobe APP14 transform, per the conventions libjpeg established.
func (d *decoder) deduceColorSpace() {
	switch d.ncomp {
	case 1:
		d.colorSpace = csGrayscale
	case 3:
		d.colorSpace = csYCbCr
		if d.adobeSeen && d.adobeTransform == 0 {
			d.colorSpace = csRGB
		} else if !d.adobeSeen && d.comp[0].id == 'R' && d.comp[1].id == 'G' && d.comp[2].id == 'B' {
			// Component IDs "RGB" as a fallback when no Adobe marker is present.
			d.colorSpace = csRGB
		}
	case 4:
		d.colorSpace = csCMYK
		if d.adobeSeen && d.adobeTransform == 2 {
			d.colorSpace = csYCCK
		}
	}
}

// detectSubsampleRatio maps the frame sampling factors onto one of the
// standard library's YCbCr subsampling ratios. Frames that don't fit any of
// them are forced through the RGBA conversion path.
func (d *decoder) detectSubsampleRatio() {
	d.subsampleRatio = image.YCbCrSubsampleRatio444
	if d.ncomp != 3 || d.colorSpace != csYCbCr {
		return
	}

	y, cb, cr := &d.comp[0], &d.comp[1], &d.comp[2]
	if cb.ssX == 1 && cb.ssY == 1 && cr.ssX == 1 && cr.ssY == 1 {
		switch {
		case y.ssX == 1 && y.ssY == 1:
			d.subsampleRatio = image.YCbCrSubsampleRatio444
		case y.ssX == 2 && y.ssY == 1:
			d.subsampleRatio = image.YCbCrSubsampleRatio422
		case y.ssX == 2 && y.ssY == 2:
			d.subsampleRatio = image.YCbCrSubsampleRatio420
		case y.ssX == 1 && y.ssY == 2:
			d.subsampleRatio = image.YCbCrSubsampleRatio440
		case y.ssX == 4 && y.ssY == 1:
			d.subsampleRatio = image.YCbCrSubsampleRatio411
		case y.ssX == 4 && y.ssY == 2:
			d.subsampleRatio = image.YCbCrSubsampleRatio410
		default:
			d.forceRGBA = true
		}
	} else {
		d.forceRGBA = true
	}
}

// decodeDHT decodes the Define Huffman Table segment. It parses Huffman table
// specifications and builds fast lookup tables for entropy decoding.
func (d *decoder) decodeDHT() error {
	if err := d.decodeLength(); err != nil {
		return err
	}

	for d.length >= 17 {
		tcth := int(d.jpegData[d.pos])
		tc := tcth >> 4
		th := tcth & 0x0F

		if tc > 1 {
			return fmt.Errorf("bad Tc %d: %w", tc, ErrSyntax)
		}

		if th > 3 {
			return fmt.Errorf("bad Th %d: %w", th, ErrSyntax)
		}

		var counts [16]uint8
		for i := 0; i < 16; i++ {
			counts[i] = d.jpegData[d.pos+1+i]
		}

		if err := d.skip(17); err != nil {
			return err
		}

		var n int
		for _, num := range counts {
			n += int(num)
		}

		if n > 256 || n > d.length {
			return ErrSyntax
		}

		symbols := d.jpegData[d.pos : d.pos+n]

		var vlc *[65536]vlcCode
		if tc == 0 {
			vlc = d.dcVlcTab[th]
			d.dcTabAvail |= 1 << th
		} else {
			vlc = d.acVlcTab[th]
			d.acTabAvail |= 1 << th
		}

		if err := buildVLCTable(vlc, &counts, symbols); err != nil {
			return err
		}

		if err := d.skip(n); err != nil {
			return err
		}
	}

	if d.length != 0 {
		return ErrSyntax
	}

	return nil
}

// decodeDQT decodes the Define Quantization Table segment. It parses and stores
// the 8x8 quantization matrices used for dequantizing DCT coefficients.
// Tables are converted from the on-wire zigzag order to natural (row-major)
// order on ingestion.
func (d *decoder) decodeDQT() error {
	if err := d.decodeLength(); err != nil {
		return err
	}

	for d.length > 0 {
		pqtq := int(d.jpegData[d.pos])
		pq := pqtq >> 4
		tq := pqtq & 0x0F

		if tq > 3 {
			return fmt.Errorf("bad Tq %d: %w", tq, ErrSyntax)
		}

		if pq > 1 {
			return fmt.Errorf("bad Pq %d: %w", pq, ErrSyntax)
		}

		if err := d.skip(1); err != nil {
			return err
		}

		t := d.qtab[tq]

		if pq == 0 {
			if d.length < 64 {
				return ErrSyntax
			}

			for j := 0; j < 64; j++ {
				t[zz[j]] = uint16(d.jpegData[d.pos+j])
			}

			if err := d.skip(64); err != nil {
				return err
			}
		} else {
			// 16-bit table entries, big-endian.
			if d.length < 128 {
				return ErrSyntax
			}

			for j := 0; j < 64; j++ {
				t[zz[j]] = (uint16(d.jpegData[d.pos+2*j]) << 8) | uint16(d.jpegData[d.pos+2*j+1])
			}

			if err := d.skip(128); err != nil {
				return err
			}
		}

		d.qtAvail |= 1 << tq
	}

	if d.length != 0 {
		return ErrSyntax
	}

	return nil
}

// decodeDRI decodes the Define Restart Interval segment. This specifies how often
// restart markers are embedded in the scan data for error resilience.
func (d *decoder) decodeDRI() error {
	if err := d.decodeLength(); err != nil {
		return err
	}

	if d.length < 2 {
		return ErrSyntax
	}

	d.rstInterval = d.decode16(0)

	return d.skip(d.length)
}

// decode reads the JPEG stream from a byte slice, parses all segments, decodes the scan data, and performs color conversion.
// If configOnly is true, it stops after reading the image metadata (SOF marker).
func (d *decoder) decode(jpegData []byte, configOnly bool) (image.Image, error) {
	d.jpegData = jpegData
	d.pos = 0
	d.size = len(jpegData)

	// Check for SOI (Start of Image) marker.
	if d.size < 2 || d.jpegData[0] != 0xFF || d.jpegData[1] != 0xD8 {
		return nil, fmt.Errorf("missing SOI marker: %w", ErrNoJPEG)
	}

	if err := d.skip(2); err != nil {
		return nil, err
	}

markerLoop:
	for {
		if d.size < 2 {
			return nil, ErrUnexpectedEOF
		}

		if d.jpegData[d.pos] != 0xFF {
			return nil, fmt.Errorf("expected marker: %w", ErrSyntax)
		}

		// Any number of 0xFF fill bytes may precede the marker id.
		for d.size >= 2 && d.jpegData[d.pos+1] == 0xFF {
			d.pos++
			d.size--
		}

		if d.size < 2 {
			return nil, ErrUnexpectedEOF
		}

		marker := d.jpegData[d.pos+1]
		if err := d.skip(2); err != nil {
			return nil, err
		}

		switch marker {
		case 0xC0, 0xC1, 0xC2: // SOF0 (Baseline), SOF1 (Extended Sequential), SOF2 (Progressive)
			if err := d.decodeSOF(marker, configOnly); err != nil {
				return nil, err
			}

			if configOnly {
				break markerLoop // Found config, we are done.
			}
		case 0xC4: // DHT (Define Huffman Table)
			if err := d.decodeDHT(); err != nil {
				return nil, err
			}
		case 0xDB: // DQT (Define Quantization Table)
			if err := d.decodeDQT(); err != nil {
				return nil, err
			}
		case 0xDD: // DRI (Define Restart Interval)
			if err := d.decodeDRI(); err != nil {
				return nil, err
			}
		case 0xDA: // SOS (Start of Scan)
			if !d.sofSeen {
				return nil, fmt.Errorf("scan data before SOF: %w", ErrSyntax)
			}

			if err := d.decodeScan(); err != nil {
				return nil, err
			}

			d.scanSeen = true
		case 0xFE: // COM (Comment)
			if err := d.skipMarker(); err != nil {
				return nil, err
			}
		case 0xD9: // EOI (End of Image)
			break markerLoop
		default:
			switch {
			case marker >= 0xE0 && marker <= 0xEF: // APPn markers
				var err error
				switch marker {
				case 0xE0: // APP0 (JFIF)
					err = d.decodeAPP0()
				case 0xE1: // APP1 (EXIF)
					err = d.decodeAPP1()
				case 0xE2: // APP2 (ICC profile)
					err = d.decodeAPP2()
				case 0xEE: // APP14 (Adobe)
					err = d.decodeAPP14()
				default:
					err = d.skipMarker()
				}

				if err != nil {
					return nil, err
				}
			case marker >= 0xD0 && marker <= 0xD7:
				// RSTn markers are handled within the scan; ignore strays here.
			default:
				// Arithmetic coding, hierarchical and lossless frames land here;
				// 12-bit precision is rejected in decodeSOF.
				return nil, fmt.Errorf("marker 0x%02X: %w", marker, ErrUnsupported)
			}
		}
	}

	if !d.sofSeen {
		return nil, fmt.Errorf("missing SOF marker: %w", ErrSyntax)
	}

	if configOnly {
		return nil, nil // Success for config-only path.
	}

	if !d.scanSeen {
		return nil, fmt.Errorf("missing SOS marker: %w", ErrSyntax)
	}

	// Progressive frames hold coefficients until every scan has been seen;
	// dequantization and the IDCT run once, here.
	if d.isProgressive {
		d.postProcessProgressive()
	}

	return d.finishImage()
}
