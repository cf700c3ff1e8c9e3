package jpegdec

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

// A small tolerance accounts for differences between IDCT and color
// conversion roundings across implementations.
const defaultTolerance = 2

// isClose checks if two color component values are within the allowed tolerance.
func isClose(a, b, tol uint8) bool {
	if a > b {
		return a-b <= tol
	}

	return b-a <= tol
}

// Stream construction helpers. Tests assemble synthetic JPEG streams segment
// by segment so each scenario controls the exact bytes on the wire.

func appendSegment(dst []byte, marker byte, payload []byte) []byte {
	n := len(payload) + 2
	dst = append(dst, 0xFF, marker, byte(n>>8), byte(n))

	return append(dst, payload...)
}

// dqtUnitPayload defines quantization table 0 with every divisor 1.
func dqtUnitPayload() []byte {
	p := make([]byte, 65)
	p[0] = 0x00
	for i := 1; i < 65; i++ {
		p[i] = 1
	}

	return p
}

// dhtPayload builds a DHT payload for a single table.
func dhtPayload(class, id byte, counts [16]byte, symbols []byte) []byte {
	p := []byte{class<<4 | id}
	p = append(p, counts[:]...)

	return append(p, symbols...)
}

// sofPayload builds an 8-bit precision frame header. Each component is
// (id, H<<4|V, quant table).
func sofPayload(width, height int, comps ...[3]byte) []byte {
	p := []byte{8, byte(height >> 8), byte(height), byte(width >> 8), byte(width), byte(len(comps))}
	for _, c := range comps {
		p = append(p, c[0], c[1], c[2])
	}

	return p
}

// sosPayload builds a scan header. Each component is (id, Td<<4|Ta).
func sosPayload(ss, se, ahal byte, comps ...[2]byte) []byte {
	p := []byte{byte(len(comps))}
	for _, c := range comps {
		p = append(p, c[0], c[1])
	}

	return append(p, ss, se, ahal)
}

// grayBaselineHeader assembles SOI..SOS for a single-component baseline
// frame with unit quantization and the given Huffman tables.
func grayBaselineHeader(width, height int, tables ...[]byte) []byte {
	s := []byte{0xFF, 0xD8}
	s = appendSegment(s, 0xDB, dqtUnitPayload())
	s = appendSegment(s, 0xC0, sofPayload(width, height, [3]byte{1, 0x11, 0}))

	for _, tb := range tables {
		s = appendSegment(s, 0xC4, tb)
	}

	return appendSegment(s, 0xDA, sosPayload(0, 63, 0, [2]byte{1, 0x00}))
}

var (
	// A DC table holding the single symbol 0 (zero diff) with code '0'.
	dhtDCZero = dhtPayload(0, 0, [16]byte{1}, []byte{0x00})
	// An AC table holding the single symbol 0x00 (EOB) with code '0'.
	dhtACEOB = dhtPayload(1, 0, [16]byte{1}, []byte{0x00})
	// A DC table with codes '0' -> symbol 0 and '1' -> symbol 8 (category 8).
	dhtDCZeroOrCat8 = dhtPayload(0, 0, [16]byte{2}, []byte{0x00, 0x08})
)

// grayStream128 is the minimal 8x8 grayscale stream: zero DC diff, immediate
// end of block, one padded entropy byte.
func grayStream128() []byte {
	s := grayBaselineHeader(8, 8, dhtDCZero, dhtACEOB)
	s = append(s, 0x3F) // bits: DC '0', EOB '0', six 1-bits of padding
	return append(s, 0xFF, 0xD9)
}

// TestDecodeGraySingleBlock decodes an 8x8 grayscale image whose only block
// carries a zero DC coefficient; after the level shift every sample is 128.
func TestDecodeGraySingleBlock(t *testing.T) {
	img, err := Decode(bytes.NewReader(grayStream128()))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	gray, ok := img.(*image.Gray)
	if !ok {
		t.Fatalf("expected *image.Gray, got %T", img)
	}

	if b := gray.Bounds(); b.Dx() != 8 || b.Dy() != 8 {
		t.Fatalf("expected 8x8 image, got %dx%d", b.Dx(), b.Dy())
	}

	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			if v := gray.GrayAt(x, y).Y; v != 128 {
				t.Fatalf("pixel (%d,%d) = %d, want 128", x, y, v)
			}
		}
	}

	// The RGBA conversion of the same stream is uniform 128 as well.
	rgba, err := Decode(bytes.NewReader(grayStream128()), &Options{ToRGBA: true})
	if err != nil {
		t.Fatalf("Decode (ToRGBA) failed: %v", err)
	}

	got := rgba.At(3, 5).(color.RGBA)
	if got.R != 128 || got.G != 128 || got.B != 128 || got.A != 255 {
		t.Fatalf("RGBA pixel = %v, want {128 128 128 255}", got)
	}
}

// TestDecodeConfigGray reports dimensions and color model without decoding
// scan data.
func TestDecodeConfigGray(t *testing.T) {
	cfg, err := DecodeConfig(bytes.NewReader(grayStream128()))
	if err != nil {
		t.Fatalf("DecodeConfig failed: %v", err)
	}

	if cfg.Width != 8 || cfg.Height != 8 {
		t.Fatalf("config = %dx%d, want 8x8", cfg.Width, cfg.Height)
	}

	if cfg.ColorModel != color.GrayModel {
		t.Fatalf("color model = %v, want GrayModel", cfg.ColorModel)
	}
}

// restartStream builds a 16x8 grayscale stream with DRI=1: two MCUs
// separated by a restart marker. Each MCU encodes DC category 8 with value
// bits 11111110 (diff +254), which also forces a stuffed 0xFF00 into the
// entropy data.
func restartStream(rstMarker byte) []byte {
	s := []byte{0xFF, 0xD8}
	s = appendSegment(s, 0xDB, dqtUnitPayload())
	s = appendSegment(s, 0xDD, []byte{0x00, 0x01}) // DRI = 1
	s = appendSegment(s, 0xC0, sofPayload(16, 8, [3]byte{1, 0x11, 0}))
	s = appendSegment(s, 0xC4, dhtDCZeroOrCat8)
	s = appendSegment(s, 0xC4, dhtACEOB)
	s = appendSegment(s, 0xDA, sosPayload(0, 63, 0, [2]byte{1, 0x00}))

	// MCU 0: DC code '1', value 11111110, EOB '0' -> FF (stuffed) 3F.
	s = append(s, 0xFF, 0x00, 0x3F)
	s = append(s, 0xFF, rstMarker)
	// MCU 1: identical bits; the DC predictor must have been reset.
	s = append(s, 0xFF, 0x00, 0x3F)

	return append(s, 0xFF, 0xD9)
}

// TestRestartInterval verifies restart marker consumption, DC predictor
// reset, and byte stuffing inside entropy data. Both MCUs decode the same
// diff, so with a properly reset predictor the two halves are identical.
func TestRestartInterval(t *testing.T) {
	data := restartStream(0xD0)

	img, err := Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	ref, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("std jpeg.Decode failed: %v", err)
	}

	gray := img.(*image.Gray)
	refGray := ref.(*image.Gray)

	for y := 0; y < 8; y++ {
		for x := 0; x < 16; x++ {
			got := gray.GrayAt(x, y).Y
			want := refGray.GrayAt(x, y).Y

			if !isClose(got, want, defaultTolerance) {
				t.Fatalf("pixel (%d,%d) = %d, want close to %d", x, y, got, want)
			}
		}
	}

	// DC 254 with unit quantization lands near (254/8)+128.
	if got := gray.GrayAt(0, 0).Y; !isClose(got, 160, defaultTolerance) {
		t.Fatalf("pixel (0,0) = %d, want close to 160", got)
	}

	if got, want := gray.GrayAt(12, 4).Y, gray.GrayAt(4, 4).Y; got != want {
		t.Fatalf("second MCU diverges from first: %d vs %d (DC predictor not reset?)", got, want)
	}
}

// TestRestartMarkerMismatch rejects a restart marker with the wrong sequence
// number.
func TestRestartMarkerMismatch(t *testing.T) {
	if _, err := Decode(bytes.NewReader(restartStream(0xD1))); !errors.Is(err, ErrSyntax) {
		t.Fatalf("expected ErrSyntax for RST1 in place of RST0, got %v", err)
	}
}

// testPattern builds a deterministic color gradient for round trips through
// the standard library encoder.
func testPattern(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x * 255 / max(w-1, 1)),
				G: uint8(y * 255 / max(h-1, 1)),
				B: uint8((x + y) * 255 / max(w+h-2, 1)),
				A: 255,
			})
		}
	}

	return img
}

// TestDecodeVsStdlibBaseline decodes standard-library-encoded baseline
// streams and compares the YCbCr planes against the standard decoder.
func TestDecodeVsStdlibBaseline(t *testing.T) {
	sizes := []image.Point{{X: 32, Y: 24}, {X: 19, Y: 17}, {X: 16, Y: 16}}
	qualities := []int{90, 50}

	for _, size := range sizes {
		for _, q := range qualities {
			var buf bytes.Buffer
			if err := jpeg.Encode(&buf, testPattern(size.X, size.Y), &jpeg.Options{Quality: q}); err != nil {
				t.Fatalf("jpeg.Encode failed: %v", err)
			}

			data := buf.Bytes()

			ref, err := jpeg.Decode(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("std jpeg.Decode failed: %v", err)
			}

			img, err := Decode(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("Decode failed (%dx%d q%d): %v", size.X, size.Y, q, err)
			}

			if img.Bounds() != ref.Bounds() {
				t.Fatalf("bounds mismatch: got %v, want %v", img.Bounds(), ref.Bounds())
			}

			refY, ok := ref.(*image.YCbCr)
			if !ok {
				t.Fatalf("std decoder returned %T", ref)
			}

			gotY, ok := img.(*image.YCbCr)
			if !ok {
				t.Fatalf("expected *image.YCbCr, got %T", img)
			}

			for y := 0; y < size.Y; y++ {
				for x := 0; x < size.X; x++ {
					want := refY.YCbCrAt(x, y)
					got := gotY.YCbCrAt(x, y)

					if !isClose(got.Y, want.Y, defaultTolerance) ||
						!isClose(got.Cb, want.Cb, defaultTolerance) ||
						!isClose(got.Cr, want.Cr, defaultTolerance) {
						t.Fatalf("%dx%d q%d: pixel (%d,%d) = %v, want close to %v", size.X, size.Y, q, x, y, got, want)
					}
				}
			}
		}
	}
}

// TestDecodeVsStdlibGray round-trips a grayscale image through the standard
// encoder.
func TestDecodeVsStdlibGray(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 21, 13))
	for y := 0; y < 13; y++ {
		for x := 0; x < 21; x++ {
			src.SetGray(x, y, color.Gray{Y: uint8(x*12 + y*7)})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: 85}); err != nil {
		t.Fatalf("jpeg.Encode failed: %v", err)
	}

	ref, err := jpeg.Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("std jpeg.Decode failed: %v", err)
	}

	img, err := Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	refGray := ref.(*image.Gray)
	gray, ok := img.(*image.Gray)
	if !ok {
		t.Fatalf("expected *image.Gray, got %T", img)
	}

	for y := 0; y < 13; y++ {
		for x := 0; x < 21; x++ {
			if !isClose(gray.GrayAt(x, y).Y, refGray.GrayAt(x, y).Y, defaultTolerance) {
				t.Fatalf("pixel (%d,%d) = %d, want close to %d", x, y, gray.GrayAt(x, y).Y, refGray.GrayAt(x, y).Y)
			}
		}
	}
}

// TestDecodeTwiceIdentical verifies that decoding the same bytes twice
// produces byte-identical pixel buffers.
func TestDecodeTwiceIdentical(t *testing.T) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, testPattern(24, 18), &jpeg.Options{Quality: 75}); err != nil {
		t.Fatalf("jpeg.Encode failed: %v", err)
	}

	opts := &Options{ToRGBA: true}

	first, err := Decode(bytes.NewReader(buf.Bytes()), opts)
	if err != nil {
		t.Fatalf("first Decode failed: %v", err)
	}

	second, err := Decode(bytes.NewReader(buf.Bytes()), opts)
	if err != nil {
		t.Fatalf("second Decode failed: %v", err)
	}

	if !bytes.Equal(first.(*image.RGBA).Pix, second.(*image.RGBA).Pix) {
		t.Fatal("two decodes of the same stream differ")
	}
}

// TestUnknownAPPnSkipped verifies that unknown APPn and COM segments do not
// alter pixel output.
func TestUnknownAPPnSkipped(t *testing.T) {
	plain := grayStream128()

	// The same stream with APP7 and COM segments spliced in after SOI.
	padded := []byte{0xFF, 0xD8}
	padded = appendSegment(padded, 0xE7, []byte("vendor blob"))
	padded = appendSegment(padded, 0xFE, []byte("a comment"))
	padded = append(padded, plain[2:]...)

	a, err := Decode(bytes.NewReader(plain))
	if err != nil {
		t.Fatalf("Decode (plain) failed: %v", err)
	}

	b, err := Decode(bytes.NewReader(padded))
	if err != nil {
		t.Fatalf("Decode (padded) failed: %v", err)
	}

	if !bytes.Equal(a.(*image.Gray).Pix, b.(*image.Gray).Pix) {
		t.Fatal("extra APPn/COM segments changed pixel output")
	}
}

// adobePayload builds an APP14 payload with the given color transform.
func adobePayload(transform byte) []byte {
	return []byte{'A', 'd', 'o', 'b', 'e', 0x64, 0x00, 0x00, 0x00, 0x00, 0x00, transform}
}

// fourCompStream builds an 8x8 four-component sequential stream with an
// Adobe marker carrying the given transform. Every component encodes a zero
// DC diff, so all samples are 128.
func fourCompStream(transform byte) []byte {
	s := []byte{0xFF, 0xD8}
	s = appendSegment(s, 0xEE, adobePayload(transform))
	s = appendSegment(s, 0xDB, dqtUnitPayload())
	s = appendSegment(s, 0xC0, sofPayload(8, 8,
		[3]byte{1, 0x11, 0}, [3]byte{2, 0x11, 0}, [3]byte{3, 0x11, 0}, [3]byte{4, 0x11, 0}))
	s = appendSegment(s, 0xC4, dhtDCZero)
	s = appendSegment(s, 0xC4, dhtACEOB)
	s = appendSegment(s, 0xDA, sosPayload(0, 63, 0,
		[2]byte{1, 0x00}, [2]byte{2, 0x00}, [2]byte{3, 0x00}, [2]byte{4, 0x00}))

	// 4 components x (DC '0' + EOB '0') = exactly one zero byte.
	s = append(s, 0x00)

	return append(s, 0xFF, 0xD9)
}

// TestAdobeCMYK verifies that a four-component frame with Adobe transform 0
// classifies as CMYK (not YCCK) and matches the standard library's output
// convention (inverted ink samples).
func TestAdobeCMYK(t *testing.T) {
	data := fourCompStream(0)

	img, err := Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	cmyk, ok := img.(*image.CMYK)
	if !ok {
		t.Fatalf("expected *image.CMYK, got %T", img)
	}

	ref, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("std jpeg.Decode failed: %v", err)
	}

	refCMYK := ref.(*image.CMYK)

	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			got := cmyk.CMYKAt(x, y)
			want := refCMYK.CMYKAt(x, y)

			if got != want {
				t.Fatalf("pixel (%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}

	// Sample 128 stored in inverted sense.
	if got := cmyk.CMYKAt(0, 0); got.C != 127 || got.K != 127 {
		t.Fatalf("CMYK(0,0) = %v, want inverted 128s", got)
	}
}

// TestAdobeYCCK verifies transform 2 classification and conversion.
func TestAdobeYCCK(t *testing.T) {
	data := fourCompStream(2)

	img, err := Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	cmyk, ok := img.(*image.CMYK)
	if !ok {
		t.Fatalf("expected *image.CMYK, got %T", img)
	}

	ref, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("std jpeg.Decode failed: %v", err)
	}

	refCMYK := ref.(*image.CMYK)

	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			got := cmyk.CMYKAt(x, y)
			want := refCMYK.CMYKAt(x, y)

			if !isClose(got.C, want.C, defaultTolerance) ||
				!isClose(got.M, want.M, defaultTolerance) ||
				!isClose(got.Y, want.Y, defaultTolerance) ||
				got.K != want.K {
				t.Fatalf("pixel (%d,%d) = %v, want close to %v", x, y, got, want)
			}
		}
	}

	cfg, err := DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeConfig failed: %v", err)
	}

	if cfg.ColorModel != color.CMYKModel {
		t.Fatalf("color model = %v, want CMYKModel", cfg.ColorModel)
	}
}

// jfifPayload builds an APP0 payload with the given density unit and values.
func jfifPayload(units byte, dx, dy uint16) []byte {
	return []byte{
		'J', 'F', 'I', 'F', 0,
		1, 1, // version
		units,
		byte(dx >> 8), byte(dx), byte(dy >> 8), byte(dy),
		0, 0, // no thumbnail
	}
}

// exifResolutionPayload builds an APP1 payload declaring 96 DPI.
func exifResolutionPayload() []byte {
	tail := append(rationalLE(96, 1), rationalLE(96, 1)...)

	tiff := buildTIFF([][12]byte{
		rationalEntryLE(tagXResolution, 50),
		rationalEntryLE(tagYResolution, 58),
		shortEntryLE(tagResolutionUnit, 2),
	}, tail)

	return append([]byte("Exif\x00\x00"), tiff...)
}

// grayStreamWithMetadata splices metadata segments between SOI and the rest
// of the minimal grayscale stream.
func grayStreamWithMetadata(segments ...[]byte) []byte {
	s := []byte{0xFF, 0xD8}
	s = append(s, bytes.Join(segments, nil)...)

	return append(s, grayStream128()[2:]...)
}

// TestMetadataResolutionEXIFOverJFIF: when both EXIF and JFIF declare a
// resolution, the EXIF tags win.
func TestMetadataResolutionEXIFOverJFIF(t *testing.T) {
	var app1, app0 []byte
	app1 = appendSegment(app1, 0xE1, exifResolutionPayload())
	app0 = appendSegment(app0, 0xE0, jfifPayload(1, 72, 72))

	data := grayStreamWithMetadata(app1, app0)

	img, meta, err := DecodeWithMetadata(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("DecodeWithMetadata failed: %v", err)
	}

	if img == nil || meta == nil {
		t.Fatal("missing image or metadata")
	}

	if meta.HorizontalResolution != 96 || meta.VerticalResolution != 96 {
		t.Fatalf("resolution = %vx%v, want 96x96", meta.HorizontalResolution, meta.VerticalResolution)
	}

	if meta.EXIF == nil {
		t.Fatal("EXIF payload not retained")
	}
}

// TestMetadataJFIFDensity reports JFIF density when no EXIF resolution is
// present, converting dots-per-centimeter to DPI.
func TestMetadataJFIFDensity(t *testing.T) {
	var app0 []byte
	app0 = appendSegment(app0, 0xE0, jfifPayload(1, 72, 72))

	_, meta, err := DecodeWithMetadata(bytes.NewReader(grayStreamWithMetadata(app0)))
	if err != nil {
		t.Fatalf("DecodeWithMetadata failed: %v", err)
	}

	if meta.HorizontalResolution != 72 || meta.VerticalResolution != 72 {
		t.Fatalf("resolution = %vx%v, want 72x72", meta.HorizontalResolution, meta.VerticalResolution)
	}

	// Unit 2 is dots per centimeter.
	app0 = app0[:0]
	app0 = appendSegment(app0, 0xE0, jfifPayload(2, 100, 100))

	_, meta, err = DecodeWithMetadata(bytes.NewReader(grayStreamWithMetadata(app0)))
	if err != nil {
		t.Fatalf("DecodeWithMetadata failed: %v", err)
	}

	if meta.HorizontalResolution != 254 || meta.VerticalResolution != 254 {
		t.Fatalf("resolution = %vx%v, want 254x254", meta.HorizontalResolution, meta.VerticalResolution)
	}
}

// TestICCMultiChunk verifies that an ICC profile split across two APP2
// segments is reassembled in order.
func TestICCMultiChunk(t *testing.T) {
	chunk := func(index, count byte, payload string) []byte {
		p := append([]byte("ICC_PROFILE\x00"), index, count)
		return append(p, payload...)
	}

	var segs []byte
	segs = appendSegment(segs, 0xE2, chunk(1, 2, "abc"))
	segs = appendSegment(segs, 0xE2, chunk(2, 2, "def"))

	_, meta, err := DecodeWithMetadata(bytes.NewReader(grayStreamWithMetadata(segs)))
	if err != nil {
		t.Fatalf("DecodeWithMetadata failed: %v", err)
	}

	if string(meta.ICC) != "abcdef" {
		t.Fatalf("ICC = %q, want %q", meta.ICC, "abcdef")
	}
}

// TestIgnoreMetadata skips EXIF and ICC retention.
func TestIgnoreMetadata(t *testing.T) {
	var segs []byte
	segs = appendSegment(segs, 0xE1, exifResolutionPayload())
	segs = appendSegment(segs, 0xE2, append([]byte("ICC_PROFILE\x00\x01\x01"), "xyz"...))

	_, meta, err := DecodeWithMetadata(bytes.NewReader(grayStreamWithMetadata(segs)), &Options{IgnoreMetadata: true})
	if err != nil {
		t.Fatalf("DecodeWithMetadata failed: %v", err)
	}

	if meta.EXIF != nil || meta.ICC != nil {
		t.Fatalf("metadata retained despite IgnoreMetadata: EXIF=%d bytes, ICC=%d bytes", len(meta.EXIF), len(meta.ICC))
	}
}

// TestParseMetadataStopsAtSOF parses a stream that ends right after the
// frame header: enough for dimensions and resolution, no scan data needed.
func TestParseMetadataStopsAtSOF(t *testing.T) {
	s := []byte{0xFF, 0xD8}
	s = appendSegment(s, 0xE0, jfifPayload(1, 300, 300))
	s = appendSegment(s, 0xDB, dqtUnitPayload())
	s = appendSegment(s, 0xC0, sofPayload(640, 480, [3]byte{1, 0x11, 0}))

	cfg, meta, err := ParseMetadata(bytes.NewReader(s))
	if err != nil {
		t.Fatalf("ParseMetadata failed: %v", err)
	}

	if cfg.Width != 640 || cfg.Height != 480 {
		t.Fatalf("config = %dx%d, want 640x480", cfg.Width, cfg.Height)
	}

	if meta.HorizontalResolution != 300 {
		t.Fatalf("resolution = %v, want 300", meta.HorizontalResolution)
	}
}

// TestDecodeErrors exercises the error taxonomy at the segment level.
func TestDecodeErrors(t *testing.T) {
	t.Run("missing SOI", func(t *testing.T) {
		if _, err := Decode(bytes.NewReader([]byte{0x00, 0x01, 0x02})); !errors.Is(err, ErrNoJPEG) {
			t.Fatalf("expected ErrNoJPEG, got %v", err)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		if _, err := Decode(bytes.NewReader(nil)); !errors.Is(err, ErrNoJPEG) {
			t.Fatalf("expected ErrNoJPEG, got %v", err)
		}
	})

	t.Run("truncated between segments", func(t *testing.T) {
		data := grayStream128()
		// SOI (2 bytes) + DQT segment (4 + 65 bytes): the stream ends where
		// the next marker should start.
		if _, err := Decode(bytes.NewReader(data[:71])); !errors.Is(err, ErrUnexpectedEOF) {
			t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
		}
	})

	t.Run("bad Tq", func(t *testing.T) {
		s := []byte{0xFF, 0xD8}
		p := dqtUnitPayload()
		p[0] = 0x04 // Tq = 4
		s = appendSegment(s, 0xDB, p)

		if _, err := Decode(bytes.NewReader(s)); !errors.Is(err, ErrSyntax) {
			t.Fatalf("expected ErrSyntax, got %v", err)
		}
	})

	t.Run("bad Pq", func(t *testing.T) {
		s := []byte{0xFF, 0xD8}
		p := dqtUnitPayload()
		p[0] = 0x20 // Pq = 2
		s = appendSegment(s, 0xDB, p)

		if _, err := Decode(bytes.NewReader(s)); !errors.Is(err, ErrSyntax) {
			t.Fatalf("expected ErrSyntax, got %v", err)
		}
	})

	t.Run("bad Tc", func(t *testing.T) {
		s := []byte{0xFF, 0xD8}
		s = appendSegment(s, 0xC4, dhtPayload(2, 0, [16]byte{1}, []byte{0x00}))

		if _, err := Decode(bytes.NewReader(s)); !errors.Is(err, ErrSyntax) {
			t.Fatalf("expected ErrSyntax, got %v", err)
		}
	})

	t.Run("multiple SOF", func(t *testing.T) {
		s := []byte{0xFF, 0xD8}
		s = appendSegment(s, 0xC0, sofPayload(8, 8, [3]byte{1, 0x11, 0}))
		s = appendSegment(s, 0xC0, sofPayload(8, 8, [3]byte{1, 0x11, 0}))

		if _, err := Decode(bytes.NewReader(s)); !errors.Is(err, ErrSyntax) {
			t.Fatalf("expected ErrSyntax, got %v", err)
		}
	})

	t.Run("scan before SOF", func(t *testing.T) {
		s := []byte{0xFF, 0xD8}
		s = appendSegment(s, 0xDA, sosPayload(0, 63, 0, [2]byte{1, 0x00}))

		if _, err := Decode(bytes.NewReader(s)); !errors.Is(err, ErrSyntax) {
			t.Fatalf("expected ErrSyntax, got %v", err)
		}
	})

	t.Run("unsupported precision", func(t *testing.T) {
		s := []byte{0xFF, 0xD8}
		p := sofPayload(8, 8, [3]byte{1, 0x11, 0})
		p[0] = 12
		s = appendSegment(s, 0xC0, p)

		if _, err := Decode(bytes.NewReader(s)); !errors.Is(err, ErrUnsupported) {
			t.Fatalf("expected ErrUnsupported, got %v", err)
		}
	})

	t.Run("arithmetic coding frame", func(t *testing.T) {
		s := []byte{0xFF, 0xD8}
		s = appendSegment(s, 0xC9, sofPayload(8, 8, [3]byte{1, 0x11, 0}))

		if _, err := Decode(bytes.NewReader(s)); !errors.Is(err, ErrUnsupported) {
			t.Fatalf("expected ErrUnsupported, got %v", err)
		}
	})

	t.Run("invalid Huffman code", func(t *testing.T) {
		s := grayBaselineHeader(8, 8, dhtDCZero, dhtACEOB)
		// The only DC code is '0'; a leading 1-bit matches nothing.
		s = append(s, 0x80)
		s = append(s, 0xFF, 0xD9)

		if _, err := Decode(bytes.NewReader(s)); !errors.Is(err, ErrSyntax) {
			t.Fatalf("expected ErrSyntax, got %v", err)
		}
	})
}
