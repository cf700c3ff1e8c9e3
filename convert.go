package jpegdec

import "image"

// Color conversion
//
// Sequential and progressive decoding leave one full plane per component.
// finishImage turns the planes into the output image: native Gray, YCbCr or
// CMYK when the caller did not ask for RGBA, or a converted RGBA buffer
// otherwise. Subsampled planes are upsampled to the image grid before any
// conversion; native YCbCr output keeps them at their subsampled size.

// finishImage builds the final image from the decoded component planes.
func (d *decoder) finishImage() (image.Image, error) {
	rect := image.Rect(0, 0, d.width, d.height)
	needsRotation := d.autoRotate && d.exif.Orientation > 1
	needsRGBA := d.toRGBA || d.forceRGBA || needsRotation

	switch d.colorSpace {
	case csGrayscale:
		if !needsRGBA {
			return &image.Gray{
				Pix:    d.comp[0].pixels,
				Stride: d.comp[0].stride,
				Rect:   rect,
			}, nil
		}

		d.pixels = make([]byte, d.width*d.height*4)
		grayToRGBA(&d.comp[0], d.pixels, d.width, d.height)

	case csYCbCr:
		if !needsRGBA {
			return &image.YCbCr{
				Y:              d.comp[0].pixels,
				Cb:             d.comp[1].pixels,
				Cr:             d.comp[2].pixels,
				YStride:        d.comp[0].stride,
				CStride:        d.comp[1].stride, // Cb and Cr strides are the same.
				SubsampleRatio: d.subsampleRatio,
				Rect:           rect,
			}, nil
		}

		if err := d.upsampleComponents(); err != nil {
			return nil, err
		}

		d.pixels = make([]byte, d.width*d.height*4)
		yCbCrToRGBA(&d.comp[0], &d.comp[1], &d.comp[2], d.pixels, d.width, d.height)

	case csRGB:
		// RGB-encoded frames are always delivered as RGBA.
		if err := d.upsampleComponents(); err != nil {
			return nil, err
		}

		d.pixels = make([]byte, d.width*d.height*4)
		rgbToRGBA(&d.comp[0], &d.comp[1], &d.comp[2], d.pixels, d.width, d.height)

	case csCMYK, csYCCK:
		if err := d.upsampleComponents(); err != nil {
			return nil, err
		}

		cmyk := d.assembleCMYK(rect)
		if !needsRGBA {
			return cmyk, nil
		}

		d.pixels = make([]byte, d.width*d.height*4)
		cmykToRGBA(cmyk.Pix, d.pixels, d.width, d.height)

	default:
		return nil, ErrInternal
	}

	if needsRotation {
		d.transform()
	}

	return &image.RGBA{
		Pix:    d.pixels,
		Stride: d.width * 4,
		Rect:   image.Rect(0, 0, d.width, d.height),
	}, nil
}

// upsampleComponents brings every subsampled plane up to the image grid.
func (d *decoder) upsampleComponents() error {
	for i := 0; i < d.ncomp; i++ {
		c := &d.comp[i]

		if c.width < d.width || c.height < d.height {
			switch d.upsampleMethod {
			case CatmullRom:
				upsampleCatmullRom(c, d.width, d.height)
			case NearestNeighbor:
				fallthrough
			default:
				upsampleNearestNeighbor(c, d.width, d.height)
			}
		}

		if c.width < d.width || c.height < d.height {
			return ErrInternal
		}
	}

	return nil
}

// ycc converts one YCbCr sample triple to RGB with the JFIF fixed-point
// coefficients (1.402, 0.344136, 0.714136 scaled by 2^8).
func ycc(yv, cb, cr int32) (byte, byte, byte) {
	y := yv << 8
	cb -= 128
	cr -= 128

	r := (y + 359*cr + 128) >> 8
	g := (y - 88*cb - 183*cr + 128) >> 8
	b := (y + 454*cb + 128) >> 8

	return clamp(r), clamp(g), clamp(b)
}

// grayToRGBA expands a grayscale plane into an RGBA buffer.
func grayToRGBA(c *component, dst []byte, width, height int) {
	o := 0
	base := 0

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			lum := c.pixels[base+x]

			dst[o] = lum
			dst[o+1] = lum
			dst[o+2] = lum
			dst[o+3] = 255
			o += 4
		}

		base += c.stride
	}
}

// yCbCrToRGBA converts full-resolution Y, Cb, Cr planes into an RGBA buffer.
func yCbCrToRGBA(cy, cb, cr *component, dst []byte, width, height int) {
	o := 0
	py, pcb, pcr := 0, 0, 0

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b := ycc(int32(cy.pixels[py+x]), int32(cb.pixels[pcb+x]), int32(cr.pixels[pcr+x]))

			dst[o] = r
			dst[o+1] = g
			dst[o+2] = b
			dst[o+3] = 255
			o += 4
		}

		py += cy.stride
		pcb += cb.stride
		pcr += cr.stride
	}
}

// rgbToRGBA interleaves separate R, G, B planes into an RGBA buffer.
func rgbToRGBA(cr, cg, cb *component, dst []byte, width, height int) {
	o := 0
	pr, pg, pb := 0, 0, 0

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			dst[o] = cr.pixels[pr+x]
			dst[o+1] = cg.pixels[pg+x]
			dst[o+2] = cb.pixels[pb+x]
			dst[o+3] = 255
			o += 4
		}

		pr += cr.stride
		pg += cg.stride
		pb += cb.stride
	}
}

// assembleCMYK interleaves the four full-resolution planes into an
// image.CMYK. Adobe stores CMYK samples inverted (255 is no ink), so plain
// CMYK channels are complemented on the way out. For YCCK the first three
// channels pass through the YCbCr inverse first, which cancels the
// inversion; only the black channel is complemented.
func (d *decoder) assembleCMYK(rect image.Rectangle) *image.CMYK {
	img := image.NewCMYK(rect)
	c0, c1, c2, c3 := &d.comp[0], &d.comp[1], &d.comp[2], &d.comp[3]

	o := 0
	p0, p1, p2, p3 := 0, 0, 0, 0

	if d.colorSpace == csYCCK {
		for y := 0; y < d.height; y++ {
			for x := 0; x < d.width; x++ {
				r, g, b := ycc(int32(c0.pixels[p0+x]), int32(c1.pixels[p1+x]), int32(c2.pixels[p2+x]))

				img.Pix[o] = r
				img.Pix[o+1] = g
				img.Pix[o+2] = b
				img.Pix[o+3] = 255 - c3.pixels[p3+x]
				o += 4
			}

			p0 += c0.stride
			p1 += c1.stride
			p2 += c2.stride
			p3 += c3.stride
		}

		return img
	}

	for y := 0; y < d.height; y++ {
		for x := 0; x < d.width; x++ {
			img.Pix[o] = 255 - c0.pixels[p0+x]
			img.Pix[o+1] = 255 - c1.pixels[p1+x]
			img.Pix[o+2] = 255 - c2.pixels[p2+x]
			img.Pix[o+3] = 255 - c3.pixels[p3+x]
			o += 4
		}

		p0 += c0.stride
		p1 += c1.stride
		p2 += c2.stride
		p3 += c3.stride
	}

	return img
}

// cmykToRGBA converts interleaved CMYK pixels (ink values) to RGBA.
func cmykToRGBA(src, dst []byte, width, height int) {
	n := width * height

	for i := 0; i < n; i++ {
		c := uint32(src[i*4])
		m := uint32(src[i*4+1])
		y := uint32(src[i*4+2])
		k := uint32(src[i*4+3])

		w := 255 - k

		dst[i*4] = byte((255 - c) * w / 255)
		dst[i*4+1] = byte((255 - m) * w / 255)
		dst[i*4+2] = byte((255 - y) * w / 255)
		dst[i*4+3] = 255
	}
}

// transform applies rotation and flipping to the decoded RGBA image based on the EXIF orientation tag.
func (d *decoder) transform() {
	srcWidth, srcHeight := d.width, d.height
	src := d.pixels
	srcStride := srcWidth * 4

	dstWidth, dstHeight := srcWidth, srcHeight

	// Orientations 5-8 involve 90/270 degree rotations, swapping width and height.
	if d.exif.Orientation >= 5 {
		dstWidth, dstHeight = srcHeight, srcWidth
	}

	dst := make([]byte, dstWidth*dstHeight*4)
	dstStride := dstWidth * 4

	// Iterate over the source image dimensions (forward mapping).
	for sy := 0; sy < srcHeight; sy++ {
		for sx := 0; sx < srcWidth; sx++ {
			var dx, dy int

			// Map source coordinates (sx, sy) to destination coordinates (dx, dy).
			switch d.exif.Orientation {
			case 2: // Flip horizontal
				dx, dy = srcWidth-1-sx, sy
			case 3: // Rotate 180
				dx, dy = srcWidth-1-sx, srcHeight-1-sy
			case 4: // Flip vertical
				dx, dy = sx, srcHeight-1-sy
			case 5: // Transpose (flip along TL-BR diagonal)
				dx, dy = sy, sx
			case 6: // Rotate 90 CW
				dx, dy = srcHeight-1-sy, sx
			case 7: // Transverse (flip along TR-BL diagonal)
				dx, dy = srcHeight-1-sy, srcWidth-1-sx
			case 8: // Rotate 270 CW (90 CCW)
				dx, dy = sy, srcWidth-1-sx
			default:
				// Orientation 1 never reaches transform.
				continue
			}

			srcOffset := sy*srcStride + sx*4
			dstOffset := dy*dstStride + dx*4

			copy(dst[dstOffset:dstOffset+4], src[srcOffset:srcOffset+4])
		}
	}

	d.pixels = dst
	d.width = dstWidth
	d.height = dstHeight
}
