package jpegdec

// Upsampling

// Constants for a 4-tap Catmull-Rom upsampling filter.
const (
	cf4A = -9
	cf4B = 111
	cf4C = 29
	cf4D = -3
	cf3A = 28
	cf3B = 109
	cf3C = -9
	cf3X = 104
	cf3Y = 27
	cf3Z = -3
	cf2A = 139
	cf2B = -11
)

// cf applies the final step of the filter calculation.
func cf(x int32) byte {
	return clamp((x + 64) >> 7)
}

// upsampleNearestNeighbor scales a component plane up to width x height by
// sample replication. The proportional index mapping handles every integer
// sampling ratio, including the edge blocks of non-MCU-aligned images.
func upsampleNearestNeighbor(c *component, width, height int) {
	if c.width >= width && c.height >= height {
		return
	}

	out := make([]byte, width*height)

	for y := 0; y < height; y++ {
		lin := c.pixels[(y*c.height/height)*c.stride:]
		lout := out[y*width:]

		for x := 0; x < width; x++ {
			lout[x] = lin[x*c.width/width]
		}
	}

	c.width = width
	c.height = height
	c.stride = width
	c.pixels = out
}

// upsampleCatmullRom upsamples by repeated 2x interpolation passes until the
// plane covers the target size. The filter needs at least three samples per
// axis and a power-of-two scale; anything else falls back to replication.
func upsampleCatmullRom(c *component, width, height int) {
	if c.width < 3 || c.height < 3 ||
		!pow2Scale(c.width, width) || !pow2Scale(c.height, height) {
		upsampleNearestNeighbor(c, width, height)

		return
	}

	for c.width < width || c.height < height {
		if c.width < width {
			upsampleH(c)
		}

		if c.height < height {
			upsampleV(c)
		}
	}
}

// pow2Scale reports whether doubling 'from' until it covers 'to' lands on a
// grid consistent with a power-of-two sampling ratio.
func pow2Scale(from, to int) bool {
	if from >= to {
		return true
	}

	ratio := (to + from - 1) / from

	return ratio&(ratio-1) == 0
}

// upsampleH performs a 2x horizontal upsampling on a component's pixel data.
// It uses a 4-tap Catmull-Rom interpolation filter.
func upsampleH(c *component) {
	out := make([]byte, (c.width*c.height)<<1)

	newWidth := c.width << 1
	lin := c.pixels
	lout := out

	for y := 0; y < c.height; y++ {
		baseIn := y * c.stride
		baseOut := y * newWidth

		// Left-edge boundary conditions (forward application).
		p0L := int32(lin[baseIn+0])
		p1L := int32(lin[baseIn+1])
		p2L := int32(lin[baseIn+2])

		lout[baseOut+0] = cf(cf2A*p0L + cf2B*p1L)
		lout[baseOut+1] = cf(cf3X*p0L + cf3Y*p1L + cf3Z*p2L)
		lout[baseOut+2] = cf(cf3A*p0L + cf3B*p1L + cf3C*p2L)

		// Main loop for the middle part of the row.
		for x := 0; x < c.width-3; x++ {
			p0 := int32(lin[baseIn+x])
			p1 := int32(lin[baseIn+x+1])
			p2 := int32(lin[baseIn+x+2])
			p3 := int32(lin[baseIn+x+3])

			lout[baseOut+(x<<1)+3] = cf(cf4A*p0 + cf4B*p1 + cf4C*p2 + cf4D*p3)
			lout[baseOut+(x<<1)+4] = cf(cf4D*p0 + cf4C*p1 + cf4B*p2 + cf4A*p3)
		}

		// Right-edge boundary conditions (symmetric application).
		p0R := int32(lin[baseIn+c.width-1])
		p1R := int32(lin[baseIn+c.width-2])
		p2R := int32(lin[baseIn+c.width-3])

		lout[baseOut+newWidth-3] = cf(cf3A*p0R + cf3B*p1R + cf3C*p2R)
		lout[baseOut+newWidth-2] = cf(cf3X*p0R + cf3Y*p1R + cf3Z*p2R)
		lout[baseOut+newWidth-1] = cf(cf2A*p0R + cf2B*p1R)
	}

	c.width = newWidth
	c.stride = c.width
	c.pixels = out
}

// upsampleV performs a 2x vertical upsampling on a component's pixel data.
// Like upsampleH, it uses a 4-tap Catmull-Rom filter and symmetric boundary
// conditions.
func upsampleV(c *component) {
	w := c.width
	s1 := c.stride
	s2 := s1 + s1
	s3 := s2 + s1
	newHeight := c.height << 1

	out := make([]byte, w*newHeight)

	for x := 0; x < w; x++ {
		cin := x
		cout := x

		// Top-edge boundary conditions (forward application).
		p0T := int32(c.pixels[cin])
		p1T := int32(c.pixels[cin+s1])
		p2T := int32(c.pixels[cin+s2])

		out[cout] = cf(cf2A*p0T + cf2B*p1T)
		cout += w
		out[cout] = cf(cf3X*p0T + cf3Y*p1T + cf3Z*p2T)
		cout += w
		out[cout] = cf(cf3A*p0T + cf3B*p1T + cf3C*p2T)

		// Main loop for the middle part of the column.
		for y := 0; y < c.height-3; y++ {
			p0 := int32(c.pixels[cin])
			p1 := int32(c.pixels[cin+s1])
			p2 := int32(c.pixels[cin+s2])
			p3 := int32(c.pixels[cin+s3])

			cout += w
			out[cout] = cf(cf4A*p0 + cf4B*p1 + cf4C*p2 + cf4D*p3)
			cout += w
			out[cout] = cf(cf4D*p0 + cf4C*p1 + cf4B*p2 + cf4A*p3)

			cin += s1
		}

		// Bottom-edge boundary conditions (symmetric application).
		p0B := int32(c.pixels[cin+s2])
		p1B := int32(c.pixels[cin+s1])
		p2B := int32(c.pixels[cin])

		cout += w
		out[cout] = cf(cf3A*p0B + cf3B*p1B + cf3C*p2B)
		cout += w
		out[cout] = cf(cf3X*p0B + cf3Y*p1B + cf3Z*p2B)
		cout += w
		out[cout] = cf(cf2A*p0B + cf2B*p1B)
	}

	c.height = newHeight
	c.stride = c.width
	c.pixels = out
}
