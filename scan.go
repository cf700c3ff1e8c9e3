package jpegdec

import "fmt"

// Entropy-coded scan decoding.
//
// Sequential and progressive scans share the SOS header parsing and the MCU
// iteration; they differ in where a decoded block lands. Sequential scans
// dequantize and transform each block straight into the component pixel
// plane. Progressive scans accumulate coefficients in the per-component
// grids across several scans, refined bit by bit, and the transform runs
// once after the last scan.

// decodeScan decodes one entropy-coded scan. Errors raised in the hot path
// surface as panics and are converted back here.
func (d *decoder) decodeScan() (err error) {
	defer func() {
		if r := recover(); r != nil {
			if de, ok := r.(errDecode); ok {
				err = de.error
			} else {
				// Propagate other panics (e.g., runtime errors).
				panic(r)
			}
		}
	}()

	return d.decodeScanInternal()
}

// decodeScanInternal parses the SOS header, validates it against the frame
// state, and runs the MCU loop.
func (d *decoder) decodeScanInternal() error {
	if err := d.decodeLength(); err != nil {
		return err
	}

	if d.length < 4 {
		return ErrSyntax
	}

	nCompScan := int(d.jpegData[d.pos])
	if nCompScan < 1 || nCompScan > d.ncomp || d.length != 4+2*nCompScan {
		return fmt.Errorf("SOS length inconsistent with component count: %w", ErrSyntax)
	}

	if err := d.skip(1); err != nil {
		return err
	}

	var scan [4]int
	totalHV := 0

	for i := 0; i < nCompScan; i++ {
		scanID := int(d.jpegData[d.pos])

		compIndex := -1
		for j := 0; j < d.ncomp; j++ {
			if d.comp[j].id == scanID {
				compIndex = j
			}
		}

		if compIndex < 0 {
			return fmt.Errorf("unknown component selector %d: %w", scanID, ErrSyntax)
		}

		for j := 0; j < i; j++ {
			if scan[j] == compIndex {
				return fmt.Errorf("repeated component selector %d: %w", scanID, ErrSyntax)
			}
		}

		scan[i] = compIndex
		c := &d.comp[compIndex]

		c.dcTabSel = int(d.jpegData[d.pos+1]) >> 4
		c.acTabSel = int(d.jpegData[d.pos+1]) & 0x0F
		if c.dcTabSel > 3 || c.acTabSel > 3 {
			return ErrSyntax
		}

		// Baseline frames are limited to two tables per class (table B.3).
		if d.isBaseline && (c.dcTabSel > 1 || c.acTabSel > 1) {
			return fmt.Errorf("bad Td/Ta value for baseline frame: %w", ErrSyntax)
		}

		totalHV += c.ssX * c.ssY

		if err := d.skip(2); err != nil {
			return err
		}
	}

	// Section B.2.3: in an interleaved scan the total H*V must not exceed 10.
	if nCompScan > 1 && totalHV > 10 {
		return fmt.Errorf("total sampling factors too large: %w", ErrSyntax)
	}

	ss := int(d.jpegData[d.pos])
	se := int(d.jpegData[d.pos+1])
	ah := int(d.jpegData[d.pos+2]) >> 4
	al := int(d.jpegData[d.pos+2]) & 0x0F

	if err := d.skip(d.length); err != nil {
		return err
	}

	if d.isProgressive {
		if ss > se || se > 63 || (ss == 0 && se != 0) {
			return fmt.Errorf("bad spectral selection bounds: %w", ErrSyntax)
		}

		if ss != 0 && nCompScan != 1 {
			return fmt.Errorf("progressive AC scan with more than one component: %w", ErrSyntax)
		}

		if ah != 0 && ah != al+1 {
			return fmt.Errorf("bad successive approximation values: %w", ErrSyntax)
		}

		if al > 13 {
			return ErrSyntax
		}
	} else if ss != 0 || se != 63 || ah != 0 || al != 0 {
		// Sequential scans are hard-coded to the full band (table B.3).
		return fmt.Errorf("bad spectral selection for sequential scan: %w", ErrSyntax)
	}

	if err := d.checkScanTables(scan[:nCompScan], ss, ah); err != nil {
		return err
	}

	d.resetBits()

	// An EOB run never carries over between scans (G.1.2.2).
	d.eobRun = 0

	for i := 0; i < nCompScan; i++ {
		d.comp[scan[i]].dcPred = 0
	}

	if nCompScan == 1 {
		d.decodeScanNonInterleaved(&d.comp[scan[0]], ss, se, ah, al)
	} else {
		d.decodeScanInterleaved(scan[:nCompScan], ss, se, ah, al)
	}

	d.alignAndRewind()

	return nil
}

// checkScanTables verifies that every table the scan references has been
// defined: the quantization table bound at SOF, the DC table for scans that
// decode first-pass DC values (sequential scans and progressive DC first
// passes), and the AC table for scans covering AC bands.
func (d *decoder) checkScanTables(scan []int, ss, ah int) error {
	needDC := ss == 0 && ah == 0
	needAC := ss != 0 || !d.isProgressive

	for i := range scan {
		c := &d.comp[scan[i]]

		if d.qtAvail&(1<<c.qtSel) == 0 {
			return fmt.Errorf("undefined quantization table %d: %w", c.qtSel, ErrSyntax)
		}

		if needDC && d.dcTabAvail&(1<<c.dcTabSel) == 0 {
			return fmt.Errorf("undefined DC Huffman table %d: %w", c.dcTabSel, ErrSyntax)
		}

		if needAC && d.acTabAvail&(1<<c.acTabSel) == 0 {
			return fmt.Errorf("undefined AC Huffman table %d: %w", c.acTabSel, ErrSyntax)
		}
	}

	return nil
}

// decodeScanInterleaved runs the MCU loop for a multi-component scan: each
// MCU carries ssX*ssY blocks of every scan component, including the padding
// blocks of partial edge MCUs.
func (d *decoder) decodeScanInterleaved(scan []int, ss, se, ah, al int) {
	rstCount := d.rstInterval
	nextRst := 0
	mcu, totalMCUs := 0, d.mbWidth*d.mbHeight

	for mby := 0; mby < d.mbHeight; mby++ {
		for mbx := 0; mbx < d.mbWidth; mbx++ {
			for i := range scan {
				c := &d.comp[scan[i]]

				for sby := 0; sby < c.ssY; sby++ {
					for sbx := 0; sbx < c.ssX; sbx++ {
						d.decodeBlockAt(c, mbx*c.ssX+sbx, mby*c.ssY+sby, ss, se, ah, al)
					}
				}
			}

			mcu++

			if d.rstInterval != 0 && mcu < totalMCUs {
				rstCount--
				if rstCount == 0 {
					d.processRestart(&nextRst)
					rstCount = d.rstInterval
				}
			}
		}
	}
}

// decodeScanNonInterleaved runs the block loop for a single-component scan.
// The block grid is the component's own in-image grid: edge blocks that only
// exist as MCU padding carry no data in non-interleaved scans.
func (d *decoder) decodeScanNonInterleaved(c *component, ss, se, ah, al int) {
	bw := (c.width + 7) >> 3
	bh := (c.height + 7) >> 3

	rstCount := d.rstInterval
	nextRst := 0
	mcu, totalMCUs := 0, bw*bh

	for by := 0; by < bh; by++ {
		for bx := 0; bx < bw; bx++ {
			d.decodeBlockAt(c, bx, by, ss, se, ah, al)

			mcu++

			if d.rstInterval != 0 && mcu < totalMCUs {
				rstCount--
				if rstCount == 0 {
					d.processRestart(&nextRst)
					rstCount = d.rstInterval
				}
			}
		}
	}
}

// decodeBlockAt decodes (or refines) the block at grid position (bx, by) of
// component c.
func (d *decoder) decodeBlockAt(c *component, bx, by int, ss, se, ah, al int) {
	if d.isProgressive {
		offset := (by*c.nBlocksX + bx) * 64
		coefs := c.coeffs[offset : offset+64 : offset+64]

		switch {
		case ah != 0:
			if ss == 0 {
				// DC refinement: one correction bit into position al.
				if d.getBit() != 0 {
					coefs[0] |= 1 << al
				}
			} else {
				d.refineBlockAC(coefs, c, ss, se, al)
			}
		case ss == 0:
			// First DC pass, as in the sequential path but shifted by al.
			t := d.getHuffSymbol(d.dcVlcTab[c.dcTabSel])
			if t > 15 {
				d.panic(fmt.Errorf("excessive DC component: %w", ErrSyntax))
			}

			c.dcPred += d.receiveExtend(t)
			coefs[0] = int32(c.dcPred) << al
		default:
			d.decodeBlockACFirst(coefs, c, ss, se, al)
		}

		return
	}

	// Sequential: decode the full band, dequantize, transform.
	d.block = [64]int32{}
	qt := d.qtab[c.qtSel]

	t := d.getHuffSymbol(d.dcVlcTab[c.dcTabSel])
	if t > 15 {
		d.panic(fmt.Errorf("excessive DC component: %w", ErrSyntax))
	}

	c.dcPred += d.receiveExtend(t)
	d.block[0] = int32(c.dcPred) * int32(qt[0])

	acVLC := d.acVlcTab[c.acTabSel]

	for k := 1; k <= 63; {
		symbol := d.getHuffSymbol(acVLC)
		r := symbol >> 4
		s := symbol & 0x0F

		if s == 0 {
			if r != 15 { // EOB
				break
			}

			k += 16 // ZRL: skip sixteen zero coefficients.

			continue
		}

		k += r
		if k > 63 {
			d.panic(fmt.Errorf("run exceeds block: %w", ErrSyntax))
		}

		// Map the zigzag index to the natural index and dequantize in place.
		nat := zz[k]
		d.block[nat] = int32(d.receiveExtend(s)) * int32(qt[nat])
		k++
	}

	idct(&d.block, c.pixels, (by<<3)*c.stride+(bx<<3), c.stride)
}

// decodeBlockACFirst decodes the first pass of a progressive AC band
// (G.1.2.2). An EOB run covers the current block and eobRun further ones.
func (d *decoder) decodeBlockACFirst(coefs []int32, c *component, ss, se, al int) {
	if d.eobRun > 0 {
		d.eobRun--

		return
	}

	acVLC := d.acVlcTab[c.acTabSel]

	for k := ss; k <= se; {
		symbol := d.getHuffSymbol(acVLC)
		r := symbol >> 4
		s := symbol & 0x0F

		if s == 0 {
			if r != 15 {
				// EOB run of 2^r + getBits(r) blocks, this one included.
				d.eobRun = (1 << r) - 1
				if r > 0 {
					d.eobRun += d.getBits(r)
				}

				return
			}

			k += 16

			continue
		}

		k += r
		if k > se {
			d.panic(fmt.Errorf("run exceeds spectral band: %w", ErrSyntax))
		}

		coefs[zz[k]] = int32(d.receiveExtend(s)) << al
		k++
	}
}

// refineBlockAC decodes a successive approximation refinement pass over an
// AC band (G.1.2.3). Existing nonzero coefficients receive correction bits;
// zero coefficients may turn into +-delta.
func (d *decoder) refineBlockAC(coefs []int32, c *component, ss, se, al int) {
	delta := int32(1) << al
	zig := ss

	if d.eobRun == 0 {
		acVLC := d.acVlcTab[c.acTabSel]

	loop:
		for ; zig <= se; zig++ {
			z := int32(0)
			symbol := d.getHuffSymbol(acVLC)
			r := symbol >> 4
			s := symbol & 0x0F

			switch s {
			case 0:
				if r != 15 {
					// The run count includes the current block; the shared
					// decrement below accounts for it.
					d.eobRun = 1 << r
					if r > 0 {
						d.eobRun += d.getBits(r)
					}

					break loop
				}
				// ZRL: pass over sixteen zero coefficients (fifteen skipped
				// plus the one the index lands on), refining the nonzero
				// ones passed over.
			case 1:
				z = delta
				if d.getBit() == 0 {
					z = -z
				}
			default:
				d.panic(fmt.Errorf("invalid refinement symbol: %w", ErrSyntax))
			}

			zig = d.refineNonZeroes(coefs, zig, se, r, delta)
			if zig > se {
				d.panic(fmt.Errorf("too many coefficients: %w", ErrSyntax))
			}

			if z != 0 {
				coefs[zz[zig]] = z
			}
		}
	}

	if d.eobRun > 0 {
		// Inside an EOB run, only existing nonzero coefficients are refined;
		// no new ones appear.
		d.eobRun--
		d.refineNonZeroes(coefs, zig, se, -1, delta)
	}
}

// refineNonZeroes refines nonzero entries of the band in zigzag order. If
// nz >= 0, the first nz zero entries are skipped over and the returned index
// points at the next zero entry.
func (d *decoder) refineNonZeroes(coefs []int32, zig, zigEnd int, nz int, delta int32) int {
	for ; zig <= zigEnd; zig++ {
		u := zz[zig]
		if coefs[u] == 0 {
			if nz == 0 {
				break
			}

			nz--

			continue
		}

		if d.getBit() == 0 {
			continue
		}

		if coefs[u] >= 0 {
			coefs[u] += delta
		} else {
			coefs[u] -= delta
		}
	}

	return zig
}

// processRestart consumes a restart marker between MCU groups: the bitstream
// must be byte-aligned, the marker's low three bits must match the expected
// cycling sequence, and the DC predictors and EOB run state reset (F.2.1.3.1,
// G.1.2.2.2).
func (d *decoder) processRestart(nextRst *int) {
	d.byteAlign()

	// Whole bytes still buffered mean entropy data overran the interval.
	if d.bufBits > 0 {
		d.panic(fmt.Errorf("bad restart marker: %w", ErrSyntax))
	}

	if d.size < 2 {
		d.panic(ErrUnexpectedEOF)
	}

	if d.jpegData[d.pos] != 0xFF || (d.jpegData[d.pos+1]&0xF8) != 0xD0 ||
		int(d.jpegData[d.pos+1]&0x07) != *nextRst {
		d.panic(fmt.Errorf("bad restart marker: %w", ErrSyntax))
	}

	d.pos += 2
	d.size -= 2
	*nextRst = (*nextRst + 1) & 7

	d.resetBits()
	d.eobRun = 0

	for i := 0; i < d.ncomp; i++ {
		d.comp[i].dcPred = 0
	}
}

// postProcessProgressive dequantizes and transforms the accumulated
// coefficient grids once every scan has been decoded.
func (d *decoder) postProcessProgressive() {
	for i := 0; i < d.ncomp; i++ {
		c := &d.comp[i]

		if len(c.coeffs) == 0 {
			continue
		}

		pixelSize := c.stride * c.nBlocksY << 3
		if c.pixels == nil && pixelSize > 0 {
			c.pixels = make([]byte, pixelSize)
		}

		qt := d.qtab[c.qtSel]

		for by := 0; by < c.nBlocksY; by++ {
			for bx := 0; bx < c.nBlocksX; bx++ {
				coefs := c.coeffs[(by*c.nBlocksX+bx)*64:]

				d.block = [64]int32{}
				for k := 0; k < 64; k++ {
					if v := coefs[k]; v != 0 {
						d.block[k] = v * int32(qt[k])
					}
				}

				idct(&d.block, c.pixels, (by<<3)*c.stride+(bx<<3), c.stride)
			}
		}

		// The grid is no longer needed once the plane is rendered.
		c.coeffs = nil
	}
}
