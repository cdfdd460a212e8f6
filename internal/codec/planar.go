package codec

// RDP6 Planar Codec decoder
// Reference: MS-RDPEGDI 2.2.2.5 and FreeRDP planar.c

const (
	// Format header flags
	PlanarFlagRLE        = 0x10 // Run Length Encoding
	PlanarFlagNoAlpha    = 0x20 // No Alpha plane
	PlanarFlagCS         = 0x08 // Chroma subsampling (AYCoCg planes instead of RGB)
	PlanarColorLossMask  = 0x07 // Color loss level, low 3 bits of the format header
)

// ceilDiv2 matches MS-RDPEGDI 3.1.9.1.2: subsampled chroma plane dimensions
// round odd sizes up, so a 63px-wide luma plane still has a 32px-wide
// chroma plane rather than truncating the last column.
func ceilDiv2(n int) int {
	return (n + 1) / 2
}

// DecompressPlanarAYCoCg decompresses an RDP 6.1 planar-codec rectangle that
// uses chroma subsampling (format header's CS bit set): planes are
// Alpha/Y, Co, Cg rather than direct RGB, with Co/Cg subsampled to
// ceil(w/2) x ceil(h/2). Output is packed RGB24, top-down.
func DecompressPlanarAYCoCg(src []byte, width, height int) []byte {
	if len(src) < 1 || width <= 0 || height <= 0 {
		return nil
	}

	formatHeader := src[0]
	hasRLE := formatHeader&PlanarFlagRLE != 0
	noAlpha := formatHeader&PlanarFlagNoAlpha != 0
	colorLossLevel := int(formatHeader & PlanarColorLossMask)
	if colorLossLevel < 1 {
		colorLossLevel = 1
	}
	chromaShift := colorLossLevel - 1

	srcIdx := 1
	lumaSize := width * height
	chromaW := ceilDiv2(width)
	chromaH := ceilDiv2(height)
	chromaSize := chromaW * chromaH
	if lumaSize <= 0 || chromaSize <= 0 {
		return nil
	}

	planeA := make([]byte, lumaSize)
	planeY := make([]byte, lumaSize)
	planeCo := make([]byte, chromaSize)
	planeCg := make([]byte, chromaSize)

	if noAlpha {
		for i := range planeA {
			planeA[i] = 255
		}
	}

	readPlane := func(dst []byte, w, h int) bool {
		if hasRLE {
			consumed := decompressPlanarPlaneRLE(src[srcIdx:], dst, w, h)
			if consumed < 0 {
				return false
			}
			srcIdx += consumed
			return true
		}
		n := w * h
		if srcIdx+n > len(src) {
			return false
		}
		copy(dst, src[srcIdx:srcIdx+n])
		srcIdx += n
		return true
	}

	if !noAlpha {
		if !readPlane(planeA, width, height) {
			return nil
		}
	}
	if !readPlane(planeY, width, height) {
		return nil
	}
	if !readPlane(planeCo, chromaW, chromaH) {
		return nil
	}
	if !readPlane(planeCg, chromaW, chromaH) {
		return nil
	}

	rgb := make([]byte, width*height*3)
	for y := 0; y < height; y++ {
		srcRow := (height - 1 - y) * width // planar data is bottom-up
		dstRow := y * width
		chromaY := y / 2
		for x := 0; x < width; x++ {
			chromaX := x / 2
			lumaIdx := srcRow + x
			chromaIdx := chromaY*chromaW + chromaX

			yVal := int(planeY[lumaIdx])
			co := int(int8(planeCo[chromaIdx])) << chromaShift
			cg := int(int8(planeCg[chromaIdx])) << chromaShift

			r, g, b := aycocgToRGB(yVal, co, cg)
			if noAlpha {
				// [MS-RDPEGDI] 3.1.9.1.2: when no alpha plane is present, R/B are swapped.
				r, b = b, r
			}

			dstIdx := (dstRow + x) * 3
			rgb[dstIdx] = r
			rgb[dstIdx+1] = g
			rgb[dstIdx+2] = b
		}
	}

	return rgb
}

// aycocgToRGB reverses the YCoCg-R transform used by the RDP 6.1 planar
// codec's chroma-subsampled mode.
func aycocgToRGB(y, co, cg int) (r, g, b byte) {
	t := y - cg/2
	gVal := cg + t
	bVal := t - co/2
	rVal := bVal + co
	return clampByte(rVal), clampByte(gVal), clampByte(bVal)
}

func clampByte(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// DecompressPlanar decompresses RDP6 Planar codec data to RGBA
func DecompressPlanar(src []byte, width, height int) []byte {
	if len(src) < 1 {
		return nil
	}
	if width <= 0 || height <= 0 {
		return nil
	}

	formatHeader := src[0]
	hasRLE := (formatHeader & PlanarFlagRLE) != 0
	noAlpha := (formatHeader & PlanarFlagNoAlpha) != 0

	srcIdx := 1
	planeSize := width * height
	if planeSize <= 0 {
		return nil
	}

	// Allocate planes
	planeR := make([]byte, planeSize)
	planeG := make([]byte, planeSize)
	planeB := make([]byte, planeSize)
	planeA := make([]byte, planeSize)

	// Initialize alpha to 255 if no alpha plane
	if noAlpha {
		for i := range planeA {
			planeA[i] = 255
		}
	}

	if hasRLE {
		// RLE encoded planes: Alpha, Red, Green, Blue order
		var consumed int

		if !noAlpha {
			consumed = decompressPlanarPlaneRLE(src[srcIdx:], planeA, width, height)
			if consumed < 0 {
				return nil
			}
			srcIdx += consumed
		}

		consumed = decompressPlanarPlaneRLE(src[srcIdx:], planeR, width, height)
		if consumed < 0 {
			return nil
		}
		srcIdx += consumed

		consumed = decompressPlanarPlaneRLE(src[srcIdx:], planeG, width, height)
		if consumed < 0 {
			return nil
		}
		srcIdx += consumed

		consumed = decompressPlanarPlaneRLE(src[srcIdx:], planeB, width, height)
		if consumed < 0 {
			return nil
		}
	} else {
		// Raw planes
		if !noAlpha {
			if srcIdx+planeSize > len(src) {
				return nil
			}
			copy(planeA, src[srcIdx:srcIdx+planeSize])
			srcIdx += planeSize
		}

		if srcIdx+planeSize > len(src) {
			return nil
		}
		copy(planeR, src[srcIdx:srcIdx+planeSize])
		srcIdx += planeSize

		if srcIdx+planeSize > len(src) {
			return nil
		}
		copy(planeG, src[srcIdx:srcIdx+planeSize])
		srcIdx += planeSize

		if srcIdx+planeSize > len(src) {
			return nil
		}
		copy(planeB, src[srcIdx:srcIdx+planeSize])
	}

	// Combine planes to RGBA with vertical flip (planar data is bottom-up)
	rgba := make([]byte, planeSize*4)
	for y := 0; y < height; y++ {
		srcRow := (height - 1 - y) * width // Read from bottom
		dstRow := y * width                // Write to top
		for x := 0; x < width; x++ {
			srcIdx := srcRow + x
			dstIdx := (dstRow + x) * 4
			rgba[dstIdx] = planeR[srcIdx]
			rgba[dstIdx+1] = planeG[srcIdx]
			rgba[dstIdx+2] = planeB[srcIdx]
			rgba[dstIdx+3] = planeA[srcIdx]
		}
	}

	return rgba
}

// decompressPlanarPlaneRLE decompresses a single RLE-encoded plane
// Returns number of bytes consumed, or -1 on error
func decompressPlanarPlaneRLE(src []byte, dst []byte, width, height int) int {
	srcIdx := 0
	dstIdx := 0
	var previousScanline []byte

	for y := 0; y < height; y++ {
		currentScanlineStart := dstIdx
		var pixel int16 = 0 // Last pixel/delta value

		for x := 0; x < width; {
			if srcIdx >= len(src) {
				return -1
			}

			controlByte := src[srcIdx]
			srcIdx++

			nRunLength := int(controlByte & 0x0F)
			cRawBytes := int((controlByte >> 4) & 0x0F)

			// Extended run lengths
			switch nRunLength {
			case 1:
				nRunLength = cRawBytes + 16
				cRawBytes = 0
			case 2:
				nRunLength = cRawBytes + 32
				cRawBytes = 0
			}

			if x+cRawBytes+nRunLength > width {
				return -1
			}

			if previousScanline == nil {
				// First scanline: absolute values
				for cRawBytes > 0 {
					if srcIdx >= len(src) || dstIdx >= len(dst) {
						return -1
					}
					pixel = int16(src[srcIdx])
					srcIdx++
					dst[dstIdx] = byte(pixel)
					dstIdx++
					x++
					cRawBytes--
				}

				for nRunLength > 0 {
					if dstIdx >= len(dst) {
						return -1
					}
					dst[dstIdx] = byte(pixel)
					dstIdx++
					x++
					nRunLength--
				}
			} else {
				// Delta values relative to previous scanline
				for cRawBytes > 0 {
					if srcIdx >= len(src) || dstIdx >= len(dst) {
						return -1
					}
					deltaValue := src[srcIdx]
					srcIdx++

					// Decode delta (sign-magnitude encoding)
					if deltaValue&1 != 0 {
						// Negative delta
						pixel = -int16((deltaValue >> 1) + 1)
					} else {
						// Positive delta
						pixel = int16(deltaValue >> 1)
					}

					// Add delta to previous scanline value with saturation
					dst[dstIdx] = clampPlanarDelta(previousScanline[x], pixel)
					dstIdx++
					x++
					cRawBytes--
				}

					// For run, add same delta to each previous scanline value
					for nRunLength > 0 {
						if dstIdx >= len(dst) {
							return -1
						}
						dst[dstIdx] = clampPlanarDelta(previousScanline[x], pixel)
						dstIdx++
						x++
						nRunLength--
					}
			}
		}

		previousScanline = dst[currentScanlineStart:dstIdx]
	}

	return srcIdx
}

func clampPlanarDelta(base byte, delta int16) byte {
	value := int16(base) + delta
	if value < 0 {
		return 0
	}
	if value > 255 {
		return 255
	}
	return byte(value)
}
