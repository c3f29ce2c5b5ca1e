package bricker

// extendCoord applies the extension strategy to a single axis coordinate,
// returning the in-bounds coordinate to sample from. For ExtendZero the
// caller is expected to skip sampling entirely (handled by the caller
// checking the returned ok).
func extendCoord(c int, size int, strategy ExtensionStrategy) (int, bool) {
	if c >= 0 && c < size {
		return c, true
	}
	switch strategy {
	case ExtendClamp:
		if c < 0 {
			return 0, true
		}
		return size - 1, true
	case ExtendWrap:
		m := c % size
		if m < 0 {
			m += size
		}
		return m, true
	default: // ExtendZero
		return 0, false
	}
}

// fillBrick reads a brickSize^3 neighborhood starting at (x0,y0,z0) from
// src, applying strategy to out-of-bounds samples, and writes the result
// into out (length brickSize^3 * comps * bpc, x-fastest z-slowest).
func fillBrick(src levelSource, x0, y0, z0, brickSize, comps, bpc int, strategy ExtensionStrategy, out []byte) {
	stride := comps * bpc
	w, h, d := int(src.Width()), int(src.Height()), int(src.Depth())

	for dz := 0; dz < brickSize; dz++ {
		sz, okz := extendCoord(z0+dz, d, strategy)
		for dy := 0; dy < brickSize; dy++ {
			sy, oky := extendCoord(y0+dy, h, strategy)
			for dx := 0; dx < brickSize; dx++ {
				outIdx := (dx + dy*brickSize + dz*brickSize*brickSize) * stride
				sx, okx := extendCoord(x0+dx, w, strategy)
				if !okx || !oky || !okz {
					for i := 0; i < stride; i++ {
						out[outIdx+i] = 0
					}
					continue
				}
				v := src.Voxel(sx, sy, sz)
				if v == nil {
					for i := 0; i < stride; i++ {
						out[outIdx+i] = 0
					}
					continue
				}
				copy(out[outIdx:outIdx+stride], v)
			}
		}
	}
}
