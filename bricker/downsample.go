package bricker

// downsample produces the next pyramid level: each output voxel is the
// integer mean (truncating) of the 2x2x2 input voxel neighborhood,
// averaging only in-bounds samples at the boundary. The result is
// persisted to a temporary memory-mapped file so at most one
// resolution level is resident in memory at a time.
func downsample(src levelSource, comps, bpc uint8) (*mmapSource, error) {
	w, h, d := src.Width(), src.Height(), src.Depth()
	nw, nh, nd := halve(w), halve(h), halve(d)

	dst, err := newMmapSource(nw, nh, nd, comps, bpc)
	if err != nil {
		return nil, err
	}

	stride := int(comps) * int(bpc)
	acc := make([]uint64, comps)
	outBuf := make([]byte, stride)

	for z := 0; z < int(nd); z++ {
		for y := 0; y < int(nh); y++ {
			for x := 0; x < int(nw); x++ {
				for c := range acc {
					acc[c] = 0
				}
				count := 0
				for dz := 0; dz < 2; dz++ {
					sz := z*2 + dz
					for dy := 0; dy < 2; dy++ {
						sy := y*2 + dy
						for dx := 0; dx < 2; dx++ {
							sx := x*2 + dx
							v := src.Voxel(sx, sy, sz)
							if v == nil {
								continue
							}
							count++
							for c := 0; c < int(comps); c++ {
								acc[c] += readLE(v[c*int(bpc):], bpc)
							}
						}
					}
				}
				if count == 0 {
					count = 1
				}
				for c := 0; c < int(comps); c++ {
					writeLE(outBuf[c*int(bpc):], acc[c]/uint64(count), bpc)
				}
				dst.set(x, y, z, outBuf)
			}
		}
	}
	return dst, nil
}

func halve(v uint32) uint32 {
	n := v / 2
	if n == 0 {
		n = 1
	}
	return n
}
