package sample

// Downsample decimates src to at most maxPoints elements for display.
// Destination-based: reuses dst if it has sufficient capacity, otherwise allocates new.
// Returns the destination slice (may be dst if reused, or a new slice if dst was too small).
// If len(src) <= maxPoints, copies all of src to dst.
func Downsample[T any](dst []T, src []T, maxPoints int) []T {
	if maxPoints <= 0 {
		return dst[:0]
	}

	if len(src) <= maxPoints {
		if cap(dst) >= len(src) {
			dst = dst[:len(src)]
			copy(dst, src)
			return dst
		}
		result := make([]T, len(src))
		copy(result, src)
		return result
	}

	if cap(dst) >= maxPoints {
		dst = dst[:0] // Reset length but keep capacity
	} else {
		dst = make([]T, 0, maxPoints)
	}

	step := float64(len(src)) / float64(maxPoints)

	for i := range maxPoints {
		idx := int(float64(i) * step)
		if idx < len(src) {
			dst = append(dst, src[idx])
		}
	}

	return dst
}
