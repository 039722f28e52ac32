package tickdb

import "math"

// bookLevel is a single order book level after fixed-point scaling.
type bookLevel struct {
	Price  int64
	Volume int64
}

// scalePrice converts a float price into its fixed-point representation.
func scalePrice(price float64, scale int) int64 {
	return int64(math.Round(price * float64(scale)))
}

// unscalePrice converts a fixed-point price back into a float.
func unscalePrice(price int64, scale int) float64 {
	return float64(price) / float64(scale)
}

// normalizeSide scales one side of a quote and normalizes it to exactly
// depth levels, padding with zero levels or truncating the excess. The
// result is appended to dst.
func normalizeSide(dst []bookLevel, levels []Level, depth, scale int) []bookLevel {
	for i := 0; i < depth; i++ {
		var lvl bookLevel
		if i < len(levels) {
			lvl.Price = scalePrice(levels[i].Price, scale)
			lvl.Volume = levels[i].Volume
		}
		dst = append(dst, lvl)
	}
	return dst
}

// unscaleSide converts a scaled side back into float levels.
func unscaleSide(levels []bookLevel, scale int) []Level {
	if len(levels) == 0 {
		return nil
	}
	side := make([]Level, len(levels))
	for i, lvl := range levels {
		side[i] = Level{Price: unscalePrice(lvl.Price, scale), Volume: lvl.Volume}
	}
	return side
}

// diffSide computes the per-level difference next-prev of two sides of
// equal length and appends it to dst. Adding the result level-wise back
// onto prev reconstructs next exactly.
func diffSide(dst, prev, next []bookLevel) []bookLevel {
	for i := range next {
		dst = append(dst, bookLevel{
			Price:  next[i].Price - prev[i].Price,
			Volume: next[i].Volume - prev[i].Volume,
		})
	}
	return dst
}
