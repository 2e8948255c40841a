package fingerprint

import "math"

// ColorBins is the default number of bins per channel when quantizing an
// RGB plane into a weighted-color descriptor.
const ColorBins = 4

// MaxColors bounds the size of a color descriptor.
const MaxColors = 32

// ColorDescriptor is a small set of weighted colors summarizing an image,
// produced by quantizing and histogram-binning an RGB plane.
type ColorDescriptor struct {
	Colors  [][3]float64 // RGB in [0,1], at most MaxColors entries
	Weights []float64    // sums to ~1, one per color
}

// ColorHash quantizes an RGB plane (row-major [][3]float64 in [0,1]) into
// a weighted-color descriptor by binning each channel into ColorBins
// buckets and keeping the MaxColors heaviest bins.
func ColorHash(rgb [][3]float64) ColorDescriptor {
	type bin struct {
		color  [3]float64
		weight float64
	}
	bins := make(map[[3]int]*bin)

	for _, px := range rgb {
		key := [3]int{
			quantize(px[0]),
			quantize(px[1]),
			quantize(px[2]),
		}
		b, ok := bins[key]
		if !ok {
			b = &bin{}
			bins[key] = b
		}
		b.color[0] += px[0]
		b.color[1] += px[1]
		b.color[2] += px[2]
		b.weight++
	}

	total := float64(len(rgb))
	if total == 0 {
		return ColorDescriptor{}
	}

	all := make([]*bin, 0, len(bins))
	for _, b := range bins {
		b.color[0] /= b.weight
		b.color[1] /= b.weight
		b.color[2] /= b.weight
		all = append(all, b)
	}

	// Keep the heaviest MaxColors bins (simple selection; the bin count is
	// bounded by ColorBins^3 so this never scans a large set).
	for i := 0; i < len(all); i++ {
		maxIdx := i
		for j := i + 1; j < len(all); j++ {
			if all[j].weight > all[maxIdx].weight {
				maxIdx = j
			}
		}
		all[i], all[maxIdx] = all[maxIdx], all[i]
	}
	if len(all) > MaxColors {
		all = all[:MaxColors]
	}

	desc := ColorDescriptor{
		Colors:  make([][3]float64, len(all)),
		Weights: make([]float64, len(all)),
	}
	for i, b := range all {
		desc.Colors[i] = b.color
		desc.Weights[i] = b.weight / total
	}
	return desc
}

func quantize(c float64) int {
	q := int(c * float64(ColorBins))
	if q >= ColorBins {
		q = ColorBins - 1
	}
	if q < 0 {
		q = 0
	}
	return q
}

// ColorDistance computes an Earth-Mover-like weighted distance between two
// color descriptors as a fixed-cost comparison: every color in a is paired
// with its nearest color in b, weighted by a's bin weight.
func ColorDistance(a, b ColorDescriptor) float64 {
	if len(a.Colors) == 0 || len(b.Colors) == 0 {
		if len(a.Colors) == len(b.Colors) {
			return 0
		}
		return 1
	}

	var total float64
	for i, ca := range a.Colors {
		best := math.MaxFloat64
		for _, cb := range b.Colors {
			d := rgbDistance(ca, cb)
			if d < best {
				best = d
			}
		}
		total += best * a.Weights[i]
	}
	return total
}

func rgbDistance(a, b [3]float64) float64 {
	dr := a[0] - b[0]
	dg := a[1] - b[1]
	db := a[2] - b[2]
	return math.Sqrt(dr*dr + dg*dg + db*db)
}
