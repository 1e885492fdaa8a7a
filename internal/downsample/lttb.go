// Package downsample reduces long bar series to a rendering budget.
//
// Both algorithms return a subsequence of the input: every emitted bar is a
// real input bar and output timestamps never decrease. The functions are pure
// and safe for concurrent use on shared input. Results never alias the input
// slice.
package downsample

import (
	"math"

	"chartcore/internal/model"
)

// LTTB selects targetPoints bars with the Largest-Triangle-Three-Buckets
// algorithm on (timestamp, close).
//
// targetPoints <= 0, or an input no longer than targetPoints, returns the
// input unchanged. targetPoints of 1 or 2 returns the first targetPoints
// bars. Otherwise the first and last bars are always kept and one bar is
// picked from each interior bucket.
func LTTB(bars []model.Bar, targetPoints int) []model.Bar {
	n := len(bars)
	if targetPoints <= 0 || n <= targetPoints {
		return clone(bars)
	}
	if targetPoints < 3 {
		return clone(bars[:targetPoints])
	}

	out := make([]model.Bar, 0, targetPoints)
	out = append(out, bars[0])

	buckets := targetPoints - 2
	bucketSize := float64(n-2) / float64(buckets)
	// bounds(i) is the first index of interior bucket i; bucket i spans
	// [bounds(i), bounds(i+1)). The last bucket always ends at n-1.
	bounds := func(i int) int {
		if i >= buckets {
			return n - 1
		}
		return int(math.Floor(float64(i)*bucketSize)) + 1
	}

	prev := bars[0]
	for i := 0; i < buckets; i++ {
		start, end := bounds(i), bounds(i+1)

		// Centroid of the next bucket; after the last interior bucket the
		// next "bucket" is the final bar itself.
		var cx, cy float64
		if i == buckets-1 {
			cx, cy = bars[n-1].Timestamp, bars[n-1].Close
		} else {
			cx, cy = centroid(bars[end:bounds(i+2)])
		}

		pick := start
		maxArea := -1.0
		for j := start; j < end; j++ {
			area := triangleArea(prev.Timestamp, prev.Close, bars[j].Timestamp, bars[j].Close, cx, cy)
			if area > maxArea {
				maxArea = area
				pick = j
			}
		}
		out = append(out, bars[pick])
		prev = bars[pick]
	}

	return append(out, bars[n-1])
}

func centroid(bucket []model.Bar) (x, y float64) {
	for _, b := range bucket {
		x += b.Timestamp
		y += b.Close
	}
	k := float64(len(bucket))
	return x / k, y / k
}

// triangleArea is the shoelace area of (a, b, c).
func triangleArea(ax, ay, bx, by, cx, cy float64) float64 {
	return math.Abs((ax-cx)*(by-ay)-(ax-bx)*(cy-ay)) * 0.5
}

func clone(bars []model.Bar) []model.Bar {
	return append([]model.Bar(nil), bars...)
}
