package pose

import (
	"math"
	"strconv"
)

// Quaternion is an orientation as listed in the pose files. The component
// order is whatever the listing uses; only dot products are taken, so the
// order just has to be consistent between files.
type Quaternion [4]float64

// Dot returns the 4D dot product of q and o.
func (q Quaternion) Dot(o Quaternion) float64 {
	return q[0]*o[0] + q[1]*o[1] + q[2]*o[2] + q[3]*o[3]
}

// AngleDegrees returns the rotation angle in degrees between two
// orientations, in [0, 180]. The absolute dot product is rounded to four
// decimals and clamped before acos so values a hair above 1 do not produce
// NaN.
func AngleDegrees(q1, q2 Quaternion) float64 {
	dot := math.Abs(q1.Dot(q2))
	dot = roundTo(dot, 4)

	if dot > 1 {
		dot = 1
	}

	return math.Min(2*math.Acos(dot)*180/math.Pi, 180)
}

// roundTo rounds the exact binary value of v to decimals places, the way the
// pose thresholds were tuned. Scaling first would round 0.99015 up since
// v*1e4 lands on 9901.5.
func roundTo(v float64, decimals int) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', decimals, 64), 64)
	if err != nil {
		return v
	}
	return r
}
