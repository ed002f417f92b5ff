package pose

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func axisAngle(axis [3]float64, degrees float64) Quaternion {
	n := math.Sqrt(axis[0]*axis[0] + axis[1]*axis[1] + axis[2]*axis[2])
	half := degrees * math.Pi / 360
	s := math.Sin(half) / n
	return Quaternion{math.Cos(half), axis[0] * s, axis[1] * s, axis[2] * s}
}

func neg(q Quaternion) Quaternion {
	return Quaternion{-q[0], -q[1], -q[2], -q[3]}
}

func randomQuaternion(r *rand.Rand) Quaternion {
	q := Quaternion{r.NormFloat64(), r.NormFloat64(), r.NormFloat64(), r.NormFloat64()}
	n := math.Sqrt(q.Dot(q))
	for i := range q {
		q[i] /= n
	}
	return q
}

func TestAngleDegreesKnownRotations(t *testing.T) {
	identity := Quaternion{1, 0, 0, 0}

	tests := []struct {
		degrees float64
	}{
		{0}, {10}, {45}, {90}, {135}, {180},
	}

	for _, test := range tests {
		t.Run(fmt.Sprintf("rotation of %.0f degrees", test.degrees), func(t *testing.T) {
			q := axisAngle([3]float64{0, 0, 1}, test.degrees)
			require.InDelta(t, test.degrees, AngleDegrees(identity, q), 0.05)
		})
	}
}

func TestAngleDegreesProperties(t *testing.T) {
	r := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		q1 := randomQuaternion(r)
		q2 := randomQuaternion(r)

		a := AngleDegrees(q1, q2)
		require.Equal(t, a, AngleDegrees(q2, q1), "symmetry")
		require.GreaterOrEqual(t, a, 0.0)
		require.LessOrEqual(t, a, 180.0)

		require.Equal(t, 0.0, AngleDegrees(q1, q1))
		require.Equal(t, 0.0, AngleDegrees(q1, neg(q1)))
	}
}

func TestAngleDegreesOutOfRangeDot(t *testing.T) {
	// slightly non-unit quaternions give |dot| > 1 before clamping
	q := Quaternion{1.00004, 0, 0, 0}
	a := AngleDegrees(q, q)
	require.False(t, math.IsNaN(a))
	require.Equal(t, 0.0, a)

	q = Quaternion{1.001, 0, 0, 0}
	a = AngleDegrees(q, neg(q))
	require.False(t, math.IsNaN(a))
	require.Equal(t, 0.0, a)
}

func TestRoundTo(t *testing.T) {
	require.Equal(t, 0.9999, roundTo(0.99994, 4))
	require.Equal(t, 1.0, roundTo(0.99996, 4))
	require.Equal(t, 0.5, roundTo(0.5, 4))
	// 0.99015 is stored just below the midpoint
	require.Equal(t, 0.9901, roundTo(0.99015, 4))
	require.Equal(t, 0.1235, roundTo(0.12345678, 4))
}

func TestAngleDegreesRoundsStoredDot(t *testing.T) {
	q1 := Quaternion{0.99015, 0, 0, 0}
	q2 := Quaternion{1, 0, 0, 0}

	require.InDelta(t, 2*math.Acos(0.9901)*180/math.Pi, AngleDegrees(q1, q2), 1e-12)
}
