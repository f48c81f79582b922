package angle

import (
	"math"
	"testing"
)

func TestShortest(t *testing.T) {
	expectShortest(t, 10, 350, -20)
	expectShortest(t, 350, 10, 20)
	expectShortest(t, 0, 0, 0)
	expectShortest(t, 0, 179, 179)
	expectShortest(t, 0, 181, -179)
	expectShortest(t, 0, 180, 180)
	expectShortest(t, 90, 270, 180)
	expectShortest(t, 270, 90, 180)
	expectShortest(t, 359, 1, 2)
	expectShortest(t, 720, 5, 5)
	expectShortest(t, -90, 90, 180)
}

func expectShortest(t *testing.T, from, to, expected float64) {
	t.Helper()
	actual := Shortest(from, to)
	if actual <= -180 || actual > 180 {
		t.Errorf("out of range: %f -> %f = %f", from, to, actual)
	}
	if math.Abs(actual-expected) > 1e-9 {
		t.Errorf("%f -> %f = %f, expected %f", from, to, actual, expected)
	}
}

func TestNormalize(t *testing.T) {
	for _, c := range []struct {
		in, out float64
	}{
		{0, 0},
		{359.5, 359.5},
		{360, 0},
		{361, 1},
		{-1, 359},
		{-360, 0},
		{-720.5, 359.5},
		{1e-15 - 360, 1e-15},
		{-1e-15, 0},
		{math.NaN(), 0},
		{math.Inf(1), 0},
	} {
		got := Normalize(c.in)
		if got < 0 || got >= 360 {
			t.Errorf("Normalize(%v) = %v, out of [0,360)", c.in, got)
		}
		if math.Abs(got-c.out) > 1e-9 {
			t.Errorf("Normalize(%v) = %v, expected %v", c.in, got, c.out)
		}
	}
}

func TestPlusMinus180Arithmetic(t *testing.T) {
	a := FromFloat(170)
	b := FromFloat(20)
	if got := a.Add(b).Float(); got != -170 {
		t.Errorf("170+20 = %v, expected -170", got)
	}
	if got := b.Sub(a).Float(); got != -150 {
		t.Errorf("20-170 = %v, expected -150", got)
	}
}

func TestConversionsRoundTrip(t *testing.T) {
	for _, d := range []float64{0, 45, 90, 180, 270, 359} {
		if got := ToDegrees(ToRadians(d)); math.Abs(got-d) > 1e-9 {
			t.Errorf("round trip of %v gave %v", d, got)
		}
	}
	if got := ToRadians(180); math.Abs(got-math.Pi) > 1e-12 {
		t.Errorf("180 degrees = %v radians", got)
	}
}
