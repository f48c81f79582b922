package chassis

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGeometry() Geometry {
	return Geometry{
		DriveCountsPerRev: 100,
		TurnCountsPerRev:  360,
		WheelDiameter:     4,
		HalfWheelbase:     3,
		HalfTrack:         4,
	}
}

func TestGeometryDerived(t *testing.T) {
	g := testGeometry()
	require.NoError(t, g.Validate())
	assert.InDelta(t, 5.0, g.Radius(), 1e-12)
	assert.InDelta(t, 4*math.Pi, g.WheelCircumference(), 1e-12)
	assert.InDelta(t, 4*math.Pi/100, g.DistancePerCount(), 1e-12)
}

func TestGeometryRejectsDegenerate(t *testing.T) {
	for name, mutate := range map[string]func(*Geometry){
		"zero size":      func(g *Geometry) { g.HalfWheelbase, g.HalfTrack = 0, 0 },
		"negative L":     func(g *Geometry) { g.HalfWheelbase = -1 },
		"zero drive CPR": func(g *Geometry) { g.DriveCountsPerRev = 0 },
		"zero turn CPR":  func(g *Geometry) { g.TurnCountsPerRev = 0 },
		"zero diameter":  func(g *Geometry) { g.WheelDiameter = 0 },
		"NaN diameter":   func(g *Geometry) { g.WheelDiameter = math.NaN() },
	} {
		t.Run(name, func(t *testing.T) {
			g := testGeometry()
			mutate(&g)
			err := g.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDegenerateGeometry), "unexpected error %v", err)
		})
	}
}

func TestNewPoseNormalizesHeading(t *testing.T) {
	p := NewPose(-90, 1, 2)
	assert.Equal(t, 270.0, p.Heading)
	assert.Equal(t, 1.0, p.X)
	assert.Equal(t, 2.0, p.Y)
}

func TestWheelNames(t *testing.T) {
	assert.Equal(t, "front-right", FrontRight.String())
	assert.Equal(t, "back-right", BackRight.String())
	assert.False(t, Wheel(4).Valid())
	for i, w := range AllWheels {
		assert.Equal(t, Wheel(i), w)
	}
}
