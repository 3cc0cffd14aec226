// Package calib converts raw values to engineering values and back.
package calib

import (
	"errors"
	"fmt"
	"math"

	"github.com/resident-x/go-tmtc/internal/schema"
)

var (
	// ErrNoInverse is returned when a calibrator cannot be inverted at the
	// requested engineering value.
	ErrNoInverse = errors.New("calibrator has no inverse")
	// ErrNoLabel is returned when a raw value matches no enumeration.
	ErrNoLabel = errors.New("no enumeration label")
	// ErrType is returned when a value does not have the kind a data type
	// expects.
	ErrType = errors.New("value kind does not match type")
)

const (
	newtonIterations = 50
	newtonTolerance  = 1e-9
)

// Apply computes the engineering value of raw.
func Apply(c schema.Calibrator, raw float64) float64 {
	switch cal := c.(type) {
	case *schema.PolynomialCalibrator:
		return polynomial(cal.Coefficients, raw)
	case *schema.SplineCalibrator:
		return spline(cal.Points, raw)
	}
	return raw
}

// Invert computes the raw value whose calibration is eng.
func Invert(c schema.Calibrator, eng float64) (float64, error) {
	switch cal := c.(type) {
	case *schema.PolynomialCalibrator:
		return invertPolynomial(cal.Coefficients, eng)
	case *schema.SplineCalibrator:
		return invertSpline(cal.Points, eng)
	}
	return eng, nil
}

func polynomial(coef []float64, x float64) float64 {
	y := 0.0
	for i := len(coef) - 1; i >= 0; i-- {
		y = y*x + coef[i]
	}
	return y
}

func derivative(coef []float64, x float64) float64 {
	y := 0.0
	for i := len(coef) - 1; i >= 1; i-- {
		y = y*x + float64(i)*coef[i]
	}
	return y
}

func invertPolynomial(coef []float64, eng float64) (float64, error) {
	// trailing zero coefficients do not change the degree seen by callers
	n := len(coef)
	for n > 0 && coef[n-1] == 0 {
		n--
	}
	coef = coef[:n]

	switch n {
	case 0, 1:
		return 0, fmt.Errorf("%w: constant polynomial", ErrNoInverse)
	case 2:
		return (eng - coef[0]) / coef[1], nil
	}

	x := 0.0
	if coef[1] != 0 {
		x = (eng - coef[0]) / coef[1]
	}
	for i := 0; i < newtonIterations; i++ {
		fx := polynomial(coef, x) - eng
		if math.Abs(fx) <= newtonTolerance*math.Max(1, math.Abs(eng)) {
			return x, nil
		}
		d := derivative(coef, x)
		if d == 0 || math.IsNaN(d) || math.IsInf(d, 0) {
			break
		}
		x -= fx / d
	}
	return 0, fmt.Errorf("%w: no convergence for %v", ErrNoInverse, eng)
}

// spline interpolates linearly between breakpoints and clamps outside them.
func spline(points []schema.SplinePoint, raw float64) float64 {
	if len(points) == 0 {
		return raw
	}
	if raw <= points[0].Raw {
		return points[0].Calibrated
	}
	last := points[len(points)-1]
	if raw >= last.Raw {
		return last.Calibrated
	}
	for i := 1; i < len(points); i++ {
		p0, p1 := points[i-1], points[i]
		if raw <= p1.Raw {
			return p0.Calibrated + (raw-p0.Raw)*(p1.Calibrated-p0.Calibrated)/(p1.Raw-p0.Raw)
		}
	}
	return last.Calibrated
}

func invertSpline(points []schema.SplinePoint, eng float64) (float64, error) {
	if len(points) < 2 {
		return 0, fmt.Errorf("%w: spline with %d points", ErrNoInverse, len(points))
	}
	increasing := points[1].Calibrated > points[0].Calibrated
	for i := 1; i < len(points); i++ {
		d := points[i].Calibrated - points[i-1].Calibrated
		if d == 0 || (d > 0) != increasing {
			return 0, fmt.Errorf("%w: spline is not monotonic", ErrNoInverse)
		}
	}
	for i := 1; i < len(points); i++ {
		p0, p1 := points[i-1], points[i]
		lo, hi := p0.Calibrated, p1.Calibrated
		if !increasing {
			lo, hi = hi, lo
		}
		if eng >= lo && eng <= hi {
			return p0.Raw + (eng-p0.Calibrated)*(p1.Raw-p0.Raw)/(p1.Calibrated-p0.Calibrated), nil
		}
	}
	return 0, fmt.Errorf("%w: %v outside the spline", ErrNoInverse, eng)
}
