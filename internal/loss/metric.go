package loss

import (
	"fmt"
	"math"

	"github.com/AmarSaini/surrogates4sims/internal/device"
	"gonum.org/v1/gonum/floats"
)

// Metric is a named, non-differentiable score of a reconstruction.
// Name is used as the scalar tag when the metric is logged.
type Metric struct {
	Name string
	Fn   func(xHat, x *device.Tensor) float64
}

// RMSE is the root mean squared error between a reconstruction and its target.
var RMSE = Metric{Name: "rmse", Fn: rmse}

// MAE is the mean absolute error between a reconstruction and its target.
var MAE = Metric{Name: "mae", Fn: mae}

// MetricByName looks up a built-in metric.
func MetricByName(name string) (Metric, error) {
	switch name {
	case RMSE.Name:
		return RMSE, nil
	case MAE.Name:
		return MAE, nil
	default:
		return Metric{}, fmt.Errorf("unknown metric %q", name)
	}
}

func rmse(xHat, x *device.Tensor) float64 {
	a, b := hostPair(xHat, x)
	if len(a) == 0 {
		return 0
	}
	return floats.Distance(a, b, 2) / math.Sqrt(float64(len(a)))
}

func mae(xHat, x *device.Tensor) float64 {
	a, b := hostPair(xHat, x)
	if len(a) == 0 {
		return 0
	}
	return floats.Distance(a, b, 1) / float64(len(a))
}

// hostPair copies both tensors to float64 host slices.
func hostPair(xHat, x *device.Tensor) ([]float64, []float64) {
	a, b := xHat.Data(), x.Data()
	if len(a) != len(b) {
		panic(fmt.Sprintf("loss: metric over mismatched shapes %v and %v", xHat.Shape(), x.Shape()))
	}
	a64, b64 := make([]float64, len(a)), make([]float64, len(b))
	for i := range a {
		a64[i], b64[i] = float64(a[i]), float64(b[i])
	}
	return a64, b64
}
