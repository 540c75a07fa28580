package domain

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Summary holds descriptive statistics of one variable. NaN cells are
// skipped; Std is the population standard deviation.
type Summary struct {
	Variable string  `json:"variable"`
	Count    int     `json:"count"`
	Mean     float64 `json:"mean"`
	Max      float64 `json:"max"`
	Min      float64 `json:"min"`
	Std      float64 `json:"std"`
}

// Summarize computes descriptive statistics over the finite values of x.
func Summarize(name string, x []float64) (Summary, error) {
	vals := finite(x)
	if len(vals) == 0 {
		return Summary{}, fmt.Errorf("variable %s has no valid values", name)
	}
	mean, variance := stat.MeanVariance(vals, nil)
	n := float64(len(vals))
	popVar := 0.0
	if len(vals) > 1 {
		popVar = variance * (n - 1) / n
	}
	return Summary{
		Variable: name,
		Count:    len(vals),
		Mean:     mean,
		Max:      floats.Max(vals),
		Min:      floats.Min(vals),
		Std:      math.Sqrt(popVar),
	}, nil
}

// Correlation is a Pearson correlation with its two-sided p-value.
type Correlation struct {
	R      float64 `json:"r"`
	PValue float64 `json:"p_value"`
	N      int     `json:"n"`
}

// Regression is an ordinary least squares fit y = Slope*x + Intercept.
type Regression struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	RSquared  float64 `json:"r_squared"`
	PValue    float64 `json:"p_value"`
	StdErr    float64 `json:"std_err"`
	N         int     `json:"n"`
}

// Accuracy is the share of pairs whose integer labels agree.
type Accuracy struct {
	Accuracy float64 `json:"accuracy"`
	N        int     `json:"n"`
}

// PairFinite drops every pair in which either value is NaN.
func PairFinite(x, y []float64) ([]float64, []float64, error) {
	if len(x) != len(y) {
		return nil, nil, fmt.Errorf("variables have different sizes: %d and %d", len(x), len(y))
	}
	xs := make([]float64, 0, len(x))
	ys := make([]float64, 0, len(y))
	for i := range x {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) {
			continue
		}
		xs = append(xs, x[i])
		ys = append(ys, y[i])
	}
	return xs, ys, nil
}

// Pearson computes the correlation of x and y after NaN-pair filtering.
func Pearson(x, y []float64) (Correlation, error) {
	xs, ys, err := PairFinite(x, y)
	if err != nil {
		return Correlation{}, err
	}
	if len(xs) < 3 {
		return Correlation{}, fmt.Errorf("not enough valid pairs for correlation: %d", len(xs))
	}
	r := stat.Correlation(xs, ys, nil)
	return Correlation{R: r, PValue: correlationPValue(r, len(xs)), N: len(xs)}, nil
}

// LinearRegression fits y on x after NaN-pair filtering.
func LinearRegression(x, y []float64) (Regression, error) {
	xs, ys, err := PairFinite(x, y)
	if err != nil {
		return Regression{}, err
	}
	n := len(xs)
	if n < 3 {
		return Regression{}, fmt.Errorf("not enough valid pairs for regression: %d", n)
	}
	intercept, slope := stat.LinearRegression(xs, ys, nil, false)
	r := stat.Correlation(xs, ys, nil)

	_, varX := stat.MeanVariance(xs, nil)
	_, varY := stat.MeanVariance(ys, nil)
	stdErr := 0.0
	if varX > 0 {
		stdErr = math.Sqrt((1 - r*r) * varY / varX / float64(n-2))
	}
	return Regression{
		Slope:     slope,
		Intercept: intercept,
		RSquared:  r * r,
		PValue:    correlationPValue(r, n),
		StdErr:    stdErr,
		N:         n,
	}, nil
}

// ClassificationAccuracy compares x and y as integer class labels.
func ClassificationAccuracy(x, y []float64) (Accuracy, error) {
	xs, ys, err := PairFinite(x, y)
	if err != nil {
		return Accuracy{}, err
	}
	if len(xs) == 0 {
		return Accuracy{}, fmt.Errorf("no valid pairs for classification accuracy")
	}
	hits := 0
	for i := range xs {
		if math.Trunc(xs[i]) == math.Trunc(ys[i]) {
			hits++
		}
	}
	return Accuracy{Accuracy: float64(hits) / float64(len(xs)), N: len(xs)}, nil
}

// correlationPValue is the two-sided p-value of r under the null of no
// correlation, using a Student t distribution with n-2 degrees of freedom.
func correlationPValue(r float64, n int) float64 {
	if math.Abs(r) >= 1 {
		return 0
	}
	df := float64(n - 2)
	t := r * math.Sqrt(df/(1-r*r))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return 2 * (1 - dist.CDF(math.Abs(t)))
}

func finite(x []float64) []float64 {
	out := make([]float64, 0, len(x))
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}
