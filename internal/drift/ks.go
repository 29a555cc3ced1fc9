// Package drift tests whether two samples come from the same distribution.
package drift

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// DefaultPValue is the p-value above which two samples are taken as drawn from the same distribution.
const DefaultPValue = 0.05

// Result is the outcome of a two-sample Kolmogorov–Smirnov test.
type Result struct {
	Statistic float64
	PValue    float64
}

// Same reports whether the null hypothesis of equal distributions is kept at threshold.
func (r Result) Same(threshold float64) bool {
	return r.PValue > threshold
}

// KS runs the two-sample Kolmogorov–Smirnov test. NaN values are left out;
// when either sample is then empty the result is D=0, p=1.
func KS(a, b []float64) Result {
	x := clean(a)
	y := clean(b)

	if len(x) == 0 || len(y) == 0 {
		return Result{Statistic: 0, PValue: 1}
	}

	d := stat.KolmogorovSmirnov(x, nil, y, nil)

	return Result{Statistic: d, PValue: PValue(d, len(x), len(y))}
}

func clean(values []float64) []float64 {
	out := make([]float64, 0, len(values))

	for _, v := range values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}

	slices.Sort(out)

	return out
}

// PValue is the asymptotic p-value of statistic d for samples of size n and m,
// with Stephens' small sample correction.
func PValue(d float64, n, m int) float64 {
	if n == 0 || m == 0 || d <= 0 {
		return 1
	}

	en := math.Sqrt(float64(n) * float64(m) / float64(n+m))

	return clamp(kolmogorovQ((en + 0.12 + 0.11/en) * d))
}

// kolmogorovQ is the survival function of the Kolmogorov distribution.
func kolmogorovQ(lambda float64) float64 {
	const (
		eps      = 1e-12
		maxTerms = 100
	)

	if lambda <= 0 {
		return 1
	}

	// the alternating series converges slowly for small lambda
	if lambda < 1.18 {
		y := math.Exp(-math.Pi * math.Pi / (8 * lambda * lambda))
		sum := 0.0

		for j := 1; j <= maxTerms; j += 2 {
			term := math.Pow(y, float64(j*j))
			sum += term

			if term < eps*sum {
				break
			}
		}

		return 1 - math.Sqrt(2*math.Pi)/lambda*sum
	}

	sum := 0.0
	sign := 1.0

	for j := 1; j <= maxTerms; j++ {
		term := math.Exp(-2 * float64(j*j) * lambda * lambda)
		sum += sign * term

		if term < eps*math.Abs(sum) {
			break
		}

		sign = -sign
	}

	return 2 * sum
}

func clamp(p float64) float64 {
	return math.Max(0, math.Min(1, p))
}
