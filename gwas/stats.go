package gwas

import (
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/combin"
	"gonum.org/v1/gonum/stat/distuv"
)

// relative slack when comparing hypergeometric probabilities
const fisherTolerance = 1e-7

// FisherExact is the two-sided Fisher exact test of the 2x2 table
//
//	         case  control
//	carrier    a      b
//	other      c      d
//
// It sums the probabilities of every table with the same margins that is no
// more likely than the observed one.
func FisherExact(a, b, c, d int) float64 {
	r1 := a + b
	r2 := c + d
	c1 := a + c
	n := r1 + r2
	if n == 0 || r1 == 0 || r2 == 0 || c1 == 0 || c1 == n {
		return 1
	}

	logDenom := combin.LogGeneralizedBinomial(float64(n), float64(c1))
	logP := func(x int) float64 {
		return combin.LogGeneralizedBinomial(float64(r1), float64(x)) +
			combin.LogGeneralizedBinomial(float64(r2), float64(c1-x)) -
			logDenom
	}

	observed := logP(a)
	lo := c1 - r2
	if lo < 0 {
		lo = 0
	}
	hi := c1
	if r1 < hi {
		hi = r1
	}

	p := 0.0
	for x := lo; x <= hi; x++ {
		lp := logP(x)
		if lp <= observed+math.Log1p(fisherTolerance) {
			p += math.Exp(lp)
		}
	}
	return math.Min(1, p)
}

// OddsRatio with 0.5 added to every cell.
func OddsRatio(a, b, c, d int) float64 {
	return ((float64(a) + 0.5) * (float64(d) + 0.5)) / ((float64(b) + 0.5) * (float64(c) + 0.5))
}

// LinearRegression fits y = alpha + beta*x and tests beta against zero with
// Student's t on n-2 degrees of freedom.
func LinearRegression(x, y []float64) (beta, p float64) {
	n := len(x)
	if n < 3 {
		return math.NaN(), 1
	}
	alpha, beta := stat.LinearRegression(x, y, nil, false)

	meanX := stat.Mean(x, nil)
	var ssr, sxx float64
	for i := range x {
		r := y[i] - (alpha + beta*x[i])
		ssr += r * r
		dx := x[i] - meanX
		sxx += dx * dx
	}
	if sxx == 0 {
		return math.NaN(), 1
	}
	df := float64(n - 2)
	se := math.Sqrt(ssr / df / sxx)
	if se == 0 {
		if beta == 0 {
			return beta, 1
		}
		return beta, 0
	}

	t := beta / se
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return beta, math.Min(1, 2*dist.Survival(math.Abs(t)))
}

// Bonferroni multiplies every p-value by the number of tests, capped at 1.
func Bonferroni(ps []float64) []float64 {
	m := float64(len(ps))
	adjusted := make([]float64, len(ps))
	for i, p := range ps {
		adjusted[i] = math.Min(1, p*m)
	}
	return adjusted
}
