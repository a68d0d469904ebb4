package forecast

import "math"

// Lag polynomials are stored as coefficients of B^0, B^1, ... with p[0] == 1.

func polyMul(a, b []float64) []float64 {
	out := make([]float64, len(a)+len(b)-1)
	for i, x := range a {
		if x == 0 {
			continue
		}
		for j, y := range b {
			out[i+j] += x * y
		}
	}
	return out
}

// lagPoly builds 1 + sign*(c_1 B^step + c_2 B^2step + ...).
func lagPoly(coefs []float64, step int, sign float64) []float64 {
	out := make([]float64, len(coefs)*step+1)
	out[0] = 1
	for i, c := range coefs {
		out[(i+1)*step] = sign * c
	}
	return out
}

// diffPoly builds (1-B)^d (1-B^m)^D.
func diffPoly(d, seasonalD, m int) []float64 {
	out := []float64{1}
	for i := 0; i < d; i++ {
		out = polyMul(out, []float64{1, -1})
	}
	if seasonalD > 0 && m > 1 {
		s := make([]float64, m+1)
		s[0], s[m] = 1, -1
		for i := 0; i < seasonalD; i++ {
			out = polyMul(out, s)
		}
	}
	return out
}

// applyPoly returns w_t = sum_k p[k] y_{t-k} for every t with a full window.
func applyPoly(p, y []float64) []float64 {
	lag := len(p) - 1
	if len(y) <= lag {
		return nil
	}
	out := make([]float64, len(y)-lag)
	for t := lag; t < len(y); t++ {
		var s float64
		for k, c := range p {
			s += c * y[t-k]
		}
		out[t-lag] = s
	}
	return out
}

// psiWeights returns the first h MA(inf) weights of ma(B)/ar(B).
func psiWeights(ar, ma []float64, h int) []float64 {
	psi := make([]float64, h)
	if h == 0 {
		return psi
	}
	psi[0] = 1
	for j := 1; j < h; j++ {
		var v float64
		if j < len(ma) {
			v = ma[j]
		}
		for i := 1; i <= j && i < len(ar); i++ {
			v -= ar[i] * psi[j-i]
		}
		psi[j] = v
	}
	return psi
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
