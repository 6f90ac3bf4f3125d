/*
 * autocorr.go, part of gobpmf.
 *
 * Copyright 2026 Raul Mera A. (raulpuntomeraatusachpuntocl)
 *
    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU Lesser General Public License as published by
    the Free Software Foundation, either version 2.1 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU Lesser General Public License
    along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 *
*/

package temper

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// IntegratedTimeMultiple estimates the integrated autocorrelation time, in
// units of the sampling interval, pooled over several timeseries assumed to
// sample the same stationary distribution. The normalized autocovariance is
// averaged over the series and summed over lags until it first drops to
// zero. Series longer than the shortest one are truncated. A set of frozen,
// distinct series has no fluctuations around its pooled mean, so it reports
// a time of the order of the series length, as it should: nothing relaxed.
func IntegratedTimeMultiple(series [][]float64) float64 {
	K := len(series)
	if K == 0 {
		return 0
	}
	N := len(series[0])
	for _, s := range series[1:] {
		if len(s) < N {
			N = len(s)
		}
	}
	if N < 2 {
		return 0
	}
	mu := 0.0
	for _, s := range series {
		mu += floats.Sum(s[:N])
	}
	mu /= float64(K * N)
	sig2 := 0.0
	for _, s := range series {
		for _, v := range s[:N] {
			d := v - mu
			sig2 += d * d
		}
	}
	sig2 /= float64(K * N)
	if sig2 <= 0 {
		return 0
	}
	g := 1.0
	for t := 1; t < N; t++ {
		C := 0.0
		for _, s := range series {
			for n := 0; n+t < N; n++ {
				C += (s[n] - mu) * (s[n+t] - mu)
			}
		}
		C /= float64(K*(N-t)) * sig2
		if C <= 0 {
			break
		}
		g += 2 * C * (1 - float64(t)/float64(N))
	}
	return (g - 1) / 2
}

// Stride returns the subsampling stride for the given autocorrelation time:
// every (1+2*tau)/perIndependent sweeps, never below 1, and capped so a
// cycle always stores at least one snapshot even when tau exceeds the sweep
// budget.
func Stride(tau float64, sweeps int, perIndependent float64) int {
	s := math.Ceil((1 + 2*tau) / perIndependent)
	if s < 1 {
		s = 1
	}
	most := math.Ceil(float64(sweeps) / perIndependent)
	if most < 1 {
		most = 1
	}
	if s > most {
		s = most
	}
	return int(s)
}

//StoreIndices returns the sweeps to store under the given stride, starting
//at the stride-th sweep, or at the last one if the stride exceeds the
//budget.
func StoreIndices(stride, sweeps int) []int {
	var inds []int
	first := stride - 1
	if first > sweeps-1 {
		first = sweeps - 1
	}
	for i := first; i < sweeps; i += stride {
		inds = append(inds, i)
	}
	return inds
}
