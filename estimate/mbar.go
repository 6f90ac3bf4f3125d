/*
 * mbar.go, part of gobpmf.
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

package estimate

import (
	"math"

	bpmf "github.com/rmera/gobpmf"
	"gonum.org/v1/gonum/floats"
)

const (
	mbarTol     = 1e-7
	mbarMaxIter = 20
)

// Mbar solves the multistate Bennett acceptance ratio equations by
// self-consistent iteration, starting from the given free energies (one per
// state, usually a BAR profile) and returning the reduced free energy of
// every state relative to the first. The iteration count is capped low
// because the profile is re-estimated every cycle anyway; if the cap is hit,
// the last iterate is returned along with a non-critical error. A NaN
// anywhere is a critical error and the caller should fall back to BAR.
func Mbar(u *bpmf.Ukln, f0 []float64) ([]float64, error) {
	m, nk := u.Flat()
	L := u.L()
	if L == 0 || len(f0) != L {
		return nil, Error{message: EmptyWork, deco: []string{"Mbar"}, critical: true}
	}
	ntot := 0
	logN := make([]float64, L)
	for k, n := range nk {
		logN[k] = math.Log(float64(n))
		ntot += n
	}
	f := append([]float64{}, f0...)
	fnew := make([]float64, L)
	denom := make([]float64, ntot)
	col := make([]float64, L)
	row := make([]float64, ntot)
	converged := false
	for iter := 0; iter < mbarMaxIter; iter++ {
		for n := 0; n < ntot; n++ {
			for k := 0; k < L; k++ {
				col[k] = logN[k] + f[k] - m.At(k, n)
			}
			denom[n] = floats.LogSumExp(col)
		}
		for l := 0; l < L; l++ {
			for n := 0; n < ntot; n++ {
				row[n] = -m.At(l, n) - denom[n]
			}
			fnew[l] = -floats.LogSumExp(row)
		}
		shift := fnew[0]
		delta := 0.0
		for l := range fnew {
			fnew[l] -= shift
			if d := math.Abs(fnew[l] - f[l]); d > delta {
				delta = d
			}
		}
		copy(f, fnew)
		if delta <= mbarTol {
			converged = true
			break
		}
	}
	for _, v := range f {
		if math.IsNaN(v) {
			return nil, Error{message: NonFinite, deco: []string{"Mbar"}, critical: true}
		}
	}
	if !converged {
		return f, Error{message: NotConverged, deco: []string{"Mbar"}}
	}
	return f, nil
}
