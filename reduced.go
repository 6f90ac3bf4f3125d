/*
 * reduced.go, part of gobpmf.
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

package bpmf

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Ukln is a reduced potential energy matrix: U[k][l][n] is the n-th snapshot
// sampled at state k, evaluated at state l, in units of RT of state l. N[k]
// is the number of snapshots sampled at state k, so U[k][l] has length N[k].
type Ukln struct {
	U [][][]float64
	N []int
}

//K returns the number of sampled states.
func (u *Ukln) K() int {
	return len(u.U)
}

//L returns the number of evaluation states.
func (u *Ukln) L() int {
	if len(u.U) == 0 {
		return 0
	}
	return len(u.U[0])
}

//MinN returns the smallest per-state sample count.
func (u *Ukln) MinN() int {
	if len(u.N) == 0 {
		return 0
	}
	n := u.N[0]
	for _, v := range u.N[1:] {
		if v < n {
			n = v
		}
	}
	return n
}

// Flat returns the matrix as an L x Ntot Dense, Ntot being the total number
// of snapshots, with the samples of every state concatenated in state order,
// plus a copy of the per-state sample counts. This is the layout the MBAR
// solver works on.
func (u *Ukln) Flat() (*mat.Dense, []int) {
	ntot := 0
	for _, n := range u.N {
		ntot += n
	}
	L := u.L()
	m := mat.NewDense(L, ntot, nil)
	for l := 0; l < L; l++ {
		j := 0
		for k := range u.U {
			for _, v := range u.U[k][l] {
				m.Set(l, j, v)
				j++
			}
		}
	}
	return m, append([]int{}, u.N...)
}

// reduceOne evaluates the snapshots of one sampled state, given as a list of
// per-cycle records, at every state in ls. The MM and site terms enter
// according to the flags of ls[0]; channels with a coupling of exactly zero
// are skipped, so their energies need not be present.
func reduceOne(es []*Energies, ls []*Lambda, noBeta bool) ([][]float64, int) {
	n := 0
	for _, e := range es {
		n += e.Len()
	}
	base := make([]float64, n)
	if ls[0].MM {
		i := 0
		for _, e := range es {
			for _, v := range e.MM {
				base[i] += v
				i++
			}
		}
	}
	if ls[0].Site {
		i := 0
		for _, e := range es {
			for _, v := range e.Site {
				base[i] += v
				i++
			}
		}
	}
	out := make([][]float64, len(ls))
	for l, lam := range ls {
		E := make([]float64, n)
		copy(E, base)
		for c := 0; c < NChannels; c++ {
			w := lam.Coupling(c)
			if w == 0 {
				continue
			}
			i := 0
			for _, e := range es {
				ch := e.Channel(c)
				if ch == nil && e.Len() > 0 {
					panic("bpmf: energies lack the " + ChannelName(c) + " channel required by the evaluation state")
				}
				for _, v := range ch {
					E[i] += w * v
					i++
				}
			}
		}
		if !noBeta {
			rt := R * lam.T
			for i := range E {
				E[i] /= rt
			}
		}
		out[l] = E
	}
	return out, n
}

// UklnFromHistory builds the reduced potential matrix from a full sampling
// history: ess[k][c] holds the snapshots of state k during cycle c, and the
// cycles of each state are concatenated in order.
func UklnFromHistory(ess [][]*Energies, ls []*Lambda) *Ukln {
	K := len(ess)
	u := &Ukln{U: make([][][]float64, K), N: make([]int, K)}
	for k := range ess {
		u.U[k], u.N[k] = reduceOne(ess[k], ls, false)
	}
	return u
}

// UklnFromStates builds the reduced potential matrix from one record per
// sampled state.
func UklnFromStates(es []*Energies, ls []*Lambda) *Ukln {
	ess := make([][]*Energies, len(es))
	for k, e := range es {
		ess[k] = []*Energies{e}
	}
	return UklnFromHistory(ess, ls)
}

// UklnFromReplicas builds the reduced potential matrix from a single record
// holding one snapshot per replica, as produced during a replica exchange
// sweep: U[k][l][0] is the snapshot of replica k evaluated at state l, and
// every N[k] is 1. The result is bit-identical to feeding the same snapshots
// to UklnFromStates one-snapshot records.
func UklnFromReplicas(e *Energies, ls []*Lambda) *Ukln {
	K := e.Len()
	base := make([]float64, K)
	if ls[0].MM {
		floats.Add(base, e.MM)
	}
	if ls[0].Site {
		floats.Add(base, e.Site)
	}
	u := &Ukln{U: make([][][]float64, K), N: make([]int, K)}
	for k := range u.U {
		u.U[k] = make([][]float64, len(ls))
		u.N[k] = 1
	}
	for l, lam := range ls {
		E := make([]float64, K)
		copy(E, base)
		for c := 0; c < NChannels; c++ {
			w := lam.Coupling(c)
			if w == 0 {
				continue
			}
			ch := e.Channel(c)
			if ch == nil && K > 0 {
				panic("bpmf: energies lack the " + ChannelName(c) + " channel required by the evaluation state")
			}
			floats.AddScaled(E, w, ch)
		}
		rt := R * lam.T
		for i := range E {
			E[i] /= rt
		}
		for k := 0; k < K; k++ {
			u.U[k][l] = []float64{E[k]}
		}
	}
	return u
}

// ReducedAt returns the reduced potential of every snapshot in e evaluated
// at the single state l.
func ReducedAt(e *Energies, l *Lambda) []float64 {
	rows, _ := reduceOne([]*Energies{e}, []*Lambda{l}, false)
	return rows[0]
}

// RawAt is like ReducedAt, but returns plain potential energies, not divided
// by RT.
func RawAt(e *Energies, l *Lambda) []float64 {
	rows, _ := reduceOne([]*Energies{e}, []*Lambda{l}, true)
	return rows[0]
}
