/*
 * tensor.go, part of gobpmf.
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
	"math"

	"gonum.org/v1/gonum/stat"
)

// Degenerate tells whether a thermodynamic-length metric tensor carries too
// little variance to guide a protocol step. A NaN tensor (no samples at all)
// counts as degenerate.
func Degenerate(tensor float64) bool {
	return !(tensor > EpsTensor)
}

// CoolTensor returns the thermodynamic-length metric of a cooling state: the
// standard deviation of the sampled configuration energies over R T^2, so
// that dividing the thermal speed by it yields a temperature step.
func CoolTensor(e *Energies, l *Lambda) float64 {
	u := RawAt(e, &Lambda{MM: true})
	return stat.PopStdDev(u, nil) / (R * l.T * l.T)
}

// DockTensor returns the thermodynamic-length metric of a docking state,
// where the progress variable moves the soft-core couplings, the full
// couplings and the temperature at once: each contributes the fluctuation of
// its conjugate energy weighted by the derivative of its schedule.
func DockTensor(e *Energies, l *Lambda, tHigh, tTarget float64) float64 {
	T := l.T
	a := l.A
	asg := SoftScale(a)
	ag := hardScaleRaw(a)
	psiSG := RawAt(e, &Lambda{SLJr: 1, SELE: 1})
	psiG := RawAt(e, &Lambda{LJr: 1, LJa: 1, ELE: 1})
	uRL := RawAt(e, &Lambda{MM: true, Site: true, T: T,
		SLJr: asg, SELE: asg, LJr: ag, LJa: ag, ELE: ag})
	return math.Abs(SoftScaleDeriv(a))*stat.PopStdDev(psiSG, nil)/(R*T) +
		math.Abs(HardScaleDeriv(a))*stat.PopStdDev(psiG, nil)/(R*T) +
		math.Abs(tTarget-tHigh)*stat.PopStdDev(uRL, nil)/(R*T*T)
}
