/*
 * lambda.go, part of gobpmf.
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

import "math"

// R is the gas constant in kJ/(mol K). Energies are in kJ/mol throughout,
// temperatures in K, and times in ps.
const R float64 = 8.3144621e-3

// EpsTensor is the threshold under which the thermodynamic-length metric is
// considered degenerate, i.e. the sampled energies carry no variance.
const EpsTensor float64 = 1e-5

// The scalable energy channels, in the order in which their couplings enter
// the reduced potential. The soft-core channels keep the ligand from leaving
// the site before the full interactions are turned on.
const (
	ChanSLJr = iota //soft-core Lennard-Jones repulsion
	ChanSELE        //soft-core electrostatics
	ChanLJr         //Lennard-Jones repulsion
	ChanLJa         //Lennard-Jones attraction
	ChanELE         //electrostatics
	NChannels
)

//ChannelName returns the conventional name of the c-th scalable channel.
func ChannelName(c int) string {
	switch c {
	case ChanSLJr:
		return "sLJr"
	case ChanSELE:
		return "sELE"
	case ChanLJr:
		return "LJr"
	case ChanLJa:
		return "LJa"
	case ChanELE:
		return "ELE"
	}
	panic("bpmf: no such energy channel")
}

// Lambda is one thermodynamic state of a protocol: a temperature plus the
// couplings of every scalable ligand-receptor channel. Cooling protocols only
// vary T; docking protocols vary all couplings and T together through the
// progress variable A.
type Lambda struct {
	T       float64 //temperature, K
	MM      bool    //whether the intramolecular force field enters the reduced potential
	Site    bool    //whether the binding-site restraint enters the reduced potential
	SLJr    float64 //couplings of the scalable channels, in [0,1]
	SELE    float64
	LJr     float64
	LJa     float64
	ELE     float64
	A       float64 //progress along the protocol, in [0,1]
	Crossed bool    //whether the protocol has reached its far endpoint at this state
	DeltaT  float64 //integration time step, ps. 0 means not yet assigned.
}

//Copy returns a copy of l.
func (l *Lambda) Copy() *Lambda {
	n := *l
	return &n
}

//Coupling returns the coupling of the c-th scalable channel.
func (l *Lambda) Coupling(c int) float64 {
	switch c {
	case ChanSLJr:
		return l.SLJr
	case ChanSELE:
		return l.SELE
	case ChanLJr:
		return l.LJr
	case ChanLJa:
		return l.LJa
	case ChanELE:
		return l.ELE
	}
	panic("bpmf: no such energy channel")
}

// Protocol is a sequence of thermodynamic states bridging the endpoints of a
// simulation leg.
type Protocol []*Lambda

//Copy returns a deep copy of p.
func (p Protocol) Copy() Protocol {
	n := make(Protocol, len(p))
	for i, l := range p {
		n[i] = l.Copy()
	}
	return n
}

//Crossed tells whether the protocol has reached its far endpoint.
func (p Protocol) Crossed() bool {
	if len(p) == 0 {
		return false
	}
	return p[len(p)-1].Crossed
}

//Alphas returns the progress variable of each state in p.
func (p Protocol) Alphas() []float64 {
	a := make([]float64, len(p))
	for i, l := range p {
		a[i] = l.A
	}
	return a
}

//Temperatures returns the temperature of each state in p.
func (p Protocol) Temperatures() []float64 {
	t := make([]float64, len(p))
	for i, l := range p {
		t[i] = l.T
	}
	return t
}

// SoftScale is the schedule of the soft-core couplings along the docking
// progress variable: zero at both endpoints and maximal halfway, where the
// soft-core terms hold the ligand inside the site.
func SoftScale(a float64) float64 {
	return 1. - 4.*(a-0.5)*(a-0.5)
}

//SoftScaleDeriv is the derivative of SoftScale.
func SoftScaleDeriv(a float64) float64 {
	return -8 * (a - 0.5)
}

// HardScale is the schedule of the full-interaction couplings along the
// docking progress variable: a sigmoidal switch that only opens in the second
// half of the protocol. Values under 1e-10 are truncated to zero so that the
// corresponding energies need not be evaluated at all.
func HardScale(a float64) float64 {
	g := hardScaleRaw(a)
	if g < 1e-10 {
		g = 0
	}
	return g
}

func hardScaleRaw(a float64) float64 {
	return 4. * (a - 0.5) * (a - 0.5) / (1 + math.Exp(-100*(a-0.5)))
}

//HardScaleDeriv is the derivative of HardScale, without the truncation.
func HardScaleDeriv(a float64) float64 {
	e := math.Exp(-100. * (a - 0.5))
	return (400.*(a-0.5)*(a-0.5)*e)/((1+e)*(1+e)) +
		(8. * (a - 0.5)) / (1 + e)
}

// DockLambda returns the docking state at progress a, between tHigh and
// tTarget. If prev is not nil, the fields that do not depend on a (the MM and
// site flags, the time step, whether the protocol crossed) are inherited from
// it; otherwise the state gets MM and the site restraint turned on.
func DockLambda(a, tHigh, tTarget float64, prev *Lambda) *Lambda {
	var l *Lambda
	if prev != nil {
		l = prev.Copy()
	} else {
		l = &Lambda{MM: true, Site: true}
	}
	asg := SoftScale(a)
	ag := HardScale(a)
	l.A = a
	l.SLJr = asg
	l.SELE = asg
	l.LJr = ag
	l.LJa = ag
	l.ELE = ag
	l.T = a*(tTarget-tHigh) + tHigh
	return l
}

// CoolLambda returns the cooling state at temperature T, between tHigh and
// tTarget. Cooling states have no ligand-receptor couplings, only the
// intramolecular force field.
func CoolLambda(T, tHigh, tTarget float64, crossed bool) *Lambda {
	return &Lambda{
		T:       T,
		A:       (tHigh - T) / (tHigh - tTarget),
		MM:      true,
		Crossed: crossed,
	}
}

// NextCool proposes the cooling state that follows prev, moving the
// temperature by thermSpeed divided by the thermodynamic-length metric tensor
// of the samples at prev. The temperature is clamped at the endpoint, which
// marks the returned state as crossed. If the tensor is degenerate there is
// nothing to guide the step and a critical error is returned.
func NextCool(tensor float64, prev *Lambda, warm bool, thermSpeed, tHigh, tTarget float64) (*Lambda, error) {
	if Degenerate(tensor) {
		return nil, NewError(NoVariance, "cool", true, "NextCool")
	}
	dL := thermSpeed / tensor
	var T float64
	crossed := false
	if warm {
		T = prev.T + dL
		if T > tHigh {
			T = tHigh
			crossed = true
		}
	} else {
		T = prev.T - dL
		if T < tTarget {
			T = tTarget
			crossed = true
		}
	}
	return CoolLambda(T, tHigh, tTarget, crossed), nil
}

// NextDock proposes the docking state that follows prev, moving the progress
// variable by thermSpeed divided by the metric tensor of the samples e at
// prev. pow counts the consecutive rejections of the current stage: each one
// scales the tensor by 1.25, shrinking the step, and once the endpoint has
// been reached it backs the proposal off the endpoint geometrically instead
// of clamping, so a rejected final stage can be approached again. Crossing
// the endpoint with pow<=0 marks the returned state as crossed.
//
// A degenerate tensor is not fatal here: the previous stage is repeated with
// a time step scaled by 1.25^pow, which the second return value reports.
func NextDock(e *Energies, prev *Lambda, pow int, undock bool, thermSpeed, tHigh, tTarget float64) (*Lambda, bool) {
	t := DockTensor(e, prev, tHigh, tTarget)
	t *= math.Pow(1.25, float64(pow))
	if Degenerate(t) {
		//repeats the previous stage
		n := prev.Copy()
		n.DeltaT = prev.DeltaT * math.Pow(1.25, float64(pow))
		return n, true
	}
	dL := thermSpeed / t
	crossed := prev.Crossed
	var a float64
	if undock {
		a = prev.A - dL
		if a < 0.0 {
			if pow > 0 {
				a = prev.A * (1 - math.Pow(0.8, float64(pow)))
			} else {
				a = 0.0
				crossed = true
			}
		}
	} else {
		a = prev.A + dL
		if a > 1.0 {
			if pow > 0 {
				a = prev.A + (1-prev.A)*math.Pow(0.8, float64(pow))
			} else {
				a = 1.0
				crossed = true
			}
		}
	}
	n := DockLambda(a, tHigh, tTarget, prev)
	n.Crossed = crossed
	return n, false
}
