/*
 * models.go, part of gobpmf.
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
	"math/rand"
)

// SpringModel is an exactly solvable reference backend, where every energy
// term is an isotropic harmonic well over the whole configuration vector.
// The reduced potential at any thermodynamic state is then itself a
// harmonic well, so Sample draws from the exact Boltzmann distribution, and
// free energy differences between states are known in closed form. That
// makes the model useful as a stand-in for a molecular mechanics backend
// when exercising the machinery, and as ground truth when validating the
// estimators. It implements both Simulator and Evaluator.
type SpringModel struct {
	D int //coordinates per configuration

	KMM   float64            //curvature of the intramolecular well, centered at the origin
	KSite float64            //curvature of the binding-site restraint
	CSite float64            //per-coordinate center of the site restraint
	KChan [NChannels]float64 //curvatures of the scalable channel wells
	CChan [NChannels]float64 //per-coordinate centers of the channel wells
}

// NewSpringModel returns a model with D coordinates, a unit intramolecular
// well and mildly displaced, softer channel wells, which gives every channel
// some variance at intermediate couplings.
func NewSpringModel(D int) *SpringModel {
	m := &SpringModel{D: D, KMM: 1.0, KSite: 0.5, CSite: 1.0}
	for c := 0; c < NChannels; c++ {
		m.KChan[c] = 0.2 + 0.1*float64(c)
		m.CChan[c] = 0.5 * float64(c+1)
	}
	return m
}

//Terms scores one configuration. It never fails.
func (m *SpringModel) Terms(conf Conf) (*Terms, error) {
	t := new(Terms)
	var ch [NChannels]float64
	for _, x := range conf {
		t.MM += 0.5 * m.KMM * x * x
		d := x - m.CSite
		t.Site += 0.5 * m.KSite * d * d
		for c := 0; c < NChannels; c++ {
			d = x - m.CChan[c]
			ch[c] += 0.5 * m.KChan[c] * d * d
		}
	}
	t.SLJr = ch[ChanSLJr]
	t.SELE = ch[ChanSELE]
	t.LJr = ch[ChanLJr]
	t.LJa = ch[ChanLJa]
	t.ELE = ch[ChanELE]
	return t, nil
}

// well returns the curvature, the per-coordinate center and the constant
// offset (per coordinate) of the combined well at state l.
func (m *SpringModel) well(l *Lambda) (k, c, e0 float64) {
	add := func(ka, ca float64) {
		k += ka
		c += ka * ca
	}
	if l.MM {
		add(m.KMM, 0)
	}
	if l.Site {
		add(m.KSite, m.CSite)
	}
	for i := 0; i < NChannels; i++ {
		if w := l.Coupling(i); w != 0 {
			add(w*m.KChan[i], m.CChan[i])
		}
	}
	c /= k
	if l.MM {
		e0 += 0.5 * m.KMM * c * c
	}
	if l.Site {
		d := c - m.CSite
		e0 += 0.5 * m.KSite * d * d
	}
	for i := 0; i < NChannels; i++ {
		if w := l.Coupling(i); w != 0 {
			d := c - m.CChan[i]
			e0 += 0.5 * w * m.KChan[i] * d * d
		}
	}
	return k, c, e0
}

// Sample draws a configuration from the Boltzmann distribution of the
// combined well at state l. The starting configuration only sets the
// dimensionality, as the draw is exact; steps is ignored beyond the
// bookkeeping.
func (m *SpringModel) Sample(conf Conf, l *Lambda, steps int, seed int64) (*SimResult, error) {
	rng := rand.New(rand.NewSource(seed))
	k, c, _ := m.well(l)
	sd := math.Sqrt(R * l.T / k)
	D := m.D
	if len(conf) > 0 {
		D = len(conf)
	}
	n := make(Conf, D)
	for i := range n {
		n[i] = c + sd*rng.NormFloat64()
	}
	t, _ := m.Terms(n)
	dt := l.DeltaT
	if dt == 0 {
		dt = 0.0015
	}
	return &SimResult{
		Conf:   n,
		Etot:   t.Raw(l),
		DeltaT: dt,
		Moves:  []MoveStat{{Name: "Sampler", Acc: steps, Att: steps}},
	}, nil
}

// ReducedFreeEnergy returns the absolute reduced free energy of state l, up
// to an additive constant shared by every state of the same dimensionality.
// Differences of this quantity are what the estimators should recover.
func (m *SpringModel) ReducedFreeEnergy(l *Lambda) float64 {
	k, _, e0 := m.well(l)
	D := float64(m.D)
	rt := R * l.T
	return D*e0/rt + 0.5*D*math.Log(k/(2*math.Pi*rt))
}

// SphereSite is a spherical binding site for configurations laid out as flat
// xyz triplets, in Angstroms. It implements PoseGenerator.
type SphereSite struct {
	Center [3]float64
	Radius float64
}

//Volume returns the volume of the site, in cubic Angstroms.
func (s *SphereSite) Volume() float64 {
	return 4.0 * math.Pi * s.Radius * s.Radius * s.Radius / 3.0
}

// Rotations returns n uniformly distributed orientations, as row-major 3x3
// matrices, drawn with Shoemake's quaternion method.
func (s *SphereSite) Rotations(n int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	rots := make([][]float64, n)
	for i := range rots {
		u1 := rng.Float64()
		u2 := rng.Float64()
		u3 := rng.Float64()
		w := math.Sqrt(1-u1) * math.Sin(2*math.Pi*u2)
		x := math.Sqrt(1-u1) * math.Cos(2*math.Pi*u2)
		y := math.Sqrt(u1) * math.Sin(2*math.Pi*u3)
		z := math.Sqrt(u1) * math.Cos(2*math.Pi*u3)
		rots[i] = []float64{
			1 - 2*(y*y + z*z), 2*(x*y - w*z), 2*(x*z + w*y),
			2*(x*y + w*z), 1 - 2*(x*x + z*z), 2*(y*z - w*x),
			2*(x*z - w*y), 2*(y*z + w*x), 1 - 2*(x*x + y*y),
		}
	}
	return rots
}

//Translations returns n points drawn uniformly inside the site.
func (s *SphereSite) Translations(n int, seed int64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	points := make([][]float64, 0, n)
	for len(points) < n {
		x := s.Radius * (2*rng.Float64() - 1)
		y := s.Radius * (2*rng.Float64() - 1)
		z := s.Radius * (2*rng.Float64() - 1)
		if x*x+y*y+z*z > s.Radius*s.Radius {
			continue
		}
		points = append(points, []float64{
			s.Center[0] + x, s.Center[1] + y, s.Center[2] + z})
	}
	return points
}

// Place returns conf rotated by rot around its centroid and with the
// centroid carried to trans.
func (s *SphereSite) Place(conf Conf, rot, trans []float64) Conf {
	na := len(conf) / 3
	var cx, cy, cz float64
	for i := 0; i < na; i++ {
		cx += conf[3*i]
		cy += conf[3*i+1]
		cz += conf[3*i+2]
	}
	cx /= float64(na)
	cy /= float64(na)
	cz /= float64(na)
	out := make(Conf, len(conf))
	for i := 0; i < na; i++ {
		x := conf[3*i] - cx
		y := conf[3*i+1] - cy
		z := conf[3*i+2] - cz
		out[3*i] = rot[0]*x + rot[1]*y + rot[2]*z + trans[0]
		out[3*i+1] = rot[3]*x + rot[4]*y + rot[5]*z + trans[1]
		out[3*i+2] = rot[6]*x + rot[7]*y + rot[8]*z + trans[2]
	}
	return out
}
