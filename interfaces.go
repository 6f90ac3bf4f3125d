/*
 * interfaces.go, part of gobpmf.
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

// Terms holds the per-term potential energy of one configuration, in kJ/mol.
// MM is the intramolecular energy, Site the binding-site restraint, and the
// rest are the scalable ligand-receptor channels.
type Terms struct {
	MM   float64
	Site float64
	SLJr float64
	SELE float64
	LJr  float64
	LJa  float64
	ELE  float64
}

//Channel returns the c-th scalable term.
func (t *Terms) Channel(c int) float64 {
	switch c {
	case ChanSLJr:
		return t.SLJr
	case ChanSELE:
		return t.SELE
	case ChanLJr:
		return t.LJr
	case ChanLJa:
		return t.LJa
	case ChanELE:
		return t.ELE
	}
	panic("bpmf: no such energy channel")
}

// Raw returns the potential energy of the configuration at state l, in
// kJ/mol. Channels with a coupling of exactly zero are skipped.
func (t *Terms) Raw(l *Lambda) float64 {
	E := 0.0
	if l.MM {
		E += t.MM
	}
	if l.Site {
		E += t.Site
	}
	for c := 0; c < NChannels; c++ {
		if w := l.Coupling(c); w != 0 {
			E += w * t.Channel(c)
		}
	}
	return E
}

//Reduced returns the potential of the configuration at state l in units of
//RT.
func (t *Terms) Reduced(l *Lambda) float64 {
	return t.Raw(l) / (R * l.T)
}

// Simulator runs short molecular simulations at a given thermodynamic state.
// Implementations wrap whatever sampling backend is available; the package
// ships analytical reference models. Sample must be safe for concurrent use,
// as the worker pool calls it from several goroutines.
type Simulator interface {

	//Sample runs steps integration steps from conf at the state l, using the
	//time step l.DeltaT, and returns the final configuration, its total
	//potential energy and some bookkeeping. seed makes the run reproducible.
	Sample(conf Conf, l *Lambda, steps int, seed int64) (*SimResult, error)
}

// SimResult is what one short simulation returns.
type SimResult struct {
	Conf   Conf
	Etot   float64    //total potential energy of Conf, kJ/mol
	DeltaT float64    //the time step the simulation settled on, ps
	Moves  []MoveStat //acceptance bookkeeping, one entry per move type
}

// MoveStat reports the acceptance of one kind of Monte Carlo move during a
// simulation.
type MoveStat struct {
	Name string
	Acc  int
	Att  int
	Time float64 //seconds spent on this move type
}

// Evaluator scores configurations term by term. The terms do not depend on
// the thermodynamic state; the couplings are applied afterwards. An
// implementation must either return every term or fail explicitly, so a
// record never carries partially-evaluated snapshots. Terms must be safe for
// concurrent use.
type Evaluator interface {
	Terms(conf Conf) (*Terms, error)
}

// PhaseEvaluator recomputes total energies in an implicit-solvent phase, for
// postprocessing. The ligand alone and the ligand-receptor complex can be
// requested; the energy of the rigid receptor alone is a constant of the
// phase.
type PhaseEvaluator interface {

	//PhaseEnergy returns the total energy of each configuration in the given
	//phase, for the ligand alone (complex false) or the complex (true).
	PhaseEnergy(confs []Conf, phase string, complex bool) ([]float64, error)

	//Receptor returns the energy of the receptor alone in the given phase.
	Receptor(phase string) (float64, error)
}

// PoseGenerator produces and applies the rigid-body poses used to place the
// ligand in the binding site from scratch.
type PoseGenerator interface {

	//Rotations returns n random orientations as row-major 3x3 matrices.
	Rotations(n int, seed int64) [][]float64

	//Translations returns n random points inside the binding site.
	Translations(n int, seed int64) [][]float64

	//Place returns conf rotated by rot around its centroid and carried to
	//trans. The receiver must not modify conf.
	Place(conf Conf, rot, trans []float64) Conf

	//Volume returns the measure of the binding site, in cubic Angstroms.
	Volume() float64
}
