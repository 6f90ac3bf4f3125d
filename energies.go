/*
 * energies.go, part of gobpmf.
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

// Energies holds the per-term potential energies of a series of snapshots
// sampled at one thermodynamic state during one cycle, in kJ/mol. Terms that
// were not evaluated are nil: cooling records only carry MM, docking records
// carry MM, Site and the scalable channels. Postprocessing adds the total
// energies recomputed in implicit-solvent phases under Phase, keyed by the
// phase name prefixed with "L" (ligand alone) or "RL" (complex).
type Energies struct {
	MM   []float64
	Site []float64
	SLJr []float64
	SELE []float64
	LJr  []float64
	LJa  []float64
	ELE  []float64
	RMSD []float64 //distance to the reference pose, docking only, optional

	Phase map[string][]float64

	// Replica exchange bookkeeping, stored only on the record of the first
	// state of a protocol: the state occupancy of every replica after each
	// sweep, and the per-pair swap acceptance counts.
	Path    [][]int
	SwapAcc []float64
	SwapAtt []float64
}

//Len returns the number of snapshots in the record.
func (e *Energies) Len() int {
	for _, t := range [][]float64{e.MM, e.Site, e.SLJr, e.SELE, e.LJr, e.LJa, e.ELE} {
		if t != nil {
			return len(t)
		}
	}
	return 0
}

//Channel returns the energies of the c-th scalable channel, or nil if
//the channel was not evaluated.
func (e *Energies) Channel(c int) []float64 {
	switch c {
	case ChanSLJr:
		return e.SLJr
	case ChanSELE:
		return e.SELE
	case ChanLJr:
		return e.LJr
	case ChanLJa:
		return e.LJa
	case ChanELE:
		return e.ELE
	}
	panic("bpmf: no such energy channel")
}

//SetChannel replaces the energies of the c-th scalable channel.
func (e *Energies) SetChannel(c int, v []float64) {
	switch c {
	case ChanSLJr:
		e.SLJr = v
	case ChanSELE:
		e.SELE = v
	case ChanLJr:
		e.LJr = v
	case ChanLJa:
		e.LJa = v
	case ChanELE:
		e.ELE = v
	default:
		panic("bpmf: no such energy channel")
	}
}

//Copy returns a deep copy of e.
func (e *Energies) Copy() *Energies {
	n := new(Energies)
	n.MM = copyFloats(e.MM)
	n.Site = copyFloats(e.Site)
	for c := 0; c < NChannels; c++ {
		n.SetChannel(c, copyFloats(e.Channel(c)))
	}
	n.RMSD = copyFloats(e.RMSD)
	if e.Phase != nil {
		n.Phase = make(map[string][]float64, len(e.Phase))
		for k, v := range e.Phase {
			n.Phase[k] = copyFloats(v)
		}
	}
	for _, p := range e.Path {
		n.Path = append(n.Path, append([]int{}, p...))
	}
	n.SwapAcc = copyFloats(e.SwapAcc)
	n.SwapAtt = copyFloats(e.SwapAtt)
	return n
}

//AppendTerms appends the per-term energies of one snapshot to the record.
func (e *Energies) AppendTerms(t *Terms) {
	e.MM = append(e.MM, t.MM)
	e.Site = append(e.Site, t.Site)
	e.SLJr = append(e.SLJr, t.SLJr)
	e.SELE = append(e.SELE, t.SELE)
	e.LJr = append(e.LJr, t.LJr)
	e.LJa = append(e.LJa, t.LJa)
	e.ELE = append(e.ELE, t.ELE)
}

// CatEnergies concatenates the cycles of one state into a single record,
// term by term. Bookkeeping fields (Path, swap counts) are not concatenated.
func CatEnergies(cycles []*Energies) *Energies {
	n := new(Energies)
	for _, e := range cycles {
		n.MM = append(n.MM, e.MM...)
		n.Site = append(n.Site, e.Site...)
		for c := 0; c < NChannels; c++ {
			if ch := e.Channel(c); ch != nil {
				n.SetChannel(c, append(n.Channel(c), ch...))
			}
		}
		n.RMSD = append(n.RMSD, e.RMSD...)
		if e.Phase != nil {
			if n.Phase == nil {
				n.Phase = make(map[string][]float64)
			}
			for k, v := range e.Phase {
				n.Phase[k] = append(n.Phase[k], v...)
			}
		}
	}
	return n
}

func copyFloats(v []float64) []float64 {
	if v == nil {
		return nil
	}
	n := make([]float64, len(v))
	copy(n, v)
	return n
}
