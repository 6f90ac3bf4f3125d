/*
 * state.go, part of gobpmf.
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

// Conf is one configuration of the ligand, as a flat coordinate vector. The
// package never looks inside it; only the Simulator, Evaluator and
// PoseGenerator implementations interpret its layout.
type Conf []float64

//Copy returns a copy of c.
func (c Conf) Copy() Conf {
	n := make(Conf, len(c))
	copy(n, c)
	return n
}

//copyConfs returns a copy of the given configuration slice, sharing the
//underlying vectors.
func copyConfs(cs []Conf) []Conf {
	n := make([]Conf, len(cs))
	copy(n, cs)
	return n
}

// Process identifies one of the two simulation legs.
type Process int

const (
	Cool Process = iota //ligand alone, between the high and the target temperature
	Dock                //ligand in the site, between the uncoupled and the fully-coupled state
)

func (p Process) String() string {
	if p == Cool {
		return "cool"
	}
	return "dock"
}

// SimState is the complete in-memory state of one simulation leg. Everything
// needed to resume the leg after an interruption is here, and checkpointing
// stores exactly this.
type SimState struct {
	Process  Process
	Protocol Protocol

	// Cycle counts the completed production (replica exchange) cycles. It is
	// zero until the protocol has crossed.
	Cycle int

	Replicas []Conf        //current configuration of each replica, one per state
	Seeds    []Conf        //configurations used to seed the states of the next cycle
	Samples  [][][]Conf    //stored snapshots, indexed [state][cycle][snapshot]
	Es       [][]*Energies //sampled energies, indexed [state][cycle]

	Poses *PoseGrid //rigid-body pose grid, docking without an unbound endpoint only
}

// NewSimState returns an empty state for the given leg.
func NewSimState(p Process) *SimState {
	return &SimState{Process: p}
}

//K returns the number of states in the protocol.
func (s *SimState) K() int {
	return len(s.Protocol)
}

// SyncCycle recomputes the cycle count from the stored samples: the number
// of cycles of the last state once the protocol has crossed, zero before.
func (s *SimState) SyncCycle() {
	if !s.Protocol.Crossed() || len(s.Samples) == 0 {
		s.Cycle = 0
		return
	}
	s.Cycle = len(s.Samples[len(s.Samples)-1])
}

// AppendState grows every per-state field by one empty state, for a protocol
// that just gained a member.
func (s *SimState) AppendState() {
	s.Samples = append(s.Samples, [][]Conf{})
	s.Es = append(s.Es, []*Energies{})
}

// DropState removes the i-th state from every per-state field, counting from
// the back if i is negative.
func (s *SimState) DropState(i int) {
	if i < 0 {
		i += len(s.Samples)
	}
	s.Samples = append(s.Samples[:i], s.Samples[i+1:]...)
	s.Es = append(s.Es[:i], s.Es[i+1:]...)
}

// Reverse reverses the order of the states, turning a protocol that was grown
// from the far endpoint into one that runs toward it. The crossed mark is
// moved to the new last state.
func (s *SimState) Reverse() {
	reverseLambdas(s.Protocol)
	reverseConfs(s.Replicas)
	for i, j := 0, len(s.Samples)-1; i < j; i, j = i+1, j-1 {
		s.Samples[i], s.Samples[j] = s.Samples[j], s.Samples[i]
	}
	for i, j := 0, len(s.Es)-1; i < j; i, j = i+1, j-1 {
		s.Es[i], s.Es[j] = s.Es[j], s.Es[i]
	}
	if len(s.Protocol) > 0 {
		s.Protocol[0].Crossed = false
		s.Protocol[len(s.Protocol)-1].Crossed = true
	}
}

// PruneSamples drops the stored snapshots of the intermediate states, which
// are only needed when intermediate results are to be kept. The last state
// always keeps its snapshots; so does the first state of the cooling leg,
// which seeds docking.
func (s *SimState) PruneSamples(keepIntermediate bool) {
	if keepIntermediate {
		return
	}
	K := len(s.Samples)
	for k := range s.Samples {
		if k == K-1 {
			continue
		}
		if s.Process == Cool && k == 0 {
			continue
		}
		s.Samples[k] = [][]Conf{}
	}
}

func reverseLambdas(p Protocol) {
	for i, j := 0, len(p)-1; i < j; i, j = i+1, j-1 {
		p[i], p[j] = p[j], p[i]
	}
}

func reverseConfs(c []Conf) {
	for i, j := 0, len(c)-1; i < j; i, j = i+1, j-1 {
		c[i], c[j] = c[j], c[i]
	}
}

// PoseGrid is the set of rigid-body poses used to seed docking when the
// ligand is placed in the site from scratch: every stored orientation of
// every seed configuration, at every translation inside the site. The
// translation set grows until the free energy estimate between the first two
// docking states converges, up to MaxTrans.
type PoseGrid struct {
	Rotations    [][]float64 //row-major 3x3 rotation matrices
	Translations [][]float64 //points inside the binding site; the first NTrans are active
	NTrans       int
	MaxTrans     int
}
