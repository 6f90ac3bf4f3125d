/*
 * free.go, part of gobpmf.
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

package pipeline

import (
	"math"

	"github.com/rmera/gobpmf"
	"github.com/rmera/gobpmf/estimate"
	"github.com/rmera/gobpmf/temper"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// LigandFreeEnergies holds the per-cycle free energy estimates of the
// cooling leg, in units of RT at the target temperature. Solvation maps
// each phase to the one-sided FEP estimate of transferring the ligand into
// it, one entry per cycle, each over that cycle's equilibrated window.
// CoolBAR and CoolMBAR hold one cumulative profile over the whole ladder
// per cycle, and MeanAcc the estimated exchange acceptance between each
// pair of neighboring states. The artifact is stored in the cooling
// directory as f_L.
type LigandFreeEnergies struct {
	Solvation         map[string][]float64 `json:"solvation"`
	CoolBAR           [][]float64          `json:"cool_bar"`
	CoolMBAR          [][]float64          `json:"cool_mbar"`
	EquilibratedCycle []int                `json:"equilibrated_cycle"`
	MeanAcc           [][]float64          `json:"mean_acc"`
}

// BindingPMF holds the per-cycle binding PMF estimates and their docking
// leg components, in units of RT at the target temperature, along with the
// ligand free energies they were combined with. BMBAR is the estimate that
// assumes receptor and complex solvation cancel; B maps phase_method keys,
// with the methods min_Psi, mean_Psi, inverse_FEP, BAR and MBAR, to
// per-cycle estimates. PsiGrid keeps each cycle's reduced interaction
// energies at the fully coupled state, and Tau the relaxation time of the
// replica paths, in sweeps. Diverged marks a protocol that could not bridge
// its endpoints, meaning an infinite binding PMF. The artifact is stored in
// the docking directory as f_RL.
type BindingPMF struct {
	FL                *LigandFreeEnergies  `json:"f_l"`
	GridBAR           [][]float64          `json:"grid_bar"`
	GridMBAR          [][]float64          `json:"grid_mbar"`
	Solvation         map[string][]float64 `json:"solvation"`
	RSolv             map[string]float64   `json:"receptor_solvation"`
	BMBAR             []float64            `json:"b_mbar"`
	B                 map[string][]float64 `json:"b"`
	PsiGrid           [][]float64          `json:"psi_grid"`
	EquilibratedCycle []int                `json:"equilibrated_cycle"`
	MeanAcc           [][]float64          `json:"mean_acc"`
	Tau               float64              `json:"tau_ac"`
	RMSD              [][]float64          `json:"rmsd,omitempty"`
	Diverged          bool                 `json:"diverged,omitempty"`
}

func emptyFL() *LigandFreeEnergies {
	return &LigandFreeEnergies{Solvation: make(map[string][]float64)}
}

func emptyB() *BindingPMF {
	return &BindingPMF{
		Solvation: make(map[string][]float64),
		RSolv:     make(map[string]float64),
		B:         make(map[string][]float64),
	}
}

//loadFL reads the current ligand free energy artifact, or an empty one.
func (P *Pipeline) loadFL() *LigandFreeEnergies {
	f := emptyFL()
	P.cool.store.LoadAux("f_L", f)
	if f.Solvation == nil {
		f.Solvation = make(map[string][]float64)
	}
	return f
}

//loadB reads the current binding PMF artifact, or an empty one.
func (P *Pipeline) loadB() *BindingPMF {
	b := emptyB()
	P.dock.store.LoadAux("f_RL", b)
	if b.Solvation == nil {
		b.Solvation = make(map[string][]float64)
	}
	if b.RSolv == nil {
		b.RSolv = make(map[string]float64)
	}
	if b.B == nil {
		b.B = make(map[string][]float64)
	}
	return b
}

// CalcFL estimates the ligand-side free energies from the stored cooling
// samples: the solvation free energy of the free ligand in each phase, by
// one-sided FEP, and the free energy of cooling it from the high to the
// target temperature, by BAR and MBAR over the whole ladder. Estimates are
// incremental: cycles already in the artifact are not recomputed, so
// calling this after every batch of cycles only pays for the new ones. The
// returned boolean reports whether the estimates are current; they are not
// when the leg or its postprocessing is incomplete, which is not an error.
func (P *Pipeline) CalcFL() (bool, error) {
	l := P.cool
	s := P.load(l)
	if !s.Protocol.Crossed() {
		P.log.LogV(2, "the cooling leg has not finished: skipping its free energy calculation")
		return false, nil
	}
	done, err := P.postprocess([]cond{{l, "L"}}, false)
	if err != nil || !done {
		return false, err
	}
	P.attach(l)
	defer P.log.Detach()
	f := P.loadFL()
	phases := l.o.Phases()
	if !pendingFL(f, s.Cycle, phases) {
		return true, nil
	}
	if err := l.store.Lock(); err != nil {
		return false, errDecorate(err, "pipeline.CalcFL")
	}
	defer l.store.Unlock()
	P.log.LogV(2, ">>> Ligand free energy calculations")
	f.EquilibratedCycle = equilibratedCycles(uKK(s))
	eq := f.EquilibratedCycle
	rt := bpmf.R * l.o.TTarget()
	last := s.K() - 1
	for _, ph := range phases {
		key := "L" + ph
		for c := len(f.Solvation[ph]); c < s.Cycle; c++ {
			var du []float64
			for n := eq[c]; n <= c; n++ {
				rec := s.Es[last][n]
				pe := rec.Phase[key]
				for i, mm := range rec.MM {
					du = append(du, (pe[i]-mm)/rt)
				}
			}
			f.Solvation[ph] = append(f.Solvation[ph], estimate.Fep(du))
			P.log.LogVf(2, "  calculated the %s solvation free energy of the ligand, %f RT, using cycles %d to %d\n", ph, f.Solvation[ph][c], eq[c], c)
		}
	}
	K := s.K()
	for c := len(f.CoolBAR); c < s.Cycle; c++ {
		hist := sliceHistory(s.Es, eq[c], c+1)
		u := bpmf.UklnFromHistory(hist, s.Protocol)
		bar, mbar := estimate.Profile(u)
		f.CoolBAR = append(f.CoolBAR, bar)
		f.CoolMBAR = append(f.CoolMBAR, mbar)
		acc := make([]float64, K-1)
		for k := 0; k < K-1; k++ {
			pu := bpmf.UklnFromHistory(hist[k:k+2], s.Protocol[k:k+2])
			acc[k] = estimate.MeanAcceptance(pu)
		}
		f.MeanAcc = append(f.MeanAcc, acc)
		P.log.LogVf(2, "  calculated the cooling free energy, %f RT, using MBAR for cycles %d to %d\n", mbar[len(mbar)-1], eq[c], c)
	}
	if err := l.store.SaveAux("f_L", f); err != nil {
		return false, errDecorate(err, "pipeline.CalcFL")
	}
	P.plotLigandF(f)
	return true, nil
}

func pendingFL(f *LigandFreeEnergies, cycles int, phases []string) bool {
	if len(f.CoolBAR) < cycles {
		return true
	}
	for _, ph := range phases {
		if len(f.Solvation[ph]) < cycles {
			return true
		}
	}
	return false
}

// CalcFRL estimates the binding PMF from the stored docking samples. It
// first brings postprocessing and the ligand-side estimates up to date,
// then computes, per cycle, the grid scaling free energy by BAR and MBAR,
// the complex solvation by one-sided FEP, and five binding PMF estimates
// per phase from the interaction energy statistics. With redo, the phase
// estimates are recomputed from scratch; the sampling-derived grid
// profiles are kept. The returned boolean reports whether the estimates
// are current.
func (P *Pipeline) CalcFRL(redo bool) (bool, error) {
	l := P.dock
	s := P.load(l)
	if len(s.Protocol) == 0 || !s.Protocol.Crossed() {
		P.log.LogV(2, "the docking leg has not finished: skipping the binding PMF estimation")
		return false, nil
	}
	done, err := P.postprocess(P.allConds(), false)
	if err != nil || !done {
		return false, err
	}
	if done, err = P.CalcFL(); err != nil {
		return false, errDecorate(err, "pipeline.CalcFRL")
	} else if !done {
		return false, nil
	}
	P.attach(l)
	defer P.log.Detach()
	fl := P.loadFL()
	if len(fl.CoolMBAR) == 0 {
		P.log.LogV(2, "the ligand free energies are not available: skipping the binding PMF estimation")
		return false, nil
	}
	b := P.loadB()
	if redo {
		b.B = make(map[string][]float64)
		b.Solvation = make(map[string][]float64)
		b.PsiGrid = nil
	}
	phases := l.o.Phases()
	eq := equilibratedCycles(uKK(s))
	if !pendingB(b, s.Cycle, phases) && equalInts(eq, b.EquilibratedCycle) {
		return true, nil
	}
	if err := l.store.Lock(); err != nil {
		return false, errDecorate(err, "pipeline.CalcFRL")
	}
	defer l.store.Unlock()
	P.log.LogV(2, ">>> Binding PMF estimation")
	b.EquilibratedCycle = eq
	rt := bpmf.R * l.o.TTarget()
	last := s.K() - 1
	uSamp := uKSampled(s)
	for c := len(b.PsiGrid); c < s.Cycle; c++ {
		rec := s.Es[last][c]
		psi := make([]float64, rec.Len())
		for i := range psi {
			psi[i] = (rec.LJr[i] + rec.LJa[i] + rec.ELE[i]) / rt
		}
		b.PsiGrid = append(b.PsiGrid, psi)
	}
	b.Tau = pathRelaxation(s)
	b.RMSD = nil
	for c := 0; c < s.Cycle; c++ {
		if s.Es[last][c].RMSD == nil {
			continue
		}
		b.RMSD = make([][]float64, s.Cycle)
		for d := range b.RMSD {
			b.RMSD[d] = s.Es[last][d].RMSD
		}
		break
	}
	K := s.K()
	for c := len(b.GridMBAR); c < s.Cycle; c++ {
		hist := sliceHistory(s.Es, eq[c], c+1)
		u := bpmf.UklnFromHistory(hist, s.Protocol)
		bar, mbar := estimate.Profile(u)
		b.GridBAR = append(b.GridBAR, bar)
		b.GridMBAR = append(b.GridMBAR, mbar)
		acc := make([]float64, K-1)
		for k := 0; k < K-1; k++ {
			pu := bpmf.UklnFromHistory(hist[k:k+2], s.Protocol[k:k+2])
			acc[k] = estimate.MeanAcceptance(pu)
		}
		b.MeanAcc = append(b.MeanAcc, acc)
		P.log.LogVf(2, "  calculated the grid scaling free energy, %f RT, using MBAR for cycles %d to %d\n", mbar[len(mbar)-1], eq[c], c)
	}
	coolMBAR := fl.CoolMBAR[len(fl.CoolMBAR)-1]
	coolBAR := fl.CoolBAR[len(fl.CoolBAR)-1]
	b.BMBAR = make([]float64, len(b.GridMBAR))
	for c := range b.GridMBAR {
		b.BMBAR[c] = -lastF(coolMBAR) + lastF(b.GridMBAR[c])
	}
	for _, ph := range phases {
		if len(fl.Solvation[ph]) == 0 {
			P.log.LogVf(1, "  no ligand solvation free energy for the %s phase: skipping it\n", ph)
			continue
		}
		fRSolv := P.rec[ph] / rt
		b.RSolv[ph] = fRSolv
		flSolv := lastF(fl.Solvation[ph])
		for c := len(b.B[ph+"_MBAR"]); c < s.Cycle; c++ {
			var du, psi []float64
			for n := eq[c]; n <= c; n++ {
				rec := s.Es[last][n]
				rl := rec.Phase["RL"+ph]
				lo := rec.Phase["L"+ph]
				for i := range rl {
					du = append(du, rl[i]/rt-uSamp[n][i])
					psi = append(psi, (rl[i]-lo[i]-P.rec[ph])/rt)
				}
			}
			fRLSolv := estimate.Fep(du)
			minDu := floats.Min(du)
			weights := make([]float64, len(du))
			for i, d := range du {
				weights[i] = math.Exp(-(d - minDu))
			}
			wsum := floats.Sum(weights)
			for i := range weights {
				weights[i] /= wsum
			}
			minPsi := floats.Min(psi)
			if floats.Max(psi)-minPsi > 500 {
				var fw, fp []float64
				for i := range psi {
					if psi[i]-minPsi < 500 {
						fw = append(fw, weights[i])
						fp = append(fp, psi[i])
					}
				}
				weights, psi = fw, fp
			}
			inv := 0.0
			for i := range psi {
				inv += weights[i] * math.Exp(psi[i]-minPsi)
			}
			b.Solvation[ph] = append(b.Solvation[ph], fRLSolv)
			b.B[ph+"_min_Psi"] = append(b.B[ph+"_min_Psi"], minPsi)
			b.B[ph+"_mean_Psi"] = append(b.B[ph+"_mean_Psi"], stat.Mean(psi, nil))
			b.B[ph+"_inverse_FEP"] = append(b.B[ph+"_inverse_FEP"], math.Log(inv)+minPsi)
			b.B[ph+"_BAR"] = append(b.B[ph+"_BAR"],
				-fRSolv-flSolv-lastF(coolBAR)+lastF(b.GridBAR[c])+fRLSolv)
			b.B[ph+"_MBAR"] = append(b.B[ph+"_MBAR"],
				-fRSolv-flSolv-lastF(coolMBAR)+lastF(b.GridMBAR[c])+fRLSolv)
			P.log.LogVf(2, "  calculated the %s binding PMF, %f RT, with cycles %d to %d\n", ph, lastF(b.B[ph+"_MBAR"]), eq[c], c)
		}
	}
	b.FL = fl
	b.Diverged = false
	if err := l.store.SaveAux("f_RL", b); err != nil {
		return false, errDecorate(err, "pipeline.CalcFRL")
	}
	u := bpmf.UklnFromHistory(sliceHistory(s.Es, eq[s.Cycle-1], s.Cycle), s.Protocol)
	P.plotBindingPMF(b, u)
	return true, nil
}

func pendingB(b *BindingPMF, cycles int, phases []string) bool {
	if len(b.GridMBAR) < cycles {
		return true
	}
	for _, ph := range phases {
		if len(b.B[ph+"_MBAR"]) < cycles {
			return true
		}
	}
	return false
}

// uKSampled returns, per cycle, the energies of the fully coupled state's
// own snapshots reduced at that state.
func uKSampled(s *bpmf.SimState) [][]float64 {
	last := s.K() - 1
	out := make([][]float64, s.Cycle)
	for c := range out {
		out[c] = bpmf.ReducedAt(s.Es[last][c], s.Protocol[last])
	}
	return out
}

// uKK returns, for each cycle, the total reduced energy of the replica
// ensemble at each stored sweep: the sum over states of the energy of each
// state's own snapshot, at its own thermodynamic state. A record holding a
// single snapshot, like the re-seeded first docking state, contributes
// that snapshot to every sweep.
func uKK(s *bpmf.SimState) [][]float64 {
	out := make([][]float64, s.Cycle)
	for c := 0; c < s.Cycle; c++ {
		n := 0
		for k := 0; k < s.K(); k++ {
			if l := s.Es[k][c].Len(); l > n {
				n = l
			}
		}
		tot := make([]float64, n)
		for k := 0; k < s.K(); k++ {
			red := bpmf.ReducedAt(s.Es[k][c], s.Protocol[k])
			for i := range tot {
				j := i
				if j >= len(red) {
					j = len(red) - 1
				}
				tot[i] += red[j]
			}
		}
		out[c] = tot
	}
	return out
}

// equilibratedCycles estimates, for each cycle, the first cycle by which
// the ensemble had relaxed: the earliest one whose mean total energy lies
// within one standard deviation of the cycle's own. Cycles after the first
// also reject the annealing cycle as burn-in.
func equilibratedCycles(uKKs [][]float64) []int {
	n := len(uKKs)
	means := make([]float64, n)
	stds := make([]float64, n)
	for c, u := range uKKs {
		means[c] = stat.Mean(u, nil)
		stds[c] = stat.PopStdDev(u, nil)
	}
	eq := make([]int, n)
	for c := 0; c < n; c++ {
		first := c
		for d := 0; d < n; d++ {
			if math.Abs(means[d]-means[c]) < stds[c] {
				first = d
				break
			}
		}
		if c > 0 && first < 1 {
			first = 1
		}
		eq[c] = first
	}
	return eq
}

// pathRelaxation estimates the relaxation time of the replica exchange
// state paths, in sweeps, over every cycle that recorded them.
func pathRelaxation(s *bpmf.SimState) float64 {
	K := s.K()
	series := make([][]float64, K)
	for c := 0; c < len(s.Es[0]); c++ {
		for _, row := range s.Es[0][c].Path {
			for k := 0; k < K && k < len(row); k++ {
				series[k] = append(series[k], float64(row[k]))
			}
		}
	}
	if len(series) == 0 || len(series[0]) == 0 {
		return 0
	}
	return temper.IntegratedTimeMultiple(series)
}

//sliceHistory takes the cycle window [from, to) of every state's records.
func sliceHistory(es [][]*bpmf.Energies, from, to int) [][]*bpmf.Energies {
	out := make([][]*bpmf.Energies, len(es))
	for k := range es {
		out[k] = es[k][from:to]
	}
	return out
}

func lastF(v []float64) float64 {
	return v[len(v)-1]
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
