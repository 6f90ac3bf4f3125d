/*
 * temper.go, part of gobpmf.
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

// Package temper runs replica exchange over the completed protocol of a
// simulation leg. Each cycle propagates every replica at its assigned state,
// attempts Metropolis swaps between states at several neighbor intervals,
// and subsamples the stored sweeps by the relaxation time of the replica
// paths, so the snapshots kept per state are roughly independent.
package temper

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/rmera/gobpmf"
	"github.com/rmera/gobpmf/pool"
	"gonum.org/v1/gonum/floats"
)

// Torsioner gives access to the soft torsions of a configuration, for the
// internal-coordinate crossover move. WithAngles must not modify the given
// configuration; phi[j] is the new angle, in radians, for torsion which[j].
type Torsioner interface {
	NTorsions() int
	Angles(conf bpmf.Conf) []float64
	WithAngles(conf bpmf.Conf, which []int, phi []float64) bpmf.Conf
}

// RMSDer measures the distance, in Angstroms, from a configuration to a
// reference pose.
type RMSDer interface {
	RMSD(conf bpmf.Conf) float64
}

// A Temperer runs replica exchange cycles. The same Temperer can process
// several cycles, and both legs, as long as they share the sampling backend
// and the options.
type Temperer struct {
	sim  bpmf.Simulator
	ev   bpmf.Evaluator
	tors Torsioner
	rms  RMSDer
	o    *bpmf.Options
	log  *bpmf.Logger
	rng  *rand.Rand
}

// New returns a Temperer using the given backends. ev may be nil for a
// cooling-only run without crossover moves; docking records every energy
// term, so it always needs an Evaluator. If o is nil, cooling defaults are
// used.
func New(sim bpmf.Simulator, ev bpmf.Evaluator, o *bpmf.Options) *Temperer {
	if o == nil {
		o = bpmf.DefaultCoolOptions()
	}
	seed := o.RandomSeed()
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	T := &Temperer{sim: sim, ev: ev, o: o}
	T.log = bpmf.NewLogger(o.Verbose())
	T.rng = rand.New(rand.NewSource(seed))
	return T
}

//SetCrossover enables the torsion crossover move (nil disables it). The
//move also needs GMCAttempts > 0 in the options, and an Evaluator.
func (T *Temperer) SetCrossover(tors Torsioner) {
	T.tors = tors
}

//SetRMSD makes every docking sweep record the distance of each replica to
//the reference pose (nil disables it). The RMSD option must also be set.
func (T *Temperer) SetRMSD(r RMSDer) {
	T.rms = r
}

//SetLogger replaces the logger built from the options.
func (T *Temperer) SetLogger(l *bpmf.Logger) {
	T.log = l
}

//SetRand replaces the random number source built from the options.
func (T *Temperer) SetRand(r *rand.Rand) {
	T.rng = r
}

// Cycle runs one replica exchange cycle on s: SweepsPerCycle sweeps, each a
// short trajectory per replica followed by optional torsion crossover and by
// AttemptsPerSweep Metropolis passes over the swap pairs. The sweeps are then
// subsampled by the relaxation time of the state-occupancy paths, and the
// strided snapshots and energies are appended to s as one more cycle.
// Snapshots of intermediate states are only kept if the KeepIntermediate
// option is set; the first state of the record of a cooling leg and the last
// state of either leg always keep theirs.
func (T *Temperer) Cycle(s *bpmf.SimState) error {
	proc := s.Process.String()
	K := s.K()
	if K < 2 {
		return bpmf.NewError("a replica exchange cycle needs at least two states", proc, true, "temper.Cycle")
	}
	if len(s.Replicas) != K {
		return bpmf.NewError(fmt.Sprintf("got %d replicas for %d states", len(s.Replicas), K), proc, true, "temper.Cycle")
	}
	start := time.Now()
	sweeps := T.o.SweepsPerCycle()
	gmc := T.tors != nil && T.o.GMCAttempts() > 0
	confs := make([]bpmf.Conf, K)
	copy(confs, s.Replicas)
	stateInds := make([]int, K)
	invStateInds := make([]int, K)
	for i := range stateInds {
		stateInds[i] = i
		invStateInds[i] = i
	}
	pairs := SwapPairs(K)
	swapAcc := make([]float64, K)
	swapAtt := make([]float64, K)
	moves := make(map[string]*moveTally)
	gmcAcc, gmcAtt := 0, 0
	storedConfs := make([][]bpmf.Conf, 0, sweeps)
	storedInds := make([][]int, 0, sweeps)
	storedEs := make([]*bpmf.Energies, 0, sweeps)
	for sweep := 0; sweep < sweeps; sweep++ {
		tasks := make([]pool.Task, K)
		for k := 0; k < K; k++ {
			tasks[k] = pool.Task{ID: k, Conf: confs[k], State: s.Protocol[stateInds[k]], Steps: T.o.StepsPerSweep(), Seed: T.rng.Int63()}
		}
		results, err := pool.Run(T.sim, tasks, T.o.Cpus())
		if err != nil {
			return errDecorate(err, "temper.Cycle "+proc)
		}
		for k, r := range results {
			confs[k] = r.Conf
			for _, m := range r.Moves {
				tallyMove(moves, &m, stateInds[k], K)
			}
		}
		if gmc {
			acc, att, err := T.crossover(confs, stateInds, s.Protocol)
			if err != nil {
				return errDecorate(err, "temper.Cycle "+proc)
			}
			gmcAcc += acc
			gmcAtt += att
		}
		E, err := T.sweepEnergies(s.Process, confs, results, gmc)
		if err != nil {
			return errDecorate(err, "temper.Cycle "+proc)
		}
		u := bpmf.UklnFromReplicas(E, s.Protocol)
		acc, att := AttemptSwaps(stateInds, invStateInds, u, pairs, T.o.AttemptsPerSweep(), T.rng)
		floats.Add(swapAcc, acc)
		floats.Add(swapAtt, att)
		storedConfs = append(storedConfs, append([]bpmf.Conf{}, confs...))
		storedInds = append(storedInds, append([]int{}, stateInds...))
		storedEs = append(storedEs, E)
	}
	//Subsample the sweeps by the relaxation time of the replica paths and
	//store the strided subset as this cycle's samples.
	series := make([][]float64, K)
	for k := 0; k < K; k++ {
		series[k] = make([]float64, sweeps)
		for i := range storedInds {
			series[k][i] = float64(storedInds[i][k])
		}
	}
	tau := IntegratedTimeMultiple(series)
	stride := Stride(tau, sweeps, T.o.SnapsPerIndependent())
	stored := StoreIndices(stride, sweeps)
	invs := make([][]int, len(stored))
	for i, sw := range stored {
		inv := make([]int, K)
		for r, st := range storedInds[sw] {
			inv[st] = r
		}
		invs[i] = inv
	}
	for st := 0; st < K; st++ {
		rec := gatherState(storedEs, stored, invs, st)
		if st == 0 {
			rec.Path = storedInds
			rec.SwapAcc = swapAcc
			rec.SwapAtt = swapAtt
		}
		s.Es[st] = append(s.Es[st], rec)
		snaps := []bpmf.Conf{}
		if T.o.KeepIntermediate() || (s.Process == bpmf.Cool && st == 0) || st == K-1 {
			snaps = make([]bpmf.Conf, len(stored))
			for i, sw := range stored {
				snaps[i] = storedConfs[sw][invs[i][st]]
			}
		}
		s.Samples[st] = append(s.Samples[st], snaps)
	}
	lastInv := invs[len(invs)-1]
	lastConfs := storedConfs[stored[len(stored)-1]]
	reps := make([]bpmf.Conf, K)
	for st := 0; st < K; st++ {
		reps[st] = lastConfs[lastInv[st]]
	}
	s.Replicas = reps
	s.Cycle++
	T.log.LogV(2, "Replica exchange cycle", s.Cycle, "("+proc+") took", bpmf.HMSTime(time.Since(start).Seconds()))
	T.log.LogVf(3, "  relaxation time %.2f sweeps, stride %d, %d snapshots stored per state\n", tau, stride, len(stored))
	if att := floats.Sum(swapAtt); att > 0 {
		T.log.LogVf(3, "  swaps: %.1f%% of %.0f attempts accepted\n", 100*floats.Sum(swapAcc)/att, att)
	}
	if gmc && gmcAtt > 0 {
		T.log.LogVf(3, "  torsion crossover: %d of %d attempts accepted\n", gmcAcc, gmcAtt)
	}
	T.reportMoves(moves)
	return nil
}

// sweepEnergies builds the per-replica energy record of one sweep. Cooling
// without crossover takes the total energies straight from the simulation
// results; everything else goes through the Evaluator, which sees the final
// configurations.
func (T *Temperer) sweepEnergies(p bpmf.Process, confs []bpmf.Conf, results []*bpmf.SimResult, gmc bool) (*bpmf.Energies, error) {
	E := new(bpmf.Energies)
	if p == bpmf.Cool && !gmc {
		E.MM = make([]float64, len(results))
		for k, r := range results {
			E.MM[k] = r.Etot
		}
		return E, nil
	}
	if T.ev == nil {
		return nil, bpmf.NewError("an Evaluator is needed to record per-term energies", p.String(), true, "temper.sweepEnergies")
	}
	if p == bpmf.Cool {
		E.MM = make([]float64, len(confs))
		for k, c := range confs {
			t, err := T.ev.Terms(c)
			if err != nil {
				return nil, bpmf.NewError(fmt.Sprintf("evaluation of replica %d failed: %v", k, err), p.String(), true, "temper.sweepEnergies")
			}
			E.MM[k] = t.MM
		}
		return E, nil
	}
	for k, c := range confs {
		t, err := T.ev.Terms(c)
		if err != nil {
			return nil, bpmf.NewError(fmt.Sprintf("evaluation of replica %d failed: %v", k, err), p.String(), true, "temper.sweepEnergies")
		}
		E.AppendTerms(t)
	}
	if T.rms != nil && T.o.RMSD() {
		E.RMSD = make([]float64, len(confs))
		for k, c := range confs {
			E.RMSD[k] = T.rms.RMSD(c)
		}
	}
	return E, nil
}

// crossover attempts torsion exchanges between the replicas holding
// neighboring states. Each candidate pair takes the angles of a random
// torsion subset from each other, and the double move is accepted on the
// summed change of the two reduced energies. Pairs whose selected angles all
// differ by less than the threshold do not count as attempts; if the budget
// cannot be spent after many passes, the move gives up for this sweep.
func (T *Temperer) crossover(confs []bpmf.Conf, stateInds []int, prot bpmf.Protocol) (int, int, error) {
	if T.ev == nil {
		return 0, 0, bpmf.NewError("torsion crossover needs an Evaluator", "", true, "temper.crossover")
	}
	ntors := T.tors.NTorsions()
	if ntors == 0 {
		return 0, 0, nil
	}
	K := len(confs)
	invStateInds := make([]int, K)
	for r, st := range stateInds {
		invStateInds[st] = r
	}
	pairs := crossoverPairs(K)
	budget := K * T.o.GMCAttempts()
	thres := T.o.GMCTorsThreshold()
	acc, att, passes := 0, 0, 0
	for att < budget {
		passes++
		if passes*K > 1000*budget {
			T.log.LogV(3, "  torsion crossover: not enough distinct pairs, giving up after", att, "attempts")
			break
		}
		for _, pr := range pairs {
			if att >= budget {
				break
			}
			k0, k1 := invStateInds[pr[0]], invStateInds[pr[1]]
			nsel := 1 + T.rng.Intn(ntors)
			which := T.rng.Perm(ntors)[:nsel]
			phi0 := T.tors.Angles(confs[k0])
			phi1 := T.tors.Angles(confs[k1])
			moved := thres <= 0
			sel0 := make([]float64, nsel)
			sel1 := make([]float64, nsel)
			for j, w := range which {
				sel0[j] = phi0[w]
				sel1[j] = phi1[w]
				if math.Abs(phi0[w]-phi1[w]) >= thres {
					moved = true
				}
			}
			if !moved {
				continue
			}
			att++
			new0 := T.tors.WithAngles(confs[k0], which, sel1)
			new1 := T.tors.WithAngles(confs[k1], which, sel0)
			l0, l1 := prot[pr[0]], prot[pr[1]]
			eo0, err := T.reduced(confs[k0], l0)
			if err != nil {
				return acc, att, err
			}
			en0, err := T.reduced(new0, l0)
			if err != nil {
				return acc, att, err
			}
			eo1, err := T.reduced(confs[k1], l1)
			if err != nil {
				return acc, att, err
			}
			en1, err := T.reduced(new1, l1)
			if err != nil {
				return acc, att, err
			}
			de := (eo0 - en0) + (eo1 - en1)
			if de > 0 || T.rng.Float64() < math.Exp(de) {
				confs[k0] = new0
				confs[k1] = new1
				acc++
			}
		}
	}
	return acc, att, nil
}

func (T *Temperer) reduced(conf bpmf.Conf, l *bpmf.Lambda) (float64, error) {
	t, err := T.ev.Terms(conf)
	if err != nil {
		return 0, bpmf.NewError(fmt.Sprintf("evaluation failed: %v", err), "", true, "temper.reduced")
	}
	return t.Reduced(l), nil
}

// AttemptSwaps runs passes Metropolis passes over the given state pairs. For
// each pair it takes the replicas currently holding the two states and swaps
// their assignments with probability min(1, exp(-du)), du being the change in
// total reduced energy. u must hold one snapshot per replica evaluated at
// every state, as UklnFromReplicas builds it. stateInds and its inverse are
// updated in place after every accepted swap; the returned slices count the
// accepted and attempted swaps, indexed by the lower state of each pair.
func AttemptSwaps(stateInds, invStateInds []int, u *bpmf.Ukln, pairs [][2]int, passes int, rng *rand.Rand) (acc, att []float64) {
	K := len(stateInds)
	acc = make([]float64, K)
	att = make([]float64, K)
	for p := 0; p < passes; p++ {
		for _, pr := range pairs {
			s1, s2 := pr[0], pr[1]
			r1, r2 := invStateInds[s1], invStateInds[s2]
			du := u.U[r2][s1][0] + u.U[r1][s2][0] - u.U[r1][s1][0] - u.U[r2][s2][0]
			att[s1]++
			if du <= 0 || rng.Float64() < math.Exp(-du) {
				acc[s1]++
				stateInds[r1], stateInds[r2] = s2, s1
				invStateInds[s1], invStateInds[s2] = r2, r1
			}
		}
	}
	return acc, att
}

// SwapPairs returns the state pairs between which swaps are attempted: every
// pair of states at intervals 1 through min(4, K-1), so information travels
// along the whole protocol in a few sweeps.
func SwapPairs(K int) [][2]int {
	var pairs [][2]int
	for interval := 1; interval < K && interval < 5; interval++ {
		for lowest := 0; lowest < interval; lowest++ {
			for i := lowest; i < K-interval; i += interval {
				pairs = append(pairs, [2]int{i, i + interval})
			}
		}
	}
	return pairs
}

// crossoverPairs returns the neighboring state pairs tried by the torsion
// crossover: even-odd neighbors first, then odd-even.
func crossoverPairs(K int) [][2]int {
	var pairs [][2]int
	for i := 0; i+1 < K; i += 2 {
		pairs = append(pairs, [2]int{i, i + 1})
	}
	for i := 1; i+1 < K; i += 2 {
		pairs = append(pairs, [2]int{i, i + 1})
	}
	return pairs
}

// gatherState collects the energies of one state over the stored sweeps: at
// each stored sweep, the terms of the replica that held the state right then.
func gatherState(es []*bpmf.Energies, stored []int, invs [][]int, state int) *bpmf.Energies {
	rec := new(bpmf.Energies)
	for i, sw := range stored {
		e := es[sw]
		r := invs[i][state]
		if e.MM != nil {
			rec.MM = append(rec.MM, e.MM[r])
		}
		if e.Site != nil {
			rec.Site = append(rec.Site, e.Site[r])
		}
		for c := 0; c < bpmf.NChannels; c++ {
			if ch := e.Channel(c); ch != nil {
				rec.SetChannel(c, append(rec.Channel(c), ch[r]))
			}
		}
		if e.RMSD != nil {
			rec.RMSD = append(rec.RMSD, e.RMSD[r])
		}
	}
	return rec
}

type moveTally struct {
	acc  []int
	att  []int
	time float64
}

func tallyMove(moves map[string]*moveTally, m *bpmf.MoveStat, state, K int) {
	t, ok := moves[m.Name]
	if !ok {
		t = &moveTally{acc: make([]int, K), att: make([]int, K)}
		moves[m.Name] = t
	}
	t.acc[state] += m.Acc
	t.att[state] += m.Att
	t.time += m.Time
}

func (T *Temperer) reportMoves(moves map[string]*moveTally) {
	names := make([]string, 0, len(moves))
	for n := range moves {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		m := moves[n]
		acc, att := 0, 0
		for k := range m.acc {
			acc += m.acc[k]
			att += m.att[k]
		}
		if att == 0 {
			continue
		}
		T.log.LogVf(3, "  %s moves: %.1f%% of %d accepted, %s\n", n, 100*float64(acc)/float64(att), att, bpmf.HMSTime(m.time))
	}
}

//errDecorate is a convenience function.
func errDecorate(err error, caller string) error {
	err2 := err.(bpmf.Error) //I know that is the type returned by the functions in this package
	err2.Decorate(caller)
	return err2
}
