/*
 * anneal.go, part of gobpmf.
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

// Package anneal grows the protocol of each simulation leg, state by state,
// choosing the states so that consecutive ones are roughly equidistant in
// thermodynamic length. Each new state is seeded by importance resampling
// the samples of the previous one, simulated through the worker pool, and
// kept only if the estimated exchange acceptance with its predecessor falls
// in a useful range. Docking without starting poses begins instead from
// configurations of the cooled ligand placed randomly inside the site.
package anneal

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/rmera/gobpmf"
	"github.com/rmera/gobpmf/estimate"
	"github.com/rmera/gobpmf/pool"
	"gonum.org/v1/gonum/floats"
)

// Bounds on the integration time step a new state can settle on, in ps.
const (
	minDeltaT = 0.00025
	maxDeltaT = 0.0025
)

// A Saver persists the state of a leg while it anneals. The Annealer calls
// it at most every five minutes, after the last state, and before an
// exhausted wall-clock budget or a divergence makes it return.
type Saver interface {
	Save(s *bpmf.SimState) error
}

// An Annealer builds the protocol of a simulation leg from scratch, or
// resumes one that was interrupted. The same Annealer can handle both legs,
// as long as they share the sampling backend and the options.
type Annealer struct {
	sim      bpmf.Simulator
	ev       bpmf.Evaluator
	saver    Saver
	o        *bpmf.Options
	log      *bpmf.Logger
	rng      *rand.Rand
	deadline time.Time
	lastSave time.Time
}

// New returns an Annealer using the given backends. ev may be nil for a
// cooling-only run; docking records every energy term, so it always needs
// an Evaluator. If o is nil, cooling defaults are used.
func New(sim bpmf.Simulator, ev bpmf.Evaluator, o *bpmf.Options) *Annealer {
	if o == nil {
		o = bpmf.DefaultCoolOptions()
	}
	seed := o.RandomSeed()
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	A := &Annealer{sim: sim, ev: ev, o: o}
	A.log = bpmf.NewLogger(o.Verbose())
	A.rng = rand.New(rand.NewSource(seed))
	return A
}

//SetSaver makes the Annealer checkpoint through s (nil disables saving).
func (A *Annealer) SetSaver(s Saver) {
	A.saver = s
}

//SetDeadline sets the wall-clock instant after which the Annealer saves and
//returns incomplete instead of growing another state. The zero time means
//no deadline.
func (A *Annealer) SetDeadline(t time.Time) {
	A.deadline = t
}

//SetLogger replaces the logger built from the options.
func (A *Annealer) SetLogger(l *bpmf.Logger) {
	A.log = l
}

//SetRand replaces the random number source built from the options.
func (A *Annealer) SetRand(r *rand.Rand) {
	A.rng = r
}

// Cool grows the cooling protocol until it crosses its far endpoint,
// seeding the leg from the given configurations if it is empty. With warm
// set, the protocol is grown from the target temperature up to the high
// one and reversed on completion, so the stored leg still runs from the
// high temperature down to the target one; otherwise it is grown downward
// directly. The returned boolean reports completion: an exhausted
// wall-clock budget saves and returns false without error, and a later
// call resumes from the last accepted state.
func (A *Annealer) Cool(s *bpmf.SimState, start []bpmf.Conf, warm bool) (bool, error) {
	if s.Protocol.Crossed() {
		return true, nil
	}
	begin := time.Now()
	tHigh, tTarget := A.o.THigh(), A.o.TTarget()
	tStart := tHigh
	dir := "cool"
	if warm {
		tStart = tTarget
		dir = "warm"
	}
	var confs []bpmf.Conf
	var esMM []float64
	var tensor float64
	if len(s.Protocol) == 0 {
		if len(start) == 0 {
			return false, bpmf.NewError("no starting configurations for the ligand", "cool", true, "anneal.Cool")
		}
		A.log.LogVf(2, ">>> Initial %sing of the ligand from %.0f K to %.0f K\n", dir, tStart, tEnd(warm, tHigh, tTarget))
		first := bpmf.CoolLambda(tStart, tHigh, tTarget, false)
		first.DeltaT = 0.0015 //1.5 fs
		s.Protocol = bpmf.Protocol{first}
		conf, err := A.ramp("cool", start[len(start)-1], tStart, first)
		if err != nil {
			return false, err
		}
		stageStart := time.Now()
		confs, esMM, err = A.runSeeds("cool", repeatConf(conf, A.o.SeedsPerState()), first)
		if err != nil {
			return false, err
		}
		rec := &bpmf.Energies{MM: esMM}
		s.Replicas = []bpmf.Conf{confs[A.rng.Intn(len(confs))]}
		s.Samples = [][][]bpmf.Conf{{confs}}
		s.Es = [][]*bpmf.Energies{{rec}}
		tensor = bpmf.CoolTensor(rec, first)
		A.log.LogVf(3, "  generated %d configurations at %.0f K in %s\n", len(confs), tStart, bpmf.HMSTime(time.Since(stageStart).Seconds()))
		A.log.LogVf(3, "  dt=%.3f fs; tensor=%.3e\n", first.DeltaT*1000, tensor)
	} else {
		A.log.LogVf(2, ">>> Initial %sing of the ligand, continuing with %d states\n", dir, len(s.Protocol))
		k := len(s.Samples) - 1
		if k < 0 || len(s.Samples[k]) == 0 || len(s.Es) <= k || len(s.Es[k]) == 0 {
			return false, bpmf.NewError("the stored leg has no samples at its last state", "cool", true, "anneal.Cool")
		}
		confs = s.Samples[k][0]
		esMM = s.Es[k][0].MM
		tensor = bpmf.CoolTensor(s.Es[k][0], s.Protocol[len(s.Protocol)-1])
	}
	saved := false
	for !s.Protocol.Crossed() {
		prev := s.Protocol[len(s.Protocol)-1]
		next, err := bpmf.NextCool(tensor, prev, warm, A.o.ThermSpeed(), tHigh, tTarget)
		if err != nil {
			return false, errDecorate(err, "anneal.Cool")
		}
		s.Protocol = append(s.Protocol, next)
		//reweight the samples of the previous state toward the new temperature
		logw := make([]float64, len(esMM))
		for i, e := range esMM {
			logw[i] = e / bpmf.R * (1/next.T - 1/prev.T)
		}
		seeds := make([]bpmf.Conf, 0, A.o.SeedsPerState())
		for _, j := range A.resampleIdx(logw) {
			seeds = append(seeds, confs[j].Copy())
		}
		confsO, esO, tensorO := confs, esMM, tensor
		stageStart := time.Now()
		confs, esMM, err = A.runSeeds("cool", seeds, next)
		if err != nil {
			return false, err
		}
		rec := &bpmf.Energies{MM: esMM}
		tensor = bpmf.CoolTensor(rec, next)
		u := bpmf.UklnFromStates([]*bpmf.Energies{{MM: esO}, rec}, s.Protocol[len(s.Protocol)-2:])
		meanAcc := estimate.MeanAcceptance(u)
		A.log.LogVf(3, "  generated %d configurations at %.0f K in %s\n", len(confs), next.T, bpmf.HMSTime(time.Since(stageStart).Seconds()))
		A.log.LogVf(3, "  dt=%.3f fs; tensor=%.3e; estimated swap acceptance %.3f\n", next.DeltaT*1000, tensor, meanAcc)
		switch {
		case meanAcc < A.o.MinRepXAcc():
			s.Protocol = s.Protocol[:len(s.Protocol)-1]
			confs, esMM = confsO, esO
			tensor = tensorO * 1.25 //use a smaller step
			A.log.LogV(3, "  rejected the new state, the estimated swap acceptance is too low")
		case meanAcc > 0.99 && !next.Crossed:
			s.Replicas[len(s.Replicas)-1] = confs[A.rng.Intn(len(confs))]
			s.Protocol = append(s.Protocol[:len(s.Protocol)-2], next)
			s.Samples[len(s.Samples)-1] = [][]bpmf.Conf{confs}
			s.Es[len(s.Es)-1] = []*bpmf.Energies{rec}
			A.log.LogV(3, "  dropped the previous state, the estimated swap acceptance is too high")
		default:
			s.Replicas = append(s.Replicas, confs[A.rng.Intn(len(confs))])
			s.Samples = append(s.Samples, [][]bpmf.Conf{confs})
			s.Es = append(s.Es, []*bpmf.Energies{rec})
			if len(s.Samples) > 2 && !A.o.KeepIntermediate() {
				s.Samples[len(s.Samples)-2] = [][]bpmf.Conf{}
			}
		}
		if s.Protocol.Crossed() {
			s.Cycle++
			if warm {
				A.log.LogV(2, "  reversing replicas, samples and protocol")
				s.Reverse()
			}
		}
		saved, err = A.maybeSave(s)
		if err != nil {
			return false, err
		}
		if A.expired() {
			if !saved {
				if err := A.save(s); err != nil {
					return false, err
				}
			}
			A.log.LogV(2, "  no time left for the initial "+dir+"ing")
			return false, nil
		}
	}
	if !saved {
		if err := A.save(s); err != nil {
			return false, err
		}
	}
	A.log.LogV(2, "Initial "+dir+"ing of", len(s.Protocol), "states took", bpmf.HMSTime(time.Since(begin).Seconds()))
	return true, nil
}

// Dock grows the docking protocol until it crosses. With starting poses
// given, the ligand is annealed away from the fully coupled state
// (undocking), and the protocol is reversed on completion so the stored leg
// runs from the uncoupled state to the coupled one. Without starting poses
// the first state is seeded by placing snapshots from the high temperature
// end of the completed cooling leg at random poses inside the site, which
// needs both cool and pg. An interrupted leg must be resumed with the same
// arguments. The returned boolean reports completion, as in Cool.
func (A *Annealer) Dock(s *bpmf.SimState, cool *bpmf.SimState, start []bpmf.Conf, pg bpmf.PoseGenerator) (bool, error) {
	if s.Protocol.Crossed() {
		return true, nil
	}
	if A.ev == nil {
		return false, bpmf.NewError("docking needs an Evaluator", "dock", true, "anneal.Dock")
	}
	undock := len(start) > 0
	if !undock && (cool == nil || pg == nil) {
		return false, bpmf.NewError("docking from random poses needs the cooling leg and a PoseGenerator", "dock", true, "anneal.Dock")
	}
	begin := time.Now()
	tHigh, tTarget := A.o.THigh(), A.o.TTarget()
	var confs, poseConfs []bpmf.Conf
	var E *bpmf.Energies
	if len(s.Protocol) == 0 {
		A.log.LogV(2, ">>> Initial docking")
		if undock {
			first := bpmf.DockLambda(1.0, tHigh, tTarget, nil)
			s.Protocol = bpmf.Protocol{first}
			conf, err := A.ramp("dock", start[len(start)-1], tTarget, first)
			if err != nil {
				return false, err
			}
			stageStart := time.Now()
			confs, _, err = A.runSeeds("dock", repeatConf(conf, A.o.SeedsPerState()), first)
			if err != nil {
				return false, err
			}
			E, err = A.perTerm(confs)
			if err != nil {
				return false, err
			}
			s.Replicas = []bpmf.Conf{confs[A.rng.Intn(len(confs))]}
			s.Samples = [][][]bpmf.Conf{{confs}}
			s.Es = [][]*bpmf.Energies{{E}}
			A.log.LogVf(3, "  generated %d configurations at progress %.5f in %s\n", len(confs), first.A, bpmf.HMSTime(time.Since(stageStart).Seconds()))
			A.log.LogVf(3, "  dt=%.3f fs; tensor=%.3e\n", first.DeltaT*1000, bpmf.DockTensor(E, first, tHigh, tTarget))
		} else {
			var err error
			poseConfs, E, err = A.randomDock(s, cool, pg)
			if err != nil {
				return false, err
			}
		}
	} else {
		A.log.LogVf(2, ">>> Initial docking, continuing with %d states\n", len(s.Protocol))
		k := len(s.Samples) - 1
		if k < 0 || len(s.Samples[k]) == 0 || len(s.Es) <= k || len(s.Es[k]) == 0 {
			return false, bpmf.NewError("the stored leg has no samples at its last state", "dock", true, "anneal.Dock")
		}
		confs = s.Samples[k][0]
		E = s.Es[k][0]
	}
	base := 1 //first transition gated
	if !undock {
		base = 2 //the transition away from the pose grid is stored unconditionally
	}
	saved := false
	rejectStage := 0
	for !s.Protocol.Crossed() {
		prev := s.Protocol[len(s.Protocol)-1]
		next, degen := bpmf.NextDock(E, prev, rejectStage, undock, A.o.ThermSpeed(), tHigh, tTarget)
		if degen {
			A.log.LogV(3, "  no variance at the previous state, repeating it with a larger time step")
		}
		s.Protocol = append(s.Protocol, next)
		if len(s.Protocol) > 1000 {
			return false, A.diverge(s, bpmf.TooManyReplicas)
		}
		if rejectStage > 20 || rejectStage < -20 {
			return false, A.diverge(s, bpmf.TooManyRejected)
		}
		//reweight the samples of the previous state toward the new one
		uo := bpmf.ReducedAt(E, prev)
		un := bpmf.ReducedAt(E, next)
		du := make([]float64, len(uo))
		floats.SubTo(du, un, uo)
		var seeds []bpmf.Conf
		if !undock && len(s.Protocol) == 2 {
			//replica exchange will start from the best-scoring pose of the grid
			ind := floats.MinIdx(un)
			best := placePose(pg, s.Poses, poseConfs, ind)
			s.Replicas = []bpmf.Conf{best}
			s.Samples = [][][]bpmf.Conf{{{best}}}
			s.Es = [][]*bpmf.Energies{{singleSnap(E, ind)}}
			for _, j := range A.resampleIdx(du) {
				seeds = append(seeds, placePose(pg, s.Poses, poseConfs, j))
			}
			confs = nil
			E = nil
		} else {
			for _, j := range A.resampleIdx(du) {
				seeds = append(seeds, confs[j].Copy())
			}
		}
		s.Seeds = seeds
		confsO, eO := confs, E
		stageStart := time.Now()
		var err error
		confs, _, err = A.runSeeds("dock", seeds, next)
		if err != nil {
			return false, err
		}
		E, err = A.perTerm(confs)
		if err != nil {
			return false, err
		}
		A.log.LogVf(3, "  generated %d configurations at progress %.5f in %s\n", len(confs), next.A, bpmf.HMSTime(time.Since(stageStart).Seconds()))
		A.log.LogVf(3, "  dt=%.3f fs; tensor=%.3e\n", next.DeltaT*1000, bpmf.DockTensor(E, next, tHigh, tTarget))
		if len(s.Protocol) > base {
			u := bpmf.UklnFromStates([]*bpmf.Energies{eO, E}, s.Protocol[len(s.Protocol)-2:])
			meanAcc := estimate.MeanAcceptance(u)
			switch {
			case meanAcc < A.o.MinRepXAcc():
				s.Protocol = s.Protocol[:len(s.Protocol)-1]
				confs, E = confsO, eO
				rejectStage++
				A.log.LogVf(3, "  rejected the new state, the estimated swap acceptance %.3f is too low\n", meanAcc)
			case meanAcc > 0.99 && !next.Crossed:
				s.Replicas[len(s.Replicas)-1] = confs[A.rng.Intn(len(confs))]
				s.Protocol = append(s.Protocol[:len(s.Protocol)-2], next)
				s.Samples[len(s.Samples)-1] = [][]bpmf.Conf{confs}
				s.Es[len(s.Es)-1] = []*bpmf.Energies{E}
				rejectStage--
				A.log.LogVf(3, "  dropped the previous state, the estimated swap acceptance %.3f is too high\n", meanAcc)
			default:
				s.Replicas = append(s.Replicas, confs[A.rng.Intn(len(confs))])
				s.Samples = append(s.Samples, [][]bpmf.Conf{confs})
				s.Es = append(s.Es, []*bpmf.Energies{E})
				rejectStage = 0
				A.log.LogVf(3, "  estimated swap acceptance %.3f\n", meanAcc)
				if !A.o.KeepIntermediate() && len(s.Protocol) > base+1 {
					s.Samples[len(s.Samples)-2] = [][]bpmf.Conf{}
				}
			}
		} else {
			s.Replicas = append(s.Replicas, confs[A.rng.Intn(len(confs))])
			s.Samples = append(s.Samples, [][]bpmf.Conf{confs})
			s.Es = append(s.Es, []*bpmf.Energies{E})
			rejectStage = 0
		}
		if s.Protocol.Crossed() {
			if undock {
				A.log.LogV(2, "  reversing replicas, samples and protocol")
				s.Reverse()
				s.Seeds = nil
			}
			s.PruneSamples(A.o.KeepIntermediate())
			s.Cycle++
		}
		saved, err = A.maybeSave(s)
		if err != nil {
			return false, err
		}
		if A.expired() {
			if !saved {
				if err := A.save(s); err != nil {
					return false, err
				}
			}
			A.log.LogV(2, "  no time left for the initial docking")
			return false, nil
		}
	}
	if !saved {
		if err := A.save(s); err != nil {
			return false, err
		}
	}
	A.log.LogV(2, "Initial docking of", len(s.Protocol), "states took", bpmf.HMSTime(time.Since(begin).Seconds()))
	return true, nil
}

// ramp heats the configuration from a low temperature to tEnd in 30
// geometrically spaced jumps, relaxing it at every step, so the leg does
// not start from a strained pose.
func (A *Annealer) ramp(proc string, conf bpmf.Conf, tEnd float64, l *bpmf.Lambda) (bpmf.Conf, error) {
	const tLow = 20.0
	c := conf.Copy()
	for i := 0; i < 30; i++ {
		T := tLow * math.Pow(tEnd/tLow, float64(i)/29.0)
		lt := l.Copy()
		lt.T = T
		r, err := A.sim.Sample(c, lt, 500, A.rng.Int63())
		if err != nil {
			return nil, bpmf.NewError(fmt.Sprintf("temperature ramp failed at %.1f K: %v", T, err), proc, true, "anneal.ramp")
		}
		c = r.Conf
	}
	return c, nil
}

// runSeeds grows every seed into a configuration at state l through the
// worker pool, assigns l the median of the time steps the workers settled
// on, and returns the final configurations with their total potential
// energies.
func (A *Annealer) runSeeds(proc string, seeds []bpmf.Conf, l *bpmf.Lambda) ([]bpmf.Conf, []float64, error) {
	tasks := make([]pool.Task, len(seeds))
	for i, c := range seeds {
		tasks[i] = pool.Task{ID: i, Conf: c, State: l, Steps: A.o.StepsPerSeed(), Seed: A.rng.Int63()}
	}
	results, err := pool.Run(A.sim, tasks, A.o.Cpus())
	if err != nil {
		return nil, nil, errDecorate(err, "anneal.runSeeds "+proc)
	}
	confs := make([]bpmf.Conf, len(results))
	etot := make([]float64, len(results))
	dts := make([]float64, len(results))
	acc := make(map[string]int)
	att := make(map[string]int)
	span := make(map[string]float64)
	for i, r := range results {
		confs[i] = r.Conf
		etot[i] = r.Etot
		dts[i] = r.DeltaT
		for _, m := range r.Moves {
			acc[m.Name] += m.Acc
			att[m.Name] += m.Att
			span[m.Name] += m.Time
		}
	}
	l.DeltaT = medianDt(dts)
	A.reportMoves(acc, att, span)
	return confs, etot, nil
}

//perTerm scores every configuration with the Evaluator.
func (A *Annealer) perTerm(confs []bpmf.Conf) (*bpmf.Energies, error) {
	E := new(bpmf.Energies)
	for i, c := range confs {
		t, err := A.ev.Terms(c)
		if err != nil {
			return nil, bpmf.NewError(fmt.Sprintf("evaluation of configuration %d failed: %v", i, err), "dock", true, "anneal.perTerm")
		}
		E.AppendTerms(t)
	}
	return E, nil
}

// resampleIdx draws SeedsPerState sample indices with probabilities
// proportional to exp(-(du-min du)), with replacement.
func (A *Annealer) resampleIdx(du []float64) []int {
	w := make([]float64, len(du))
	m := floats.Min(du)
	for i, d := range du {
		w[i] = math.Exp(-(d - m))
	}
	cum := make([]float64, len(w))
	floats.CumSum(cum, w)
	total := cum[len(cum)-1]
	idx := make([]int, A.o.SeedsPerState())
	for i := range idx {
		x := A.rng.Float64() * total
		j := sort.Search(len(cum), func(k int) bool { return cum[k] > x })
		if j == len(cum) {
			j--
		}
		idx[i] = j
	}
	return idx
}

//singleSnap returns a record holding only the ind-th snapshot of e.
func singleSnap(e *bpmf.Energies, ind int) *bpmf.Energies {
	n := new(bpmf.Energies)
	if e.MM != nil {
		n.MM = []float64{e.MM[ind]}
	}
	if e.Site != nil {
		n.Site = []float64{e.Site[ind]}
	}
	for c := 0; c < bpmf.NChannels; c++ {
		if ch := e.Channel(c); ch != nil {
			n.SetChannel(c, []float64{ch[ind]})
		}
	}
	return n
}

//medianDt returns the median of the time steps the workers settled on,
//clamped to a safe range.
func medianDt(dts []float64) float64 {
	s := append([]float64{}, dts...)
	sort.Float64s(s)
	n := len(s)
	m := s[n/2]
	if n%2 == 0 {
		m = (s[n/2-1] + s[n/2]) / 2
	}
	if m < minDeltaT {
		m = minDeltaT
	}
	if m > maxDeltaT {
		m = maxDeltaT
	}
	return m
}

func repeatConf(c bpmf.Conf, n int) []bpmf.Conf {
	seeds := make([]bpmf.Conf, n)
	for i := range seeds {
		seeds[i] = c
	}
	return seeds
}

func tEnd(warm bool, tHigh, tTarget float64) float64 {
	if warm {
		return tHigh
	}
	return tTarget
}

// diverge clears the leg, saves the cleared state and returns the fatal
// divergence error, so a later run restarts the protocol from scratch. The
// pose grid survives the reset.
func (A *Annealer) diverge(s *bpmf.SimState, message string) error {
	p := s.Poses
	proc := s.Process
	*s = *bpmf.NewSimState(proc)
	s.Poses = p
	if err := A.save(s); err != nil {
		A.log.LogV(1, "checkpoint of the cleared leg failed:", err)
	}
	return bpmf.NewDivergence(message, proc.String(), "anneal.Dock")
}

//maybeSave writes a checkpoint if the last one is older than five minutes.
func (A *Annealer) maybeSave(s *bpmf.SimState) (bool, error) {
	if A.saver == nil || time.Since(A.lastSave) < 5*time.Minute {
		return false, nil
	}
	return true, A.save(s)
}

func (A *Annealer) save(s *bpmf.SimState) error {
	if A.saver == nil {
		return nil
	}
	if err := A.saver.Save(s); err != nil {
		return bpmf.NewError(fmt.Sprintf("checkpoint failed: %v", err), s.Process.String(), true, "anneal.save")
	}
	A.lastSave = time.Now()
	return nil
}

//expired tells whether the wall-clock deadline has passed.
func (A *Annealer) expired() bool {
	return !A.deadline.IsZero() && time.Now().After(A.deadline)
}

func (A *Annealer) reportMoves(acc, att map[string]int, span map[string]float64) {
	names := make([]string, 0, len(att))
	for n := range att {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		if att[n] == 0 {
			continue
		}
		A.log.LogVf(3, "  %s moves: acc=%d/%d=%.5f, %s\n", n, acc[n], att[n], float64(acc[n])/float64(att[n]), bpmf.HMSTime(span[n]))
	}
}

//errDecorate is a convenience function.
func errDecorate(err error, caller string) error {
	err2 := err.(bpmf.Error) //I know that is the type returned by the functions in this package
	err2.Decorate(caller)
	return err2
}
