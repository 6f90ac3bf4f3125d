/*
 * pipeline.go, part of gobpmf.
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

// Package pipeline drives a full binding PMF calculation: annealing and
// replica exchange of the cooling and docking legs, postprocessing of the
// stored snapshots in the implicit-solvent phases, and the free energy
// estimation that combines everything into binding PMF estimates. Each leg
// checkpoints its progress in its own directory, so an interrupted
// calculation resumes where it stopped, and every stage returns a completion
// boolean so a caller (or a queue script) can simply call Run again until it
// reports done.
package pipeline

import (
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/rmera/gobpmf"
	"github.com/rmera/gobpmf/anneal"
	"github.com/rmera/gobpmf/bpmfplot"
	"github.com/rmera/gobpmf/ckpt"
	"github.com/rmera/gobpmf/temper"
	"gonum.org/v1/gonum/stat"
)

// leg groups what one simulation process owns: its options, its checkpoint
// store and the explicit state borrowed by the annealer and the temperer.
type leg struct {
	proc  bpmf.Process
	dir   string
	o     *bpmf.Options
	store *ckpt.Store
	state *bpmf.SimState
}

// Pipeline owns the two simulation legs and their collaborators. Build it
// with New, hand it the starting configurations and the optional
// collaborators through the Set methods, and drive it with Run, or with the
// stage methods directly.
type Pipeline struct {
	sim    bpmf.Simulator
	ev     bpmf.Evaluator
	phase  bpmf.PhaseEvaluator
	poser  bpmf.PoseGenerator
	tors   temper.Torsioner
	rmsdef temper.RMSDer
	cool   *leg
	dock   *leg
	ligand []bpmf.Conf
	poses  []bpmf.Conf
	rec    map[string]float64
	log    *bpmf.Logger
	rng    *rand.Rand
	start  time.Time
	timed  bool
}

// New returns a Pipeline writing the cooling leg to coolDir and the docking
// leg to dockDir, creating the directories if needed. Nil options get the
// defaults. The wall-clock budget of a timed run is read from the cooling
// options, or from the docking ones if the cooling options carry none.
func New(sim bpmf.Simulator, ev bpmf.Evaluator, coolDir, dockDir string, co, do *bpmf.Options) (*Pipeline, error) {
	if co == nil {
		co = bpmf.DefaultCoolOptions()
	}
	if do == nil {
		do = bpmf.DefaultDockOptions()
	}
	cs, err := ckpt.NewStore(coolDir, bpmf.Cool, co)
	if err != nil {
		return nil, errDecorate(err, "pipeline.New")
	}
	ds, err := ckpt.NewStore(dockDir, bpmf.Dock, do)
	if err != nil {
		return nil, errDecorate(err, "pipeline.New")
	}
	P := new(Pipeline)
	P.sim = sim
	P.ev = ev
	P.cool = &leg{proc: bpmf.Cool, dir: coolDir, o: co, store: cs}
	P.dock = &leg{proc: bpmf.Dock, dir: dockDir, o: do, store: ds}
	v := co.Verbose()
	if dv := do.Verbose(); dv > v {
		v = dv
	}
	P.log = bpmf.NewLogger(v)
	cs.SetLogger(P.log)
	ds.SetLogger(P.log)
	seed := co.RandomSeed()
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	P.rng = rand.New(rand.NewSource(seed))
	P.start = time.Now()
	return P, nil
}

//SetLigand gives the starting configurations of the free ligand, at the
//target temperature, from which the cooling leg is grown.
func (P *Pipeline) SetLigand(confs []bpmf.Conf) {
	P.ligand = confs
}

//SetPoses gives starting poses of the bound ligand. When present, the
//docking leg is grown by undocking from them; otherwise the first docking
//state is seeded by placing cooled snapshots at random poses in the site,
//which needs a PoseGenerator.
func (P *Pipeline) SetPoses(confs []bpmf.Conf) {
	P.poses = confs
}

//SetPoseGenerator gives the generator used to place the ligand in the
//binding site when no starting poses are available.
func (P *Pipeline) SetPoseGenerator(pg bpmf.PoseGenerator) {
	P.poser = pg
}

//SetPhaseEvaluator gives the evaluator that recomputes snapshot energies in
//the implicit-solvent phases. Without one, postprocessing and the free
//energy calculations that depend on it stay pending.
func (P *Pipeline) SetPhaseEvaluator(pe bpmf.PhaseEvaluator) {
	P.phase = pe
}

//SetCrossover enables torsion crossover moves during replica exchange.
func (P *Pipeline) SetCrossover(t temper.Torsioner) {
	P.tors = t
}

//SetRMSD makes the docking leg record the distance of each stored snapshot
//to a reference pose.
func (P *Pipeline) SetRMSD(r temper.RMSDer) {
	P.rmsdef = r
}

//SetLogger replaces the logger built from the options.
func (P *Pipeline) SetLogger(l *bpmf.Logger) {
	P.log = l
	P.cool.store.SetLogger(l)
	P.dock.store.SetLogger(l)
}

//SetRand replaces the random number source built from the options.
func (P *Pipeline) SetRand(r *rand.Rand) {
	P.rng = r
}

// Run executes one entry of the calculation. The run types are "cool" and
// "dock" (sample one leg, then postprocess it and estimate its free
// energies), "all" (both legs in order), "timed" (like "all", but between
// cycles the run stops, saved and resumable, when the projected time for
// the next cycle exceeds what is left of the wall-clock budget),
// "postprocess" and "redo_postprocess", and "free_energies" and
// "redo_free_energies" (estimation only, from the stored samples). The
// returned boolean reports whether the requested work completed; calling
// Run again resumes it.
func (P *Pipeline) Run(kind string) (bool, error) {
	P.timed = kind == "timed"
	coolL := []cond{{P.cool, "L"}}
	switch kind {
	case "cool":
		done, err := P.Cool()
		if err != nil || !done {
			return done, err
		}
		if done, err = P.postprocess(coolL, false); err != nil || !done {
			return done, err
		}
		return P.CalcFL()
	case "dock":
		done, err := P.Dock()
		if err != nil || !done {
			return done, err
		}
		if done, err = P.postprocess(P.allConds(), false); err != nil || !done {
			return done, err
		}
		return P.CalcFRL(false)
	case "timed", "all":
		if P.timed && P.budget() <= 0 {
			return false, bpmf.NewError("a timed run needs a wall-clock budget (see Options.MaxTime)", "", true, "pipeline.Run")
		}
		done, err := P.Cool()
		if err != nil {
			return false, err
		}
		if P.timed && !done {
			return false, nil
		}
		ppdone, err := P.postprocess(coolL, false)
		if err != nil {
			return false, err
		}
		if P.timed && !ppdone {
			return false, nil
		}
		if _, err = P.CalcFL(); err != nil {
			return false, err
		}
		done, err = P.Dock()
		if err != nil {
			return false, err
		}
		if P.timed && !done {
			return false, nil
		}
		ppdone, err = P.postprocess(P.allConds(), false)
		if err != nil {
			return false, err
		}
		if P.timed && !ppdone {
			return false, nil
		}
		return P.CalcFRL(false)
	case "postprocess":
		return P.Postprocess(false)
	case "redo_postprocess":
		return P.Postprocess(true)
	case "free_energies", "redo_free_energies":
		if _, err := P.CalcFL(); err != nil {
			return false, err
		}
		return P.CalcFRL(kind == "redo_free_energies")
	}
	return false, bpmf.NewError(fmt.Sprintf("no such run type: %q", kind), "", true, "pipeline.Run")
}

// Cool anneals the cooling protocol if it is incomplete, then runs replica
// exchange cycles until their configured number, plus as many extra ones as
// needed for the high temperature end to hold enough snapshots to seed the
// docking leg. Progress is checkpointed after every cycle. In a timed run
// the returned boolean reports whether the leg finished within the budget.
func (P *Pipeline) Cool() (bool, error) {
	l := P.cool
	if err := l.store.Lock(); err != nil {
		return false, errDecorate(err, "pipeline.Cool")
	}
	defer l.store.Unlock()
	P.attach(l)
	defer P.log.Detach()
	s := P.load(l)
	if !s.Protocol.Crossed() {
		an := P.annealer(l)
		done, err := an.Cool(s, P.ligand, true)
		if err != nil {
			return false, errDecorate(err, "pipeline.Cool")
		}
		if !done {
			return false, nil
		}
		P.plotProtocol(l)
	}
	return P.temperCycles(l)
}

// Dock anneals the docking protocol if it is incomplete, undocking from the
// given poses or placing cooled snapshots in the site, then runs replica
// exchange as Cool does. If the protocol diverges, the error is returned
// after an infinite binding PMF is recorded in the docking directory.
func (P *Pipeline) Dock() (bool, error) {
	l := P.dock
	if err := l.store.Lock(); err != nil {
		return false, errDecorate(err, "pipeline.Dock")
	}
	defer l.store.Unlock()
	P.attach(l)
	defer P.log.Detach()
	s := P.load(l)
	if !s.Protocol.Crossed() {
		var cool *bpmf.SimState
		if len(P.poses) == 0 {
			cool = P.load(P.cool)
		}
		an := P.annealer(l)
		done, err := an.Dock(s, cool, P.poses, P.poser)
		if err != nil {
			var div bpmf.DivergenceError
			if errors.As(err, &div) {
				P.storeInfiniteB()
			}
			return false, errDecorate(err, "pipeline.Dock")
		}
		if !done {
			return false, nil
		}
		P.plotProtocol(l)
	}
	return P.temperCycles(l)
}

//annealer builds the annealing driver for one leg.
func (P *Pipeline) annealer(l *leg) *anneal.Annealer {
	an := anneal.New(P.sim, P.ev, l.o)
	an.SetLogger(P.log)
	an.SetRand(P.rng)
	an.SetSaver(l.store)
	if P.timed && P.budget() > 0 {
		an.SetDeadline(P.deadline())
	}
	return an
}

// temperCycles runs replica exchange cycles on a completed protocol until
// the configured count and, for the cooling leg, until the high temperature
// end has collected at least as many production snapshots as the docking
// leg needs for seeding. The docking leg skips that extra loop when
// starting poses were given, since then nothing draws from the cooled
// ensemble.
func (P *Pipeline) temperCycles(l *leg) (bool, error) {
	s := l.state
	T := temper.New(P.sim, P.ev, l.o)
	T.SetLogger(P.log)
	T.SetRand(P.rng)
	if P.tors != nil {
		T.SetCrossover(P.tors)
	}
	if P.rmsdef != nil {
		T.SetRMSD(P.rmsdef)
	}
	cycles := l.o.RepXCycles()
	var times []float64
	if s.Cycle < cycles {
		P.log.LogVf(2, ">>> Replica exchange for %sing, starting at %s\n", l.proc.String(), time.Now().Format(time.RFC1123))
	}
	for s.Cycle < cycles {
		begin := time.Now()
		if err := T.Cycle(s); err != nil {
			return false, errDecorate(err, "pipeline.temperCycles "+l.proc.String())
		}
		if err := l.store.Save(s); err != nil {
			return false, errDecorate(err, "pipeline.temperCycles "+l.proc.String())
		}
		times = append(times, time.Since(begin).Seconds())
		if P.expired(times) {
			return false, nil
		}
	}
	if l.proc == bpmf.Cool && len(P.poses) == 0 {
		need := P.dock.o.SeedsPerState()
		for productionSamples(s) < need {
			P.log.LogV(2, "More samples from the high temperature ligand simulation needed")
			begin := time.Now()
			if err := T.Cycle(s); err != nil {
				return false, errDecorate(err, "pipeline.temperCycles cool")
			}
			if err := l.store.Save(s); err != nil {
				return false, errDecorate(err, "pipeline.temperCycles cool")
			}
			times = append(times, time.Since(begin).Seconds())
			if P.expired(times) {
				return false, nil
			}
		}
	}
	return true, nil
}

// productionSamples counts the snapshots collected at the high temperature
// end of the cooling leg after the annealing cycle, which is what seeding
// the docking leg can draw from.
func productionSamples(s *bpmf.SimState) int {
	n := 0
	if len(s.Es) > 0 {
		for k := 1; k < len(s.Es[0]); k++ {
			n += len(s.Es[0][k].MM)
		}
	}
	return n
}

// expired tells whether a timed run should stop: the mean observed cycle
// time projects the next cycle past the remaining budget.
func (P *Pipeline) expired(cycleTimes []float64) bool {
	if !P.timed || P.budget() <= 0 {
		return false
	}
	mean := stat.Mean(cycleTimes, nil)
	rem := P.remaining()
	P.log.LogVf(2, "  projected cycle time: %s, remaining time: %s\n", bpmf.HMSTime(mean), bpmf.HMSTime(rem))
	return mean > rem
}

//budget returns the wall-clock budget, in minutes. Zero means no budget.
func (P *Pipeline) budget() float64 {
	if m := P.cool.o.MaxTime(); m > 0 {
		return m
	}
	return P.dock.o.MaxTime()
}

//remaining returns the seconds left of the budget.
func (P *Pipeline) remaining() float64 {
	return P.budget()*60 - time.Since(P.start).Seconds()
}

func (P *Pipeline) deadline() time.Time {
	return P.start.Add(time.Duration(P.budget() * float64(time.Minute)))
}

// load returns the state of a leg, reading the checkpoint on first use. A
// missing or unreadable checkpoint means a cold start.
func (P *Pipeline) load(l *leg) *bpmf.SimState {
	if l.state == nil {
		l.state = l.store.Load()
		if l.state == nil {
			l.state = bpmf.NewSimState(l.proc)
		}
	}
	return l.state
}

// attach tees the log into the leg's log file. The calculation goes on
// without the file if it cannot be opened.
func (P *Pipeline) attach(l *leg) {
	if err := P.log.Attach(l.store.LogName()); err != nil {
		P.log.LogV(1, "could not open the log file:", err.Error())
	}
}

// storeInfiniteB records that the docking protocol diverged, so the binding
// PMF of this complex is infinite and the calculation should not be
// retried. The current ligand free energies are kept in the artifact.
func (P *Pipeline) storeInfiniteB() {
	b := emptyB()
	b.FL = P.loadFL()
	b.Diverged = true
	if err := P.dock.store.SaveAux("f_RL", b); err != nil {
		P.log.LogV(1, "could not record the infinite binding PMF:", err.Error())
		return
	}
	P.log.LogV(1, "the docking protocol diverged: recorded an infinite binding PMF")
}

//plotProtocol draws the schedule of a freshly annealed leg. Failures only
//cost the plot.
func (P *Pipeline) plotProtocol(l *leg) {
	name := filepath.Join(l.dir, l.proc.String()+"_protocol")
	title := fmt.Sprintf("%sing protocol (%d states)", l.proc.String(), l.state.K())
	if err := bpmfplot.Protocol(l.state.Protocol, title, name); err != nil {
		P.log.LogV(1, "could not plot the protocol:", err.Error())
	}
}

//plotLigandF draws the convergence of the cooling free energy and the mean
//replica exchange acceptance of the latest cycle.
func (P *Pipeline) plotLigandF(f *LigandFreeEnergies) {
	data := []bpmfplot.Series{
		{Name: "BAR", F: finals(f.CoolBAR)},
		{Name: "MBAR", F: finals(f.CoolMBAR)},
	}
	if err := bpmfplot.Convergence(data, "cooling free energy by cycle (RT)", filepath.Join(P.cool.dir, "cool_convergence")); err != nil {
		P.log.LogV(1, "could not plot the cooling convergence:", err.Error())
	}
	if n := len(f.MeanAcc); n > 0 {
		if err := bpmfplot.SwapAcceptance(f.MeanAcc[n-1], "mean replica exchange acceptance (cool)", filepath.Join(P.cool.dir, "cool_acceptance")); err != nil {
			P.log.LogV(1, "could not plot the acceptance:", err.Error())
		}
	}
}

//plotBindingPMF draws the convergence of the binding PMF estimates, the
//acceptance of the latest cycle and the reduced energy overlap of the
//docking ladder.
func (P *Pipeline) plotBindingPMF(b *BindingPMF, u *bpmf.Ukln) {
	data := []bpmfplot.Series{{Name: "grid MBAR", F: b.BMBAR}}
	for _, ph := range P.dock.o.Phases() {
		data = append(data, bpmfplot.Series{Name: ph + " MBAR", F: b.B[ph+"_MBAR"]})
	}
	if err := bpmfplot.Convergence(data, "binding PMF by cycle (RT)", filepath.Join(P.dock.dir, "dock_convergence")); err != nil {
		P.log.LogV(1, "could not plot the binding PMF convergence:", err.Error())
	}
	if n := len(b.MeanAcc); n > 0 {
		if err := bpmfplot.SwapAcceptance(b.MeanAcc[n-1], "mean replica exchange acceptance (dock)", filepath.Join(P.dock.dir, "dock_acceptance")); err != nil {
			P.log.LogV(1, "could not plot the acceptance:", err.Error())
		}
	}
	if u != nil {
		if err := bpmfplot.Overlap(u, "reduced energy overlap (dock)", filepath.Join(P.dock.dir, "dock_overlap")); err != nil {
			P.log.LogV(1, "could not plot the overlap:", err.Error())
		}
	}
}

//finals returns the last element of each profile.
func finals(profiles [][]float64) []float64 {
	out := make([]float64, len(profiles))
	for i, p := range profiles {
		out[i] = p[len(p)-1]
	}
	return out
}

//errDecorate is a convenience function.
func errDecorate(err error, caller string) error {
	err2 := err.(bpmf.Error) //I know that is the type returned by the functions in this package
	err2.Decorate(caller)
	return err2
}
