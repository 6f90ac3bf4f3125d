/*
 * options.go, part of gobpmf.
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
	"encoding/json"
	"runtime"
)

// Options contains the parameters of one simulation leg. The zero value is
// not useful; build it with DefaultCoolOptions or DefaultDockOptions and
// adjust fields through the accessors, which set when given an argument and
// always return the previous value.
type Options struct {
	thermSpeed       float64
	tHigh            float64
	tTarget          float64
	stepsPerSeed     int
	seedsPerState    int
	repXCycles       int
	minRepXAcc       float64
	sweepsPerCycle   int
	attemptsPerSweep int
	stepsPerSweep    int
	snapsPerInd      float64
	phases           []string
	keepIntermediate bool
	gmcAttempts      int
	gmcTorsThreshold float64
	siteDensity      float64
	rmsd             bool
	cpus             int
	verbose          int
	maxTime          float64
	randomSeed       int64
}

// DefaultCoolOptions returns the default parameters for cooling the free
// ligand.
func DefaultCoolOptions() *Options {
	ret := new(Options)
	ret.thermSpeed = 0.2
	ret.tHigh = 600.0
	ret.tTarget = 300.0
	ret.stepsPerSeed = 1000
	ret.seedsPerState = 50
	ret.repXCycles = 20
	ret.minRepXAcc = 0.3
	ret.sweepsPerCycle = 1000
	ret.attemptsPerSweep = 25
	ret.stepsPerSweep = 50
	ret.snapsPerInd = 3.0
	ret.phases = []string{"Gas", "OBC"}
	ret.cpus = runtime.NumCPU()
	ret.verbose = 2
	return ret
}

// DefaultDockOptions returns the default parameters for docking the ligand
// into the binding site.
func DefaultDockOptions() *Options {
	ret := DefaultCoolOptions()
	ret.snapsPerInd = 20.0
	ret.siteDensity = 50.0
	return ret
}

//Returns the thermodynamic speed (the target thermodynamic length between
//consecutive states of the protocol) and sets it, if a valid value is given.
func (r *Options) ThermSpeed(v ...float64) float64 {
	ret := r.thermSpeed
	if len(v) > 0 && v[0] > 0 {
		r.thermSpeed = v[0]
	}
	return ret
}

//Returns the high temperature endpoint, in K, and sets it, if a valid value
//is given.
func (r *Options) THigh(v ...float64) float64 {
	ret := r.tHigh
	if len(v) > 0 && v[0] > 0 {
		r.tHigh = v[0]
	}
	return ret
}

//Returns the target temperature, in K, and sets it, if a valid value is
//given.
func (r *Options) TTarget(v ...float64) float64 {
	ret := r.tTarget
	if len(v) > 0 && v[0] > 0 {
		r.tTarget = v[0]
	}
	return ret
}

//Returns the number of integration steps used to grow each seed into an
//initial replica configuration, and sets it, if a valid value is given.
func (r *Options) StepsPerSeed(v ...int) int {
	ret := r.stepsPerSeed
	if len(v) > 0 && v[0] > 0 {
		r.stepsPerSeed = v[0]
	}
	return ret
}

//Returns the number of seeds drawn for each new state of a growing protocol,
//and sets it, if a valid value is given.
func (r *Options) SeedsPerState(v ...int) int {
	ret := r.seedsPerState
	if len(v) > 0 && v[0] > 0 {
		r.seedsPerState = v[0]
	}
	return ret
}

//Returns the number of replica exchange cycles to run, and sets it, if a
//valid value is given.
func (r *Options) RepXCycles(v ...int) int {
	ret := r.repXCycles
	if len(v) > 0 && v[0] > 0 {
		r.repXCycles = v[0]
	}
	return ret
}

//Returns the minimum mean acceptance probability between consecutive states
//for a new state to be accepted into the protocol, and sets it, if a valid
//value is given.
func (r *Options) MinRepXAcc(v ...float64) float64 {
	ret := r.minRepXAcc
	if len(v) > 0 && v[0] > 0 {
		r.minRepXAcc = v[0]
	}
	return ret
}

//Returns the number of sweeps in each replica exchange cycle, and sets it,
//if a valid value is given.
func (r *Options) SweepsPerCycle(v ...int) int {
	ret := r.sweepsPerCycle
	if len(v) > 0 && v[0] > 0 {
		r.sweepsPerCycle = v[0]
	}
	return ret
}

//Returns the number of swaps attempted between each pair of neighboring
//states after each sweep, and sets it, if a valid value is given.
func (r *Options) AttemptsPerSweep(v ...int) int {
	ret := r.attemptsPerSweep
	if len(v) > 0 && v[0] > 0 {
		r.attemptsPerSweep = v[0]
	}
	return ret
}

//Returns the number of integration steps in each sweep, and sets it, if a
//valid value is given.
func (r *Options) StepsPerSweep(v ...int) int {
	ret := r.stepsPerSweep
	if len(v) > 0 && v[0] > 0 {
		r.stepsPerSweep = v[0]
	}
	return ret
}

//Returns how many stored snapshots each statistically independent sample
//should yield when subsampling by the autocorrelation time, and sets it, if
//a valid value is given.
func (r *Options) SnapsPerIndependent(v ...float64) float64 {
	ret := r.snapsPerInd
	if len(v) > 0 && v[0] > 0 {
		r.snapsPerInd = v[0]
	}
	return ret
}

//Returns the names of the implicit-solvent phases used in postprocessing,
//and sets them, if a non-empty list is given. The returned slice is the one
//in use, so don't modify it.
func (r *Options) Phases(v ...[]string) []string {
	ret := r.phases
	if len(v) > 0 && len(v[0]) > 0 {
		r.phases = v[0]
	}
	return ret
}

//Returns whether the snapshots of intermediate states are kept, and sets it,
//if a value is given.
func (r *Options) KeepIntermediate(v ...bool) bool {
	ret := r.keepIntermediate
	if len(v) > 0 {
		r.keepIntermediate = v[0]
	}
	return ret
}

//Returns the number of torsion-crossover attempts after each sweep (zero
//disables the move), and sets it, if a non-negative value is given.
func (r *Options) GMCAttempts(v ...int) int {
	ret := r.gmcAttempts
	if len(v) > 0 && v[0] >= 0 {
		r.gmcAttempts = v[0]
	}
	return ret
}

//Returns the minimum difference, in radians, between the torsion angles of
//two replicas for a crossover attempt between them to count, and sets it, if
//a non-negative value is given. Zero means any pair qualifies.
func (r *Options) GMCTorsThreshold(v ...float64) float64 {
	ret := r.gmcTorsThreshold
	if len(v) > 0 && v[0] >= 0 {
		r.gmcTorsThreshold = v[0]
	}
	return ret
}

//Returns the density of translation points in the binding site, in points
//per cubic nm, used when the ligand is placed from scratch, and sets it, if
//a valid value is given.
func (r *Options) SiteDensity(v ...float64) float64 {
	ret := r.siteDensity
	if len(v) > 0 && v[0] > 0 {
		r.siteDensity = v[0]
	}
	return ret
}

//Returns whether the distance to a reference pose is recorded along the
//docking leg, and sets it, if a value is given.
func (r *Options) RMSD(v ...bool) bool {
	ret := r.rmsd
	if len(v) > 0 {
		r.rmsd = v[0]
	}
	return ret
}

//Returns the current value of the Cpus option (the number of goroutines used
//by the worker pool) and sets it, if a valid value is given.
func (r *Options) Cpus(v ...int) int {
	ret := r.cpus
	if len(v) > 0 && v[0] > 0 {
		r.cpus = v[0]
	}
	return ret
}

//Returns the verbosity level and sets it, if a non-negative value is given.
func (r *Options) Verbose(v ...int) int {
	ret := r.verbose
	if len(v) > 0 && v[0] >= 0 {
		r.verbose = v[0]
	}
	return ret
}

//Returns the wall-clock budget for the calculation, in minutes (zero means
//no budget), and sets it, if a valid value is given.
func (r *Options) MaxTime(v ...float64) float64 {
	ret := r.maxTime
	if len(v) > 0 && v[0] > 0 {
		r.maxTime = v[0]
	}
	return ret
}

//Returns the seed of the random number generators (zero means seeding from
//the clock) and sets it, if a value is given.
func (r *Options) RandomSeed(v ...int64) int64 {
	ret := r.randomSeed
	if len(v) > 0 {
		r.randomSeed = v[0]
	}
	return ret
}

//MarshalJSON lets the parameters of a leg be stored along with its progress,
//so a resumed calculation knows what settings produced the stored protocol.
func (r *Options) MarshalJSON() ([]byte, error) {
	return json.Marshal(optionsJSON{
		ThermSpeed:       r.thermSpeed,
		THigh:            r.tHigh,
		TTarget:          r.tTarget,
		StepsPerSeed:     r.stepsPerSeed,
		SeedsPerState:    r.seedsPerState,
		RepXCycles:       r.repXCycles,
		MinRepXAcc:       r.minRepXAcc,
		SweepsPerCycle:   r.sweepsPerCycle,
		AttemptsPerSweep: r.attemptsPerSweep,
		StepsPerSweep:    r.stepsPerSweep,
		SnapsPerInd:      r.snapsPerInd,
		Phases:           r.phases,
		KeepIntermediate: r.keepIntermediate,
		GMCAttempts:      r.gmcAttempts,
		GMCTorsThreshold: r.gmcTorsThreshold,
		SiteDensity:      r.siteDensity,
		RMSD:             r.rmsd,
		Cpus:             r.cpus,
		Verbose:          r.verbose,
		MaxTime:          r.maxTime,
		RandomSeed:       r.randomSeed,
	})
}

func (r *Options) UnmarshalJSON(b []byte) error {
	var a optionsJSON
	err := json.Unmarshal(b, &a)
	if err != nil {
		return err
	}
	r.thermSpeed = a.ThermSpeed
	r.tHigh = a.THigh
	r.tTarget = a.TTarget
	r.stepsPerSeed = a.StepsPerSeed
	r.seedsPerState = a.SeedsPerState
	r.repXCycles = a.RepXCycles
	r.minRepXAcc = a.MinRepXAcc
	r.sweepsPerCycle = a.SweepsPerCycle
	r.attemptsPerSweep = a.AttemptsPerSweep
	r.stepsPerSweep = a.StepsPerSweep
	r.snapsPerInd = a.SnapsPerInd
	r.phases = a.Phases
	r.keepIntermediate = a.KeepIntermediate
	r.gmcAttempts = a.GMCAttempts
	r.gmcTorsThreshold = a.GMCTorsThreshold
	r.siteDensity = a.SiteDensity
	r.rmsd = a.RMSD
	r.cpus = a.Cpus
	r.verbose = a.Verbose
	r.maxTime = a.MaxTime
	r.randomSeed = a.RandomSeed
	return nil
}

type optionsJSON struct {
	ThermSpeed       float64  `json:"therm_speed"`
	THigh            float64  `json:"t_high"`
	TTarget          float64  `json:"t_target"`
	StepsPerSeed     int      `json:"steps_per_seed"`
	SeedsPerState    int      `json:"seeds_per_state"`
	RepXCycles       int      `json:"repx_cycles"`
	MinRepXAcc       float64  `json:"min_repx_acc"`
	SweepsPerCycle   int      `json:"sweeps_per_cycle"`
	AttemptsPerSweep int      `json:"attempts_per_sweep"`
	StepsPerSweep    int      `json:"steps_per_sweep"`
	SnapsPerInd      float64  `json:"snaps_per_independent"`
	Phases           []string `json:"phases"`
	KeepIntermediate bool     `json:"keep_intermediate"`
	GMCAttempts      int      `json:"gmc_attempts"`
	GMCTorsThreshold float64  `json:"gmc_tors_threshold"`
	SiteDensity      float64  `json:"site_density"`
	RMSD             bool     `json:"rmsd"`
	Cpus             int      `json:"cpus"`
	Verbose          int      `json:"verbose"`
	MaxTime          float64  `json:"max_time"`
	RandomSeed       int64    `json:"random_seed"`
}
