/*
 * doc.go, part of gobpmf.
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
/***Dedicated to the long life of the Ven. Khenpo Phuntzok Tenzin Rinpoche***/

/*Package bpmf estimates binding potentials of mean force for a flexible ligand
in a rigid receptor, by simulated annealing between thermodynamic states.


	**gobpmf Capabilities**


    Builds adaptive cooling protocols (states between a high and a target
	temperature) and docking protocols (states along a coupling parameter
	between the unbound and the fully-interacting ligand), where the spacing
	between consecutive states is set by the local thermodynamic length.

    Runs Hamiltonian replica exchange along either protocol, with optional
	torsion-crossover moves, and subsamples the resulting series by their
	integrated autocorrelation time.

    Estimates free energy differences between the states of a protocol with
	exponential averaging, the Bennett acceptance ratio, and MBAR, and
	assembles the results into a binding potential of mean force.

    Checkpoints every piece of simulation state so that interrupted
	calculations resume where they left off.

Configurations are plain coordinate vectors. The actual sampling and the
energy evaluations are delegated to user-supplied Simulator and Evaluator
values, so any molecular mechanics backend can be plugged in; the package
ships simple analytical models that serve as references and for testing.
The numerical work is built on gonum.

The subdirectories contain the annealing drivers (anneal), the replica
exchange engine (temper), the free energy estimators (estimate), the worker
pool (pool), checkpointing (ckpt), plotting (bpmfplot) and the calculation
orchestrator (pipeline).*/
package bpmf
