/*
 * randomdock.go, part of gobpmf.
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

package anneal

import (
	"fmt"
	"math"
	"time"

	"github.com/rmera/gobpmf"
	"github.com/rmera/gobpmf/estimate"
	"gonum.org/v1/gonum/floats"
)

// randomDock seeds the first docking state by placing snapshots from the
// high temperature end of the completed cooling leg at random orientations
// and positions inside the site. Every pose of every selected snapshot is
// scored term by term; the translation set grows until a bootstrapped
// estimate of the free energy step to the next state converges, and the
// grid parameters are stored in s so a resumed run keeps them. It returns
// the selected snapshots and the flattened pose record.
func (A *Annealer) randomDock(s *bpmf.SimState, cool *bpmf.SimState, pg bpmf.PoseGenerator) ([]bpmf.Conf, *bpmf.Energies, error) {
	tHigh, tTarget := A.o.THigh(), A.o.TTarget()
	//production snapshots from the cooling endpoint; the record of the
	//annealing itself (cycle zero) is skipped
	var esMM []float64
	var coolConfs []bpmf.Conf
	if len(cool.Es) > 0 {
		for k := 1; k < len(cool.Es[0]); k++ {
			esMM = append(esMM, cool.Es[0][k].MM...)
			coolConfs = append(coolConfs, cool.Samples[0][k]...)
		}
	}
	n := A.o.SeedsPerState()
	if len(esMM) < n || len(coolConfs) < n {
		return nil, nil, bpmf.NewError(fmt.Sprintf("only %d snapshots at the high temperature end of the cooling leg, %d needed: run more replica exchange cycles", len(coolConfs), n), "dock", true, "anneal.randomDock")
	}
	sel := make([]bpmf.Conf, n)
	selMM := make([]float64, n)
	for i := 0; i < n; i++ {
		j := i * len(esMM) / n
		sel[i] = coolConfs[j]
		selMM[i] = esMM[j]
	}
	lambda0 := bpmf.DockLambda(0.0, tHigh, tTarget, nil)
	s.Protocol = bpmf.Protocol{lambda0}
	if s.Poses == nil {
		maxTrans := 10000
		//SiteDensity is per cubic nm, the site volume comes in cubic Angstroms
		nTrans := int(math.Ceil(pg.Volume() * A.o.SiteDensity() / 1000.0))
		if nTrans > maxTrans {
			nTrans = maxTrans
		}
		if nTrans < 5 {
			nTrans = 5
		}
		s.Poses = &bpmf.PoseGrid{
			Rotations:    pg.Rotations(100, A.rng.Int63()),
			Translations: pg.Translations(maxTrans, A.rng.Int63()),
			NTrans:       nTrans,
			MaxTrans:     maxTrans,
		}
	}
	grid := s.Poses
	nRot := len(grid.Rotations)
	cube := make([][][]*bpmf.Terms, n)
	for c := range cube {
		cube[c] = make([][]*bpmf.Terms, nRot)
	}
	start := time.Now()
	scored := 0
	var mean, std float64
	for {
		for c := 0; c < n; c++ {
			for r := 0; r < nRot; r++ {
				for t := scored; t < grid.NTrans; t++ {
					p := pg.Place(sel[c], grid.Rotations[r], grid.Translations[t])
					terms, err := A.ev.Terms(p)
					if err != nil {
						return nil, nil, bpmf.NewError(fmt.Sprintf("evaluation of a pose failed: %v", err), "dock", true, "anneal.randomDock")
					}
					terms.MM = selMM[c] //the intramolecular energy does not change on rigid placement
					cube[c][r] = append(cube[c][r], terms)
				}
			}
		}
		scored = grid.NTrans
		E := ravelTerms(cube, grid.NTrans)
		cand, _ := bpmf.NextDock(E, lambda0, 0, false, A.o.ThermSpeed(), tHigh, tTarget)
		u0 := bpmf.ReducedAt(E, lambda0)
		u1 := bpmf.ReducedAt(E, cand)
		du := make([]float64, len(u0))
		floats.SubTo(du, u1, u0)
		mean, std = estimate.BootstrapFep(du, 50, A.rng)
		if std < 0.1 {
			break
		}
		A.log.LogVf(3, "  with %d translations the estimated free energy step is %f (%f)\n", grid.NTrans, mean, std)
		if grid.NTrans == grid.MaxTrans {
			break
		}
		grid.NTrans += 25
		if grid.NTrans > grid.MaxTrans {
			grid.NTrans = grid.MaxTrans
		}
	}
	A.log.LogVf(2, "  %d ligand configurations randomly docked with %d translations and %d rotations in %s\n", n, grid.NTrans, nRot, bpmf.HMSTime(time.Since(start).Seconds()))
	A.log.LogVf(3, "  estimated free energy step to the next state: %f (%f)\n", mean, std)
	return sel, ravelTerms(cube, grid.NTrans), nil
}

// ravelTerms flattens the pose grid record, configuration-major, then by
// rotation, then by translation, which is also the order pose indices
// unravel in.
func ravelTerms(cube [][][]*bpmf.Terms, nTrans int) *bpmf.Energies {
	E := new(bpmf.Energies)
	for _, byRot := range cube {
		for _, byTrans := range byRot {
			for t := 0; t < nTrans && t < len(byTrans); t++ {
				E.AppendTerms(byTrans[t])
			}
		}
	}
	return E
}

// placePose unravels a flat pose-grid index into its configuration,
// rotation and translation, and returns the placed configuration.
func placePose(pg bpmf.PoseGenerator, grid *bpmf.PoseGrid, confs []bpmf.Conf, ind int) bpmf.Conf {
	nRot := len(grid.Rotations)
	nTrans := grid.NTrans
	c := ind / (nRot * nTrans)
	r := (ind / nTrans) % nRot
	t := ind % nTrans
	return pg.Place(confs[c], grid.Rotations[r], grid.Translations[t])
}
