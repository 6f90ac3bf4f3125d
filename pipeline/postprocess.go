/*
 * postprocess.go, part of gobpmf.
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
	"github.com/rmera/gobpmf"
)

// cond names what to postprocess: the snapshots of a leg's fully coupled
// state evaluated as ligand alone ("L") or as the complex ("RL"), or the
// rigid receptor by itself ("R").
type cond struct {
	l      *leg
	moiety string
}

//allConds is what a complete calculation needs: the receptor, the cooled
//ligand, and the docked snapshots both with and without the receptor.
func (P *Pipeline) allConds() []cond {
	return []cond{{P.dock, "R"}, {P.cool, "L"}, {P.dock, "L"}, {P.dock, "RL"}}
}

// Postprocess recomputes the energies of the stored snapshots in every
// implicit-solvent phase, through the attached PhaseEvaluator, and saves
// them with their leg. Only missing energies are computed, so the call is
// idempotent; with redo, the docking leg's are recomputed even if present.
// The returned boolean reports completion: failed or impossible
// evaluations leave their records pending for a later call and are not
// errors.
func (P *Pipeline) Postprocess(redo bool) (bool, error) {
	return P.postprocess(P.allConds(), redo)
}

type ppItem struct {
	l      *leg
	moiety string
	cycle  int
	phase  string
}

func (P *Pipeline) postprocess(conds []cond, redo bool) (bool, error) {
	phases := unionPhases(P.cool.o.Phases(), P.dock.o.Phases())
	P.loadReceptor()
	var work []ppItem
	for _, cn := range conds {
		if cn.moiety == "R" {
			for _, ph := range phases {
				if _, ok := P.rec[ph]; !ok {
					work = append(work, ppItem{cn.l, "R", 0, ph})
				}
			}
			continue
		}
		s := P.load(cn.l)
		if len(s.Protocol) == 0 {
			continue
		}
		last := s.K() - 1
		for c := 0; c < s.Cycle; c++ {
			rec := s.Es[last][c]
			for _, ph := range phases {
				force := redo && cn.l.proc == bpmf.Dock
				if force || len(rec.Phase[cn.moiety+ph]) != rec.Len() {
					work = append(work, ppItem{cn.l, cn.moiety, c, ph})
				}
			}
		}
	}
	if len(work) == 0 {
		return true, nil
	}
	if P.phase == nil {
		P.log.LogV(1, "no phase evaluator attached: postprocessing stays pending")
		return false, nil
	}
	legs := map[*leg]bool{}
	for _, it := range work {
		legs[it.l] = true
	}
	for l := range legs {
		if err := l.store.Lock(); err != nil {
			return false, errDecorate(err, "pipeline.postprocess")
		}
		defer l.store.Unlock()
	}
	if legs[P.dock] {
		P.attach(P.dock)
	} else {
		P.attach(P.cool)
	}
	defer P.log.Detach()
	P.log.LogVf(2, ">>> Postprocessing %d records\n", len(work))
	done := 0
	recUpd := false
	updated := map[*leg]bool{}
	for _, it := range work {
		if it.moiety == "R" {
			v, err := P.phase.Receptor(it.phase)
			if err != nil {
				P.log.LogVf(1, "  the receptor %s energy failed: %v\n", it.phase, err)
				continue
			}
			P.rec[it.phase] = v
			recUpd = true
			done++
			continue
		}
		s := it.l.state
		last := s.K() - 1
		rec := s.Es[last][it.cycle]
		confs := s.Samples[last][it.cycle]
		if len(confs) != rec.Len() {
			P.log.LogVf(1, "  no snapshots stored for cycle %d of the %s leg\n", it.cycle, it.l.proc.String())
			continue
		}
		es, err := P.phase.PhaseEnergy(confs, it.phase, it.moiety == "RL")
		if err != nil {
			P.log.LogVf(1, "  the %s%s energies of cycle %d (%s) failed: %v\n", it.moiety, it.phase, it.cycle, it.l.proc.String(), err)
			continue
		}
		if rec.Phase == nil {
			rec.Phase = make(map[string][]float64)
		}
		rec.Phase[it.moiety+it.phase] = es
		updated[it.l] = true
		done++
	}
	for l := range updated {
		if err := l.store.Save(l.state); err != nil {
			return false, errDecorate(err, "pipeline.postprocess")
		}
	}
	if recUpd {
		if err := P.dock.store.SaveAux("receptor", P.rec); err != nil {
			return false, errDecorate(err, "pipeline.postprocess")
		}
	}
	P.log.LogVf(2, "  postprocessed %d of %d records\n", done, len(work))
	return done == len(work), nil
}

//loadReceptor brings the stored receptor phase energies into memory.
func (P *Pipeline) loadReceptor() {
	if P.rec != nil {
		return
	}
	P.rec = make(map[string]float64)
	P.dock.store.LoadAux("receptor", &P.rec)
}

func unionPhases(a, b []string) []string {
	out := append([]string{}, a...)
	for _, ph := range b {
		seen := false
		for _, x := range out {
			if x == ph {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, ph)
		}
	}
	return out
}
