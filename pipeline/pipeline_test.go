package pipeline

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/rmera/gobpmf"
	"github.com/rmera/gobpmf/ckpt"
)

// springPhases scores snapshots of the exactly solvable model in fake
// implicit-solvent phases, so the whole postprocessing and estimation
// machinery can run without an external program.
type springPhases struct {
	m *bpmf.SpringModel
}

func (sp springPhases) PhaseEnergy(confs []bpmf.Conf, phase string, bound bool) ([]float64, error) {
	out := make([]float64, len(confs))
	for i, c := range confs {
		t, err := sp.m.Terms(c)
		if err != nil {
			return nil, err
		}
		e := t.MM
		if bound {
			e += t.LJr + t.LJa + t.ELE
		}
		if phase == "OBC" {
			e -= 2.0
		}
		out[i] = e
	}
	return out, nil
}

func (sp springPhases) Receptor(phase string) (float64, error) {
	return -1.2, nil
}

// brokenPhases stands in for an external program that is not installed.
type brokenPhases struct{}

func (brokenPhases) PhaseEnergy([]bpmf.Conf, string, bool) ([]float64, error) {
	return nil, fmt.Errorf("the phase program is not installed")
}

func (brokenPhases) Receptor(string) (float64, error) {
	return 0, fmt.Errorf("the phase program is not installed")
}

func coolTestOptions(seed int64) *bpmf.Options {
	o := bpmf.DefaultCoolOptions()
	o.SeedsPerState(8)
	o.StepsPerSeed(5)
	o.RepXCycles(3)
	o.SweepsPerCycle(10)
	o.AttemptsPerSweep(2)
	o.StepsPerSweep(3)
	o.Cpus(2)
	o.Verbose(1)
	o.RandomSeed(seed)
	o.Phases([]string{"Gas"})
	return o
}

func dockTestOptions(seed int64) *bpmf.Options {
	o := bpmf.DefaultDockOptions()
	o.SeedsPerState(6)
	o.StepsPerSeed(5)
	o.RepXCycles(2)
	o.SweepsPerCycle(8)
	o.AttemptsPerSweep(2)
	o.StepsPerSweep(3)
	o.Cpus(2)
	o.Verbose(1)
	o.RandomSeed(seed)
	o.Phases([]string{"Gas"})
	return o
}

//expectFile complains if the named file is missing or empty.
func expectFile(Te *testing.T, name string) {
	fi, err := os.Stat(name)
	if err != nil {
		Te.Error("missing file:", err)
		return
	}
	if fi.Size() == 0 {
		Te.Error(name, "is empty")
	}
}

func TestEquilibratedCycles(Te *testing.T) {
	uKKs := [][]float64{{9.9, 10.1}, {4.9, 5.1}, {4.92, 5.12}, {4.89, 5.09}}
	eq := equilibratedCycles(uKKs)
	want := []int{0, 1, 1, 1}
	if !equalInts(eq, want) {
		Te.Error("equilibration after a burn-in jump is", eq, "want", want)
	}
	uKKs = [][]float64{{4.9, 5.1}, {8.9, 9.1}, {4.91, 5.11}}
	eq = equilibratedCycles(uKKs)
	want = []int{0, 1, 1}
	if !equalInts(eq, want) {
		Te.Error("the annealing cycle should never count as equilibrated, got", eq, "want", want)
	}
	fmt.Println("equilibrated cycles:", eq)
}

func TestEnsembleTotals(Te *testing.T) {
	l0 := bpmf.DockLambda(0, 600, 300, nil)
	l1 := bpmf.DockLambda(1, 600, 300, l0)
	e0 := &bpmf.Energies{MM: []float64{1.5}, Site: []float64{0.5},
		SLJr: []float64{0.1}, SELE: []float64{0.2},
		LJr: []float64{0.3}, LJa: []float64{0.4}, ELE: []float64{0.6}}
	e1 := &bpmf.Energies{MM: []float64{1, 2}, Site: []float64{0.1, 0.2},
		SLJr: []float64{0.3, 0.1}, SELE: []float64{0.2, 0.2},
		LJr: []float64{0.5, 0.4}, LJa: []float64{0.1, 0.3}, ELE: []float64{0.2, 0.1}}
	s := bpmf.NewSimState(bpmf.Dock)
	s.Protocol = bpmf.Protocol{l0, l1}
	s.Es = [][]*bpmf.Energies{{e0}, {e1}}
	s.Cycle = 1
	u := uKK(s)
	if len(u) != 1 || len(u[0]) != 2 {
		Te.Fatal("expected one cycle of two sweeps, got", u)
	}
	red0 := bpmf.ReducedAt(e0, l0)
	red1 := bpmf.ReducedAt(e1, l1)
	if u[0][0] != red0[0]+red1[0] || u[0][1] != red0[0]+red1[1] {
		Te.Error("a single-snapshot record should contribute to every sweep, got", u[0])
	}
	fmt.Println("ensemble totals with a broadcast record:", u[0])
}

func TestCoolRun(Te *testing.T) {
	m := bpmf.NewSpringModel(3)
	coolDir := Te.TempDir()
	dockDir := Te.TempDir()
	co := coolTestOptions(7)
	do := dockTestOptions(7)
	P, err := New(m, m, coolDir, dockDir, co, do)
	if err != nil {
		Te.Fatal(err)
	}
	P.SetLigand([]bpmf.Conf{{0.1, -0.2, 0.3}})
	P.SetPhaseEvaluator(springPhases{m})
	done, err := P.Run("cool")
	if err != nil {
		Te.Fatal(err)
	}
	if !done {
		Te.Fatal("the cooling entry should complete")
	}
	rs, err := ckpt.NewStore(coolDir, bpmf.Cool, nil)
	if err != nil {
		Te.Fatal(err)
	}
	s := rs.Load()
	if s == nil {
		Te.Fatal("no cooling checkpoint was written")
	}
	if !s.Protocol.Crossed() {
		Te.Fatal("the stored cooling protocol should be crossed")
	}
	if s.Cycle < co.RepXCycles() {
		Te.Error("only", s.Cycle, "cycles ran, want at least", co.RepXCycles())
	}
	if n := productionSamples(s); n < do.SeedsPerState() {
		Te.Error("the high temperature end holds", n, "production snapshots, want at least", do.SeedsPerState())
	}
	f := new(LigandFreeEnergies)
	if !rs.LoadAux("f_L", f) {
		Te.Fatal("no ligand free energy artifact was stored")
	}
	if len(f.CoolBAR) != s.Cycle || len(f.CoolMBAR) != s.Cycle || len(f.MeanAcc) != s.Cycle {
		Te.Fatal("per-cycle estimates out of sync:", len(f.CoolBAR), len(f.CoolMBAR), len(f.MeanAcc), "for", s.Cycle, "cycles")
	}
	K := s.K()
	for c, prof := range f.CoolMBAR {
		if len(prof) != K {
			Te.Fatal("cycle", c, "has a profile over", len(prof), "states, want", K)
		}
		if prof[0] != 0 {
			Te.Error("profiles should be anchored at the first state, cycle", c, "starts at", prof[0])
		}
	}
	if len(f.Solvation["Gas"]) != s.Cycle {
		Te.Error("expected one Gas solvation estimate per cycle, got", len(f.Solvation["Gas"]))
	}
	for c, acc := range f.MeanAcc {
		if len(acc) != K-1 {
			Te.Error("cycle", c, "has", len(acc), "pair acceptances for", K, "states")
		}
		for k, a := range acc {
			if a < 0 || a > 1 {
				Te.Error("acceptance of pair", k, "in cycle", c, "is", a)
			}
		}
	}
	if len(f.EquilibratedCycle) != s.Cycle || f.EquilibratedCycle[0] != 0 {
		Te.Error("equilibrated cycles are", f.EquilibratedCycle)
	}
	for c := 1; c < len(f.EquilibratedCycle); c++ {
		if eq := f.EquilibratedCycle[c]; eq < 1 || eq > c {
			Te.Error("cycle", c, "claims equilibration at", eq)
		}
	}
	expectFile(Te, filepath.Join(coolDir, "cool_protocol.png"))
	expectFile(Te, filepath.Join(coolDir, "cool_convergence.png"))
	expectFile(Te, filepath.Join(coolDir, "cool_acceptance.png"))
	if _, err := os.Stat(filepath.Join(coolDir, "cool_log.txt")); err != nil {
		Te.Error("the cooling log file was not created:", err)
	}
	fmt.Println("cooled", K, "states over", s.Cycle, "cycles; f_L(MBAR):", lastF(f.CoolMBAR[len(f.CoolMBAR)-1]))
}

func TestTimedRun(Te *testing.T) {
	m := bpmf.NewSpringModel(2)
	coolDir := Te.TempDir()
	dockDir := Te.TempDir()
	ligand := []bpmf.Conf{{0.1, 0.2}}
	co := coolTestOptions(11)
	co.MaxTime(1e-9)
	P, err := New(m, m, coolDir, dockDir, co, dockTestOptions(11))
	if err != nil {
		Te.Fatal(err)
	}
	P.SetLigand(ligand)
	P.SetPhaseEvaluator(springPhases{m})
	done, err := P.Run("timed")
	if err != nil {
		Te.Fatal(err)
	}
	if done {
		Te.Fatal("a vanishing budget should leave the run incomplete")
	}
	rs, err := ckpt.NewStore(coolDir, bpmf.Cool, nil)
	if err != nil {
		Te.Fatal(err)
	}
	s := rs.Load()
	if s == nil {
		Te.Fatal("the interrupted leg was not saved")
	}
	if s.Protocol.Crossed() {
		Te.Fatal("the protocol should not have crossed within the budget")
	}
	nb, err := New(m, m, Te.TempDir(), Te.TempDir(), nil, nil)
	if err != nil {
		Te.Fatal(err)
	}
	if _, err := nb.Run("timed"); err == nil {
		Te.Error("a timed run without a wall-clock budget should fail")
	} else if perr, ok := err.(bpmf.ProcError); !ok || !perr.Critical() {
		Te.Error("the missing-budget error should be critical, got", err)
	}
	P2, err := New(m, m, coolDir, dockDir, coolTestOptions(11), dockTestOptions(11))
	if err != nil {
		Te.Fatal(err)
	}
	P2.SetLigand(ligand)
	P2.SetPhaseEvaluator(springPhases{m})
	done, err = P2.Run("cool")
	if err != nil {
		Te.Fatal(err)
	}
	if !done {
		Te.Fatal("the resumed cooling entry should complete")
	}
	s = rs.Load()
	if s == nil || !s.Protocol.Crossed() {
		Te.Fatal("the resumed leg should be stored as crossed")
	}
	fmt.Println("interrupted by the budget, resumed into", s.K(), "states")
}

func TestAllRunAndRedo(Te *testing.T) {
	m := bpmf.NewSpringModel(3)
	coolDir := Te.TempDir()
	dockDir := Te.TempDir()
	co := coolTestOptions(21)
	do := dockTestOptions(21)
	P, err := New(m, m, coolDir, dockDir, co, do)
	if err != nil {
		Te.Fatal(err)
	}
	P.SetLigand([]bpmf.Conf{{0.1, -0.2, 0.3}})
	P.SetPoseGenerator(&bpmf.SphereSite{Center: [3]float64{1, 1, 1}, Radius: 1.5})
	P.SetPhaseEvaluator(springPhases{m})
	done, err := P.Run("all")
	if err != nil {
		Te.Fatal(err)
	}
	if !done {
		Te.Fatal("a full run should complete")
	}
	ds, err := ckpt.NewStore(dockDir, bpmf.Dock, nil)
	if err != nil {
		Te.Fatal(err)
	}
	d := ds.Load()
	if d == nil || !d.Protocol.Crossed() {
		Te.Fatal("no crossed docking leg was stored")
	}
	if d.Cycle != do.RepXCycles() {
		Te.Error("the docking leg ran", d.Cycle, "cycles, want", do.RepXCycles())
	}
	last := d.K() - 1
	for c := 0; c < d.Cycle; c++ {
		rec := d.Es[last][c]
		for _, key := range []string{"LGas", "RLGas"} {
			if len(rec.Phase[key]) != rec.Len() {
				Te.Error("cycle", c, "has", len(rec.Phase[key]), key, "energies for", rec.Len(), "snapshots")
			}
		}
	}
	b := new(BindingPMF)
	if !ds.LoadAux("f_RL", b) {
		Te.Fatal("no binding PMF artifact was stored")
	}
	if b.Diverged {
		Te.Fatal("a completed leg cannot be marked as diverged")
	}
	if b.FL == nil || len(b.FL.CoolMBAR) == 0 {
		Te.Fatal("the artifact should embed the ligand free energies")
	}
	n := d.Cycle
	if len(b.GridBAR) != n || len(b.GridMBAR) != n || len(b.BMBAR) != n ||
		len(b.PsiGrid) != n || len(b.MeanAcc) != n || len(b.EquilibratedCycle) != n {
		Te.Fatal("per-cycle tables out of sync for", n, "cycles:",
			len(b.GridBAR), len(b.GridMBAR), len(b.BMBAR), len(b.PsiGrid), len(b.MeanAcc), len(b.EquilibratedCycle))
	}
	if b.Tau < 0 || math.IsNaN(b.Tau) {
		Te.Error("the path relaxation time is", b.Tau)
	}
	rt := bpmf.R * do.TTarget()
	if want := -1.2 / rt; math.Abs(b.RSolv["Gas"]-want) > 1e-12 {
		Te.Error("the receptor solvation is", b.RSolv["Gas"], "want", want)
	}
	coolProf := b.FL.CoolMBAR[len(b.FL.CoolMBAR)-1]
	coolBar := b.FL.CoolBAR[len(b.FL.CoolBAR)-1]
	for c := 0; c < n; c++ {
		if want := -lastF(coolProf) + lastF(b.GridMBAR[c]); math.Abs(b.BMBAR[c]-want) > 1e-12 {
			Te.Error("cycle", c, "grid estimate is", b.BMBAR[c], "want", want)
		}
		want := -b.RSolv["Gas"] - lastF(b.FL.Solvation["Gas"]) - lastF(coolProf) +
			lastF(b.GridMBAR[c]) + b.Solvation["Gas"][c]
		if math.Abs(b.B["Gas_MBAR"][c]-want) > 1e-12 {
			Te.Error("cycle", c, "Gas MBAR estimate is", b.B["Gas_MBAR"][c], "want", want)
		}
		want = -b.RSolv["Gas"] - lastF(b.FL.Solvation["Gas"]) - lastF(coolBar) +
			lastF(b.GridBAR[c]) + b.Solvation["Gas"][c]
		if math.Abs(b.B["Gas_BAR"][c]-want) > 1e-12 {
			Te.Error("cycle", c, "Gas BAR estimate is", b.B["Gas_BAR"][c], "want", want)
		}
		if b.B["Gas_min_Psi"][c] > b.B["Gas_mean_Psi"][c]+1e-12 {
			Te.Error("cycle", c, "minimum interaction energy exceeds the mean")
		}
		if b.B["Gas_min_Psi"][c] > b.B["Gas_inverse_FEP"][c]+1e-9 {
			Te.Error("cycle", c, "inverse FEP estimate fell below the minimum interaction energy")
		}
	}
	rec := map[string]float64{}
	if !ds.LoadAux("receptor", &rec) {
		Te.Fatal("no receptor artifact was stored")
	}
	if rec["Gas"] != -1.2 {
		Te.Error("the stored receptor Gas energy is", rec["Gas"])
	}
	expectFile(Te, filepath.Join(dockDir, "dock_protocol.png"))
	expectFile(Te, filepath.Join(dockDir, "dock_convergence.png"))
	expectFile(Te, filepath.Join(dockDir, "dock_acceptance.png"))
	expectFile(Te, filepath.Join(dockDir, "dock_overlap.png"))
	expectFile(Te, filepath.Join(coolDir, "cool_convergence.png"))

	done, err = P.Run("all")
	if err != nil || !done {
		Te.Fatal("a finished calculation should report done immediately:", done, err)
	}
	done, err = P.Run("redo_free_energies")
	if err != nil {
		Te.Fatal(err)
	}
	if !done {
		Te.Fatal("redoing the free energies should complete")
	}
	b2 := new(BindingPMF)
	if !ds.LoadAux("f_RL", b2) {
		Te.Fatal("the redone artifact is gone")
	}
	if len(b2.Solvation["Gas"]) != n || len(b2.B["Gas_MBAR"]) != n {
		Te.Fatal("redoing duplicated the per-cycle estimates:", len(b2.Solvation["Gas"]), len(b2.B["Gas_MBAR"]))
	}
	for c := 0; c < n; c++ {
		if math.Abs(b2.B["Gas_MBAR"][c]-b.B["Gas_MBAR"][c]) > 1e-12 {
			Te.Error("redoing changed the cycle", c, "estimate:", b2.B["Gas_MBAR"][c], "was", b.B["Gas_MBAR"][c])
		}
	}
	fmt.Println("binding PMF (Gas, MBAR) by cycle:", b.B["Gas_MBAR"])
}

func TestDivergenceMarker(Te *testing.T) {
	m := bpmf.NewSpringModel(2)
	coolDir := Te.TempDir()
	dockDir := Te.TempDir()
	do := dockTestOptions(5)
	do.SeedsPerState(4)
	do.StepsPerSeed(2)
	do.Cpus(1)
	do.ThermSpeed(1e-6)
	P, err := New(m, m, coolDir, dockDir, coolTestOptions(5), do)
	if err != nil {
		Te.Fatal(err)
	}
	P.SetPoses([]bpmf.Conf{{0.2, 0.4}})
	done, err := P.Dock()
	if done {
		Te.Fatal("a diverging leg cannot complete")
	}
	if err == nil {
		Te.Fatal("expected a divergence error")
	}
	var div bpmf.DivergenceError
	if !errors.As(err, &div) {
		Te.Fatalf("expected a divergence error, got %T: %v", err, err)
	}
	ds, err := ckpt.NewStore(dockDir, bpmf.Dock, nil)
	if err != nil {
		Te.Fatal(err)
	}
	b := new(BindingPMF)
	if !ds.LoadAux("f_RL", b) {
		Te.Fatal("no infinite binding PMF marker was stored")
	}
	if !b.Diverged {
		Te.Error("the stored artifact should be marked as diverged")
	}
	if err := ds.Lock(); err != nil {
		Te.Error("the docking lock should be free after the failed run:", err)
	}
	ds.Unlock()
	fmt.Println("divergence recorded:", div)
}

func TestPostprocessGate(Te *testing.T) {
	m := bpmf.NewSpringModel(3)
	coolDir := Te.TempDir()
	dockDir := Te.TempDir()
	P, err := New(m, m, coolDir, dockDir, coolTestOptions(9), dockTestOptions(9))
	if err != nil {
		Te.Fatal(err)
	}
	P.SetLigand([]bpmf.Conf{{0.3, 0.1, -0.1}})
	P.SetPhaseEvaluator(brokenPhases{})
	done, err := P.Run("cool")
	if err != nil {
		Te.Fatal(err)
	}
	if done {
		Te.Fatal("postprocessing with a failing evaluator should stay pending")
	}
	rs, err := ckpt.NewStore(coolDir, bpmf.Cool, nil)
	if err != nil {
		Te.Fatal(err)
	}
	f := new(LigandFreeEnergies)
	if rs.LoadAux("f_L", f) {
		Te.Fatal("no ligand free energies should be stored before postprocessing")
	}
	if done, err = P.CalcFL(); err != nil || done {
		Te.Fatal("the estimation should wait for postprocessing:", done, err)
	}
	P.SetPhaseEvaluator(springPhases{m})
	if done, err = P.Postprocess(false); err != nil || !done {
		Te.Fatal("postprocessing with a working evaluator failed:", done, err)
	}
	if done, err = P.CalcFL(); err != nil || !done {
		Te.Fatal("the estimation should run after postprocessing:", done, err)
	}
	if !rs.LoadAux("f_L", f) {
		Te.Fatal("the ligand free energy artifact is still missing")
	}
	if done, err = P.Postprocess(false); err != nil || !done {
		Te.Error("a second postprocessing pass should be an idempotent done:", done, err)
	}
	fmt.Println("postprocessing gate held and released; f_L cycles:", len(f.CoolMBAR))
}
