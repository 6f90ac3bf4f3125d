package anneal

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/rmera/gobpmf"
)

type countSaver struct {
	n    int
	last int //number of states at the last save
}

func (c *countSaver) Save(s *bpmf.SimState) error {
	c.n++
	c.last = s.K()
	return nil
}

func TestSeedHelpers(Te *testing.T) {
	o := bpmf.DefaultCoolOptions()
	o.SeedsPerState(8)
	o.RandomSeed(1)
	A := New(bpmf.NewSpringModel(1), nil, o)
	idx := A.resampleIdx([]float64{0, 500, 500})
	if len(idx) != 8 {
		Te.Fatal("expected 8 picks, got", len(idx))
	}
	for _, j := range idx {
		if j != 0 {
			Te.Error("all picks should hit the overwhelming weight, got", idx)
			break
		}
	}
	idx = A.resampleIdx([]float64{300, 0})
	for _, j := range idx {
		if j != 1 {
			Te.Error("all picks should hit the second entry, got", idx)
			break
		}
	}
	if m := medianDt([]float64{0.001, 0.003, 0.002}); m != 0.002 {
		Te.Error("median time step of an odd batch is", m, "want 0.002")
	}
	if m := medianDt([]float64{0.001, 0.002}); m != 0.0015 {
		Te.Error("median time step of an even batch is", m, "want 0.0015")
	}
	if m := medianDt([]float64{1.0}); m != maxDeltaT {
		Te.Error("a huge time step should clamp to", maxDeltaT, "got", m)
	}
	if m := medianDt([]float64{1e-9}); m != minDeltaT {
		Te.Error("a tiny time step should clamp to", minDeltaT, "got", m)
	}
	fmt.Println("resampled indices with one overwhelming weight:", idx)
}

func TestCoolAnneal(Te *testing.T) {
	model := bpmf.NewSpringModel(3)
	o := bpmf.DefaultCoolOptions()
	o.SeedsPerState(20)
	o.StepsPerSeed(10)
	o.Cpus(2)
	o.Verbose(1)
	o.RandomSeed(7)
	A := New(model, nil, o)
	s := bpmf.NewSimState(bpmf.Cool)
	done, err := A.Cool(s, []bpmf.Conf{{0.1, -0.2, 0.3}}, true)
	if err != nil {
		Te.Fatal(err)
	}
	if !done {
		Te.Fatal("cooling should complete without a deadline")
	}
	K := s.K()
	if K < 2 {
		Te.Fatal("expected at least two states, got", K)
	}
	p := s.Protocol
	if p[0].T != o.THigh() || p[K-1].T != o.TTarget() {
		Te.Error("the stored leg should run from", o.THigh(), "K to", o.TTarget(), "K, got", p[0].T, p[K-1].T)
	}
	if p[0].A != 0 || p[K-1].A != 1 {
		Te.Error("endpoint progress is", p[0].A, p[K-1].A, "want 0 and 1")
	}
	if p[0].Crossed || !p[K-1].Crossed {
		Te.Error("crossed marks are wrong after the reversal")
	}
	for k := 1; k < K; k++ {
		if p[k].T >= p[k-1].T {
			Te.Error("temperatures should decrease along the stored leg, state", k, "has", p[k].T, "after", p[k-1].T)
		}
	}
	if len(s.Replicas) != K || len(s.Samples) != K || len(s.Es) != K {
		Te.Fatal("per-state bookkeeping out of sync:", len(s.Replicas), len(s.Samples), len(s.Es), "for", K, "states")
	}
	for k := 0; k < K; k++ {
		if len(s.Es[k]) != 1 || len(s.Es[k][0].MM) != 20 {
			Te.Error("state", k, "should hold one record of 20 energies")
		}
	}
	if len(s.Samples[0]) != 1 || len(s.Samples[0][0]) != 20 {
		Te.Error("the high temperature endpoint should keep its snapshots")
	}
	if len(s.Samples[K-1]) != 1 || len(s.Samples[K-1][0]) != 20 {
		Te.Error("the target temperature endpoint should keep its snapshots")
	}
	for k := 1; k < K-1; k++ {
		if len(s.Samples[k]) != 0 {
			Te.Error("intermediate state", k, "should have been pruned")
		}
	}
	if s.Cycle != 1 {
		Te.Error("cycle count after annealing is", s.Cycle, "want 1")
	}
	done, err = A.Cool(s, nil, true)
	if err != nil || !done {
		Te.Error("a crossed leg should return complete immediately:", done, err)
	}
	fmt.Println("cooling annealed into", K, "states")
}

func TestCoolBudgetAndResume(Te *testing.T) {
	model := bpmf.NewSpringModel(2)
	o := bpmf.DefaultCoolOptions()
	o.SeedsPerState(15)
	o.StepsPerSeed(5)
	o.Cpus(2)
	o.Verbose(1)
	o.RandomSeed(11)
	A := New(model, nil, o)
	sav := new(countSaver)
	A.SetSaver(sav)
	A.SetDeadline(time.Now().Add(-time.Second))
	s := bpmf.NewSimState(bpmf.Cool)
	done, err := A.Cool(s, []bpmf.Conf{{0, 0}}, true)
	if err != nil {
		Te.Fatal(err)
	}
	if done {
		Te.Fatal("an expired deadline should leave the leg incomplete")
	}
	if s.Protocol.Crossed() {
		Te.Fatal("the protocol should not have crossed yet")
	}
	if sav.n == 0 {
		Te.Error("the incomplete leg was not saved")
	}
	if len(s.Samples) != s.K() || len(s.Es) != s.K() {
		Te.Error("the saved leg is inconsistent:", len(s.Samples), "sample lists for", s.K(), "states")
	}
	interrupted := s.K()
	A.SetDeadline(time.Time{})
	done, err = A.Cool(s, nil, true)
	if err != nil {
		Te.Fatal(err)
	}
	if !done {
		Te.Fatal("resumed cooling should complete")
	}
	if s.Protocol[0].T != o.THigh() || s.Protocol[s.K()-1].T != o.TTarget() {
		Te.Error("resumed leg has wrong endpoints:", s.Protocol[0].T, s.Protocol[s.K()-1].T)
	}
	fmt.Println("interrupted with", interrupted, "states, finished with", s.K())
}

func TestDockUndock(Te *testing.T) {
	model := bpmf.NewSpringModel(3)
	o := bpmf.DefaultDockOptions()
	o.SeedsPerState(25)
	o.StepsPerSeed(10)
	o.Cpus(2)
	o.Verbose(1)
	o.RandomSeed(3)
	A := New(model, model, o)
	s := bpmf.NewSimState(bpmf.Dock)
	done, err := A.Dock(s, nil, []bpmf.Conf{{0.5, 0.5, 0.5}}, nil)
	if err != nil {
		Te.Fatal(err)
	}
	if !done {
		Te.Fatal("undocking should complete without a deadline")
	}
	K := s.K()
	p := s.Protocol
	if p[0].A != 0 || p[K-1].A != 1 {
		Te.Error("the stored leg should run from progress 0 to 1, got", p[0].A, p[K-1].A)
	}
	if p[0].T != o.THigh() || p[K-1].T != o.TTarget() {
		Te.Error("endpoint temperatures are", p[0].T, p[K-1].T)
	}
	if p[0].Crossed || !p[K-1].Crossed {
		Te.Error("crossed marks are wrong after the reversal")
	}
	for k := 1; k < K; k++ {
		if p[k].A < p[k-1].A {
			Te.Error("progress should not decrease along the stored leg, state", k)
		}
	}
	for k := 0; k < K; k++ {
		if p[k].DeltaT < minDeltaT || p[k].DeltaT > maxDeltaT {
			Te.Error("state", k, "has time step", p[k].DeltaT, "outside the clamp")
		}
		if len(s.Es[k]) != 1 || s.Es[k][0].Len() != 25 {
			Te.Error("state", k, "should hold one record of 25 snapshots")
		}
	}
	if len(s.Replicas) != K {
		Te.Error("expected", K, "replicas, got", len(s.Replicas))
	}
	for k := 0; k < K-1; k++ {
		if len(s.Samples[k]) != 0 {
			Te.Error("only the coupled endpoint should keep snapshots, state", k, "has some")
		}
	}
	if len(s.Samples[K-1]) != 1 || len(s.Samples[K-1][0]) != 25 {
		Te.Error("the coupled endpoint lost its snapshots")
	}
	if s.Seeds != nil {
		Te.Error("seeds should be cleared after the leg crosses")
	}
	if s.Cycle != 1 {
		Te.Error("cycle count after annealing is", s.Cycle, "want 1")
	}
	fmt.Println("undocking annealed into", K, "states")
}

// coolLeg builds a minimal completed cooling leg whose high temperature
// endpoint carries one annealing record plus n production snapshots.
func coolLeg(model *bpmf.SpringModel, o *bpmf.Options, n int) *bpmf.SimState {
	rng := rand.New(rand.NewSource(21))
	h := bpmf.CoolLambda(o.THigh(), o.THigh(), o.TTarget(), false)
	t := bpmf.CoolLambda(o.TTarget(), o.THigh(), o.TTarget(), true)
	mk := func(l *bpmf.Lambda, count int) ([]bpmf.Conf, []float64) {
		confs := make([]bpmf.Conf, count)
		mm := make([]float64, count)
		for i := range confs {
			r, _ := model.Sample(bpmf.Conf{0, 0, 0}, l, 1, rng.Int63())
			confs[i] = r.Conf
			mm[i] = r.Etot
		}
		return confs, mm
	}
	aConfs, aMM := mk(h, 5)
	pConfs, pMM := mk(h, n)
	bConfs, bMM := mk(t, 5)
	cool := bpmf.NewSimState(bpmf.Cool)
	cool.Protocol = bpmf.Protocol{h, t}
	cool.Replicas = []bpmf.Conf{aConfs[0], bConfs[0]}
	cool.Samples = [][][]bpmf.Conf{{aConfs, pConfs}, {bConfs}}
	cool.Es = [][]*bpmf.Energies{{{MM: aMM}, {MM: pMM}}, {{MM: bMM}}}
	cool.Cycle = 1
	return cool
}

func TestDockRandom(Te *testing.T) {
	model := bpmf.NewSpringModel(3)
	o := bpmf.DefaultDockOptions()
	o.SeedsPerState(10)
	o.StepsPerSeed(5)
	o.Cpus(2)
	o.Verbose(1)
	o.RandomSeed(13)
	o.KeepIntermediate(true)
	site := &bpmf.SphereSite{Center: [3]float64{1, 1, 1}, Radius: 1.5}
	cool := coolLeg(model, o, 30)
	A := New(model, model, o)
	s := bpmf.NewSimState(bpmf.Dock)
	done, err := A.Dock(s, cool, nil, site)
	if err != nil {
		Te.Fatal(err)
	}
	if !done {
		Te.Fatal("random docking should complete without a deadline")
	}
	if s.Poses == nil {
		Te.Fatal("the pose grid should be stored in the state")
	}
	if s.Poses.NTrans < 5 || s.Poses.NTrans > s.Poses.MaxTrans {
		Te.Error("pose grid has", s.Poses.NTrans, "active translations of", s.Poses.MaxTrans)
	}
	if len(s.Poses.Rotations) != 100 {
		Te.Error("expected 100 rotations, got", len(s.Poses.Rotations))
	}
	K := s.K()
	p := s.Protocol
	if p[0].A != 0 || p[K-1].A != 1 {
		Te.Error("the leg should run from progress 0 to 1, got", p[0].A, p[K-1].A)
	}
	if p[0].Crossed || !p[K-1].Crossed {
		Te.Error("only the last state should be marked as crossed")
	}
	if len(s.Samples[0]) != 1 || len(s.Samples[0][0]) != 1 {
		Te.Fatal("the first state should hold the single best-scoring pose")
	}
	if s.Es[0][0].Len() != 1 {
		Te.Error("the first state record should hold one snapshot, has", s.Es[0][0].Len())
	}
	for k := 1; k < K; k++ {
		if len(s.Samples[k]) != 1 || len(s.Samples[k][0]) != 10 {
			Te.Error("state", k, "snapshots should survive with KeepIntermediate")
		}
	}
	if s.Cycle != 1 {
		Te.Error("cycle count after annealing is", s.Cycle, "want 1")
	}
	fmt.Println("random docking annealed into", K, "states with", s.Poses.NTrans, "translations")
}

func TestDockRandomNeedsSamples(Te *testing.T) {
	model := bpmf.NewSpringModel(3)
	o := bpmf.DefaultDockOptions()
	o.SeedsPerState(10)
	o.Verbose(1)
	o.RandomSeed(2)
	site := &bpmf.SphereSite{Center: [3]float64{0, 0, 0}, Radius: 1}
	cool := coolLeg(model, o, 3)
	A := New(model, model, o)
	s := bpmf.NewSimState(bpmf.Dock)
	_, err := A.Dock(s, cool, nil, site)
	if err == nil {
		Te.Fatal("expected an error with too few cooling snapshots")
	}
	perr, ok := err.(bpmf.ProcError)
	if !ok || !perr.Critical() {
		Te.Error("the error should be critical, got", err)
	}
	var div bpmf.DivergenceError
	if errors.As(err, &div) {
		Te.Error("too few snapshots is not a divergence")
	}
	fmt.Println("missing-seeds error:", err)
}

// A microscopic thermodynamic speed keeps the stage acceptance at one, so
// the driver keeps dropping the previous state until it gives up.
func TestDockDivergence(Te *testing.T) {
	model := bpmf.NewSpringModel(2)
	o := bpmf.DefaultDockOptions()
	o.SeedsPerState(4)
	o.StepsPerSeed(2)
	o.Cpus(1)
	o.Verbose(1)
	o.RandomSeed(5)
	o.ThermSpeed(1e-6)
	A := New(model, model, o)
	sav := new(countSaver)
	A.SetSaver(sav)
	s := bpmf.NewSimState(bpmf.Dock)
	done, err := A.Dock(s, nil, []bpmf.Conf{{0.2, 0.4}}, nil)
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
	if s.K() != 0 || len(s.Samples) != 0 || len(s.Replicas) != 0 {
		Te.Error("a diverged leg should be cleared, has", s.K(), "states")
	}
	if sav.n == 0 || sav.last != 0 {
		Te.Error("the cleared leg should be saved; the last save had", sav.last, "states")
	}
	fmt.Println("divergence detected:", err)
}
