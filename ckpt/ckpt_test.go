package ckpt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	bpmf "github.com/rmera/gobpmf"
)

func sampleState(p bpmf.Process) *bpmf.SimState {
	h := bpmf.CoolLambda(600, 600, 300, false)
	t := bpmf.CoolLambda(300, 600, 300, true)
	t.DeltaT = 0.002
	s := bpmf.NewSimState(p)
	s.Protocol = bpmf.Protocol{h, t}
	s.Cycle = 1
	s.Replicas = []bpmf.Conf{{0.1, 0.2}, {0.3, 0.4}}
	s.Samples = [][][]bpmf.Conf{{{{0.1, 0.2}}}, {{{0.3, 0.4}, {0.5, 0.6}}}}
	s.Es = [][]*bpmf.Energies{{{MM: []float64{1.5}}}, {{MM: []float64{2.5, 3.5}}}}
	return s
}

func TestRoundTrip(Te *testing.T) {
	dir := Te.TempDir()
	o := bpmf.DefaultCoolOptions()
	o.ThermSpeed(0.15)
	st, err := NewStore(dir, bpmf.Cool, o)
	if err != nil {
		Te.Fatal(err)
	}
	if got := st.Load(); got != nil {
		Te.Fatal("an empty directory should load as a cold start")
	}
	s := sampleState(bpmf.Cool)
	if err := st.Save(s); err != nil {
		Te.Fatal(err)
	}
	got := st.Load()
	if got == nil {
		Te.Fatal("a saved leg should load back")
	}
	if got.K() != 2 || got.Cycle != 1 || len(got.Replicas) != 2 {
		Te.Error("loaded leg has", got.K(), "states and cycle", got.Cycle)
	}
	if got.Protocol[1].T != 300 || !got.Protocol[1].Crossed || got.Protocol[1].DeltaT != 0.002 {
		Te.Error("the stored protocol lost fields")
	}
	if len(got.Samples[1][0]) != 2 || got.Samples[1][0][1][0] != 0.5 {
		Te.Error("stored snapshots came back wrong")
	}
	if got.Es[1][0].MM[1] != 3.5 {
		Te.Error("stored energies came back wrong")
	}
	so := st.StoredOptions()
	if so == nil || so.ThermSpeed() != 0.15 {
		Te.Error("the progress artifact should echo the options")
	}
	fmt.Println("round trip through", dir, "done")
}

func TestBackupFallback(Te *testing.T) {
	dir := Te.TempDir()
	st, err := NewStore(dir, bpmf.Cool, nil)
	if err != nil {
		Te.Fatal(err)
	}
	s := sampleState(bpmf.Cool)
	if err := st.Save(s); err != nil {
		Te.Fatal(err)
	}
	s.Cycle = 2
	if err := st.Save(s); err != nil {
		Te.Fatal(err)
	}
	if err := os.WriteFile(st.artifact("data"), []byte("scribbles"), 0644); err != nil {
		Te.Fatal(err)
	}
	got := st.Load()
	if got == nil {
		Te.Fatal("the backup pair should have been recovered")
	}
	if got.Cycle != 1 {
		Te.Error("the recovered leg should be the older save, got cycle", got.Cycle)
	}
	if _, err := os.Stat(st.artifact("data")); !os.IsNotExist(err) {
		Te.Error("the broken primary pair should have been discarded")
	}
	fmt.Println("recovered cycle", got.Cycle, "from the backups")
}

func TestColdStart(Te *testing.T) {
	dir := Te.TempDir()
	st, err := NewStore(dir, bpmf.Cool, nil)
	if err != nil {
		Te.Fatal(err)
	}
	s := sampleState(bpmf.Cool)
	if err := st.Save(s); err != nil {
		Te.Fatal(err)
	}
	//a single save leaves no backups, so breaking the pair now means
	//there is nothing left to resume from
	if err := os.WriteFile(st.artifact("progress"), []byte("scribbles"), 0644); err != nil {
		Te.Fatal(err)
	}
	if got := st.Load(); got != nil {
		Te.Fatal("a corrupt pair with no backups should mean a cold start")
	}
	if _, err := os.Stat(st.artifact("progress")); !os.IsNotExist(err) {
		Te.Error("the corrupt artifact was left behind")
	}
	if err := st.Save(s); err != nil {
		Te.Fatal(err)
	}
	if got := st.Load(); got == nil || got.K() != 2 {
		Te.Error("saving again after the cold start should work")
	}
	dst, err := NewStore(dir, bpmf.Dock, nil)
	if err != nil {
		Te.Fatal(err)
	}
	if got := dst.Load(); got != nil {
		Te.Error("a docking store should not load a cooling leg")
	}
	fmt.Println("corrupt pair handled as a cold start")
}

func TestAux(Te *testing.T) {
	dir := Te.TempDir()
	st, err := NewStore(dir, bpmf.Cool, nil)
	if err != nil {
		Te.Fatal(err)
	}
	type table struct {
		Name string    `json:"name"`
		F    []float64 `json:"f"`
	}
	if st.LoadAux("f_L", &table{}) {
		Te.Fatal("nothing should be stored yet")
	}
	w := table{"cooling", []float64{0, -1.5, -3.0}}
	if err := st.SaveAux("f_L", w); err != nil {
		Te.Fatal(err)
	}
	var r table
	if !st.LoadAux("f_L", &r) {
		Te.Fatal("the stored table should load back")
	}
	if r.Name != "cooling" || len(r.F) != 3 || r.F[2] != -3.0 {
		Te.Error("stored table came back as", r)
	}
	w.F = append(w.F, -4.5)
	if err := st.SaveAux("f_L", w); err != nil {
		Te.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "f_L.json.zst"), []byte("junk"), 0644); err != nil {
		Te.Fatal(err)
	}
	r = table{}
	if !st.LoadAux("f_L", &r) || len(r.F) != 3 {
		Te.Error("the backup table should have been recovered, got", r)
	}
	fmt.Println("aux table:", r.Name, r.F)
}

func TestLock(Te *testing.T) {
	dir := Te.TempDir()
	st, err := NewStore(dir, bpmf.Cool, nil)
	if err != nil {
		Te.Fatal(err)
	}
	if err := st.Lock(); err != nil {
		Te.Fatal(err)
	}
	st2, err := NewStore(dir, bpmf.Cool, nil)
	if err != nil {
		Te.Fatal(err)
	}
	lerr := st2.Lock()
	if lerr == nil {
		Te.Fatal("the second lock should have failed")
	}
	if !strings.Contains(lerr.Error(), "already running") {
		Te.Error("the contention message should say the leg is already running:", lerr)
	}
	cerr, ok := lerr.(Error)
	if !ok || !cerr.Critical() {
		Te.Error("lock contention should be a critical error")
	}
	st2.Unlock() //not ours, so it should change nothing
	if err := st2.Lock(); err == nil {
		Te.Error("unlocking a lock we do not hold should not release it")
	}
	st.Unlock()
	if err := st2.Lock(); err != nil {
		Te.Error("the released lock should be acquirable:", err)
	}
	st2.Unlock()
	fmt.Println("lock contention:", lerr)
}
