package estimate

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	bpmf "github.com/rmera/gobpmf"
)

func TestFepExact(Te *testing.T) {
	//constant work values make the exponential average exact
	f := Fep([]float64{2.5, 2.5, 2.5})
	if math.Abs(f-2.5) > 1e-12 {
		Te.Error("FEP of constant work should be that work, got", f)
	}
}

func TestBarSymmetric(Te *testing.T) {
	//with these works the acceptance-ratio equation solves to exactly 1
	b, err := Bar([]float64{1, 1}, []float64{-1, -1})
	if err != nil {
		Te.Fatal(err)
	}
	if math.Abs(b-1) > 1e-3 {
		Te.Error("BAR root expected at 1, got", b)
	}
	if _, err := Bar(nil, []float64{1}); err == nil {
		Te.Error("empty work values should be an error")
	}
}

// springMatrix samples two cooling states of an exactly solvable model and
// builds their reduced potential matrix.
func springMatrix(n int) (*bpmf.Ukln, float64, *bpmf.SpringModel, []*bpmf.Lambda) {
	m := bpmf.NewSpringModel(3)
	ls := []*bpmf.Lambda{
		bpmf.CoolLambda(300, 600, 300, false),
		bpmf.CoolLambda(330, 600, 300, false),
	}
	es := make([]*bpmf.Energies, len(ls))
	for k, l := range ls {
		e := new(bpmf.Energies)
		for i := 0; i < n; i++ {
			r, _ := m.Sample(nil, l, 1, int64(1000*k+i))
			e.MM = append(e.MM, r.Etot)
		}
		es[k] = e
	}
	want := m.ReducedFreeEnergy(ls[1]) - m.ReducedFreeEnergy(ls[0])
	return bpmf.UklnFromStates(es, ls), want, m, ls
}

func TestBarMbarSpring(Te *testing.T) {
	u, want, _, _ := springMatrix(1500)
	barf, mbarf := Profile(u)
	if len(barf) != 2 || len(mbarf) != 2 {
		Te.Fatal("profiles have the wrong length")
	}
	if barf[0] != 0 || mbarf[0] != 0 {
		Te.Error("profiles should be relative to the first state")
	}
	if math.Abs(barf[1]-want) > 0.05 {
		Te.Error("BAR expected near", want, "got", barf[1])
	}
	if math.Abs(mbarf[1]-want) > 0.05 {
		Te.Error("MBAR expected near", want, "got", mbarf[1])
	}
	acc := MeanAcceptance(u)
	if acc <= 0 || acc > 1 {
		Te.Error("mean acceptance out of range:", acc)
	}
	fmt.Println("exact:", want, "BAR:", barf[1], "MBAR:", mbarf[1], "acc:", acc)
}

func TestMeanAcceptanceIdentical(Te *testing.T) {
	e := &bpmf.Energies{MM: []float64{1, 2, 3}}
	l := bpmf.CoolLambda(300, 600, 300, false)
	u := bpmf.UklnFromStates([]*bpmf.Energies{e, e}, []*bpmf.Lambda{l, l})
	if acc := MeanAcceptance(u); acc != 1 {
		Te.Error("swapping identical states should always be accepted, got", acc)
	}
}

func TestBootstrapFep(Te *testing.T) {
	rng := rand.New(rand.NewSource(1))
	mean, std := BootstrapFep([]float64{3, 3, 3, 3}, 50, rng)
	if math.Abs(mean-3) > 1e-12 || std != 0 {
		Te.Error("bootstrap over constant work should be exact, got", mean, std)
	}
}

func TestMbarFallback(Te *testing.T) {
	u, _, _, _ := springMatrix(50)
	if _, err := Mbar(u, []float64{0}); err == nil {
		Te.Error("a starting profile of the wrong length should be an error")
	}
}
