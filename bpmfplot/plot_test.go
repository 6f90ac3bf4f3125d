package bpmfplot

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	bpmf "github.com/rmera/gobpmf"
)

func checkPNG(Te *testing.T, name string) {
	fi, err := os.Stat(name + ".png")
	if err != nil {
		Te.Error(err)
		return
	}
	if fi.Size() < 1000 {
		Te.Error(name, "came out suspiciously small:", fi.Size(), "bytes")
	}
}

func TestProtocolPlot(Te *testing.T) {
	dir := Te.TempDir()
	prot := bpmf.Protocol{}
	var prev *bpmf.Lambda
	for i := 0; i <= 10; i++ {
		prev = bpmf.DockLambda(float64(i)/10, 600, 300, prev)
		prot = append(prot, prev)
	}
	name := filepath.Join(dir, "protocol")
	if err := Protocol(prot, "Docking protocol", name); err != nil {
		Te.Fatal(err)
	}
	checkPNG(Te, name)
	fmt.Println("protocol plot written to", name+".png")
}

func TestConvergencePlot(Te *testing.T) {
	dir := Te.TempDir()
	rng := rand.New(rand.NewSource(1))
	mk := func(f0 float64) []float64 {
		f := make([]float64, 12)
		for i := range f {
			f[i] = f0 + rng.NormFloat64()/float64(i+1)
		}
		return f
	}
	data := []Series{
		{Name: "BAR", F: mk(-12.0)},
		{Name: "MBAR", F: mk(-12.3)},
		{Name: "FEP", F: mk(-11.1)},
	}
	name := filepath.Join(dir, "f_conv")
	if err := Convergence(data, "Free energy convergence", name); err != nil {
		Te.Fatal(err)
	}
	checkPNG(Te, name)
	fmt.Println("convergence plot written to", name+".png")
}

func TestSwapAcceptancePlot(Te *testing.T) {
	dir := Te.TempDir()
	acc := []float64{0.81, 0.67, 0.44, 0.21, 0.38, 0.59}
	name := filepath.Join(dir, "acc")
	if err := SwapAcceptance(acc, "Replica exchange acceptance", name); err != nil {
		Te.Fatal(err)
	}
	checkPNG(Te, name)
	fmt.Println("acceptance plot written to", name+".png")
}

func TestOverlapPlot(Te *testing.T) {
	dir := Te.TempDir()
	rng := rand.New(rand.NewSource(2))
	K := 4
	U := make([][][]float64, K)
	N := make([]int, K)
	for k := range U {
		N[k] = 50
		U[k] = make([][]float64, K)
		for l := range U[k] {
			U[k][l] = make([]float64, N[k])
			for n := range U[k][l] {
				U[k][l][n] = 2.0*float64(k-l) + rng.NormFloat64()
			}
		}
	}
	u := &bpmf.Ukln{U: U, N: N}
	name := filepath.Join(dir, "overlap")
	if err := Overlap(u, "State overlap", name); err != nil {
		Te.Fatal(err)
	}
	checkPNG(Te, name)
	fmt.Println("overlap plot written to", name+".png")
}
