//Package bpmfplot draws the diagnostic plots of a binding calculation:
//the protocol of each simulation leg, the convergence of the free energy
//estimates with the simulation cycles, the replica exchange acceptance along
//the protocol, and the per-state reduced energy traces. All plots are saved
//as png files.
package bpmfplot

import (
	"fmt"
	"image/color"
	"math"

	bpmf "github.com/rmera/gobpmf"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

func basicPlot(title, xlabel, ylabel string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.Title.Padding = 3 * vg.Millimeter
	p.X.Label.Text = xlabel
	p.Y.Label.Text = ylabel
	p.Add(plotter.NewGrid())
	return p
}

func save(p *plot.Plot, plotname string) error {
	filename := fmt.Sprintf("%s.png", plotname)
	if err := p.Save(15*vg.Centimeter, 10*vg.Centimeter, filename); err != nil {
		return err
	}
	return nil
}

func xys(start int, y []float64) plotter.XYs {
	ret := make(plotter.XYs, len(y))
	for i, v := range y {
		ret[i].X = float64(start + i)
		ret[i].Y = v
	}
	return ret
}

//Protocol draws the coupling progress and the temperature of each state in
//the given protocol against the state index. The temperature is scaled to
//[0,1] so both curves share the axis; the legend records the actual span.
//The extension is appended to plotname.
func Protocol(prot bpmf.Protocol, title, plotname string) error {
	if prot == nil {
		panic("Given nil protocol")
	}
	p := basicPlot(title, "State", "Progress")
	alphas := prot.Alphas()
	temps := prot.Temperatures()
	tmin, tmax := temps[0], temps[0]
	for _, t := range temps {
		tmin = math.Min(tmin, t)
		tmax = math.Max(tmax, t)
	}
	scaled := make([]float64, len(temps))
	for i, t := range temps {
		if tmax > tmin {
			scaled[i] = (t - tmin) / (tmax - tmin)
		}
	}
	la, err := plotter.NewLine(xys(0, alphas))
	if err != nil {
		return err
	}
	la.Color = color.RGBA{R: 200, A: 255}
	la.Width = vg.Points(1.5)
	lt, err := plotter.NewLine(xys(0, scaled))
	if err != nil {
		return err
	}
	lt.Color = color.RGBA{B: 200, A: 255}
	lt.Width = vg.Points(1.5)
	lt.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(la, lt)
	p.Legend.Add("coupling", la)
	p.Legend.Add(fmt.Sprintf("T (%.0f-%.0f K)", tmin, tmax), lt)
	p.Legend.Top = true
	return save(p, plotname)
}

//Series is one labeled curve for Convergence, with one value per cycle.
type Series struct {
	Name string
	F    []float64
}

//Convergence draws free energy estimates against the cycle at which they
//were made, one line per series. Cycles are numbered from 1.
func Convergence(data []Series, title, plotname string) error {
	if data == nil {
		panic("Given nil data")
	}
	p := basicPlot(title, "Cycle", "Free energy (kJ/mol)")
	for key, ser := range data {
		l, err := plotter.NewLine(xys(1, ser.F))
		if err != nil {
			return err
		}
		r, g, b := colors(key, len(data))
		l.Color = color.RGBA{R: r, B: b, G: g, A: 255}
		l.Width = vg.Points(1.5)
		p.Add(l)
		p.Legend.Add(ser.Name, l)
	}
	p.Legend.Top = true
	return save(p, plotname)
}

//SwapAcceptance draws the replica exchange acceptance of each neighbor pair
//along the protocol. A pair that dips toward zero marks the bottleneck of
//the exchange.
func SwapAcceptance(acc []float64, title, plotname string) error {
	if acc == nil {
		panic("Given nil data")
	}
	p := basicPlot(title, "Neighbor pair", "Acceptance")
	p.Y.Min = 0
	p.Y.Max = 1
	l, err := plotter.NewLine(xys(0, acc))
	if err != nil {
		return err
	}
	l.Color = color.RGBA{B: 200, A: 255}
	s, err := plotter.NewScatter(xys(0, acc))
	if err != nil {
		return err
	}
	s.GlyphStyle.Color = color.RGBA{R: 200, A: 255}
	s.GlyphStyle.Radius = vg.Points(2)
	p.Add(l, s)
	return save(p, plotname)
}

//Overlap draws the reduced energy trace of every state at its own
//potential, colored by state. Neighboring traces that do not overlap at all
//signal a protocol with too few states.
func Overlap(u *bpmf.Ukln, title, plotname string) error {
	if u == nil {
		panic("Given nil data")
	}
	p := basicPlot(title, "Sample", "Reduced energy")
	K := u.K()
	for k := 0; k < K; k++ {
		s, err := plotter.NewScatter(xys(0, u.U[k][k]))
		if err != nil {
			return err
		}
		r, g, b := colors(k, K)
		s.GlyphStyle.Color = color.RGBA{R: r, B: b, G: g, A: 255}
		s.GlyphStyle.Radius = vg.Points(1.5)
		p.Add(s)
	}
	return save(p, plotname)
}

//takes hue (0-360), v and s (0-1), returns r,g,b (0-255)
func iHVS2RGB(h, v, s float64) (uint8, uint8, uint8) {
	var i, f, p, q, t float64
	var r, g, b float64
	maxcolor := 255.0
	conversion := maxcolor * v
	if s == 0.0 {
		return uint8(conversion), uint8(conversion), uint8(conversion)
	}
	h = h / 60
	i = math.Floor(h)
	f = h - i
	p = v * (1 - s)
	q = v * (1 - s*f)
	t = v * (1 - s*(1-f))
	switch int(i) {
	case 0:
		r = v
		g = t
		b = p
	case 1:
		r = q
		g = v
		b = p
	case 2:
		r = p
		g = v
		b = t
	case 3:
		r = p
		g = q
		b = v
	case 4:
		r = t
		g = p
		b = v
	default: //case 5
		r = v
		g = p
		b = q
	}
	r = r * conversion
	g = g * conversion
	b = b * conversion
	return uint8(r), uint8(g), uint8(b)
}

func colors(key, steps int) (r, g, b uint8) {
	norm := 260.0 / float64(steps)
	hp := float64(key)*norm + 20.0
	var h float64
	if hp < 55 {
		h = hp - 20.0
	} else {
		h = hp + 20.0
	}
	s := 1.0
	v := 1.0
	r, g, b = iHVS2RGB(h, v, s)
	return r, g, b
}
