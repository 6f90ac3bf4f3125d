/*
 * estimate.go, part of gobpmf.
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

//Package estimate obtains free energy differences between the states of a
//protocol from sampled reduced potentials, with exponential averaging, the
//Bennett acceptance ratio (BAR) and its multistate version (MBAR).
package estimate

import (
	"fmt"
	"math"
	"math/rand"

	bpmf "github.com/rmera/gobpmf"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	barTol     = 1e-6
	barMaxIter = 500
)

// Fep returns the exponential-averaging (free energy perturbation) estimate
// of the reduced free energy difference, given the forward work values in
// units of RT.
func Fep(w []float64) float64 {
	neg := make([]float64, len(w))
	for i, v := range w {
		neg[i] = -v
	}
	return math.Log(float64(len(w))) - floats.LogSumExp(neg)
}

//logFermi returns ln(1/(1+exp(x))), computed stably for any x.
func logFermi(x float64) float64 {
	if x > 0 {
		return -x - math.Log1p(math.Exp(-x))
	}
	return -math.Log1p(math.Exp(x))
}

// barZero is the implicit acceptance-ratio equation: its root over delta is
// the BAR estimate. It grows monotonically with delta.
func barZero(wF, wR []float64, m, delta float64) float64 {
	sF := make([]float64, len(wF))
	for i, w := range wF {
		sF[i] = logFermi(m + w - delta)
	}
	sR := make([]float64, len(wR))
	for i, w := range wR {
		sR[i] = logFermi(-m + w + delta)
	}
	return floats.LogSumExp(sF) - floats.LogSumExp(sR)
}

// Bar returns the Bennett acceptance ratio estimate of the reduced free
// energy difference between two states, given the forward work values of the
// samples of the first state and the reverse work values of the samples of
// the second, in units of RT. The root of the acceptance-ratio equation is
// bracketed between the two one-sided estimates, widening if needed, and
// found by false position to a relative tolerance of 1e-6.
func Bar(wF, wR []float64) (float64, error) {
	if len(wF) == 0 || len(wR) == 0 {
		return 0, Error{message: EmptyWork, deco: []string{"Bar"}, critical: true}
	}
	m := math.Log(float64(len(wF)) / float64(len(wR)))
	lo := -Fep(wR)
	up := Fep(wF)
	if lo > up {
		lo, up = up, lo
	}
	gL := barZero(wF, wR, m, lo)
	gU := barZero(wF, wR, m, up)
	for i := 0; gL*gU > 0; i++ {
		if i >= 100 || math.IsNaN(gL) || math.IsNaN(gU) {
			return 0, Error{message: NoBracket, deco: []string{"Bar"}}
		}
		d := up - lo + 1
		lo -= d
		up += d
		gL = barZero(wF, wR, m, lo)
		gU = barZero(wF, wR, m, up)
	}
	if lo == up {
		//both one-sided estimates agree, and they can only do that at the root
		return lo, nil
	}
	x := lo
	for i := 0; i < barMaxIter; i++ {
		den := gU - gL
		if den == 0 {
			break
		}
		xn := up - gU*(up-lo)/den
		g := barZero(wF, wR, m, xn)
		done := math.Abs(xn-x) <= barTol*math.Max(1, math.Abs(xn))
		x = xn
		if g > 0 {
			up, gU = xn, g
		} else {
			lo, gL = xn, g
		}
		if done {
			return x, nil
		}
	}
	return x, Error{message: NotConverged, deco: []string{"Bar"}}
}

// BARProfile returns the cumulative reduced free energy of every state of
// the protocol relative to the first, estimated with BAR between each pair
// of consecutive states. Where BAR fails, the forward exponential average
// takes its place.
func BARProfile(u *bpmf.Ukln) []float64 {
	K := u.K()
	f := make([]float64, K)
	for k := 0; k < K-1; k++ {
		wF := make([]float64, u.N[k])
		for n := range wF {
			wF[n] = u.U[k][k+1][n] - u.U[k][k][n]
		}
		wR := make([]float64, u.N[k+1])
		for n := range wR {
			wR[n] = u.U[k+1][k][n] - u.U[k+1][k+1][n]
		}
		b, err := Bar(wF, wR)
		if err != nil {
			b = Fep(wF)
		}
		f[k+1] = b
	}
	for k := 1; k < K; k++ {
		f[k] += f[k-1]
	}
	return f
}

// Profile returns the BAR free energy profile of the protocol and the MBAR
// profile solved starting from it. Running out of MBAR iterations is
// harmless (the last iterate is kept); if MBAR goes non-finite the BAR
// profile takes its place, so the second profile is always usable.
func Profile(u *bpmf.Ukln) (barf, mbarf []float64) {
	barf = BARProfile(u)
	mbarf, _ = Mbar(u, barf)
	if mbarf == nil {
		mbarf = append([]float64{}, barf...)
	}
	return barf, mbarf
}

// MeanAcceptance returns the average probability of swapping the
// configurations of two neighboring states, from a two-state reduced
// potential matrix. Only the first min(N) samples of each state enter.
func MeanAcceptance(u *bpmf.Ukln) float64 {
	N := u.MinN()
	if N == 0 {
		return 0
	}
	acc := 0.0
	for n := 0; n < N; n++ {
		a := math.Exp(-u.U[0][1][n] - u.U[1][0][n] + u.U[0][0][n] + u.U[1][1][n])
		if a > 1 {
			a = 1
		}
		acc += a
	}
	return acc / float64(N)
}

// BootstrapFep resamples the work values with replacement reps times and
// returns the mean and the standard deviation of the exponential-averaging
// estimate over the resamples.
func BootstrapFep(w []float64, reps int, rng *rand.Rand) (mean, std float64) {
	if len(w) == 0 || reps == 0 {
		return math.NaN(), math.NaN()
	}
	est := make([]float64, reps)
	re := make([]float64, len(w))
	for r := 0; r < reps; r++ {
		for i := range re {
			re[i] = w[rng.Intn(len(w))]
		}
		est[r] = Fep(re)
	}
	return stat.Mean(est, nil), stat.PopStdDev(est, nil)
}

//Errors

type Error struct {
	message  string
	deco     []string
	critical bool
}

func (err Error) Error() string {
	return fmt.Sprintf("estimate error: %s", err.message)
}

func (E Error) Decorate(deco string) []string {
	//Even though this method does not use a pointer as a receiver, and tries to alter the receiver,
	//it should work, since E.deco is a slice, and hence a pointer itself.
	if deco != "" {
		E.deco = append(E.deco, deco)
	}
	return E.deco
}

func (err Error) Critical() bool { return err.critical }

const (
	EmptyWork    = "No work values to estimate from"
	NoBracket    = "Could not bracket the acceptance-ratio root"
	NotConverged = "Estimator ran out of iterations"
	NonFinite    = "Free energies went non-finite"
)
