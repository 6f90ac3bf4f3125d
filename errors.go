/*
 * errors.go, part of gobpmf.
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

package bpmf

import "fmt"

// Error is the interface for errors that all packages in this library implement.
// The Decorate method allows to add and retrieve info from the error, without
// changing it's type or wrapping it around something else.
type Error interface {
	Error() string
	Decorate(string) []string //if passed an empty string, Decorate just returns the current decoration slice, without adding anything. Each element of the slice should be a function in the calling stack, optionally as "FunctionName: Extra info"
}

// ProcError is the interface for errors raised while running one of the two
// simulation legs. Critical errors invalidate the calculation; non-critical
// ones (say, an estimator that ran out of iterations) have already been
// worked around when the error is returned.
type ProcError interface {
	Error
	Critical() bool
	Process() string
}

// DivergenceError is implemented by errors that mean a protocol will never
// bridge its endpoints, so the binding calculation should record an infinite
// free energy instead of being retried.
type DivergenceError interface {
	ProcError
	ProtocolDiverged() //does nothing, just to separate this interface from other ProcError's
}

type bpmfError struct {
	message  string
	process  string //"cool" or "dock", or empty if neither applies.
	deco     []string
	critical bool
}

func (err bpmfError) Error() string {
	if err.process == "" {
		return fmt.Sprintf("bpmf error: %s", err.message)
	}
	return fmt.Sprintf("bpmf %s error: %s", err.process, err.message)
}

func (E bpmfError) Decorate(deco string) []string {
	//Even though this method does not use a pointer as a receiver, and tries to alter the receiver,
	//it should work, since E.deco is a slice, and hence a pointer itself.
	if deco != "" {
		E.deco = append(E.deco, deco)
	}
	return E.deco
}

func (err bpmfError) Critical() bool { return err.critical }

func (err bpmfError) Process() string { return err.process }

// NewError returns a ProcError with the given message, for the given process
// ("cool", "dock" or an empty string). The first element of deco should be
// the name of the function returning the error.
func NewError(message, process string, critical bool, deco ...string) ProcError {
	err := new(bpmfError)
	err.message = message
	err.process = process
	err.critical = critical
	err.deco = deco
	return err
}

type divergenceError struct {
	bpmfError
}

//divergenceError does nothing
func (err divergenceError) ProtocolDiverged() {}

// NewDivergence returns a critical DivergenceError for the given process.
func NewDivergence(message, process string, deco ...string) DivergenceError {
	err := new(divergenceError)
	err.message = message
	err.process = process
	err.critical = true
	err.deco = deco
	return err
}

// Messages for the errors that abort a simulation leg. Callers can match on
// these to tell what went wrong.
const (
	NoVariance      = "No variance in configuration energies"
	TooManyReplicas = "Too many replicas!"
	TooManyRejected = "Too many consecutive rejected stages!"
)

//errDecorate is a convenience function.
func errDecorate(err error, caller string) error {
	err2 := err.(Error) //I know that is the type returned by the functions in this package
	err2.Decorate(caller)
	return err2
}
