/*
 * verb.go, part of gobpmf.
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

import (
	"fmt"
	"os"
)

// Logger tees progress messages to standard error and, when attached, to a
// log file, so a calculation leaves a record of what it did even when nobody
// was watching the terminal. A nil Logger discards everything.
type Logger struct {
	v int
	f *os.File
}

//NewLogger returns a Logger with the given verbosity.
func NewLogger(v int) *Logger {
	return &Logger{v: v}
}

//Attach opens the file with the given name, creating it if needed, and
//starts appending every message to it.
func (l *Logger) Attach(name string) error {
	if l == nil {
		return nil
	}
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.Detach()
	l.f = f
	return nil
}

//Detach closes the attached log file, if any.
func (l *Logger) Detach() {
	if l == nil || l.f == nil {
		return
	}
	l.f.Close()
	l.f = nil
}

//LogV prints its arguments, as fmt.Println does, if the verbosity of the
//Logger is at least vref.
func (l *Logger) LogV(vref int, d ...interface{}) {
	if l == nil || l.v < vref {
		return
	}
	fmt.Fprintln(os.Stderr, d...)
	if l.f != nil {
		fmt.Fprintln(l.f, d...)
	}
}

//LogVf is like LogV with a format string.
func (l *Logger) LogVf(vref int, format string, d ...interface{}) {
	if l == nil || l.v < vref {
		return
	}
	fmt.Fprintf(os.Stderr, format, d...)
	if l.f != nil {
		fmt.Fprintf(l.f, format, d...)
	}
}

//HMSTime formats a time in seconds as hours:minutes:seconds, for progress
//reports.
func HMSTime(seconds float64) string {
	h := int(seconds) / 3600
	m := (int(seconds) % 3600) / 60
	s := seconds - float64(3600*h) - float64(60*m)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%05.2f", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%d:%05.2f", m, s)
	}
	return fmt.Sprintf("%.2f s", s)
}
