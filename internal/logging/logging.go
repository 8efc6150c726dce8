// Copyright (C) 2021 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package logging provides the singleton log writer. Writes to stdout, and optionally to a file.
// Does not add prefixes, or force newlines
package logging

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
)

// The optional additional file to log into
var logFile   *bufio.Writer
var logFileOS *os.File

// Serializes writes from concurrent operators
var mutex sync.Mutex

// Primary output, replaceable for tests
var stdout io.Writer=os.Stdout

type tee struct{}

// The log writer. Safe for concurrent use
var Writer io.Writer=tee{}

func (tee) Write(p []byte) (n int, err error) {
	mutex.Lock()
	defer mutex.Unlock()
	n, err=stdout.Write(p)
	if err!=nil || logFile==nil { return n, err }
	return logFile.Write(p)
}

// Enables logging to file, closing any previous log file
func AlsoToFile(fileName string) (err error) {
	if err=Close(); err!=nil { return err }
	f, err:=os.OpenFile(fileName, os.O_CREATE | os.O_TRUNC | os.O_WRONLY, 0666)
	if err!=nil { return err }
	mutex.Lock()
	logFileOS, logFile=f, bufio.NewWriter(f)
	mutex.Unlock()
	return nil
}

// Flushes and closes the log file, if any
func Close() (err error) {
	mutex.Lock()
	defer mutex.Unlock()
	if logFile==nil { return nil }
	err=logFile.Flush()
	if e:=logFileOS.Close(); err==nil { err=e }
	logFile, logFileOS=nil, nil
	return err
}

func Printf(format string, args ...interface{}) (n int, err error) {
	return fmt.Fprintf(Writer, format, args...)
}

func Println(args ...interface{}) (n int, err error) {
	return fmt.Fprintln(Writer, args...)
}

// Logs the message, closes the log file and exits with status 1
func Fatalf(format string, args ...interface{}) {
	Printf(format, args...)
	Close()
	os.Exit(1)
}
