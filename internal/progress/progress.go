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


// Package progress tracks processed work units across worker goroutines and reports them to a monitor
package progress

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"github.com/mlnoga/nightrestore/internal/sample"
)

// Shared state of one engine run. Workers add processed units, the coordinator
// drains them into the monitor and raises the abort flag
type State struct {
	processed atomic.Int64
	abort     atomic.Bool
}

// Adds processed units. Safe for concurrent use
func (s *State) Add(units int64) { s.processed.Add(units) }

// Returns the units processed since the last call, and resets the counter
func (s *State) Drain() int64 { return s.processed.Swap(0) }

// Raises the abort flag
func (s *State) Abort() { s.abort.Store(true) }

// Returns true if abort was requested
func (s *State) Aborted() bool { return s.abort.Load() }


// A status monitor, implemented by the host. Add may return ErrAborted to request cancellation
type Monitor interface {
	Initialize(info string, total int64)
	Add(units int64) error
}

// A monitor which reports nothing and never aborts
type NullMonitor struct{}

func (NullMonitor) Initialize(info string, total int64) {}
func (NullMonitor) Add(units int64) error               { return nil }


// A monitor writing percentage progress lines to a log, and aborting once its context is done
type LogMonitor struct {
	Ctx      context.Context
	Log      io.Writer
	ID       int            // image ID used as line prefix
	Step     int            // minimum change in percent between log lines, default 10

	info     string
	total    int64
	done     int64
	lastPct  int
}

// Creates a new log monitor for the given context and writer
func NewLogMonitor(ctx context.Context, log io.Writer, id int) *LogMonitor {
	return &LogMonitor{Ctx: ctx, Log: log, ID: id, Step: 10}
}

func (m *LogMonitor) Initialize(info string, total int64) {
	m.info, m.total, m.done, m.lastPct=info, total, 0, 0
	if m.Log!=nil { fmt.Fprintf(m.Log, "%d: %s\n", m.ID, info) }
}

func (m *LogMonitor) Add(units int64) error {
	if m.Ctx!=nil {
		if err:=m.Ctx.Err(); err!=nil {
			return fmt.Errorf("%w: %s: %v", sample.ErrAborted, m.info, err)
		}
	}
	m.done+=units
	if m.total<=0 || m.Log==nil { return nil }
	pct:=int(100*m.done/m.total)
	if pct>100 { pct=100 }
	step:=m.Step
	if step<=0 { step=10 }
	if pct-m.lastPct>=step || (pct==100 && m.lastPct<100) {
		m.lastPct=pct
		fmt.Fprintf(m.Log, "%d: %s %d%%\n", m.ID, m.info, pct)
	}
	return nil
}

// Returns the units reported so far
func (m *LogMonitor) Done() int64 { return m.done }
