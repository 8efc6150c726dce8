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


package progress

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"github.com/mlnoga/nightrestore/internal/sample"
)

func TestStateConcurrentAdd(t *testing.T) {
	s:=&State{}
	var wg sync.WaitGroup
	for i:=0; i<8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j:=0; j<1000; j++ { s.Add(1) }
		}()
	}
	wg.Wait()
	if got:=s.Drain(); got!=8000 {
		t.Errorf("drained %d expect 8000", got)
	}
	if got:=s.Drain(); got!=0 {
		t.Errorf("second drain %d expect 0", got)
	}
	if s.Aborted() { t.Errorf("aborted without request") }
	s.Abort()
	if !s.Aborted() { t.Errorf("abort not visible") }
}

func TestLogMonitor(t *testing.T) {
	var buf bytes.Buffer
	ctx, cancel:=context.WithCancel(context.Background())
	m:=NewLogMonitor(ctx, &buf, 3)
	m.Initialize("Diffusing", 200)
	for i:=0; i<4; i++ {
		if err:=m.Add(50); err!=nil { t.Fatal(err) }
	}
	if !strings.Contains(buf.String(), "3: Diffusing 100%") {
		t.Errorf("missing completion line in %q", buf.String())
	}
	cancel()
	if err:=m.Add(1); !errors.Is(err, sample.ErrAborted) {
		t.Errorf("got %v expect ErrAborted", err)
	}
}
