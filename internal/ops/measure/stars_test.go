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

package measure

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"github.com/mlnoga/nightrestore/internal/ops"
	"github.com/mlnoga/nightrestore/internal/sample"
	"github.com/mlnoga/nightrestore/internal/star"
	"github.com/mlnoga/nightrestore/internal/synth"
)

func TestStarsOnSyntheticField(t *testing.T) {
	wd, err:=os.Getwd()
	if err!=nil { t.Fatal(err) }
	dir:=t.TempDir()
	if err:=os.Chdir(dir); err!=nil { t.Fatal(err) }
	defer os.Chdir(wd)

	c:=ops.NewContext(context.Background(), io.Discard)
	p:=synth.DefaultFieldParams(200, 160)
	p.Stars=10
	p.Margin=20
	syn:=ops.NewOpSynth(4, p, 3, sample.Uint16)
	f, err:=syn.Apply(nil, c)
	if err!=nil { t.Fatalf("synth: %v", err) }

	detect:=star.DefaultDetectParams()
	detect.Radius=8
	detect.InOutRatio=3
	op:=NewOpStars(detect, true, star.Gaussian, false, "stars%d.csv")
	if _, err:=op.Apply(f, c); err!=nil { t.Fatalf("apply: %v", err) }
	if len(f.Stars)<p.Stars-2 || len(f.Stars)>p.Stars {
		t.Errorf("found %d stars; want about %d", len(f.Stars), p.Stars)
	}
	fitted:=0
	for _, s:=range f.Stars {
		if s.PSF!=nil && s.PSF.Status==star.FittedOk { fitted++ }
	}
	if fitted<len(f.Stars)/2 { t.Errorf("%d of %d PSFs fitted", fitted, len(f.Stars)) }

	file, err:=os.Open(filepath.Join(dir, "stars4.csv"))
	if err!=nil { t.Fatalf("open csv: %v", err) }
	defer file.Close()
	lines:=0
	scanner:=bufio.NewScanner(file)
	for scanner.Scan() {
		if lines==0 && !strings.HasPrefix(scanner.Text(), "Index,") { t.Errorf("header %q", scanner.Text()) }
		lines++
	}
	if lines!=len(f.Stars)+1 { t.Errorf("csv has %d lines; want %d", lines, len(f.Stars)+1) }
}

func TestStarsJSONDefaults(t *testing.T) {
	op, err:=ops.ParseOperatorJSON5([]byte(`{type: "stars", function: "moffat", detect: {sigma: 5}}`))
	if err!=nil { t.Fatalf("parse: %v", err) }
	s:=op.(*OpStars)
	if s.Function!=star.Moffat || s.Detect.Sigma!=5 || s.Detect.Radius!=16 || !s.Fit || !s.Active {
		t.Errorf("parsed %+v", s)
	}
}
