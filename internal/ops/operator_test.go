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

package ops

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"github.com/mlnoga/nightrestore/internal/sample"
	"github.com/mlnoga/nightrestore/internal/synth"
)

func testContext() *Context {
	return NewContext(context.Background(), io.Discard)
}

// Runs f with the working directory set to a fresh temporary directory
func inTempDir(t *testing.T, f func()) {
	wd, err:=os.Getwd()
	if err!=nil { t.Fatal(err) }
	if err:=os.Chdir(t.TempDir()); err!=nil { t.Fatal(err) }
	defer os.Chdir(wd)
	f()
}

func TestMaterializeAll(t *testing.T) {
	errOdd:=errors.New("odd")
	ins:=make([]Promise, 7)
	for i:=range ins {
		i:=i
		ins[i]=func() (*Frame, error) {
			if i%2==1 { return nil, errOdd }
			return &Frame{ID: i}, nil
		}
	}
	outs, err:=MaterializeAll(ins, 3, false)
	if !errors.Is(err, errOdd) { t.Errorf("got %v; want joined odd errors", err) }
	if strings.Count(err.Error(), "odd")!=3 { t.Errorf("error %q; want three parts", err) }
	if len(outs)!=4 { t.Fatalf("%d outputs; want 4", len(outs)) }
	for i, f:=range outs {
		if f.ID!=2*i { t.Errorf("output %d has ID %d; want %d", i, f.ID, 2*i) }
	}
}

func TestMaterializeAllRecoversPanics(t *testing.T) {
	ins:=[]Promise{ func() (*Frame, error) { panic("boom") } }
	if _, err:=MaterializeAll(ins, 1, false); err==nil || !strings.Contains(err.Error(), "boom") {
		t.Errorf("got %v; want recovered panic", err)
	}
}

func TestIsPathAllowed(t *testing.T) {
	for p, want:=range map[string]bool{"a.tif": true, "out/b.raw": true, "/etc/passwd": false, "../x.tif": false} {
		if got:=IsPathAllowed(p); got!=want { t.Errorf("IsPathAllowed(%q)=%v; want %v", p, got, want) }
	}
}

func TestParseSequenceJSON5(t *testing.T) {
	cfg:=`{
		// a synthetic field, saved as raw dump
		type: "seq", active: true,
		steps: [
			{type: "synth", id: 3, field: {width: 64, height: 48, stars: 4, noise: 0.001}, kind: "float32"},
			{type: "forEach", active: true, operation: {type: "save", filePattern: "out%d.raw"}},
		],
	}`
	op, err:=ParseOperatorJSON5([]byte(cfg))
	if err!=nil { t.Fatalf("parse: %v", err) }
	seq, ok:=op.(*OpSequence)
	if !ok || len(seq.Steps)!=2 { t.Fatalf("parsed %T with steps %v", op, seq) }
	s, ok:=seq.Steps[0].(*OpSynth)
	if !ok { t.Fatalf("step 0 is %T", seq.Steps[0]) }
	if s.ID!=3 || s.Field.Width!=64 || s.Field.Stars!=4 || s.Kind!=sample.Float32 {
		t.Errorf("synth step %+v", s)
	}
	if s.Field.Background!=0.05 || s.Channels!=1 || !s.Active {
		t.Errorf("defaults lost: background %g channels %d active %v", s.Field.Background, s.Channels, s.Active)
	}
	fe, ok:=seq.Steps[1].(*OpForEach)
	if !ok { t.Fatalf("step 1 is %T", seq.Steps[1]) }
	save, ok:=fe.Operation.(*OpSave)
	if !ok || save.FileName(3)!="out3.raw" || save.Quality!=95 || !save.Active {
		t.Errorf("save step %+v", fe.Operation)
	}

	inTempDir(t, func() {
		c:=testContext()
		promises, err:=seq.MakePromises(nil, c)
		if err!=nil { t.Fatalf("promises: %v", err) }
		frames, err:=MaterializeAll(promises, c.MaxThreads, false)
		if err!=nil || len(frames)!=1 { t.Fatalf("materialize: %d frames, %v", len(frames), err) }
		info, err:=os.Stat("out3.raw")
		if err!=nil { t.Fatalf("stat: %v", err) }
		if info.Size()!=64*48*4 { t.Errorf("dump has %d bytes; want %d", info.Size(), 64*48*4) }

		loaded, err:=MaterializeAll(must(t, NewOpLoadMany([]string{"out*.raw"}), c), 1, false)
		if err==nil || len(loaded)!=0 {
			t.Errorf("loading without raw layout: %d frames, %v", len(loaded), err)
		}
		c.Raw.Width, c.Raw.Height, c.Raw.Channels, c.Raw.Kind=64, 48, 1, sample.Float32
		loaded, err=MaterializeAll(must(t, NewOpLoadMany([]string{"out*.raw"}), c), 1, false)
		if err!=nil || len(loaded)!=1 { t.Fatalf("load: %d frames, %v", len(loaded), err) }
		a, b:=frames[0].Image.Channel64(0), loaded[0].Image.Channel64(0)
		for i:=range a {
			if a[i]!=b[i] { t.Fatalf("sample %d differs after save and load", i) }
		}
	})
}

func must(t *testing.T, op Operator, c *Context) []Promise {
	promises, err:=op.MakePromises(nil, c)
	if err!=nil { t.Fatalf("%s: %v", op.GetType(), err) }
	return promises
}

func TestSequenceMarshalRoundTrip(t *testing.T) {
	seq:=NewOpSequence(NewOpSynth(1, synth.DefaultFieldParams(32, 32), 3, sample.Uint8), NewOpForEach(NewOpSave("x.tif")))
	data, err:=seq.MarshalJSON()
	if err!=nil { t.Fatalf("marshal: %v", err) }
	op, err:=ParseOperatorJSON5(data)
	if err!=nil { t.Fatalf("parse %s: %v", data, err) }
	back:=op.(*OpSequence)
	if len(back.Steps)!=2 || back.Steps[0].(*OpSynth).Channels!=3 || back.Steps[1].(*OpForEach).Operation.(*OpSave).FilePattern!="x.tif" {
		t.Errorf("round trip of %s gave %+v", data, back.Steps)
	}
}

func TestUnknownOperator(t *testing.T) {
	if _, err:=ParseOperatorJSON5([]byte(`{type: "sharpen"}`)); !errors.Is(err, sample.ErrConfiguration) {
		t.Errorf("got %v; want ErrConfiguration", err)
	}
	if _, err:=ParseOperatorJSON5([]byte(`{type: `)); !errors.Is(err, sample.ErrConfiguration) {
		t.Errorf("truncated input: got %v; want ErrConfiguration", err)
	}
}

func TestSynthRejectsBadLayout(t *testing.T) {
	op:=NewOpSynth(0, synth.DefaultFieldParams(16, 16), 2, sample.Uint16)
	if _, err:=op.Apply(nil, testContext()); !errors.Is(err, sample.ErrConfiguration) {
		t.Errorf("two channels: got %v; want ErrConfiguration", err)
	}
}
