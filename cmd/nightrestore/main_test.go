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

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func inTempDir(t *testing.T) {
	t.Helper()
	wd, err:=os.Getwd()
	if err!=nil { t.Fatal(err) }
	if err:=os.Chdir(t.TempDir()); err!=nil { t.Fatal(err) }
	t.Cleanup(func() { os.Chdir(wd) })
}

func run(t *testing.T, args ...string) error {
	t.Helper()
	root:=newRootCmd(context.Background())
	root.SetArgs(args)
	return root.Execute()
}

func TestSynthThenRestore(t *testing.T) {
	inTempDir(t)
	if err:=run(t, "synth", "--synthWidth", "64", "--synthHeight", "48", "--synthStars", "4", "--out", "field%d.tif"); err!=nil {
		t.Fatalf("synth: %v", err)
	}
	if _, err:=os.Stat("field0.tif"); err!=nil { t.Fatalf("synth output missing: %v", err) }

	if err:=run(t, "deconv", "--sigma", "1.5", "--out", "sharp%d.tif", "field0.tif"); err!=nil {
		t.Fatalf("deconv: %v", err)
	}
	if err:=run(t, "greyc", "--iterations", "1", "--amplitude", "20", "--out", "smooth%d.tif", "--preview", "preview%d.jpg", "sharp0.tif"); err!=nil {
		t.Fatalf("greyc: %v", err)
	}
	for _, name:=range []string{"sharp0.tif", "smooth0.tif", "preview0.tif"} {
		if _, err:=os.Stat(name); err!=nil { t.Errorf("%s missing: %v", name, err) }
	}
}

func TestRunConfig(t *testing.T) {
	inTempDir(t)
	config:=`{
		type: "seq",
		steps: [
			{ type: "synth", field: { width: 40, height: 40, stars: 2 } },
			{ type: "forEach", operation: { type: "seq", steps: [
				{ type: "greycstoration", params: { iterations: 1, amplitude: 20 } },
				{ type: "save", filePattern: "run%d.tif" },
			]}},
		],
	}`
	if err:=os.WriteFile("config.json5", []byte(config), 0644); err!=nil { t.Fatal(err) }
	if err:=run(t, "run", "config.json5"); err!=nil { t.Fatalf("run: %v", err) }
	if _, err:=os.Stat(filepath.Join(".", "run0.tif")); err!=nil { t.Errorf("run output missing: %v", err) }
}

func TestMissingInputs(t *testing.T) {
	inTempDir(t)
	if err:=run(t, "deconv"); err==nil { t.Errorf("deconv without inputs succeeded") }
	if err:=run(t, "run", "missing.json5"); err==nil { t.Errorf("run with missing config succeeded") }
}
