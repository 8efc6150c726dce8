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

package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestAlsoToFile(t *testing.T) {
	var out bytes.Buffer
	defer func(w interface{ Write([]byte) (int, error) }) { stdout=w }(stdout)
	stdout=&out

	name:=filepath.Join(t.TempDir(), "run.log")
	if err:=AlsoToFile(name); err!=nil { t.Fatalf("open: %v", err) }
	Printf("%d: hello\n", 7)
	Println("done")
	if err:=Close(); err!=nil { t.Fatalf("close: %v", err) }
	Printf("stdout only\n")

	want:="7: hello\ndone\n"
	if out.String()!=want+"stdout only\n" { t.Errorf("stdout got %q", out.String()) }
	data, err:=os.ReadFile(name)
	if err!=nil { t.Fatalf("read: %v", err) }
	if string(data)!=want { t.Errorf("log file got %q; want %q", data, want) }
}
