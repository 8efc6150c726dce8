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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"
	json5 "github.com/KevinWang15/go-json5"
	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"
	"github.com/mlnoga/nightrestore/internal/imageio"
	"github.com/mlnoga/nightrestore/internal/progress"
	"github.com/mlnoga/nightrestore/internal/sample"
	"github.com/mlnoga/nightrestore/internal/star"
	"github.com/mlnoga/nightrestore/internal/stats"
)

// An execution context for operators
type Context struct {
	Ctx              context.Context  // Cancels running engines when done
	Log              io.Writer
	MemoryMB         int              // memory.TotalMemory()/1024/1024
	EngineMemoryMB   int              // MemoryMB*7/10, working set budget for one engine run
	MaxThreads       int              `json:"maxThreads"`
	PhysicalCores    int              // as reported by cpuid, or MaxThreads if unknown
	Raw              imageio.RawDesc  // Layout of raw input files
}

func NewContext(ctx context.Context, log io.Writer) *Context {
	memoryMB:=int(memory.TotalMemory()/1024/1024)
	maxThreads:=runtime.GOMAXPROCS(0)
	cores:=cpuid.CPU.PhysicalCores
	if cores<=0 || cores>maxThreads { cores=maxThreads }
	return &Context{
		Ctx            : ctx,
		Log            : log,
		MemoryMB       : memoryMB,
		EngineMemoryMB : memoryMB*7/10,
		MaxThreads     : maxThreads,
		PhysicalCores  : cores,
	}
}

// Returns a progress monitor for the image with the given ID, which aborts once the context is done
func (c *Context) Monitor(id int) progress.Monitor {
	return progress.NewLogMonitor(c.Ctx, c.Log, id)
}


// An image moving through an operator pipeline, with results of measuring operators
type Frame struct {
	ID       int
	FileName string
	Image    sample.Image
	Stars    []star.Star      // Detected stars, if any
	Maps     []sample.Image   // Auxiliary outputs such as deringing maps
}

// Returns a short description of the frame dimensions, like 640x480x3+1 uint16
func (f *Frame) DimensionsToString() string {
	w, h:=f.Image.Dims()
	s:=fmt.Sprintf("%dx%dx%d", w, h, f.Image.NumNominal())
	if a:=f.Image.NumChannels()-f.Image.NumNominal(); a>0 { s+=fmt.Sprintf("+%d", a) }
	return s+" "+f.Image.SampleKind().String()
}

// Returns statistics across the nominal channels of the frame, including location, scale and noise
func (f *Frame) Stats() *stats.Basic {
	var data []float64
	for c:=0; c<f.Image.NumNominal(); c++ {
		data=append(data, f.Image.Channel64(c)...)
	}
	w, _:=f.Image.Dims()
	return stats.CalcExtended(data, w)
}


// A promise for a frame. Returns a materialized frame, or an error
type Promise func() (f *Frame, err error)

// Materializes all promises with given concurrency limit
func MaterializeAll(ins []Promise, maxThreads int, forget bool) (outs []*Frame, err error) {
	if len(ins)==0 { return nil, nil }
	if maxThreads<1 { maxThreads=1 }
	if !forget {
		outs=make([]*Frame, len(ins))
	}
	limiter:=make(chan bool, maxThreads)
	errs   :=make(chan error, len(ins))
	for i, in:=range ins {
		limiter <- true
		go func(i int, theIn Promise) {
			defer func() { <-limiter }()
			defer func() {
				if r:=recover(); r!=nil { errs <- fmt.Errorf("promise %d: %v", i, r) }
			}()
			f, err:=theIn() // materialize the promise
			if err!=nil {
				errs <- err
				return
			}
			if !forget {
				outs[i]=f
			}
			errs <- nil
		}(i, in)
	}
	for i:=0; i<cap(limiter); i++ {  // wait for goroutines to finish
		limiter <- true
	}
	for i:=0; i<len(ins); i++ {  // collect errors
		if e:=<-errs; e!=nil {
			if err==nil {
				err=e
			} else {
				err=fmt.Errorf("%w; %w", err, e)
			}
		}
	}
	return RemoveNils(outs), err
}

// Remove nils from an array of frames, editing the underlying array in place
func RemoveNils(frames []*Frame) []*Frame {
	o:=0
	for i:=0; i<len(frames); i++ {
		if frames[i]!=nil {
			frames[o]=frames[i]
			o++
		}
	}
	for i:=o; i<len(frames); i++ {
		frames[i]=nil
	}
	return frames[:o]
}


// An general image processing operator: takes n promises as inputs,
// and produces m promises as output or an error
type Operator interface {
	GetType() string
	IsActive() bool
	MakePromises(ins []Promise, c *Context) (outs []Promise, err error)
}

// Base type for operators, including type information for JSON serializing/deserializing
type OpBase struct {
	Type        string `json:"type"`
	Active      bool   `json:"active"`
}

func (op *OpBase) GetType() string { return op.Type }
func (op *OpBase) IsActive() bool { return op.Active }

// Reports whether the JSON object sets the active flag explicitly
func hasActive(data []byte) bool {
	var probe struct { Active *bool `json:"active"` }
	return json.Unmarshal(data, &probe)==nil && probe.Active!=nil
}

// Factory method for operators. For JSON serializing/deserializing
type OperatorFactory func() Operator

// Mapping from operator type strings to factory method for the type
var operatorFactories=map[string]OperatorFactory{}

// Returns the operator factory for a given type string
func GetOperatorFactory(t string) OperatorFactory {
	return operatorFactories[t]
}

// Registers a given type string for a given type of Operator, identified via an exemplar generator
func SetOperatorFactory(f OperatorFactory) {
	op:=f()
	t:=op.GetType()
	if GetOperatorFactory(t)!=nil { panic(fmt.Sprintf("error: re-registering operator key %s\n", t))}
	operatorFactories[t]=f
}


// A unary image processing operator: given n promises as inputs,
// applies itself to each of them individually and returns n output promises or an error
type OperatorUnary interface {
	Operator
	Apply(f *Frame, c *Context) (fOut *Frame, err error)
}

// Abstract base type for unary operators. Uses golang workaround for abstract classes
// from https://golangbyexample.com/go-abstract-class/
type OpUnaryBase struct {
	OpBase
	Apply func(f *Frame, c *Context) (fOut *Frame, err error) `json:"-"`
}

func (op *OpUnaryBase) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins)==0 { return nil, fmt.Errorf("unary operator %s with %d inputs", op.Type, len(ins)) }
	outs=make([]Promise, len(ins))
	for i, in:=range ins {
		outs[i]=op.MakePromise(in, c)
	}
	return outs, nil
}

func (op *OpUnaryBase) MakePromise(in Promise, c *Context) (out Promise) {
	return func() (f *Frame, err error) {
		if f, err=in();          err!=nil { return nil, err } // materialize input promise
		if f, err=op.Apply(f,c); err!=nil { return nil, err } // apply unary operator
		return f, nil                                         // wrap output in promise
	}
}


// Load a single image from a single filename. TIFF files are decoded, all other files
// are read as raw planar dumps with the context's raw layout. Takes zero inputs, produces one output
type OpLoad struct {
	OpBase
	ID 		    int     `json:"id"`
	FileName    string  `json:"fileName"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpLoadDefault()}) } // register the operator for JSON decoding

func NewOpLoadDefault() *OpLoad { return NewOpLoad(0, "") }

func NewOpLoad(id int, fileName string) *OpLoad {
	return &OpLoad{
		OpBase   : OpBase{Type: "load", Active: true},
		ID       : id,
		FileName : fileName,
	}
}

// Load image from a file
func (op *OpLoad) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins)>0 { return nil, fmt.Errorf("%s operator with non-zero input", op.Type) }
	if !IsPathAllowed(op.FileName) { return nil, errors.New("filename outside current directory tree, aborting") }

	out:=func() (f *Frame, err error) {
		return op.Apply(nil, c)
	}
	return []Promise{out}, nil
}

// Returns true if a path is considered safe, i.e. not an absolute path,
// and doesn't contain the ".." characters to change to a parent directory
func IsPathAllowed(p string) bool {
	if filepath.IsAbs(p) { return false }          // relative paths only
	if strings.Contains(p, "..") { return false }  // no going outside the tree
	return true
}

func isTIFF(fileName string) bool {
	fnLower:=strings.ToLower(fileName)
	return strings.HasSuffix(fnLower, ".tif") || strings.HasSuffix(fnLower, ".tiff")
}

func (op *OpLoad) Apply(f *Frame, c *Context) (result *Frame, err error) {
	var img sample.Image
	if isTIFF(op.FileName) {
		img, err=imageio.ReadTIFFFromFile(op.FileName)
	} else {
		img, err=imageio.ReadRawFromFile(op.FileName, c.Raw)
	}
	if err!=nil { return nil, err }
	f=&Frame{ID: op.ID, FileName: op.FileName, Image: img}

	st:=f.Stats()
	warning:=""
	if st.Max-st.Min<1e-8 {
		warning="; WARNING low dynamic range"
	}
	fmt.Fprintf(c.Log, "%d: Loaded %s image with %v from %s%s\n", f.ID, f.DimensionsToString(), st, f.FileName, warning)
	return f, nil
}

// Load many images from a slice of filename patterns with wildcards.
// Takes zero inputs, produces n outputs
type OpLoadMany struct {
	OpBase
	FilePatterns []string `json:"filePatterns"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpLoadManyDefault()}) } // register the operator for JSON decoding

func NewOpLoadManyDefault() *OpLoadMany { return NewOpLoadMany(nil) }

func NewOpLoadMany(filePatterns []string) *OpLoadMany {
	return &OpLoadMany{
		OpBase       : OpBase{Type: "loadMany", Active: true},
		FilePatterns : filePatterns,
	}
}

// Turn filename wildcards into list of file load operators
func (op *OpLoadMany) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins)>0 { return nil, fmt.Errorf("%s operator with non-zero input", op.Type) }
	for _, pattern:=range op.FilePatterns {
		matches, err:=filepath.Glob(pattern)
		if err!=nil { return nil, err }
		for _, match:=range matches {
			if !IsPathAllowed(match) {
				fmt.Fprintf(c.Log, "Pattern match outside current directory tree, skipping\n")
				continue
			}
			promises, err:=NewOpLoad(len(outs), match).MakePromises(nil, c)
			if err!=nil { return nil, err }
			outs=append(outs, promises[0])
		}
	}
	if len(outs)==0 {
		return nil, fmt.Errorf("%s operator with no files to load from pattern %v", op.Type, op.FilePatterns)
	}
	fmt.Fprintf(c.Log, "Found %d files.\n", len(outs))
	return outs, nil
}


// Saves given promise under a given filename, with pattern expansion for %d based on the image id.
// The suffix selects the format: .tif/.tiff for 16-bit TIFF, .jpg/.jpeg for JPEG, else a raw dump.
// Takes one input, produces one output (the materialized but unchanged input)
type OpSave struct {
	OpUnaryBase
	FilePattern       string            `json:"filePattern"`
	Stretch           imageio.Stretch   `json:"stretch"`
	Quality           int               `json:"quality"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpSaveDefault()}) } // register the operator for JSON decoding

func NewOpSaveDefault() *OpSave { return NewOpSave("") }

func NewOpSave(filenamePattern string) *OpSave {
	op:=OpSave{
		OpUnaryBase : OpUnaryBase{OpBase : OpBase{Type: "save", Active: filenamePattern!=""}},
		FilePattern : filenamePattern,
		Stretch     : imageio.DefaultStretch(),
		Quality     : 95,
	}
	op.OpUnaryBase.Apply=op.Apply // assign class method to superclass abstract method
	return &op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpSave) UnmarshalJSON(data []byte) error {
	type defaults OpSave
	def:=defaults( *NewOpSaveDefault() )
	err:=json.Unmarshal(data, &def)
	if err!=nil { return err }
	*op=OpSave(def)
	if !hasActive(data) { op.Active=op.FilePattern!="" }
	op.OpUnaryBase.Apply=op.Apply
	return nil
}

// Expands a %d in the file pattern with the image ID
func (op *OpSave) FileName(id int) string {
	if strings.Contains(op.FilePattern, "%d") {
		return fmt.Sprintf(op.FilePattern, id)
	}
	return op.FilePattern
}

func (op *OpSave) Apply(f *Frame, c *Context) (result *Frame, err error) {
	if !op.Active || op.FilePattern=="" { return f, nil }
	fileName:=op.FileName(f.ID)
	if !IsPathAllowed(fileName) { return nil, fmt.Errorf("%d: filename %s outside current directory tree", f.ID, fileName) }
	fnLower:=strings.ToLower(fileName)

	if isTIFF(fileName) {
		fmt.Fprintf(c.Log, "%d: Writing %s pixel TIFF to %s\n", f.ID, f.DimensionsToString(), fileName)
		err=imageio.WriteTIFF16ToFile(fileName, f.Image, op.Stretch)
	} else if strings.HasSuffix(fnLower,".jpeg") || strings.HasSuffix(fnLower,".jpg") {
		fmt.Fprintf(c.Log, "%d: Writing %s pixel JPEG to %s\n", f.ID, f.DimensionsToString(), fileName)
		err=imageio.WriteJPGToFile(fileName, f.Image, op.Stretch, op.Quality)
	} else {
		fmt.Fprintf(c.Log, "%d: Writing %s pixel raw dump to %s\n", f.ID, f.DimensionsToString(), fileName)
		_, err=imageio.WriteRawToFile(fileName, f.Image)
	}
	if err!=nil { return nil, fmt.Errorf("%d: error writing to file %s: %w", f.ID, fileName, err) }
	return f, nil
}


// Applies a sequence of operators to a promise. Number of inputs, outputs as per the chained steps
type OpSequence struct {
	OpBase
	Steps       []Operator        `json:"-"`      // the actual steps
	StepsRaw    []json.RawMessage `json:"steps"`  // helper for unmarshaling
}

func init() { SetOperatorFactory(func() Operator { return NewOpSequenceDefault()}) } // register the operator for JSON decoding

func NewOpSequenceDefault() *OpSequence { return NewOpSequence() }

func NewOpSequence(steps ...Operator) *OpSequence {
	return &OpSequence{
		OpBase : OpBase{Type: "seq", Active: len(steps)>0},
		Steps  : steps,
	}
}

// Unmarshals a sequence of polymorphic operators from JSON.
// Uses temporary op.StepsRaw inspired by https://alexkappa.medium.com/json-polymorphism-in-go-4cade1e58ed1
func (op *OpSequence) UnmarshalJSON(b []byte) error {
	type alias OpSequence
	err:=json.Unmarshal(b, (*alias)(op))
	if err!=nil { return err }

	for _, raw:=range op.StepsRaw {
		var step OpBase
		err=json.Unmarshal(raw, &step)
		if err!=nil { return err }

		factory:=GetOperatorFactory(step.Type)
		if factory==nil {
			return fmt.Errorf("%w: unknown operator type '%s' in raw JSON message '%s'", sample.ErrConfiguration, step.Type, string(raw))
		}
		i:=factory()
		err=json.Unmarshal(raw, i)
		if err!=nil { return err }
		op.Steps=append(op.Steps, i)
	}
	op.StepsRaw=nil
	if !hasActive(b) { op.Active=len(op.Steps)>0 }
	return nil
}

// Appends one or more operators to the existing sequence
func (op *OpSequence) Append(steps ...Operator) {
	op.Steps=append(op.Steps, steps...)
	op.Active=op.Active || len(steps)>0
}

// Marshals a sequence with polymorphic operators to JSON.
// Uses the actual op.Steps with label "steps", and ignores op.StepsRaw
func (op *OpSequence) MarshalJSON() (bs []byte, err error) {
	buf:=bytes.Buffer{}
	buf.WriteString("{\"type\":")
	inner, err:=json.Marshal(op.Type)
	if err!=nil { return nil, err }
	buf.Write(inner)
	fmt.Fprintf(&buf,", \"active\":%v, \"steps\":", op.Active)
	inner, err=json.Marshal(op.Steps)
	if err!=nil { return nil, err }
	buf.Write(inner)
	buf.WriteRune('}')
	return buf.Bytes(), nil
}

func (op *OpSequence) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	return op.applyRecursive(op.Steps, ins, c)
}

func (op *OpSequence) applyRecursive(steps []Operator, ins []Promise, c *Context) (outs []Promise, err error) {
	if len(steps)==0 { return ins, nil }
	if steps[0].IsActive() {
		ins, err=steps[0].MakePromises(ins, c)
		if err!=nil { return nil, err }
	}
	return op.applyRecursive(steps[1:], ins, c)
}


// Applies a single operator to each input. Takes n inputs, produces n outputs
type OpForEach struct {
	OpBase
	Operation    Operator  `json:"-"`
	OperationRaw json.RawMessage `json:"operation"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpForEachDefault()}) } // register the operator for JSON decoding

func NewOpForEachDefault() *OpForEach { return NewOpForEach(nil) }

func NewOpForEach(operation Operator) *OpForEach {
	return &OpForEach{
		OpBase    : OpBase{Type: "forEach", Active: operation!=nil},
		Operation : operation,
	}
}

// Unmarshals the polymorphic embedded operation from JSON
func (op *OpForEach) UnmarshalJSON(b []byte) error {
	type alias OpForEach
	if err:=json.Unmarshal(b, (*alias)(op)); err!=nil { return err }
	if len(op.OperationRaw)!=0 {
		inner, err:=UnmarshalOperator(op.OperationRaw)
		if err!=nil { return err }
		op.Operation, op.OperationRaw=inner, nil
	}
	if !hasActive(b) { op.Active=op.Operation!=nil }
	return nil
}

func (op *OpForEach) MarshalJSON() ([]byte, error) {
	inner, err:=json.Marshal(op.Operation)
	if err!=nil { return nil, err }
	type alias OpForEach
	a:=alias(*op)
	a.OperationRaw=inner
	return json.Marshal(a)
}

// Applies the operation to each input individually
func (op *OpForEach) MakePromises(ins []Promise, c *Context) (outs []Promise, err error) {
	if len(ins)==0 { return ins, nil }
	if op.Operation==nil { return nil, fmt.Errorf("%s operator has no operation to apply", op.Type)}
	for _, in:=range ins {
		out, err:=op.Operation.MakePromises([]Promise{in}, c)
		if err!=nil { return nil, err }
		if len(out)!=1 { return nil, fmt.Errorf("%s operator needs exactly one promise from embedded operation", op.Type)}
		outs=append(outs, out[0])
	}
	return outs, nil
}


// Unmarshals a single polymorphic operator from JSON, dispatching on its type field
func UnmarshalOperator(raw []byte) (Operator, error) {
	var base OpBase
	if err:=json.Unmarshal(raw, &base); err!=nil { return nil, err }
	factory:=GetOperatorFactory(base.Type)
	if factory==nil {
		return nil, fmt.Errorf("%w: unknown operator type '%s'", sample.ErrConfiguration, base.Type)
	}
	op:=factory()
	if err:=json.Unmarshal(raw, op); err!=nil { return nil, err }
	return op, nil
}

// Parses an operator from JSON5 text, which allows comments, trailing commas and unquoted keys.
// The text is normalized to plain JSON first, so operators keep their defaults for missing entries
func ParseOperatorJSON5(data []byte) (Operator, error) {
	var tree interface{}
	if err:=json5.Unmarshal(data, &tree); err!=nil {
		return nil, fmt.Errorf("%w: %v", sample.ErrConfiguration, err)
	}
	canonical, err:=json.Marshal(tree)
	if err!=nil { return nil, err }
	return UnmarshalOperator(canonical)
}
