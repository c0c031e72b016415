package dualq

// trace.go holds the trace manager that gathers queue disc activity
// for post-run analysis, and the glue that subscribes it to a queue
// disc's observer lists.  The queue disc publishes whether or not
// anything is listening.

import (
	"encoding/json"
	"os"
	"path"
	"strconv"

	"github.com/iti/evt/vrtime"
	"gopkg.in/yaml.v3"
)

// TraceRecordType distinguishes the records a trace file may hold
type TraceRecordType int

const (
	ProbType TraceRecordType = iota
	SojournType
)

var trtToStr map[TraceRecordType]string = map[TraceRecordType]string{
	ProbType: "prob", SojournType: "sojourn"}

// TraceInst is one gathered trace record, already serialized
type TraceInst struct {
	TraceTime string
	TraceType string
	TraceStr  string
}

// NameType is an entry in a dictionary created for a trace
// that maps object id numbers to a (name,type) pair
type NameType struct {
	Name string
	Type string
}

// TraceManager gathers information about an execution of a simulation
// model.  By testing the InUse flag we can inhibit the activity of
// gathering a trace when we don't want it, while embedding calls to its
// methods everywhere we need them when it is wanted.
type TraceManager struct {
	// experiment uses trace
	InUse bool `json:"inuse" yaml:"inuse"`

	// name of experiment
	ExpName string `json:"expname" yaml:"expname"`

	// text name associated with each objID
	NameByID map[int]NameType `json:"namebyid" yaml:"namebyid"`

	// all trace records for this experiment, keyed by the id of the
	// object that produced them
	Traces map[int][]TraceInst `json:"traces" yaml:"traces"`
}

// CreateTraceManager is a constructor.  It saves the name of the
// experiment and a flag indicating whether the trace manager is active.
func CreateTraceManager(expName string, active bool) *TraceManager {
	tm := new(TraceManager)
	tm.InUse = active
	tm.ExpName = expName
	tm.NameByID = make(map[int]NameType)
	tm.Traces = make(map[int][]TraceInst)
	return tm
}

// Active tells the caller whether the trace manager is actively being used
func (tm *TraceManager) Active() bool {
	return tm.InUse
}

// AddTrace stores a record of the trace under the id of its origin object
func (tm *TraceManager) AddTrace(vrt vrtime.Time, objID int, trace TraceInst) {
	if !tm.InUse {
		return
	}

	_, present := tm.Traces[objID]
	if !present {
		tm.Traces[objID] = make([]TraceInst, 0)
	}
	tm.Traces[objID] = append(tm.Traces[objID], trace)
}

// AddName is used to add an element to the id -> (name,type) dictionary for the trace file
func (tm *TraceManager) AddName(id int, name string, objDesc string) {
	if tm.InUse {
		_, present := tm.NameByID[id]
		if present {
			panic("duplicated id in AddName")
		}
		tm.NameByID[id] = NameType{Name: name, Type: objDesc}
	}
}

// WriteToFile stores the Traces struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (tm *TraceManager) WriteToFile(filename string) bool {
	if !tm.InUse {
		return false
	}
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*tm)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*tm, "", "\t")
	}

	if merr != nil {
		panic(merr)
	}

	f, cerr := os.Create(filename)
	if cerr != nil {
		panic(cerr)
	}
	_, werr := f.WriteString(string(bytes[:]))
	if werr != nil {
		panic(werr)
	}
	f.Close()
	return true
}

// ProbTrace records the controller probabilities after one update
type ProbTrace struct {
	Time        float64 // time in float64
	ObjID       int     // id of the queue disc that produced the record
	BaseProb    float64 // PI integrator value
	CoupledProb float64 // L4S coupled probability
	ClassicProb float64 // Classic drop/mark probability
}

func (pt *ProbTrace) TraceType() TraceRecordType {
	return ProbType
}

func (pt *ProbTrace) Serialize() string {
	bytes, merr := yaml.Marshal(*pt)
	if merr != nil {
		panic(merr)
	}
	return string(bytes[:])
}

// SojournTrace records the queueing delay of one item at dequeue
type SojournTrace struct {
	Time    float64 // time in float64
	ObjID   int     // id of the queue disc that produced the record
	Class   string  // "Classic" or "L4S"
	Sojourn float64 // queueing delay in seconds
}

func (st *SojournTrace) TraceType() TraceRecordType {
	return SojournType
}

func (st *SojournTrace) Serialize() string {
	bytes, merr := yaml.Marshal(*st)
	if merr != nil {
		panic(merr)
	}
	return string(bytes[:])
}

// HookQdiscTrace subscribes the trace manager to a queue disc's
// probability and sojourn publications
func HookQdiscTrace(tm *TraceManager, dq *DualQueueDisc) {
	tm.AddName(dq.QdiscID(), dq.QdiscName(), "qdisc")

	dq.AddProbObserver(func(now float64, baseProb, coupledProb, classicProb float64) {
		pt := new(ProbTrace)
		pt.Time = now
		pt.ObjID = dq.QdiscID()
		pt.BaseProb = baseProb
		pt.CoupledProb = coupledProb
		pt.ClassicProb = classicProb

		traceTime := strconv.FormatFloat(now, 'f', -1, 64)
		trcInst := TraceInst{TraceTime: traceTime, TraceType: trtToStr[ProbType], TraceStr: pt.Serialize()}
		tm.AddTrace(vrtime.SecondsToTime(now), dq.QdiscID(), trcInst)
	})

	dq.AddSojournObserver(func(now float64, class string, sojourn float64) {
		st := new(SojournTrace)
		st.Time = now
		st.ObjID = dq.QdiscID()
		st.Class = class
		st.Sojourn = sojourn

		traceTime := strconv.FormatFloat(now, 'f', -1, 64)
		trcInst := TraceInst{TraceTime: traceTime, TraceType: trtToStr[SojournType], TraceStr: st.Serialize()}
		tm.AddTrace(vrtime.SecondsToTime(now), dq.QdiscID(), trcInst)
	})
}
