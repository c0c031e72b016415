package dualq

// cfg.go holds the serializable configuration structures for the queue
// disc and the wireless link model, and the run-time parameter
// machinery that applies experiment configuration lists to the objects
// they select.

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strconv"

	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v3"
)

// A DualQCfg struct describes the configuration of one dual-queue
// coupled AQM instance.  It is pointer free so that it serializes
// directly to yaml or json.
type DualQCfg struct {
	// Name identifies the queue disc instance, unique within a model
	Name string `json:"name" yaml:"name"`

	// Groups lists configuration groups the instance belongs to
	Groups []string `json:"groups" yaml:"groups"`

	// QueueLimit is the aggregate byte capacity across both sub-queues
	QueueLimit int `json:"queuelimit" yaml:"queuelimit"`

	// Alpha is the PI proportional gain (Hz)
	Alpha float64 `json:"alpha" yaml:"alpha"`

	// Beta is the PI derivative gain (Hz)
	Beta float64 `json:"beta" yaml:"beta"`

	// Tupdate is the controller update period (seconds)
	Tupdate float64 `json:"tupdate" yaml:"tupdate"`

	// Target is the Classic queue delay target (seconds)
	Target float64 `json:"target" yaml:"target"`

	// MarkThreshold is the L4S step-marking sojourn threshold (seconds)
	MarkThreshold float64 `json:"markthreshold" yaml:"markthreshold"`

	// DisableLaqm suppresses the native L4S threshold function,
	// leaving the coupled probability as the only source of L4S marks
	DisableLaqm bool `json:"disablelaqm" yaml:"disablelaqm"`

	// CouplingFactor scales the base probability into the coupled
	// L4S marking probability
	CouplingFactor float64 `json:"couplingfactor" yaml:"couplingfactor"`

	// Quantum is the DRR byte credit added to the Classic deficit
	// each round
	Quantum int `json:"quantum" yaml:"quantum"`

	// Weight multiplies the quantum credited to the L4S deficit
	Weight float64 `json:"weight" yaml:"weight"`

	// MTU is the device MTU in bytes.  Zero means adopt the MTU of
	// the attached link at initialization.
	MTU int `json:"mtu" yaml:"mtu"`

	// FramingBytes is the per-packet framing overhead the downstream
	// link adds when it consumes items.  Zero means adopt the attached
	// link's value.
	FramingBytes int `json:"framingbytes" yaml:"framingbytes"`

	// StartTime is the virtual time (seconds) of the first controller update
	StartTime float64 `json:"starttime" yaml:"starttime"`

	// Trace switches trace gathering for this instance
	Trace bool `json:"trace" yaml:"trace"`
}

// CreateDualQCfg is a constructor giving every parameter its default value
func CreateDualQCfg(name string) *DualQCfg {
	cfg := new(DualQCfg)
	cfg.Name = name
	cfg.Groups = []string{}
	cfg.QueueLimit = 1562500 // 250 ms at 50 Mbps
	cfg.Alpha = 0.15
	cfg.Beta = 3.0
	cfg.Tupdate = 0.015
	cfg.Target = 0.015
	cfg.MarkThreshold = 475e-6
	cfg.DisableLaqm = false
	cfg.CouplingFactor = 2.0
	cfg.Quantum = 1500
	cfg.Weight = 9.0
	cfg.MTU = 0
	cfg.FramingBytes = 0
	cfg.StartTime = 0.0
	cfg.Trace = false
	return cfg
}

// WriteToFile stores the DualQCfg struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (cfg *DualQCfg) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*cfg)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*cfg, "", "\t")
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
	return werr
}

// ReadDualQCfg deserializes a byte slice holding a representation of a
// DualQCfg struct.  If the input dict of bytes is empty, the file whose
// name is given is read to acquire them.
func ReadDualQCfg(filename string, useYAML bool, dict []byte) (*DualQCfg, error) {
	var err error
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := DualQCfg{}
	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}
	if err != nil {
		return nil, err
	}
	return &example, nil
}

// A LinkCfg struct describes the configuration of a wireless link model
type LinkCfg struct {
	// Name identifies the link instance
	Name string `json:"name" yaml:"name"`

	// Groups lists configuration groups the link belongs to
	Groups []string `json:"groups" yaml:"groups"`

	// Bandwidth is the link service rate in Mbits/sec
	Bandwidth float64 `json:"bandwidth" yaml:"bandwidth"`

	// MTU is the largest item the link carries, in bytes
	MTU int `json:"mtu" yaml:"mtu"`

	// FramingBytes is the per-packet aggregation framing overhead
	FramingBytes int `json:"framingbytes" yaml:"framingbytes"`

	// AggLimit is the most framed bytes one transmit opportunity carries
	AggLimit int `json:"agglimit" yaml:"agglimit"`

	// AccessDelay is the mean delay (seconds) between winning
	// successive transmit opportunities
	AccessDelay float64 `json:"accessdelay" yaml:"accessdelay"`

	// Jitter is the fraction of the service time sampled uniformly as
	// extra per-transmission delay
	Jitter float64 `json:"jitter" yaml:"jitter"`

	// Trace switches trace gathering for this link
	Trace bool `json:"trace" yaml:"trace"`
}

// CreateLinkCfg is a constructor giving every parameter its default value
func CreateLinkCfg(name string) *LinkCfg {
	lc := new(LinkCfg)
	lc.Name = name
	lc.Groups = []string{}
	lc.Bandwidth = 50.0
	lc.MTU = 1500
	lc.FramingBytes = 38
	lc.AggLimit = 65535
	lc.AccessDelay = 1e-3
	lc.Jitter = 0.1
	lc.Trace = false
	return lc
}

// WriteToFile stores the LinkCfg struct to the file whose name is given.
// Serialization to json or to yaml is selected based on the extension of this name.
func (lc *LinkCfg) WriteToFile(filename string) error {
	pathExt := path.Ext(filename)
	var bytes []byte
	var merr error = nil

	if pathExt == ".yaml" || pathExt == ".YAML" || pathExt == ".yml" {
		bytes, merr = yaml.Marshal(*lc)
	} else if pathExt == ".json" || pathExt == ".JSON" {
		bytes, merr = json.MarshalIndent(*lc, "", "\t")
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
	return werr
}

// ReadLinkCfg deserializes a byte slice holding a representation of a
// LinkCfg struct, reading the named file when the slice is empty
func ReadLinkCfg(filename string, useYAML bool, dict []byte) (*LinkCfg, error) {
	var err error
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := LinkCfg{}
	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}
	if err != nil {
		return nil, err
	}
	return &example, nil
}

// A valueStruct type holds the different types a run-time parameter
// value might have; which one applies is known from context
type valueStruct struct {
	intValue    int
	floatValue  float64
	stringValue string
	boolValue   bool
}

// stringToValueStruct takes a string from a configuration file and
// determines whether it is an integer, floating point, boolean, or string
func stringToValueStruct(v string) valueStruct {
	vs := valueStruct{intValue: 0, floatValue: 0.0, stringValue: "", boolValue: false}

	// try conversion to int
	ivalue, ierr := strconv.Atoi(v)
	if ierr == nil {
		vs.intValue = ivalue
		vs.floatValue = float64(ivalue)
		return vs
	}

	// failing that, try conversion to float
	fvalue, ferr := strconv.ParseFloat(v, 64)
	if ferr == nil {
		vs.floatValue = fvalue
		return vs
	}

	// left with it being a string.  See if true, True
	if v == "true" || v == "True" {
		vs.boolValue = true
		return vs
	}

	vs.stringValue = v
	return vs
}

// AttrbStruct pairs an attribute name with the value an object must
// carry for a parameter to apply
type AttrbStruct struct {
	AttrbName  string `json:"attrbname" yaml:"attrbname"`
	AttrbValue string `json:"attrbvalue" yaml:"attrbvalue"`
}

// An ExpParameter names one parameter assignment and the attributes an
// object must match to receive it.  An attribute name of "*" applies
// the assignment to every object of the selected type.
type ExpParameter struct {
	// ParamObj selects the object type, "Qdisc" or "Link"
	ParamObj string `json:"paramobj" yaml:"paramobj"`

	// Attributes all need to match for the assignment to apply
	Attributes []AttrbStruct `json:"attributes" yaml:"attributes"`

	// Param is the name of the parameter being set
	Param string `json:"param" yaml:"param"`

	// Value is the string representation of the value to assign
	Value string `json:"value" yaml:"value"`
}

// An ExpCfg holds a list of run-time parameter assignments for an experiment
type ExpCfg struct {
	// Name is an identifier for the experiment
	Name string `json:"name" yaml:"name"`

	// Parameters lists the assignments, applied in order
	Parameters []ExpParameter `json:"parameters" yaml:"parameters"`
}

// ReadExpCfg deserializes a byte slice holding a representation of an
// ExpCfg struct, reading the named file when the slice is empty
func ReadExpCfg(filename string, useYAML bool, dict []byte) (*ExpCfg, error) {
	var err error
	if len(dict) == 0 {
		dict, err = os.ReadFile(filename)
		if err != nil {
			return nil, err
		}
	}

	example := ExpCfg{}
	if useYAML {
		err = yaml.Unmarshal(dict, &example)
	} else {
		err = json.Unmarshal(dict, &example)
	}
	if err != nil {
		return nil, err
	}
	return &example, nil
}

// paramObj is satisfied by every object that can be configured at
// run-time with experiment parameters.  These are DualQueueDisc and
// WirelessLink.
type paramObj interface {
	matchParam(attrbName, attrbValue string) bool
	setParam(param string, value valueStruct)
	paramObjName() string
	paramObjType() string
}

// matchGroups is shared by paramObj implementations testing the
// "group" attribute
func matchGroups(groups []string, attrbValue string) bool {
	return slices.Contains(groups, attrbValue)
}

// ApplyExpParameters walks the experiment parameter list in order and
// applies each assignment to every offered object whose type and
// attributes match.  Wildcard assignments should appear before more
// specific ones so that the specific assignments overwrite them.
func ApplyExpParameters(expCfg *ExpCfg, objs []paramObj) {
	for _, param := range expCfg.Parameters {
		for _, testObj := range objs {
			if testObj.paramObjType() != param.ParamObj {
				continue
			}

			var matched bool = true
			for _, attrb := range param.Attributes {
				// wild card overrides all
				if attrb.AttrbName == "*" {
					matched = true
					break
				}

				// if any of the attributes don't match we don't match
				if !testObj.matchParam(attrb.AttrbName, attrb.AttrbValue) {
					matched = false
					break
				}
			}

			if matched {
				vs := stringToValueStruct(param.Value)
				testObj.setParam(param.Param, vs)
			}
		}
	}
}

// ReportErrs collapses a list of error values into one, skipping nils
func ReportErrs(errs []error) error {
	errMsg := ""
	for _, err := range errs {
		if err != nil {
			errMsg += fmt.Sprintf("%s\n", err.Error())
		}
	}
	if len(errMsg) == 0 {
		return nil
	}
	return fmt.Errorf("%s", errMsg)
}
