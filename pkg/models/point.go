package models

import "time"

// Axis names the voltage swept by the inner loop of a sweep
type Axis string

const (
	AxisVD Axis = "VD"
	AxisVG Axis = "VG"
)

// Direction is the traversal direction of an inner sweep
type Direction string

const (
	Forward Direction = "forward"
	Reverse Direction = "reverse"
)

// MeasurementPoint represents a single reading taken during a sweep
type MeasurementPoint struct {
	Seq         int       `json:"seq" doc:"1-based emission order within the run"`
	Axis        Axis      `json:"axis" enum:"VD,VG" doc:"Swept voltage"`
	SweptValue  float64   `json:"swept_value" doc:"Swept voltage in V"`
	FixedValue  float64   `json:"fixed_value" doc:"Held voltage in V"`
	IDS         float64   `json:"ids" doc:"Drain-source current in A"`
	IG          float64   `json:"ig" doc:"Gate current in A"`
	OuterIndex  int       `json:"outer_index" doc:"Index of the held value"`
	InnerIndex  int       `json:"inner_index" doc:"Index within the inner sweep, in traversal order"`
	Direction   Direction `json:"direction" enum:"forward,reverse" doc:"Inner sweep direction"`
	ProgressPct float64   `json:"progress_pct" minimum:"0" maximum:"100" doc:"Run progress percentage"`
	Timestamp   time.Time `json:"timestamp" doc:"When the reading completed"`
}
