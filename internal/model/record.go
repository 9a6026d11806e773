// Package model defines the shared domain types of the effort engine.
package model

import "time"

// Column names of the effort expense upload.
const (
	ColEffort       = "effortExpense"
	ColEffortDate   = "effortDate"
	ColJobTitle     = "msg_JobTitle"
	ColCommunity    = "msg_Community"
	ColTaskType     = "taskType"
	ColManager      = "CountryManagerForProject"
	ColEmail        = "Email"
	ColTimeCosts    = "effortTimeCosts"
	ColHourlyRate   = "billingRate_hourlyRate"
	ColUserName     = "keyEffortUser"
	ColUserID       = "updUserOid"
	ColProjectName  = "name_P"
	ColTaskName     = "Task Name"
	UnknownCategory = "Unknown"
)

// CategoricalColumns lists the categorical attributes in declaration order.
var CategoricalColumns = []string{ColJobTitle, ColCommunity, ColTaskType, ColManager, ColEmail}

// NumericColumns lists the numeric attributes in declaration order.
var NumericColumns = []string{ColTimeCosts, ColHourlyRate}

// Record is one row of an effort upload.
type Record struct {
	Row         int                `json:"row"`
	Effort      *float64           `json:"effort,omitempty"`
	EffortDate  *time.Time         `json:"effort_date,omitempty"`
	Categorical map[string]string  `json:"categorical,omitempty"`
	Numeric     map[string]float64 `json:"numeric,omitempty"`
	Extra       map[string]string  `json:"extra,omitempty"`
}

// Category returns the categorical attribute or "" when absent.
func (r Record) Category(name string) string {
	if r.Categorical == nil {
		return ""
	}
	return r.Categorical[name]
}

// Number returns the numeric attribute and whether it is present.
func (r Record) Number(name string) (float64, bool) {
	if r.Numeric == nil {
		return 0, false
	}
	v, ok := r.Numeric[name]
	return v, ok
}

// Dataset is an ordered set of records sharing one header.
type Dataset struct {
	Columns []string `json:"columns"`
	Records []Record `json:"records"`
}

// HasColumn reports whether the upload header carried the column.
func (d *Dataset) HasColumn(name string) bool {
	for _, c := range d.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	return len(d.Records)
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
