package domain

import (
	"slices"
	"time"
)

// FieldReport is the aggregated document produced once per finished job. Its
// shape is fixed and independent of the live JobState.
type FieldReport struct {
	GeneratedAt time.Time       `json:"generated_at" yaml:"generated_at"`
	Project     ProjectMetadata `json:"project" yaml:"project" desc:"Project metadata"`
	Narrative   Narrative       `json:"narrative" yaml:"narrative" desc:"Narrative report sections written in full sentences"`
	Finds       []FindRecord    `json:"finds" yaml:"finds" desc:"One row per find or group of finds"`
	SiteLog     []LogEntry      `json:"site_log" yaml:"site_log" desc:"Key facts as label/value pairs (hours, equipment, hazards, units, depth)"`
}

type ProjectMetadata struct {
	ProjectName string   `json:"project_name" yaml:"project_name" desc:"Project name"`
	SiteCode    string   `json:"site_code" yaml:"site_code" desc:"Site code"`
	Location    string   `json:"location" yaml:"location" desc:"Site location"`
	Date        string   `json:"date" yaml:"date" desc:"Date of fieldwork"`
	Supervisor  string   `json:"supervisor" yaml:"supervisor" desc:"Supervising archaeologist"`
	Crew        []string `json:"crew" yaml:"crew" desc:"Crew members"`
}

type Narrative struct {
	SiteConditions         string `json:"site_conditions" yaml:"site_conditions" desc:"Weather and ground conditions"`
	ExcavationSummary      string `json:"excavation_summary" yaml:"excavation_summary" desc:"Summary of excavation progress and methods"`
	Stratigraphy           string `json:"stratigraphy" yaml:"stratigraphy" desc:"Stratigraphic sequence"`
	Features               string `json:"features" yaml:"features" desc:"Features recorded"`
	AdditionalObservations string `json:"additional_observations" yaml:"additional_observations" desc:"Other observations, including supplemental notes"`
}

type FindRecord struct {
	ItemType    string `json:"item_type" yaml:"item_type" desc:"Kind of find"`
	Quantity    string `json:"quantity" yaml:"quantity" desc:"Quantity or weight"`
	Material    string `json:"material" yaml:"material" desc:"Material"`
	Context     string `json:"context" yaml:"context" desc:"Context"`
	Description string `json:"description" yaml:"description" desc:"Description"`
}

type LogEntry struct {
	Label string `json:"label" yaml:"label" desc:"Label"`
	Value string `json:"value" yaml:"value" desc:"Value"`
}

// Clone deep-copies the report.
func (r FieldReport) Clone() FieldReport {
	out := r
	out.Project.Crew = slices.Clone(r.Project.Crew)
	out.Finds = slices.Clone(r.Finds)
	out.SiteLog = slices.Clone(r.SiteLog)
	return out
}
