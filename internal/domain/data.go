package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// CategoryData is the structured record of one category. Each category has
// its own variant; the variant is selected by CategoryID, never by inspecting
// field names.
//
// The desc struct tags are used to describe fields to the inference backend.
type CategoryData interface {
	CategoryID() CategoryID
	IsEmpty() bool
	Clone() CategoryData
}

type ProjectData struct {
	ProjectName string `json:"project_name" desc:"Name of the project or excavation programme"`
	SiteCode    string `json:"site_code" desc:"Site code or accession number"`
	Location    string `json:"location" desc:"Site location (place name, grid reference or coordinates)"`
	Date        string `json:"date" desc:"Date of the fieldwork, ISO 8601 when known"`
	Supervisor  string `json:"supervisor" desc:"Name of the supervising archaeologist"`
}

func (ProjectData) CategoryID() CategoryID { return CategoryProject }
func (d ProjectData) IsEmpty() bool       { return d == ProjectData{} }
func (d ProjectData) Clone() CategoryData { return d }

type ConditionsData struct {
	Weather          string `json:"weather" desc:"Weather during the working day"`
	Temperature      string `json:"temperature" desc:"Air temperature with unit"`
	GroundConditions string `json:"ground_conditions" desc:"Ground and soil moisture conditions affecting excavation"`
	Hazards          string `json:"hazards" desc:"Site hazards or access constraints"`
}

func (ConditionsData) CategoryID() CategoryID { return CategoryConditions }
func (d ConditionsData) IsEmpty() bool       { return d == ConditionsData{} }
func (d ConditionsData) Clone() CategoryData { return d }

type PersonnelData struct {
	CrewMembers []string `json:"crew_members" desc:"Names and roles of people on site"`
	Equipment   []string `json:"equipment" desc:"Tools and equipment used"`
	HoursOnSite string   `json:"hours_on_site" desc:"Working hours on site"`
}

func (PersonnelData) CategoryID() CategoryID { return CategoryPersonnel }

func (d PersonnelData) IsEmpty() bool {
	return len(d.CrewMembers) == 0 && len(d.Equipment) == 0 && d.HoursOnSite == ""
}

func (d PersonnelData) Clone() CategoryData {
	d.CrewMembers = slices.Clone(d.CrewMembers)
	d.Equipment = slices.Clone(d.Equipment)
	return d
}

type ExcavationData struct {
	Units        []string `json:"units" desc:"Trenches, test pits or units worked"`
	DepthReached string   `json:"depth_reached" desc:"Maximum depth reached with unit"`
	Method       string   `json:"method" desc:"Excavation method (hand, mechanical, spits, single context)"`
	Progress     string   `json:"progress" desc:"Summary of the work completed"`
}

func (ExcavationData) CategoryID() CategoryID { return CategoryExcavation }

func (d ExcavationData) IsEmpty() bool {
	return len(d.Units) == 0 && d.DepthReached == "" && d.Method == "" && d.Progress == ""
}

func (d ExcavationData) Clone() CategoryData {
	d.Units = slices.Clone(d.Units)
	return d
}

type Layer struct {
	Context     string `json:"context" desc:"Context or layer number"`
	Description string `json:"description" desc:"Description of the deposit"`
	SoilColour  string `json:"soil_colour" desc:"Soil colour, Munsell notation when given"`
	Texture     string `json:"texture" desc:"Soil texture and inclusions"`
	Depth       string `json:"depth" desc:"Depth range with unit"`
}

type StratigraphyData struct {
	Layers []Layer `json:"layers" desc:"Observed layers from top to bottom"`
}

func (StratigraphyData) CategoryID() CategoryID { return CategoryStratigraphy }
func (d StratigraphyData) IsEmpty() bool       { return len(d.Layers) == 0 }

func (d StratigraphyData) Clone() CategoryData {
	d.Layers = slices.Clone(d.Layers)
	return d
}

type Feature struct {
	Identifier  string `json:"identifier" desc:"Feature number"`
	Type        string `json:"type" desc:"Feature type (pit, posthole, hearth, wall)"`
	Description string `json:"description" desc:"Description of the feature"`
	Dimensions  string `json:"dimensions" desc:"Dimensions with units"`
}

type FeaturesData struct {
	Features     []Feature `json:"features" desc:"Archaeological features recorded"`
	NoneObserved bool      `json:"none_observed" desc:"True when the worker stated that no features were observed"`
}

func (FeaturesData) CategoryID() CategoryID { return CategoryFeatures }
func (d FeaturesData) IsEmpty() bool       { return len(d.Features) == 0 && !d.NoneObserved }

func (d FeaturesData) Clone() CategoryData {
	d.Features = slices.Clone(d.Features)
	return d
}

type FindsData struct {
	ItemType    string `json:"item_type" desc:"Kind of find (lithic, ceramic, bone, metal)"`
	Quantity    string `json:"quantity" desc:"Number of items or weight"`
	Material    string `json:"material" desc:"Material of the find (obsidian, flint, bronze)"`
	Context     string `json:"context" desc:"Context or layer the find came from"`
	Description string `json:"description" desc:"Further description of the find"`
}

func (FindsData) CategoryID() CategoryID { return CategoryFinds }
func (d FindsData) IsEmpty() bool       { return d == FindsData{} }
func (d FindsData) Clone() CategoryData { return d }

type AdditionalData struct {
	Observations []string `json:"observations" desc:"Free-form observations that fit no other category"`
}

func (AdditionalData) CategoryID() CategoryID { return CategoryAdditional }
func (d AdditionalData) IsEmpty() bool       { return len(d.Observations) == 0 }

func (d AdditionalData) Clone() CategoryData {
	d.Observations = slices.Clone(d.Observations)
	return d
}

// EmptyData returns the default (empty) data variant for id.
func EmptyData(id CategoryID) CategoryData {
	switch id {
	case CategoryProject:
		return ProjectData{}
	case CategoryConditions:
		return ConditionsData{}
	case CategoryPersonnel:
		return PersonnelData{}
	case CategoryExcavation:
		return ExcavationData{}
	case CategoryStratigraphy:
		return StratigraphyData{}
	case CategoryFeatures:
		return FeaturesData{}
	case CategoryFinds:
		return FindsData{}
	case CategoryAdditional:
		return AdditionalData{}
	default:
		return nil
	}
}

// DecodeData decodes raw JSON into the variant selected by id. Empty input
// and JSON null decode to the empty variant.
func DecodeData(id CategoryID, raw []byte) (CategoryData, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, id)
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return EmptyData(id), nil
	}

	var (
		out CategoryData
		err error
	)
	switch id {
	case CategoryProject:
		out, err = decodeInto[ProjectData](trimmed)
	case CategoryConditions:
		out, err = decodeInto[ConditionsData](trimmed)
	case CategoryPersonnel:
		out, err = decodeInto[PersonnelData](trimmed)
	case CategoryExcavation:
		out, err = decodeInto[ExcavationData](trimmed)
	case CategoryStratigraphy:
		out, err = decodeInto[StratigraphyData](trimmed)
	case CategoryFeatures:
		out, err = decodeInto[FeaturesData](trimmed)
	case CategoryFinds:
		out, err = decodeInto[FindsData](trimmed)
	case CategoryAdditional:
		out, err = decodeInto[AdditionalData](trimmed)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s data: %w", id, err)
	}
	return out, nil
}

func decodeInto[T CategoryData](raw []byte) (CategoryData, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
