package domain

// ChecklistItem is one fact a category must contain to be complete.
type ChecklistItem struct {
	Field       string
	Description string
}

var checklists = map[CategoryID][]ChecklistItem{
	CategoryProject: {
		{Field: "project_name", Description: "Project name"},
		{Field: "site_code", Description: "Site code"},
		{Field: "location", Description: "Site location"},
		{Field: "date", Description: "Date of fieldwork"},
		{Field: "supervisor", Description: "Supervising archaeologist"},
	},
	CategoryConditions: {
		{Field: "weather", Description: "Weather during the day"},
		{Field: "ground_conditions", Description: "Ground conditions"},
	},
	CategoryPersonnel: {
		{Field: "crew_members", Description: "At least one crew member"},
		{Field: "equipment", Description: "Equipment used"},
	},
	CategoryExcavation: {
		{Field: "units", Description: "Units or trenches worked"},
		{Field: "depth_reached", Description: "Depth reached"},
		{Field: "method", Description: "Excavation method"},
	},
	CategoryStratigraphy: {
		{Field: "layers", Description: "At least one layer with a description and soil colour"},
	},
	CategoryFeatures: {
		{Field: "features", Description: "At least one recorded feature, or a statement that none were observed"},
	},
	CategoryFinds: {
		{Field: "item_type", Description: "Type of find"},
		{Field: "quantity", Description: "Quantity"},
		{Field: "material", Description: "Material"},
		{Field: "context", Description: "Find context"},
	},
	CategoryAdditional: nil,
}

// Checklist returns the completion checklist for id. The optional category
// has an empty checklist.
func Checklist(id CategoryID) []ChecklistItem {
	items := checklists[id]
	out := make([]ChecklistItem, len(items))
	copy(out, items)
	return out
}
