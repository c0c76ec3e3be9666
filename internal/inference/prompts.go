package inference

import (
	"fmt"
	"strings"

	"github.com/stellarlinkco/fieldnote/internal/domain"
)

const extractionPrompt = `You transcribe and structure archaeological field notes for the report section %q.

Rules:
1. Transcribe the new note faithfully into "transcript". Do not summarise it.
2. Merge the facts of the new note into the existing section data and return the complete merged record in "data". Keep existing values unless the note corrects them.
3. Only record facts that belong to this section. Ignore information for other sections.
4. Leave a field empty when the note does not state it. Never invent values.
5. If the note contains no intelligible content (silence, noise, unrelated chatter), set "transcript" to %q and return the existing data unchanged.

Facts this section should eventually contain:
%s`

const validationPrompt = `You check whether the report section %q is complete.

The section is complete when its data states every item of this checklist:
%s

Rules:
1. Judge only the checklist above. Never ask for information that belongs to another section.
2. If anything is missing, set "is_complete" to false and list each missing item in "missing_info" as a short phrase a field worker understands.
3. If everything is present, set "is_complete" to true and return an empty "missing_info".`

const aggregationPrompt = `You write the final daily field report of an archaeological excavation from structured section data.

Rules:
1. Fill "project" from the project and personnel sections.
2. Write each "narrative" field as clear professional prose in full sentences, using only the supplied facts.
3. Put every find into "finds", one row per find or group of finds.
4. Put key facts (hours on site, equipment, hazards, units, depth reached) into "site_log" as label/value pairs.
5. Supplemental notes are free-form observations from the field worker. Fold each one into the section it fits best, or into "additional_observations".
6. Never invent facts that are not in the input.`

func checklistText(id domain.CategoryID) string {
	items := domain.Checklist(id)
	if len(items) == 0 {
		return "- (no required items)"
	}
	var sb strings.Builder
	for _, it := range items {
		fmt.Fprintf(&sb, "- %s (%s)\n", it.Description, it.Field)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func extractionSystemPrompt(id domain.CategoryID) string {
	return fmt.Sprintf(extractionPrompt, id.Title(), domain.NoContentTranscript, checklistText(id))
}

func validationSystemPrompt(id domain.CategoryID) string {
	return fmt.Sprintf(validationPrompt, id.Title(), checklistText(id))
}
