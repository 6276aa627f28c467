// Package templates embeds the SPARQL Query/Update templates the core
// uses, keeping the core decoupled from query text per spec §4.3.2. Each
// template documents its bind variables and, for queries, its result
// columns, in a header comment.
package templates

import "embed"

//go:embed *.rq *.ru
var fs embed.FS

// Names of the logical operations the sparql.Store looks up by.
const (
	InsertInteraction    = "insertInteraction"
	UpdateInteraction    = "updateInteraction"
	SelectAll            = "selectAll"
	SelectByConcept      = "selectByConcept"
	SelectConceptsForID  = "selectConceptsForID"
)

var files = map[string]string{
	InsertInteraction:   "insert_interaction.ru",
	UpdateInteraction:   "update_interaction.ru",
	SelectAll:           "select_all.rq",
	SelectByConcept:     "select_by_concept.rq",
	SelectConceptsForID: "select_concepts_for_id.rq",
}

// Load returns the template text for a logical operation name.
func Load(name string) (string, error) {
	file, ok := files[name]
	if !ok {
		return "", errUnknownTemplate(name)
	}
	data, err := fs.ReadFile(file)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type errUnknownTemplate string

func (e errUnknownTemplate) Error() string {
	return "unknown sparql template: " + string(e)
}
