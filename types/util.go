package types

import "strings"

func normalizeConcept(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}
