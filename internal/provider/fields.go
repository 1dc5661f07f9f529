package provider

import "github.com/tidwall/gjson"

// Field maps a canonical wire field to the upstream JSON path it is read from.
type Field struct {
	Name string
	Path string
}

// Absent returns the canonical names of fields whose upstream path does not
// exist in raw. Presence only: an empty string counts as present.
func Absent(raw []byte, fields ...Field) []string {
	var out []string
	for _, f := range fields {
		if !gjson.GetBytes(raw, f.Path).Exists() {
			out = append(out, f.Name)
		}
	}
	return out
}
