package domain

// Tool is a provider-native callable tool descriptor. Spec is encoded as-is
// into the provider request; nothing outside the adapter interprets it.
type Tool struct {
	Name string         `json:"name"`
	Spec map[string]any `json:"spec"`
}

// ToolSet is the tools attached to one invocation. An empty set is valid.
type ToolSet []Tool

// Names returns the canonical names in the set.
func (s ToolSet) Names() []string {
	names := make([]string, 0, len(s))
	for _, t := range s {
		names = append(names, t.Name)
	}
	return names
}

// Specs returns the provider-native descriptors in order.
func (s ToolSet) Specs() []map[string]any {
	out := make([]map[string]any, 0, len(s))
	for _, t := range s {
		out = append(out, t.Spec)
	}
	return out
}
