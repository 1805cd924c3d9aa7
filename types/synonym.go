package types

// SynonymRule declares that Root is equivalent to each entry in
// Synonyms for query expansion. Locale scopes the rule to queries
// tokenized under that locale; a rule with an empty Locale applies
// regardless of the field's declared locale.
type SynonymRule struct {
	ID       string
	Root     string // empty means "multi-way": every entry in Synonyms is interchangeable
	Synonyms []string
	Locale   string
}
