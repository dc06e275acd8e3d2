// Package esquery models backend queries as a small clause AST with a single
// JSON-shaped serializer, and builds the analyze, no-defect, cluster and
// search query bodies from prepared logs.
package esquery

// Clause is one bool-query clause. Body returns the wire representation as a
// JSON-ready map.
type Clause interface {
	Body() map[string]any
}

// Term matches a field against an exact value, optionally boosted.
type Term struct {
	Field string
	Value any
	Boost float64
}

// Body implements Clause.
func (t Term) Body() map[string]any {
	inner := map[string]any{"value": t.Value}
	if t.Boost != 0 {
		inner["boost"] = t.Boost
	}
	return map[string]any{"term": map[string]any{t.Field: inner}}
}

// Terms matches a field against any of the given values.
type Terms struct {
	Field  string
	Values []any
}

// Body implements Clause.
func (t Terms) Body() map[string]any {
	return map[string]any{"terms": map[string]any{t.Field: t.Values}}
}

// Wildcard matches a field against a wildcard pattern. The "*" pattern doubles
// as an existence-with-content check on text fields.
type Wildcard struct {
	Field   string
	Pattern string
}

// Body implements Clause.
func (w Wildcard) Body() map[string]any {
	return map[string]any{"wildcard": map[string]any{w.Field: w.Pattern}}
}

// Range matches numeric fields with a lower bound.
type Range struct {
	Field string
	GTE   any
}

// Body implements Clause.
func (r Range) Body() map[string]any {
	return map[string]any{"range": map[string]any{r.Field: map[string]any{"gte": r.GTE}}}
}

// Exists matches documents that carry the field.
type Exists struct {
	Field string
}

// Body implements Clause.
func (e Exists) Body() map[string]any {
	return map[string]any{"exists": map[string]any{"field": e.Field}}
}

// MoreLikeThis is the similarity sub-query: a minimum fraction (or absolute
// count) of the liked text's tokens must match the field.
type MoreLikeThis struct {
	Field          string
	Like           string
	MinShouldMatch string
	Boost          float64
	MaxQueryTerms  int
}

// Body implements Clause.
func (m MoreLikeThis) Body() map[string]any {
	return map[string]any{"more_like_this": map[string]any{
		"fields":               []string{m.Field},
		"like":                 m.Like,
		"min_doc_freq":         1,
		"min_term_freq":        1,
		"minimum_should_match": m.MinShouldMatch,
		"max_query_terms":      m.MaxQueryTerms,
		"boost":                m.Boost,
	}}
}

// Bool is a nested bool clause (used for should-groups inside must lists).
type Bool struct {
	Filter  []Clause
	Must    []Clause
	MustNot []Clause
	Should  []Clause
}

// Body implements Clause.
func (b Bool) Body() map[string]any {
	inner := map[string]any{}
	if len(b.Filter) > 0 {
		inner["filter"] = clauseBodies(b.Filter)
	}
	if len(b.Must) > 0 {
		inner["must"] = clauseBodies(b.Must)
	}
	if len(b.MustNot) > 0 {
		inner["must_not"] = clauseBodies(b.MustNot)
	}
	if len(b.Should) > 0 {
		inner["should"] = clauseBodies(b.Should)
	}
	return map[string]any{"bool": inner}
}

func clauseBodies(clauses []Clause) []map[string]any {
	bodies := make([]map[string]any, 0, len(clauses))
	for _, c := range clauses {
		bodies = append(bodies, c.Body())
	}
	return bodies
}

// Query is a full backend query body: the top-level bool plus size, sort and
// source projection.
type Query struct {
	Size         int
	Sort         []any
	SourceFields []string
	Root         Bool
}

// Body serializes the query to its wire form. The bool sections are always
// present (possibly empty) so the shape is stable for inspection and tests.
func (q *Query) Body() map[string]any {
	boolBody := map[string]any{
		"filter":   clauseBodies(q.Root.Filter),
		"must":     clauseBodies(q.Root.Must),
		"must_not": clauseBodies(q.Root.MustNot),
		"should":   clauseBodies(q.Root.Should),
	}
	body := map[string]any{
		"size":  q.Size,
		"query": map[string]any{"bool": boolBody},
	}
	if len(q.Sort) > 0 {
		body["sort"] = q.Sort
	}
	if len(q.SourceFields) > 0 {
		body["_source"] = q.SourceFields
	}
	return body
}
