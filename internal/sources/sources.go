// Package sources holds the adapters for the external collaborators the
// enrichment pipeline composes: a text source, an event extractor and an
// image search. Each concrete provider lives in its own subpackage.
package sources

// Article is the outcome of a text-source lookup. A missing article is a
// valid terminal result, not an error.
type Article struct {
	Found bool
	Text  string
}
