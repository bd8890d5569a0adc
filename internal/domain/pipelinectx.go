package domain

// Read-only records threaded into every stage prompt. Fetched once before
// the first stage runs; the pipeline never mutates them.

type Category struct {
	ID           string
	Name         string
	Description  string
	ArticleCount int
}

type Author struct {
	ID    string
	Name  string
	Bio   string
	Tone  string
	Title string
}

type Brand struct {
	ID           string
	Name         string
	Voice        string
	Audience     string
	BannedPhrase string
}

// KnowledgeItem is a bounded excerpt from the knowledge base.
type KnowledgeItem struct {
	ID         string
	Title      string
	Excerpt    string
	TimesUsed  int
	CategoryID string
}

// PublishedRef indexes an existing article for internal cross-linking.
type PublishedRef struct {
	Slug  string
	Title string
}

// PipelineContext bundles the shared read-only context for a run.
type PipelineContext struct {
	Category  Category
	Author    Author
	Brand     Brand
	Knowledge []KnowledgeItem
	Published []PublishedRef
}
