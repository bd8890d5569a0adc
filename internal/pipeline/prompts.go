package pipeline

import (
	"encoding/json"
	"fmt"

	"server/internal/domain"
)

// contextFacts is the read-only slice of the pipeline context embedded in
// every stage prompt. Values are copied out of the repository records; no
// identifiers or secrets beyond what the model needs.
type contextFacts struct {
	CategoryName        string               `json:"category_name"`
	CategoryDescription string               `json:"category_description,omitempty"`
	AuthorName          string               `json:"author_name"`
	AuthorTone          string               `json:"author_tone,omitempty"`
	BrandName           string               `json:"brand_name"`
	BrandVoice          string               `json:"brand_voice,omitempty"`
	BrandAudience       string               `json:"brand_audience,omitempty"`
	Knowledge           []knowledgeFact      `json:"knowledge,omitempty"`
	Published           []domain.PublishedRef `json:"published,omitempty"`
}

type knowledgeFact struct {
	Title   string `json:"title"`
	Excerpt string `json:"excerpt"`
}

func newContextFacts(pctx *domain.PipelineContext) contextFacts {
	facts := contextFacts{
		CategoryName:        pctx.Category.Name,
		CategoryDescription: pctx.Category.Description,
		AuthorName:          pctx.Author.Name,
		AuthorTone:          pctx.Author.Tone,
		BrandName:           pctx.Brand.Name,
		BrandVoice:          pctx.Brand.Voice,
		BrandAudience:       pctx.Brand.Audience,
		Published:           append([]domain.PublishedRef(nil), pctx.Published...),
	}
	for _, k := range pctx.Knowledge {
		facts.Knowledge = append(facts.Knowledge, knowledgeFact{Title: k.Title, Excerpt: k.Excerpt})
	}
	return facts
}

type ideationInput struct {
	Keyword string       `json:"keyword"`
	Context contextFacts `json:"context"`
}

type structureInput struct {
	Topic          domain.TopicCandidate `json:"topic"`
	ConversionGoal string                `json:"conversion_goal"`
	Context        contextFacts          `json:"context"`
}

type draftInput struct {
	Topic     domain.TopicCandidate  `json:"topic"`
	Structure domain.StructureOutput `json:"structure"`
	Context   contextFacts           `json:"context"`
}

type optimizeInput struct {
	Draft     domain.DraftOutput `json:"draft"`
	Questions []string           `json:"must_answer_questions"`
	Context   contextFacts       `json:"context"`
}

type reviewInput struct {
	Optimized domain.OptimizeOutput `json:"optimized"`
	RiskLevel string                `json:"risk_level"`
	Context   contextFacts          `json:"context"`
}

// buildUserPrompt serializes the stage input as the user message. The model
// receives the full structured input rather than prose so stage contracts
// stay machine-checkable.
func buildUserPrompt(stageName string, input any) (string, error) {
	payload, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s input: %w", stageName, err)
	}
	return fmt.Sprintf("Stage: %s\nInput:\n%s", stageName, payload), nil
}

// promptExcerpt truncates a prompt for the stage record; full prompts can be
// reconstructed from the input snapshot.
func promptExcerpt(system, user string) string {
	const max = 500
	s := system + "\n---\n" + user
	if len(s) <= max {
		return s
	}
	return s[:max]
}
