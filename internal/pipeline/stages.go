package pipeline

// StageConfig is one row of the static per-stage configuration table. The
// system prompt may be overridden per stage through the prompt template
// store; everything else is fixed at build time.
type StageConfig struct {
	Number       int
	Name         string
	Model        string
	Temperature  float64
	MaxTokens    int
	Progress     int
	SystemPrompt string
}

const (
	StageIdeation  = "ideation"
	StageStructure = "structuring"
	StageDraft     = "drafting"
	StageOptimize  = "optimization"
	StageReview    = "review"
)

// Progress values are non-decreasing by construction; the orchestrator never
// writes a lower value than the job already carries.
var stageConfigs = []StageConfig{
	{
		Number:      1,
		Name:        StageIdeation,
		Model:       "gpt-4o-mini",
		Temperature: 0.8,
		MaxTokens:   2048,
		Progress:    10,
		SystemPrompt: "You are a content strategist. Given a seed keyword and brand context, " +
			"propose article topics. Respond only with JSON containing selected_topics " +
			"(primary_keyword, title_candidates, search_intent), conversion_goal and audience.",
	},
	{
		Number:      2,
		Name:        StageStructure,
		Model:       "gpt-4o-mini",
		Temperature: 0.5,
		MaxTokens:   3072,
		Progress:    30,
		SystemPrompt: "You are an editorial planner. Produce a risk_level classification, an ordered " +
			"outline, must_answer_questions and an image_plan for the chosen topic. JSON only.",
	},
	{
		Number:      3,
		Name:        StageDraft,
		Model:       "gpt-4o",
		Temperature: 0.7,
		MaxTokens:   8192,
		Progress:    55,
		SystemPrompt: "You are a long-form writer. Write the full article as ordered content blocks " +
			"with a meta block (title, meta_title, meta_description), image_jobs and internal_links. JSON only.",
	},
	{
		Number:      4,
		Name:        StageOptimize,
		Model:       "gpt-4o",
		Temperature: 0.4,
		MaxTokens:   8192,
		Progress:    75,
		SystemPrompt: "You are an SEO editor. Rewrite the draft blocks for search performance, keep " +
			"block ids stable, and add a summary and key_takeaways. JSON only.",
	},
	{
		Number:      5,
		Name:        StageReview,
		Model:       "gpt-4o",
		Temperature: 0.2,
		MaxTokens:   8192,
		Progress:    90,
		SystemPrompt: "You are a strict content reviewer. Approve or request changes. Respond with " +
			"status (approved|needs_changes), final_blocks, final_meta, quality_score and required_fixes. JSON only.",
	},
}

// StageCount is the number of pipeline stages.
const StageCount = 5

func stageConfig(number int) StageConfig {
	return stageConfigs[number-1]
}

const progressCompleted = 100
