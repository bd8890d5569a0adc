package domain

// Typed outputs of the five pipeline stages. Later stages copy values from
// earlier ones by value; nothing here holds a live reference back into a
// previous stage's struct.

// TopicCandidate is one keyword/title pairing proposed during ideation.
type TopicCandidate struct {
	PrimaryKeyword  string   `json:"primary_keyword"`
	TitleCandidates []string `json:"title_candidates"`
	SearchIntent    string   `json:"search_intent,omitempty"`
}

// IdeationOutput is the validated result of stage 1.
type IdeationOutput struct {
	SelectedTopics []TopicCandidate `json:"selected_topics"`
	ConversionGoal string           `json:"conversion_goal"`
	Audience       string           `json:"audience,omitempty"`
}

// OutlineSection is one ordered entry of the article outline.
type OutlineSection struct {
	Heading   string   `json:"heading"`
	Intent    string   `json:"intent,omitempty"`
	KeyPoints []string `json:"key_points,omitempty"`
}

// ImagePlanItem describes an image the later stages should plan for.
type ImagePlanItem struct {
	Placement string `json:"placement"`
	Concept   string `json:"concept"`
}

// StructureOutput is the validated result of stage 2.
type StructureOutput struct {
	RiskLevel           string           `json:"risk_level"`
	Outline             []OutlineSection `json:"outline"`
	MustAnswerQuestions []string         `json:"must_answer_questions"`
	ImagePlan           []ImagePlanItem  `json:"image_plan"`
}

// MetaBlock carries the SEO metadata of the article.
type MetaBlock struct {
	Title           string `json:"title"`
	MetaTitle       string `json:"meta_title"`
	MetaDescription string `json:"meta_description"`
}

// ContentBlock is one ordered unit of article body content.
type ContentBlock struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

// ImageJob describes one image to generate downstream of the pipeline.
type ImageJob struct {
	BlockID string `json:"block_id,omitempty"`
	Prompt  string `json:"prompt"`
	AltText string `json:"alt_text,omitempty"`
}

// InternalLink is a cross-link to previously published content.
type InternalLink struct {
	BlockID string `json:"block_id,omitempty"`
	Slug    string `json:"slug"`
	Anchor  string `json:"anchor"`
}

// DraftOutput is the validated result of stage 3.
type DraftOutput struct {
	Meta          MetaBlock      `json:"meta"`
	Blocks        []ContentBlock `json:"blocks"`
	ImageJobs     []ImageJob     `json:"image_jobs"`
	InternalLinks []InternalLink `json:"internal_links"`
}

// OptimizeOutput is the validated result of stage 4.
type OptimizeOutput struct {
	Meta         MetaBlock      `json:"meta"`
	Blocks       []ContentBlock `json:"blocks"`
	ImageJobs    []ImageJob     `json:"image_jobs"`
	Summary      string         `json:"summary"`
	KeyTakeaways []string       `json:"key_takeaways"`
}

// Review statuses returned by the final stage.
const (
	ReviewApproved     = "approved"
	ReviewNeedsChanges = "needs_changes"
)

// ReviewOutput is the validated result of stage 5.
type ReviewOutput struct {
	Status        string         `json:"status"`
	FinalBlocks   []ContentBlock `json:"final_blocks"`
	FinalMeta     MetaBlock      `json:"final_meta"`
	QualityScore  float64        `json:"quality_score"`
	RequiredFixes []string       `json:"required_fixes,omitempty"`
}

// StageOutputs aggregates every validated stage output for the audit blob
// persisted on the job row.
type StageOutputs struct {
	Ideation  *IdeationOutput  `json:"ideation,omitempty"`
	Structure *StructureOutput `json:"structure,omitempty"`
	Draft     *DraftOutput     `json:"draft,omitempty"`
	Optimize  *OptimizeOutput  `json:"optimize,omitempty"`
	Review    *ReviewOutput    `json:"review,omitempty"`
}
