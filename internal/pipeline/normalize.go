package pipeline

import (
	"fmt"

	"github.com/google/uuid"

	"server/internal/domain"
)

// Per-stage alias tables. Keys are alternate spellings observed from models,
// values are the canonical field names.

var ideationAliases = map[string]string{
	"topics":         "selected_topics",
	"selectedTopics": "selected_topics",
	"conversionGoal": "conversion_goal",
	"goal":           "conversion_goal",
}

var topicAliases = map[string]string{
	"keyword":         "primary_keyword",
	"primaryKeyword":  "primary_keyword",
	"titles":          "title_candidates",
	"titleCandidates": "title_candidates",
	"searchIntent":    "search_intent",
}

var structureAliases = map[string]string{
	"riskLevel":           "risk_level",
	"risk_classification": "risk_level",
	"sections":            "outline",
	"questions":           "must_answer_questions",
	"mustAnswerQuestions": "must_answer_questions",
	"imagePlan":           "image_plan",
}

var draftAliases = map[string]string{
	"meta_block":     "meta",
	"metaBlock":      "meta",
	"content_blocks": "blocks",
	"contentBlocks":  "blocks",
	"imageJobs":      "image_jobs",
	"internalLinks":  "internal_links",
}

var metaAliases = map[string]string{
	"metaTitle":       "meta_title",
	"metaDescription": "meta_description",
}

var optimizeAliases = map[string]string{
	"meta_block":       "meta",
	"metaBlock":        "meta",
	"optimized_blocks": "blocks",
	"optimizedBlocks":  "blocks",
	"imageJobs":        "image_jobs",
	"keyTakeaways":     "key_takeaways",
	"takeaways":        "key_takeaways",
}

var reviewAliases = map[string]string{
	"review_status": "status",
	"finalBlocks":   "final_blocks",
	"blocks":        "final_blocks",
	"finalMeta":     "final_meta",
	"meta":          "final_meta",
	"qualityScore":  "quality_score",
	"requiredFixes": "required_fixes",
	"fixes":         "required_fixes",
}

// Types-only structural schemas, checked after alias normalization.

var ideationSchema = mustSchema("ideation", objectSchema(map[string]any{
	"selected_topics": arrayOfObjects(),
	"conversion_goal": map[string]any{"type": "string"},
	"audience":        map[string]any{"type": "string"},
}))

var structureSchema = mustSchema("structuring", objectSchema(map[string]any{
	"risk_level":            map[string]any{"type": "string"},
	"outline":               arrayOfObjects(),
	"must_answer_questions": arrayOfStrings(),
	"image_plan":            arrayOfObjects(),
}))

var draftSchema = mustSchema("drafting", objectSchema(map[string]any{
	"meta":           map[string]any{"type": "object"},
	"blocks":         arrayOfObjects(),
	"image_jobs":     arrayOfObjects(),
	"internal_links": arrayOfObjects(),
}))

var optimizeSchema = mustSchema("optimization", objectSchema(map[string]any{
	"meta":          map[string]any{"type": "object"},
	"blocks":        arrayOfObjects(),
	"image_jobs":    arrayOfObjects(),
	"summary":       map[string]any{"type": "string"},
	"key_takeaways": arrayOfStrings(),
}))

var reviewSchema = mustSchema("review", objectSchema(map[string]any{
	"status":         map[string]any{"type": "string"},
	"final_blocks":   arrayOfObjects(),
	"final_meta":     map[string]any{"type": "object"},
	"quality_score":  map[string]any{"type": "number"},
	"required_fixes": arrayOfStrings(),
}))

// normalizeIdeation validates stage 1 output: at least one selected topic,
// each with a primary keyword and a title candidate, plus a conversion goal.
func normalizeIdeation(raw []byte) (domain.IdeationOutput, []string, error) {
	var zero domain.IdeationOutput

	m, err := decodeCanonical(StageIdeation, raw, ideationAliases)
	if err != nil {
		return zero, nil, err
	}
	applyItemAliases(m, "selected_topics", topicAliases)
	if err := checkShape(StageIdeation, ideationSchema, m); err != nil {
		return zero, nil, err
	}

	var out domain.IdeationOutput
	if err := decodeInto(StageIdeation, m, &out); err != nil {
		return zero, nil, err
	}

	var missing fieldList
	if len(out.SelectedTopics) == 0 {
		missing.add("selected_topics")
	}
	for i, topic := range out.SelectedTopics {
		missing.requireString(fmt.Sprintf("selected_topics[%d].primary_keyword", i), topic.PrimaryKeyword)
		if len(topic.TitleCandidates) == 0 {
			missing.add(fmt.Sprintf("selected_topics[%d].title_candidates", i))
		}
	}
	missing.requireString("conversion_goal", out.ConversionGoal)
	if err := missing.err(StageIdeation); err != nil {
		return zero, nil, err
	}
	return out, nil, nil
}

// normalizeStructure validates stage 2 output: a risk classification, a
// non-empty ordered outline and the must-answer question list. A missing
// image plan defaults to empty.
func normalizeStructure(raw []byte) (domain.StructureOutput, []string, error) {
	var zero domain.StructureOutput

	m, err := decodeCanonical(StageStructure, raw, structureAliases)
	if err != nil {
		return zero, nil, err
	}
	if err := checkShape(StageStructure, structureSchema, m); err != nil {
		return zero, nil, err
	}

	var out domain.StructureOutput
	if err := decodeInto(StageStructure, m, &out); err != nil {
		return zero, nil, err
	}

	var missing fieldList
	missing.requireString("risk_level", out.RiskLevel)
	if len(out.Outline) == 0 {
		missing.add("outline")
	}
	for i, section := range out.Outline {
		missing.requireString(fmt.Sprintf("outline[%d].heading", i), section.Heading)
	}
	if _, ok := m["must_answer_questions"]; !ok {
		missing.add("must_answer_questions")
	}
	if out.ImagePlan == nil {
		out.ImagePlan = []domain.ImagePlanItem{}
	}
	if err := missing.err(StageStructure); err != nil {
		return zero, nil, err
	}
	return out, nil, nil
}

// normalizeDraft validates stage 3 output: a complete meta block and
// non-empty ordered content blocks. Blocks without an id get one assigned;
// image and internal-link lists default to empty.
func normalizeDraft(raw []byte) (domain.DraftOutput, []string, error) {
	var zero domain.DraftOutput

	m, err := decodeCanonical(StageDraft, raw, draftAliases)
	if err != nil {
		return zero, nil, err
	}
	applyNestedAliases(m, "meta", metaAliases)
	if err := checkShape(StageDraft, draftSchema, m); err != nil {
		return zero, nil, err
	}

	var out domain.DraftOutput
	if err := decodeInto(StageDraft, m, &out); err != nil {
		return zero, nil, err
	}

	var missing fieldList
	missing.requireString("meta.title", out.Meta.Title)
	missing.requireString("meta.meta_title", out.Meta.MetaTitle)
	missing.requireString("meta.meta_description", out.Meta.MetaDescription)
	if len(out.Blocks) == 0 {
		missing.add("blocks")
	}
	var warnings []string
	for i := range out.Blocks {
		if out.Blocks[i].ID == "" {
			out.Blocks[i].ID = uuid.NewString()
			warnings = append(warnings, fmt.Sprintf("blocks[%d]: assigned generated id", i))
		}
		missing.requireString(fmt.Sprintf("blocks[%d].content", i), out.Blocks[i].Content)
	}
	if out.ImageJobs == nil {
		out.ImageJobs = []domain.ImageJob{}
	}
	if out.InternalLinks == nil {
		out.InternalLinks = []domain.InternalLink{}
	}
	if err := missing.err(StageDraft); err != nil {
		return zero, nil, err
	}
	return out, warnings, nil
}

// normalizeOptimize validates stage 4 output. An empty image-job list is
// repaired by copying the previous stage's list, value for value.
func normalizeOptimize(raw []byte, prev domain.DraftOutput) (domain.OptimizeOutput, []string, error) {
	var zero domain.OptimizeOutput

	m, err := decodeCanonical(StageOptimize, raw, optimizeAliases)
	if err != nil {
		return zero, nil, err
	}
	applyNestedAliases(m, "meta", metaAliases)
	if err := checkShape(StageOptimize, optimizeSchema, m); err != nil {
		return zero, nil, err
	}

	var out domain.OptimizeOutput
	if err := decodeInto(StageOptimize, m, &out); err != nil {
		return zero, nil, err
	}

	var missing fieldList
	missing.requireString("meta.title", out.Meta.Title)
	missing.requireString("meta.meta_title", out.Meta.MetaTitle)
	missing.requireString("meta.meta_description", out.Meta.MetaDescription)
	if len(out.Blocks) == 0 {
		missing.add("blocks")
	}
	for i, block := range out.Blocks {
		missing.requireString(fmt.Sprintf("blocks[%d].id", i), block.ID)
		missing.requireString(fmt.Sprintf("blocks[%d].type", i), block.Type)
		missing.requireString(fmt.Sprintf("blocks[%d].content", i), block.Content)
	}
	missing.requireString("summary", out.Summary)
	if len(out.KeyTakeaways) == 0 {
		missing.add("key_takeaways")
	}

	var warnings []string
	if len(out.ImageJobs) == 0 && len(prev.ImageJobs) > 0 {
		out.ImageJobs = append([]domain.ImageJob(nil), prev.ImageJobs...)
		warnings = append(warnings, "image_jobs: inherited from drafting stage")
	}
	if out.ImageJobs == nil {
		out.ImageJobs = []domain.ImageJob{}
	}

	if err := missing.err(StageOptimize); err != nil {
		return zero, nil, err
	}
	return out, warnings, nil
}

// normalizeReview validates stage 5 output. quality_score is accepted as a
// bare number or an object carrying an overall value. Under needs_changes no
// artifact is published, so missing final blocks, final meta or required
// fixes degrade to warnings instead of failing the stage.
func normalizeReview(raw []byte) (domain.ReviewOutput, []string, error) {
	var zero domain.ReviewOutput

	m, err := decodeCanonical(StageReview, raw, reviewAliases)
	if err != nil {
		return zero, nil, err
	}
	applyNestedAliases(m, "final_meta", metaAliases)
	if score, ok := m["quality_score"].(map[string]any); ok {
		if overall, ok := score["overall"]; ok {
			m["quality_score"] = overall
		}
	}
	if err := checkShape(StageReview, reviewSchema, m); err != nil {
		return zero, nil, err
	}

	var out domain.ReviewOutput
	if err := decodeInto(StageReview, m, &out); err != nil {
		return zero, nil, err
	}

	var missing fieldList
	if out.Status != domain.ReviewApproved && out.Status != domain.ReviewNeedsChanges {
		missing.add("status")
	}
	if _, ok := m["quality_score"]; !ok {
		missing.add("quality_score")
	}

	// The final artifact fields are only required on approval. A rejection
	// carries no publishable artifact, so their absence is a warning there.
	var artifact fieldList
	if len(out.FinalBlocks) == 0 {
		artifact.add("final_blocks")
	}
	artifact.requireString("final_meta.title", out.FinalMeta.Title)
	artifact.requireString("final_meta.meta_title", out.FinalMeta.MetaTitle)
	artifact.requireString("final_meta.meta_description", out.FinalMeta.MetaDescription)

	var warnings []string
	if out.Status == domain.ReviewNeedsChanges {
		for _, path := range artifact.missing {
			warnings = append(warnings, path+": absent under needs_changes")
		}
	} else {
		missing.missing = append(missing.missing, artifact.missing...)
	}
	if err := missing.err(StageReview); err != nil {
		return zero, nil, err
	}

	if out.Status == domain.ReviewNeedsChanges && len(out.RequiredFixes) == 0 {
		warnings = append(warnings, "required_fixes: absent despite needs_changes")
	}
	return out, warnings, nil
}
