package signal

import "time"

// ResultStatus is the overall outcome of a pipeline run.
type ResultStatus string

// Pipeline run outcomes.
const (
	// StatusSuccess means all three stages succeeded.
	StatusSuccess ResultStatus = "success"
	// StatusPartial means classification succeeded but the decision stage
	// failed; a safe fallback decision is attached.
	StatusPartial ResultStatus = "partial"
	// StatusFailed means classification failed; no decision is produced.
	StatusFailed ResultStatus = "failed"
)

// StageResult records the outcome of one pipeline stage.
type StageResult struct {
	Duration time.Duration `json:"duration"`
	Cached   bool          `json:"cached,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// ResultMetadata summarizes a pipeline run.
type ResultMetadata struct {
	ProcessingTime      time.Duration            `json:"processing_time"`
	Confidence          float64                  `json:"confidence"`
	Cached              bool                     `json:"cached"`
	WarningCount        int                      `json:"warning_count"`
	RequiresHumanReview bool                     `json:"requires_human_review"`
	Status              ResultStatus             `json:"status"`
	StageTimings        map[string]time.Duration `json:"stage_timings"`
}

// ReasoningResult is the full output of the reasoning pipeline for one
// signal. Stages that did not run (or failed) leave their pointer nil and
// record the failure in the corresponding StageResult.
type ReasoningResult struct {
	Signal         Signal              `json:"signal"`
	Preprocessed   *PreprocessedSignal `json:"preprocessed,omitempty"`
	Classification *Classification     `json:"classification,omitempty"`
	Decision       *Decision           `json:"decision,omitempty"`

	PreprocessStage     StageResult `json:"preprocess_stage"`
	ClassificationStage StageResult `json:"classification_stage"`
	DecisionStage       StageResult `json:"decision_stage"`

	Metadata ResultMetadata `json:"metadata"`
}
