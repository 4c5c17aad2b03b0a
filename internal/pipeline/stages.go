package pipeline

import "fmt"

// Stage names reported in progress events and errors.
const (
	StageProfile  = "profile"
	StageScan     = "scan"
	StageClassify = "classify"
	StageGenerate = "generate"
	StageFill     = "fill"
	StageAttach   = "attach"
	StagePublish  = "publish"
)

// Stage categories group stages for the review surfaces.
const (
	CategoryAnalysis    = "analysis"
	CategoryAI          = "ai"
	CategoryInteraction = "interaction"
	CategoryReview      = "review"
)

var stageCategories = map[string]string{
	StageProfile:  CategoryAnalysis,
	StageScan:     CategoryAnalysis,
	StageClassify: CategoryAnalysis,
	StageGenerate: CategoryAI,
	StageFill:     CategoryInteraction,
	StageAttach:   CategoryInteraction,
	StagePublish:  CategoryReview,
}

func categoryOf(stage string) string {
	return stageCategories[stage]
}

// StageError reports the stage a run was in when it failed.
type StageError struct {
	Stage string
	Cause error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("autofill run failed during %s: %v", e.Stage, e.Cause)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

// recoverInto turns a panic in the calling goroutine into *err.
func recoverInto(err *error) {
	if rec := recover(); rec != nil {
		*err = fmt.Errorf("panic: %v", rec)
	}
}
