package pipeline

// RunStatus is the aggregate progress of one pipeline run.
type RunStatus struct {
	Stage        string // "resolving", "building", "done", "error"
	Total        int
	Done         int
	Skipped      int
	Errors       int
	Failures     []string
	FailuresPath string
}

// RecipeError wraps a per-recipe failure (validation, resolution, build or
// test) so the runner can treat it as non-fatal to the rest of the run.
type RecipeError struct {
	Package string
	Err     error
}

func (e *RecipeError) Error() string { return e.Package + ": " + e.Err.Error() }
func (e *RecipeError) Unwrap() error { return e.Err }
