package models

// ValidationResult is the outcome of the URL safety pipeline, cached under url_validation:{url}.
type ValidationResult struct {
	IsSafe   bool     `json:"is_safe"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (r *ValidationResult) Fail(msg string) {
	r.IsSafe = false
	r.Errors = append(r.Errors, msg)
}

func (r *ValidationResult) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}
