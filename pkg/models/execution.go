package models

import "strings"

// MutationRequest carries the inputs of one "new image" pull request. It is
// built from the inbound request, consumed once and discarded.
type MutationRequest struct {
	GitUser     string  `json:"git_user" form:"git_user"`
	BaseBranch  string  `json:"branch" form:"branch"`
	JiraNumber  string  `json:"jira_number" form:"jira_number"`
	FileContent string  `json:"file_content" form:"file_content"`
	ImageName   string  `json:"image_name" form:"image_name"`
	TestMode    *string `json:"test_mode,omitempty" form:"test_mode"`
	Host        string  `json:"-" form:"-"`
}

// Missing returns the names of the required fields that are empty, in the
// order the API documents them. Whitespace counts as a value.
func (r MutationRequest) Missing() []string {
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"git_user", r.GitUser},
		{"branch", r.BaseBranch},
		{"jira_number", r.JiraNumber},
		{"file_content", r.FileContent},
		{"image_name", r.ImageName},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// Parameters echoes the required fields back to the caller.
func (r MutationRequest) Parameters() map[string]string {
	return map[string]string{
		"git_user":     r.GitUser,
		"branch":       r.BaseBranch,
		"jira_number":  r.JiraNumber,
		"file_content": r.FileContent,
		"image_name":   r.ImageName,
	}
}

// IsTestMode reports whether remote calls must be skipped. Test mode is the
// default when the flag is not given.
func (r MutationRequest) IsTestMode() bool {
	if r.TestMode == nil || *r.TestMode == "" {
		return true
	}
	return strings.Contains(strings.ToLower(*r.TestMode), "true")
}

type MutationResult struct {
	Status  string `json:"status"`
	Payload string `json:"payload"`
	PRURL   string `json:"pr_url"`
	Branch  string `json:"branch,omitempty"`
}
