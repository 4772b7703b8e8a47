package api

// dispatchRequest is the body of POST /supervisor.
type dispatchRequest struct {
	Task        string         `json:"task"`
	Context     map[string]any `json:"context,omitempty"`
	Preferences map[string]any `json:"preferences,omitempty"`
}

// resumeRequest is the body of the internal worker-completion webhook.
type resumeRequest struct {
	JobID         string `json:"job_id"`
	WorkerID      string `json:"worker_id"`
	Status        string `json:"status"`
	ResultSummary string `json:"result_summary"`
	Error         string `json:"error"`
}
