package index

import "time"

// FileError records a single file that failed mid-pipeline. The file is
// excluded from the commit set; the rest of the run proceeds.
type FileError struct {
	File  string `json:"file"`
	Stage Stage  `json:"stage"`
	Error string `json:"error"`
}

// DetectorStats counts files the discovery gates held back.
type DetectorStats struct {
	SecretsSkipped   int `json:"secrets_skipped"`
	ArtifactsSkipped int `json:"artifacts_skipped"`
	OversizeSkipped  int `json:"oversize_skipped"`
}

// Stats summarizes one indexing run.
type Stats struct {
	RepoID             string        `json:"repo_id"`
	RunID              string        `json:"run_id"`
	FilesIndexed       int           `json:"files_indexed"`
	FilesSkipped       int           `json:"files_skipped"`
	FilesDeleted       int           `json:"files_deleted"`
	ChunksCreated      int           `json:"chunks_created"`
	SymbolsExtracted   int           `json:"symbols_extracted"`
	WorkspacesDetected int           `json:"workspaces_detected"`
	ServicesDetected   int           `json:"services_detected"`
	EndpointsDetected  int           `json:"endpoints_detected"`
	SummaryFallbacks   int64         `json:"summary_fallbacks"`
	Detector           DetectorStats `json:"detector"`
	Errors             []FileError   `json:"errors,omitempty"`
	Duration           time.Duration `json:"duration"`
	NoOp               bool          `json:"no_op,omitempty"`
}
