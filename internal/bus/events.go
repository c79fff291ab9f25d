package bus

// RunStarted is published when a dataset evaluation begins.
type RunStarted struct {
	RunID   string   `json:"run_id"`
	Dataset string   `json:"dataset,omitempty"`
	Queries int      `json:"queries"`
	Metrics []string `json:"metrics"`
	Workers int      `json:"workers"`
}

// QueryCompleted is published for every evaluated query.
type QueryCompleted struct {
	RunID   string             `json:"run_id"`
	QueryID string             `json:"query_id"`
	Index   int                `json:"index"`
	Scores  map[string]float64 `json:"scores,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// RunCompleted is published when a dataset evaluation ends.
type RunCompleted struct {
	RunID      string             `json:"run_id"`
	Queries    int                `json:"queries"`
	Failed     int                `json:"failed"`
	Mean       map[string]float64 `json:"mean,omitempty"`
	DurationMs int64              `json:"duration_ms"`
	Error      string             `json:"error,omitempty"`
}

// DatasetGenerated is published when the generator finishes a dataset.
type DatasetGenerated struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
	Queries   int `json:"queries"`
}
