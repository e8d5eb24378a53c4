package broadcast

// Event type constants
const (
	EventConnected     = "connected"
	EventHeartbeat     = "heartbeat"
	EventBatchUpdate   = "batch_update"
	EventBatchComplete = "batch_complete"
)

// FileTiming is one per-file entry in a progress event's timing summary.
type FileTiming struct {
	File   string  `json:"file"`
	Type   string  `json:"type"`
	Pages  int     `json:"pages"`
	TimeS  float64 `json:"time_s"`
	Status string  `json:"status"`
	Error  string  `json:"error,omitempty"`
}

// Event is a progress message delivered to observers.
type Event struct {
	Type              string       `json:"type"`
	BatchID           string       `json:"batch_id,omitempty"`
	Status            string       `json:"status,omitempty"`
	CurrentFile       string       `json:"current_file,omitempty"`
	CurrentDocType    string       `json:"current_doc_type,omitempty"`
	Completed         int          `json:"completed"`
	Failed            int          `json:"failed"`
	Total             int          `json:"total"`
	ProgressPct       float64      `json:"progress_pct"`
	ETASeconds        float64      `json:"eta_seconds"`
	AvgPerFileSeconds float64      `json:"avg_per_file_seconds"`
	ElapsedSeconds    float64      `json:"elapsed_seconds"`
	FileTimings       []FileTiming `json:"file_timings,omitempty"`
	Message           string       `json:"message,omitempty"`
}
