package models

// LogSource is the indexed document body for one prepared log. Field names
// match the backend mapping.
type LogSource struct {
	TestItem             int64  `json:"test_item"`
	UniqueID             string `json:"unique_id"`
	TestCaseHash         int64  `json:"test_case_hash"`
	LaunchID             int64  `json:"launch_id"`
	LaunchName           string `json:"launch_name"`
	LogLevel             int    `json:"log_level"`
	Message              string `json:"message"`
	DetectedMessage      string `json:"detected_message"`
	Stacktrace           string `json:"stacktrace"`
	MergedSmallLogs      string `json:"merged_small_logs"`
	WholeMessage         string `json:"whole_message"`
	OnlyNumbers          string `json:"only_numbers"`
	FoundExceptions      string `json:"found_exceptions"`
	PotentialStatusCodes string `json:"potential_status_codes"`
	IsMerged             bool   `json:"is_merged"`
	IssueType            string `json:"issue_type,omitempty"`
	IsAutoAnalyzed       bool   `json:"is_auto_analyzed,omitempty"`
	ClusterID            string `json:"cluster_id"`
	ClusterMessage       string `json:"cluster_message"`
	StartTime            string `json:"start_time,omitempty"`
}

// LogDocument is a prepared log addressed within an index.
type LogDocument struct {
	ID     string
	Index  string
	Source LogSource
}

// Hit is one backend search hit.
type Hit struct {
	ID     string
	Index  string
	Score  float64
	Source LogSource
}

// SearchResult is the ordered hit list of one backend query.
type SearchResult struct {
	Hits []Hit
}

// CandidatePair couples a queried log with the hits its query returned.
type CandidatePair struct {
	Log  LogDocument
	Hits []Hit
}

// BatchLogInfo is the per-query metadata tracked while queries sit in a batch,
// so each response can be routed back to its owning test item.
type BatchLogInfo struct {
	AnalyzerConfig AnalyzerConfig
	TestItemID     int64
	Log            LogDocument
	QueryType      QueryType
	Project        int64
	LaunchID       int64
	LaunchName     string
}

// QueryType distinguishes the two query kinds issued per prepared log.
type QueryType string

const (
	// QueryTypeAnalyze is the main similarity query.
	QueryTypeAnalyze QueryType = "without no defect"
	// QueryTypeNoDefect is the no-defect probe query.
	QueryTypeNoDefect QueryType = "with no defect"
)

// AnalysisCandidate is the per-test-item work unit handed from the query
// producer to the analysis consumer.
type AnalysisCandidate struct {
	AnalyzerConfig         AnalyzerConfig
	TestItemID             int64
	Project                int64
	LaunchID               int64
	LaunchName             string
	TimeProcessed          float64
	Candidates             []CandidatePair
	CandidatesWithNoDefect []CandidatePair
}
