// Package models defines the domain objects exchanged between the HTTP façade,
// the analysis pipeline, and the search backend.
package models

// Analyzer modes controlling which historical launches a query may match.
const (
	AnalyzerModeAll           = "ALL"
	AnalyzerModeLaunchName    = "LAUNCH_NAME"
	AnalyzerModeCurrentLaunch = "CURRENT_LAUNCH"
)

// ErrorLogLevel is the minimum log level considered by the pipeline.
// Levels follow the platform convention (TRACE=20000 ... ERROR=40000).
const ErrorLogLevel = 40000

// AnalyzerConfig carries the per-launch analysis settings supplied by the caller.
type AnalyzerConfig struct {
	AnalyzerMode string `json:"analyzerMode"`
	// NumberOfLogLines is -1 for "use full structured fields"; any other value
	// means "use the first N lines of the merged message".
	NumberOfLogLines int `json:"numberOfLogLines"`
	// MinShouldMatch is a percentage in [0,100]; 0 falls back to the global default.
	MinShouldMatch int `json:"minShouldMatch"`
}

// Log is a single raw log entry of a test item.
type Log struct {
	LogID    int64  `json:"logId"`
	LogLevel int    `json:"logLevel"`
	Message  string `json:"message"`
}

// TestItem is a single test's outcome with its logs.
type TestItem struct {
	TestItemID   int64  `json:"testItemId"`
	UniqueID     string `json:"uniqueId"`
	TestCaseHash int64  `json:"testCaseHash"`
	Logs         []Log  `json:"logs"`
}

// Launch is a batch of test-item executions submitted for analysis.
type Launch struct {
	LaunchID       int64          `json:"launchId"`
	LaunchName     string         `json:"launchName"`
	Project        int64          `json:"project"`
	AnalyzerConfig AnalyzerConfig `json:"analyzerConfig"`
	TestItems      []TestItem     `json:"testItems"`
}

// AnalysisResult is the per-test-item decision produced by auto-analysis.
type AnalysisResult struct {
	TestItem     int64  `json:"testItem"`
	IssueType    string `json:"issueType"`
	RelevantItem int64  `json:"relevantItem"`
}

// ClusterInfo describes one cluster of similar logs.
type ClusterInfo struct {
	ClusterID      int64    `json:"clusterId"`
	ClusterMessage string   `json:"clusterMessage"`
	LogIDs         []string `json:"logIds"`
}

// ClusterResult is the outcome of clustering one launch.
type ClusterResult struct {
	Project  int64         `json:"project"`
	LaunchID int64         `json:"launchId"`
	Clusters []ClusterInfo `json:"clusters"`
}

// LaunchInfoForClustering is the clustering request for one launch.
type LaunchInfoForClustering struct {
	Launch           Launch `json:"launch"`
	Project          int64  `json:"project"`
	NumberOfLogLines int    `json:"numberOfLogLines"`
	CleanNumbers     bool   `json:"cleanNumbers"`
	ForUpdate        bool   `json:"forUpdate"`
}

// SearchLogsRequest asks for test items whose logs are similar to the given messages.
type SearchLogsRequest struct {
	LaunchID          int64    `json:"launchId"`
	LaunchName        string   `json:"launchName"`
	ItemID            int64    `json:"itemId"`
	ProjectID         int64    `json:"projectId"`
	FilteredLaunchIDs []int64  `json:"filteredLaunchIds"`
	LogMessages       []string `json:"logMessages"`
	LogLines          int      `json:"logLines"`
}

// SearchLogInfo is one search hit: a log and its owning test item.
type SearchLogInfo struct {
	LogID      int64 `json:"logId"`
	TestItemID int64 `json:"testItemId"`
}
