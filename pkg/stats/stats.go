// Package stats accumulates per-launch processing statistics and publishes
// them to the message bus at the end of each analysis.
package stats

import (
	"time"
)

// Methods reported in the stats envelope.
const (
	MethodAutoAnalysis = "auto_analysis"
	MethodFindClusters = "find_clusters"
)

// LaunchStats is the stats record of one launch, serialized into the envelope
// keyed by launch id.
type LaunchStats struct {
	NotFound         int      `json:"not_found"`
	ItemsToProcess   int      `json:"items_to_process"`
	ProcessedTime    float64  `json:"processed_time"`
	FoundClusters    *int     `json:"found_clusters,omitempty"`
	LaunchID         int64    `json:"launch_id"`
	LaunchName       string   `json:"launch_name"`
	ProjectID        int64    `json:"project_id"`
	Method           string   `json:"method"`
	GatherDate       string   `json:"gather_date"`
	GatherDatetime   string   `json:"gather_datetime"`
	NumberOfLogLines *int     `json:"number_of_log_lines,omitempty"`
	MinShouldMatch   *int     `json:"min_should_match,omitempty"`
	ModelInfo        []string `json:"model_info"`
	ModuleVersion    []string `json:"module_version"`
	Errors           []string `json:"errors"`
	ErrorsCount      int      `json:"errors_count"`
}

// NewLaunchStats creates a record stamped with the local gather time.
func NewLaunchStats(method string, launchID int64, launchName string, projectID int64, moduleVersion string) *LaunchStats {
	now := time.Now()
	return &LaunchStats{
		LaunchID:       launchID,
		LaunchName:     launchName,
		ProjectID:      projectID,
		Method:         method,
		GatherDate:     now.Format("2006-01-02"),
		GatherDatetime: now.Format("2006-01-02 15:04:05"),
		ModelInfo:      []string{},
		ModuleVersion:  []string{moduleVersion},
		Errors:         []string{},
	}
}

// RecordError appends a stringified error and bumps the error count.
func (s *LaunchStats) RecordError(err error) {
	s.Errors = append(s.Errors, err.Error())
	s.ErrorsCount++
}

// AddModelInfo merges model info tags, keeping the list a set.
func (s *LaunchStats) AddModelInfo(tags []string) {
	seen := make(map[string]struct{}, len(s.ModelInfo))
	for _, t := range s.ModelInfo {
		seen[t] = struct{}{}
	}
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		s.ModelInfo = append(s.ModelInfo, t)
	}
}
