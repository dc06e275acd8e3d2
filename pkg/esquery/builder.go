package esquery

import (
	"fmt"
	"math"
	"strings"

	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/config"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/models"
)

// DefaultQuerySize is the hit count requested by the analyze and no-defect
// queries.
const DefaultQuerySize = 10

// Builder translates prepared logs and analyzer configuration into backend
// query bodies. It is stateless; one builder serves all launches.
type Builder struct {
	maxQueryTerms         int
	defaultMinShouldMatch string
	boostLaunch           float64
}

// NewBuilder creates a query builder from the search configuration.
func NewBuilder(search config.SearchConfig) *Builder {
	return &Builder{
		maxQueryTerms:         search.MaxQueryTerms,
		defaultMinShouldMatch: search.MinShouldMatch,
		boostLaunch:           search.BoostLaunch,
	}
}

// MinShouldMatchSetting resolves the effective threshold string for a launch:
// the launch's own percentage when positive, the global default otherwise.
func (b *Builder) MinShouldMatchSetting(cfg models.AnalyzerConfig) string {
	if cfg.MinShouldMatch > 0 {
		return fmt.Sprintf("%d%%", cfg.MinShouldMatch)
	}
	return b.defaultMinShouldMatch
}

// moreLikeThis builds the standard similarity clause. Percentage thresholds
// get the "5<" combination prefix: texts of five or fewer terms must match
// all terms, longer texts match the percentage.
func (b *Builder) moreLikeThis(field, like, minShouldMatch string, boost float64) MoreLikeThis {
	return MoreLikeThis{
		Field:          field,
		Like:           like,
		MinShouldMatch: "5<" + minShouldMatch,
		Boost:          boost,
		MaxQueryTerms:  b.maxQueryTerms,
	}
}

// moreLikeThisAbsolute builds a similarity clause with an absolute
// min-should-match term count instead of a percentage.
func (b *Builder) moreLikeThisAbsolute(field, like, termCount string, boost float64) MoreLikeThis {
	return MoreLikeThis{
		Field:          field,
		Like:           like,
		MinShouldMatch: termCount,
		Boost:          boost,
		MaxQueryTerms:  b.maxQueryTerms,
	}
}

// addLaunchConstraints applies the analyzer-mode launch scoping: LAUNCH_NAME
// and CURRENT_LAUNCH filter via must, everything else only boosts documents of
// the same launch name.
func (b *Builder) addLaunchConstraints(q *Query, launch models.Launch) {
	switch launch.AnalyzerConfig.AnalyzerMode {
	case models.AnalyzerModeLaunchName:
		q.Root.Must = append(q.Root.Must, Term{Field: "launch_name", Value: launch.LaunchName})
	case models.AnalyzerModeCurrentLaunch:
		q.Root.Must = append(q.Root.Must, Term{Field: "launch_id", Value: launch.LaunchID})
	default:
		q.Root.Should = append(q.Root.Should,
			Term{Field: "launch_name", Value: launch.LaunchName, Boost: math.Abs(b.boostLaunch)})
	}
}

// commonQuery is the shared frame of the analyze query: ERROR-level gate,
// triaged documents only, to-investigate and the queried item itself excluded.
func commonQuery(log models.LogDocument, size int) *Query {
	return &Query{
		Size: size,
		Sort: []any{"_score", map[string]any{"start_time": "desc"}},
		Root: Bool{
			Filter: []Clause{
				Range{Field: "log_level", GTE: models.ErrorLogLevel},
				Exists{Field: "issue_type"},
			},
			MustNot: []Clause{
				Wildcard{Field: "issue_type", Pattern: "TI*"},
				Wildcard{Field: "issue_type", Pattern: "ti*"},
				Term{Field: "test_item", Value: log.Source.TestItem},
			},
		},
	}
}

// BuildAnalyzeQuery builds the main similarity query for one prepared log.
func (b *Builder) BuildAnalyzeQuery(launch models.Launch, log models.LogDocument) *Query {
	minShouldMatch := b.MinShouldMatchSetting(launch.AnalyzerConfig)
	q := commonQuery(log, DefaultQuerySize)
	b.addLaunchConstraints(q, launch)

	if strings.TrimSpace(log.Source.Message) != "" {
		q.Root.Filter = append(q.Root.Filter, Term{Field: "is_merged", Value: false})
		if launch.AnalyzerConfig.NumberOfLogLines == -1 {
			q.Root.Must = append(q.Root.Must,
				b.moreLikeThis("detected_message", log.Source.DetectedMessage, minShouldMatch, 4.0))
			if strings.TrimSpace(log.Source.Stacktrace) != "" {
				q.Root.Must = append(q.Root.Must,
					b.moreLikeThis("stacktrace", log.Source.Stacktrace, minShouldMatch, 2.0))
			} else {
				q.Root.MustNot = append(q.Root.MustNot, Wildcard{Field: "stacktrace", Pattern: "*"})
			}
		} else {
			q.Root.Must = append(q.Root.Must,
				b.moreLikeThis("message", log.Source.Message, minShouldMatch, 4.0))
			q.Root.Should = append(q.Root.Should,
				b.moreLikeThis("detected_message", log.Source.DetectedMessage, "80%", 2.0),
				b.moreLikeThis("stacktrace", log.Source.Stacktrace, "60%", 1.0))
		}
		q.Root.Should = append(q.Root.Should,
			b.moreLikeThis("merged_small_logs", log.Source.MergedSmallLogs, "80%", 0.5),
			b.moreLikeThisAbsolute("only_numbers", log.Source.OnlyNumbers, "1", 4.0))
	} else {
		q.Root.Filter = append(q.Root.Filter, Term{Field: "is_merged", Value: true})
		q.Root.MustNot = append(q.Root.MustNot, Wildcard{Field: "message", Pattern: "*"})
		q.Root.Must = append(q.Root.Must,
			b.moreLikeThis("merged_small_logs", log.Source.MergedSmallLogs, minShouldMatch, 2.0))
	}

	if strings.TrimSpace(log.Source.FoundExceptions) != "" {
		q.Root.Must = append(q.Root.Must,
			b.moreLikeThisAbsolute("found_exceptions", log.Source.FoundExceptions, "1", 4.0))
	}
	if strings.TrimSpace(log.Source.PotentialStatusCodes) != "" {
		q.Root.Should = append(q.Root.Should,
			b.moreLikeThisAbsolute("potential_status_codes", log.Source.PotentialStatusCodes, "1", 4.0))
	}
	return q
}

// BuildNoDefectQuery builds the probe that detects "this test has historically
// been classified as non-defect": same test identity, triaged, not
// to-investigate, messages similar at the launch threshold.
func (b *Builder) BuildNoDefectQuery(launch models.Launch, log models.LogDocument) *Query {
	minShouldMatch := b.MinShouldMatchSetting(launch.AnalyzerConfig)
	q := &Query{
		Size: DefaultQuerySize,
		Sort: []any{"_score", map[string]any{"start_time": "desc"}},
		Root: Bool{
			Filter: []Clause{
				Range{Field: "log_level", GTE: models.ErrorLogLevel},
				Exists{Field: "issue_type"},
				Term{Field: "is_merged", Value: false},
			},
			MustNot: []Clause{
				Wildcard{Field: "issue_type", Pattern: "TI*"},
				Wildcard{Field: "issue_type", Pattern: "ti*"},
				Term{Field: "test_item", Value: log.Source.TestItem},
			},
			Must: []Clause{
				Term{Field: "unique_id", Value: log.Source.UniqueID},
				Term{Field: "test_case_hash", Value: log.Source.TestCaseHash},
			},
		},
	}
	b.addLaunchConstraints(q, launch)
	q.Root.Must = append(q.Root.Must,
		b.moreLikeThis("message", log.Source.Message, minShouldMatch, 1.0))
	return q
}

// BuildSimilarItemsQuery builds the historical-extension query used by
// clustering: logs similar to the group representative under the same error
// signature, preferring documents that already carry a cluster annotation.
func (b *Builder) BuildSimilarItemsQuery(log models.LogDocument, message string, sameLaunch bool, minShouldMatch string) *Query {
	q := &Query{
		Size: DefaultQuerySize,
		SourceFields: []string{
			"whole_message", "test_item", "detected_message", "stacktrace",
			"launch_id", "cluster_id", "cluster_message",
		},
		Root: Bool{
			Filter: []Clause{
				Range{Field: "log_level", GTE: models.ErrorLogLevel},
				Exists{Field: "issue_type"},
				Term{Field: "is_merged", Value: false},
			},
			MustNot: []Clause{
				Term{Field: "test_item", Value: log.Source.TestItem, Boost: 1.0},
			},
			Must: []Clause{
				b.moreLikeThis("whole_message", message, minShouldMatch, 1.0),
			},
		},
	}
	if sameLaunch {
		q.Root.Must = append(q.Root.Must, Term{Field: "launch_id", Value: log.Source.LaunchID})
		q.Root.Should = append(q.Root.Should, Wildcard{Field: "cluster_message", Pattern: "*"})
	} else {
		q.Root.Must = append(q.Root.Must, Wildcard{Field: "cluster_message", Pattern: "*"})
	}
	b.appendSignatureClauses(q, log)
	return q
}

// BuildSearchQuery builds the precision-tight query of the search service:
// to-investigate items within the supplied launches, excluding the queried
// item itself.
func (b *Builder) BuildSearchQuery(req models.SearchLogsRequest, log models.LogDocument, minShouldMatch string, size int) *Query {
	launchIDs := make([]any, 0, len(req.FilteredLaunchIDs))
	for _, id := range req.FilteredLaunchIDs {
		launchIDs = append(launchIDs, id)
	}
	q := &Query{
		Size: size,
		SourceFields: []string{
			"message", "test_item", "detected_message", "stacktrace", "potential_status_codes",
		},
		Root: Bool{
			Filter: []Clause{
				Range{Field: "log_level", GTE: models.ErrorLogLevel},
				Exists{Field: "issue_type"},
				Term{Field: "is_merged", Value: false},
			},
			MustNot: []Clause{
				Term{Field: "test_item", Value: req.ItemID, Boost: 1.0},
			},
			Must: []Clause{
				Bool{Should: []Clause{
					Wildcard{Field: "issue_type", Pattern: "TI*"},
					Wildcard{Field: "issue_type", Pattern: "ti*"},
				}},
				Terms{Field: "launch_id", Values: launchIDs},
				b.moreLikeThis("message", log.Source.Message, minShouldMatch, 1.0),
			},
			Should: []Clause{
				Term{Field: "is_auto_analyzed", Value: "false", Boost: 1.0},
			},
		},
	}
	b.appendSignatureClauses(q, log)
	return q
}

// appendSignatureClauses adds the high-precision exception and status-code
// gates shared by the cluster and search queries: every distinct status code
// must match; at least one exception must match.
func (b *Builder) appendSignatureClauses(q *Query, log models.LogDocument) {
	if strings.TrimSpace(log.Source.FoundExceptions) != "" {
		q.Root.Must = append(q.Root.Must,
			b.moreLikeThisAbsolute("found_exceptions", log.Source.FoundExceptions, "1", 1.0))
	}
	if strings.TrimSpace(log.Source.PotentialStatusCodes) != "" {
		distinct := distinctTokenCount(log.Source.PotentialStatusCodes)
		q.Root.Must = append(q.Root.Must,
			b.moreLikeThisAbsolute("potential_status_codes", log.Source.PotentialStatusCodes,
				fmt.Sprintf("%d", distinct), 1.0))
	}
}

func distinctTokenCount(field string) int {
	seen := make(map[string]struct{})
	for _, tok := range strings.Fields(field) {
		seen[tok] = struct{}{}
	}
	return len(seen)
}
