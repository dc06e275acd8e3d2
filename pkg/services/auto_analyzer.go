package services

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/boosting"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/config"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/esclient"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/esquery"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/logprep"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/models"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/similarity"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/stats"
)

const (
	// DefaultMaxTestItems caps the test items processed per invocation;
	// excess items are truncated with a log line.
	DefaultMaxTestItems = 4000
	// DefaultAnalysisTimeout is the wall clock of one AnalyzeLogs call.
	DefaultAnalysisTimeout = 300 * time.Second

	// earlyFinishWindow is how close to the deadline the consumer raises the
	// early-finish flag.
	earlyFinishWindow = 5 * time.Second
	// queuePollInterval bounds how long the consumer waits for work before
	// re-checking the deadline.
	queuePollInterval = 100 * time.Millisecond
	// candidateQueueSize bounds the producer-to-consumer queue.
	candidateQueueSize = 100
)

// AutoAnalyzerService orchestrates auto-analysis: a producer goroutine builds
// and batches backend queries per failing test item, the consumer ranks the
// returned candidates and emits one decision per test item.
type AutoAnalyzerService struct {
	es              esclient.SearchClient
	cfg             *config.Config
	builder         *esquery.Builder
	scorer          *similarity.Scorer
	featurizer      boosting.Featurizer
	modelChooser    boosting.ModelChooser
	namespaceFinder boosting.NamespaceFinder
	publisher       stats.Publisher
	log             *slog.Logger

	// MaxTestItems and MaxBatchSize are tunables with production defaults.
	MaxTestItems int
	MaxBatchSize int
}

// NewAutoAnalyzerService wires the auto-analysis pipeline.
func NewAutoAnalyzerService(
	es esclient.SearchClient,
	cfg *config.Config,
	scorer *similarity.Scorer,
	featurizer boosting.Featurizer,
	modelChooser boosting.ModelChooser,
	namespaceFinder boosting.NamespaceFinder,
	publisher stats.Publisher,
) *AutoAnalyzerService {
	if namespaceFinder == nil {
		namespaceFinder = boosting.NoopNamespaceFinder{}
	}
	if publisher == nil {
		publisher = stats.NopPublisher{}
	}
	return &AutoAnalyzerService{
		es:              es,
		cfg:             cfg,
		builder:         esquery.NewBuilder(cfg.Search),
		scorer:          scorer,
		featurizer:      featurizer,
		modelChooser:    modelChooser,
		namespaceFinder: namespaceFinder,
		publisher:       publisher,
		log:             slog.With("component", "auto_analyzer"),
		MaxTestItems:    DefaultMaxTestItems,
		MaxBatchSize:    DefaultMaxBatchSize,
	}
}

// analysisRun is the cross-goroutine state of one AnalyzeLogs invocation: the
// candidate queue, the producer completion signal, and the early-finish flag
// (written by the consumer, read by the producer at its boundaries).
type analysisRun struct {
	candidates  chan models.AnalysisCandidate
	done        chan struct{}
	earlyFinish atomic.Bool
}

// runState caches per-project lookups for the lifetime of one invocation.
type runState struct {
	chosenNamespaces map[int64]map[string]int
	autoModels       map[int64]boosting.Model
	defectModels     map[int64]boosting.Model
}

// AnalyzeLogs analyzes all failing test items of the given launches and
// returns one decision per test item that could be classified. The call
// returns within timeout plus a small constant; on timeout the results
// collected so far are returned.
func (s *AutoAnalyzerService) AnalyzeLogs(ctx context.Context, launches []models.Launch, timeout time.Duration) []models.AnalysisResult {
	if timeout <= 0 {
		timeout = DefaultAnalysisTimeout
	}
	start := time.Now()
	deadline := start.Add(timeout)
	s.log.Info("started analysis",
		"launches", len(launches),
		"backend", logprep.RemoveCredentialsFromURL(s.es.Host()))

	run := &analysisRun{
		candidates: make(chan models.AnalysisCandidate, candidateQueueSize),
		done:       make(chan struct{}, 1),
	}
	go s.runQueries(ctx, run, launches)

	var results []models.AnalysisResult
	launchStats := make(map[int64]*stats.LaunchStats)
	state := &runState{
		chosenNamespaces: make(map[int64]map[string]int),
		autoModels:       make(map[int64]boosting.Model),
		defectModels:     make(map[int64]boosting.Model),
	}
	itemsProcessed := 0

consume:
	for {
		if time.Until(deadline) <= earlyFinishWindow {
			run.earlyFinish.Store(true)
			s.log.Info("timeout approaching, requesting early finish")
			break
		}
		select {
		case candidate, ok := <-run.candidates:
			if !ok {
				break consume
			}
			itemsProcessed++
			if result, ok := s.processCandidate(candidate, state, launchStats); ok {
				results = append(results, result)
			}
		case <-time.After(queuePollInterval):
		}
	}

	// Discard undrained entries so a producer blocked on the queue can reach
	// its next early-finish check, then wait for it to exit.
	go func() {
		for range run.candidates {
		}
	}()
	<-run.done

	if err := s.publisher.PublishStats(ctx, launchStats); err != nil {
		s.log.Error("failed to publish stats", "error", err)
	}

	s.log.Info("finished analysis",
		"launches", len(launches),
		"items_processed", itemsProcessed,
		"results", len(results),
		"took", time.Since(start).Round(time.Millisecond))
	return results
}

// runQueries is the producer: it walks launches and test items, builds the
// two queries per prepared log, and flushes size-bounded batches. It always
// closes the candidate queue and fires the done signal, even on error.
func (s *AutoAnalyzerService) runQueries(ctx context.Context, run *analysisRun, launches []models.Launch) {
	defer func() { run.done <- struct{}{} }()
	defer close(run.candidates)

	start := time.Now()
	runner := newBatchQueryRunner(s.es, s.MaxBatchSize, func(c models.AnalysisCandidate) {
		run.candidates <- c
	})
	itemsTaken := 0

launches:
	for _, launch := range launches {
		indexName := logprep.UniteProjectName(launch.Project, s.cfg.App.ESProjectIndexPrefix)
		exists, err := s.es.IndexExists(ctx, indexName)
		if err != nil {
			s.log.Error("index existence check failed", "index", indexName, "error", err)
			continue
		}
		if !exists {
			continue
		}
		for _, testItem := range launch.TestItems {
			if itemsTaken >= s.MaxTestItems {
				s.log.Info("test item cap reached, truncating", "cap", s.MaxTestItems)
				break launches
			}
			if run.earlyFinish.Load() {
				s.log.Info("early finish requested, stopping query production")
				break launches
			}
			s.enqueueTestItemQueries(launch, testItem, indexName, runner)
			if runner.full() {
				if err := runner.flush(ctx); err != nil {
					s.log.Error("batch query failed", "error", err)
					return
				}
			}
			itemsTaken++
		}
	}
	if err := runner.flush(ctx); err != nil {
		s.log.Error("final batch query failed", "error", err)
	}
	s.log.Info("backend queries finished", "took", time.Since(start).Round(time.Millisecond))
}

// enqueueTestItemQueries prepares the test item's logs and adds the two query
// kinds per prepared log to the pending batch.
func (s *AutoAnalyzerService) enqueueTestItemQueries(launch models.Launch, testItem models.TestItem, indexName string, runner *batchQueryRunner) {
	uniqueLogs := logprep.LeaveOnlyUniqueLogs(testItem.Logs)
	var prepared []models.LogDocument
	for _, log := range uniqueLogs {
		if log.LogLevel < models.ErrorLogLevel {
			continue
		}
		prepared = append(prepared, logprep.PrepareLog(launch, testItem, log, indexName))
	}
	for _, doc := range logprep.DecomposeLogsMergedAndWithoutDuplicates(prepared) {
		message := strings.TrimSpace(doc.Source.Message)
		mergedLogs := strings.TrimSpace(doc.Source.MergedSmallLogs)
		if doc.Source.LogLevel < models.ErrorLogLevel || (message == "" && mergedLogs == "") {
			continue
		}
		for _, kind := range []struct {
			queryType models.QueryType
			query     *esquery.Query
		}{
			{models.QueryTypeAnalyze, s.builder.BuildAnalyzeQuery(launch, doc)},
			{models.QueryTypeNoDefect, s.builder.BuildNoDefectQuery(launch, doc)},
		} {
			runner.add(
				esclient.MsearchItem{Index: indexName, Body: kind.query.Body()},
				models.BatchLogInfo{
					AnalyzerConfig: launch.AnalyzerConfig,
					TestItemID:     testItem.TestItemID,
					Log:            doc,
					QueryType:      kind.queryType,
					Project:        launch.Project,
					LaunchID:       launch.LaunchID,
					LaunchName:     launch.LaunchName,
				})
		}
	}
}

// processCandidate runs the ranking stage for one test item: the no-defect
// short-circuit first, then featurization and the model decision. Errors are
// recorded on the launch stats and the item is skipped.
func (s *AutoAnalyzerService) processCandidate(candidate models.AnalysisCandidate, state *runState, launchStats map[int64]*stats.LaunchStats) (models.AnalysisResult, bool) {
	st, ok := launchStats[candidate.LaunchID]
	if !ok {
		st = stats.NewLaunchStats(stats.MethodAutoAnalysis,
			candidate.LaunchID, candidate.LaunchName, candidate.Project, s.cfg.App.AppVersion)
		logLines := candidate.AnalyzerConfig.NumberOfLogLines
		st.NumberOfLogLines = &logLines
		minShouldMatch := s.minShouldMatchPercent(candidate.AnalyzerConfig)
		st.MinShouldMatch = &minShouldMatch
		launchStats[candidate.LaunchID] = st
	}
	st.ItemsToProcess++
	st.ProcessedTime += candidate.TimeProcessed
	itemStart := time.Now()
	defer func() { st.ProcessedTime += time.Since(itemStart).Seconds() }()

	if hit, ok := s.findRelevantWithNoDefect(candidate.CandidatesWithNoDefect); ok {
		s.log.Debug("found relevant item with no defect",
			"test_item", candidate.TestItemID, "relevant_item", hit.Source.TestItem)
		return models.AnalysisResult{
			TestItem:     candidate.TestItemID,
			IssueType:    hit.Source.IssueType,
			RelevantItem: hit.Source.TestItem,
		}, true
	}

	namespaces, ok := state.chosenNamespaces[candidate.Project]
	if !ok {
		namespaces = s.namespaceFinder.ChosenNamespaces(candidate.Project)
		state.chosenNamespaces[candidate.Project] = namespaces
	}

	model, err := s.cachedModel(state.autoModels, candidate.Project, boosting.AutoAnalysisModel,
		s.cfg.Search.ProbabilityForCustomModelAutoAnalysis)
	if err != nil {
		st.RecordError(err)
		return models.AnalysisResult{}, false
	}
	defectModel, err := s.cachedModel(state.defectModels, candidate.Project, boosting.DefectTypeModel, 0)
	if err != nil {
		st.RecordError(err)
		return models.AnalysisResult{}, false
	}

	boostingCfg := boosting.Config{
		MaxQueryTerms:        s.cfg.Search.MaxQueryTerms,
		MinShouldMatch:       float64(s.minShouldMatchPercent(candidate.AnalyzerConfig)) / 100,
		MinWordLength:        s.cfg.Search.MinWordLength,
		NumberOfLogLines:     candidate.AnalyzerConfig.NumberOfLogLines,
		FilterMinShouldMatch: fieldsToFilterStrict(candidate.AnalyzerConfig.NumberOfLogLines),
		ChosenNamespaces:     namespaces,
	}
	featurized, err := s.featurizer.GatherFeatures(candidate.Candidates, boostingCfg, model.FeatureIDs())
	if err != nil {
		st.RecordError(err)
		return models.AnalysisResult{}, false
	}
	st.AddModelInfo(model.Info())
	st.AddModelInfo(defectModel.Info())

	if len(featurized.FeatureMatrix) == 0 {
		st.NotFound++
		s.log.Debug("no candidates for test item", "test_item", candidate.TestItemID)
		return models.AnalysisResult{}, false
	}
	labels, probabilities, err := model.Predict(featurized.FeatureMatrix)
	if err != nil {
		st.RecordError(err)
		st.NotFound++
		return models.AnalysisResult{}, false
	}
	issueType := boosting.ChooseIssueType(labels, probabilities,
		featurized.IssueTypeNames, featurized.ScoresByIssueType)
	if issueType == "" {
		st.NotFound++
		s.log.Debug("no relevant items for test item", "test_item", candidate.TestItemID)
		return models.AnalysisResult{}, false
	}
	return models.AnalysisResult{
		TestItem:     candidate.TestItemID,
		IssueType:    issueType,
		RelevantItem: featurized.ScoresByIssueType[issueType].MrHit.Source.TestItem,
	}, true
}

// findRelevantWithNoDefect scans the no-defect probe hits in reverse order
// and keeps the last similarity-passing hit; the short-circuit fires only
// when that hit is a non-defect type.
func (s *AutoAnalyzerService) findRelevantWithNoDefect(pairs []models.CandidatePair) (models.Hit, bool) {
	threshold := s.cfg.Search.NoDefectMinSimilarity
	for _, pair := range pairs {
		anyNoDefect := false
		for _, hit := range pair.Hits {
			if hasIssueTypePrefix(hit.Source.IssueType, "nd") {
				anyNoDefect = true
				break
			}
		}
		if !anyNoDefect {
			continue
		}
		latest := -1
		for i := len(pair.Hits) - 1; i >= 0; i-- {
			hit := pair.Hits[i]
			score := s.scorer.Score(pair.Log.Source.Message, hit.Source.Message)
			if score.BothEmpty {
				score = s.scorer.Score(pair.Log.Source.MergedSmallLogs, hit.Source.MergedSmallLogs)
			}
			if !score.BothEmpty && score.Similarity >= threshold {
				latest = i
			}
		}
		if latest >= 0 && hasIssueTypePrefix(pair.Hits[latest].Source.IssueType, "nd") {
			return pair.Hits[latest], true
		}
	}
	return models.Hit{}, false
}

func (s *AutoAnalyzerService) cachedModel(cache map[int64]boosting.Model, project int64, kind boosting.ModelKind, customProb float64) (boosting.Model, error) {
	if model, ok := cache[project]; ok {
		return model, nil
	}
	model, err := s.modelChooser.ChooseModel(project, kind, customProb)
	if err != nil {
		return nil, err
	}
	cache[project] = model
	return model, nil
}

// minShouldMatchPercent resolves the effective threshold as an integer
// percentage for stats and the featurizer.
func (s *AutoAnalyzerService) minShouldMatchPercent(cfg models.AnalyzerConfig) int {
	if cfg.MinShouldMatch > 0 {
		return cfg.MinShouldMatch
	}
	parsed := strings.TrimSuffix(strings.TrimSpace(s.cfg.Search.MinShouldMatch), "%")
	percent := 0
	for _, r := range parsed {
		if r < '0' || r > '9' {
			return 0
		}
		percent = percent*10 + int(r-'0')
	}
	return percent
}

// fieldsToFilterStrict lists the fields a hit must match strictly before it
// may contribute features, depending on the log-line mode.
func fieldsToFilterStrict(numberOfLogLines int) []string {
	if numberOfLogLines == -1 {
		return []string{"detected_message", "stacktrace", "potential_status_codes"}
	}
	return []string{"message", "potential_status_codes"}
}

func hasIssueTypePrefix(issueType, prefix string) bool {
	return len(issueType) >= len(prefix) &&
		strings.EqualFold(issueType[:len(prefix)], prefix)
}
