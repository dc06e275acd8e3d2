package services

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/config"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/esclient"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/esquery"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/logprep"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/models"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/similarity"
)

// maxSearchHits caps how many hits one search request may scroll through.
const maxSearchHits = 10000

// statusCodeMinSimilarity is the gate on status-code agreement between the
// queried message and a hit. Effectively exact-set equality.
const statusCodeMinSimilarity = 0.99

// SearchService finds to-investigate test items whose logs are similar to the
// supplied messages.
type SearchService struct {
	es      esclient.SearchClient
	cfg     *config.Config
	builder *esquery.Builder
	scorer  *similarity.Scorer
	log     *slog.Logger
}

// NewSearchService wires the similar-log search pipeline.
func NewSearchService(es esclient.SearchClient, cfg *config.Config, scorer *similarity.Scorer) *SearchService {
	return &SearchService{
		es:      es,
		cfg:     cfg,
		builder: esquery.NewBuilder(cfg.Search),
		scorer:  scorer,
		log:     slog.With("component", "search_service"),
	}
}

// SearchLogs returns the logs of to-investigate items similar to the request's
// messages, one entry per matching log, ordered by test item then log id.
func (s *SearchService) SearchLogs(ctx context.Context, req models.SearchLogsRequest) []models.SearchLogInfo {
	start := time.Now()
	indexName := logprep.UniteProjectName(req.ProjectID, s.cfg.App.ESProjectIndexPrefix)
	exists, err := s.es.IndexExists(ctx, indexName)
	if err != nil {
		s.log.Error("index existence check failed", "index", indexName, "error", err)
		return nil
	}
	if !exists {
		return nil
	}

	found := make(map[string]models.SearchLogInfo)
	for _, queried := range s.prepareQueriedLogs(req) {
		s.searchOneMessage(ctx, indexName, req, queried, found)
	}

	results := make([]models.SearchLogInfo, 0, len(found))
	for _, info := range found {
		results = append(results, info)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].TestItemID != results[j].TestItemID {
			return results[i].TestItemID < results[j].TestItemID
		}
		return results[i].LogID < results[j].LogID
	})
	s.log.Info("finished log search",
		"item_id", req.ItemID,
		"messages", len(req.LogMessages),
		"results", len(results),
		"took", time.Since(start).Round(time.Millisecond))
	return results
}

// prepareQueriedLogs trims each request message to the requested line count
// and drops empty and token-duplicate messages.
func (s *SearchService) prepareQueriedLogs(req models.SearchLogsRequest) []models.LogDocument {
	seen := make(map[string]struct{}, len(req.LogMessages))
	var queried []models.LogDocument
	for _, raw := range req.LogMessages {
		message := strings.TrimSpace(logprep.FirstLines(strings.TrimSpace(raw), req.LogLines))
		if message == "" {
			continue
		}
		tokenKey := strings.Join(logprep.SplitWords(message, s.cfg.Search.MinWordLength), " ")
		if _, ok := seen[tokenKey]; ok {
			continue
		}
		seen[tokenKey] = struct{}{}
		queried = append(queried, models.LogDocument{
			Source: models.LogSource{
				TestItem:             req.ItemID,
				Message:              message,
				FoundExceptions:      logprep.ExtractFoundExceptions(message),
				PotentialStatusCodes: logprep.ExtractPotentialStatusCodes(message),
			},
		})
	}
	return queried
}

// searchOneMessage scrolls the backend for one queried message and merges the
// post-filtered matches into found.
func (s *SearchService) searchOneMessage(ctx context.Context, indexName string, req models.SearchLogsRequest, queried models.LogDocument, found map[string]models.SearchLogInfo) {
	threshold := logprep.CalculateThresholdForText(queried.Source.Message,
		s.cfg.Search.SearchLogsMinSimilarity)
	minSimilarity := float64(threshold) / 100
	query := s.builder.BuildSearchQuery(req, queried,
		logprep.PrepareESMinShouldMatch(threshold), s.cfg.App.ESChunkNumber)

	seenHits := 0
	err := s.es.Scroll(ctx, indexName, query.Body(), s.cfg.App.ESChunkNumber, func(hit models.Hit) bool {
		seenHits++
		if s.hitMatches(queried, hit, minSimilarity) {
			logID, err := strconv.ParseInt(hit.ID, 10, 64)
			if err != nil {
				s.log.Warn("hit with non-numeric id skipped", "id", hit.ID)
			} else {
				found[hit.ID] = models.SearchLogInfo{LogID: logID, TestItemID: hit.Source.TestItem}
			}
		}
		return seenHits < maxSearchHits
	})
	if err != nil {
		s.log.Error("search query failed", "error", err)
	}
}

// hitMatches applies the post-query gates: message similarity at the
// length-normalized threshold and near-exact status-code agreement. Hits
// without status codes on either side pass the status gate.
func (s *SearchService) hitMatches(queried models.LogDocument, hit models.Hit, minSimilarity float64) bool {
	msgScore := s.scorer.Score(queried.Source.Message, hit.Source.Message)
	if msgScore.BothEmpty || msgScore.Similarity < minSimilarity {
		return false
	}
	statusScore := s.scorer.Score(queried.Source.PotentialStatusCodes, hit.Source.PotentialStatusCodes)
	statusSimilarity := 1.0
	if !statusScore.BothEmpty {
		statusSimilarity = statusScore.Similarity
	}
	return statusSimilarity >= statusCodeMinSimilarity
}
