package services

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/clustering"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/config"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/esclient"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/esquery"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/logprep"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/models"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/similarity"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/stats"
)

// ClusterService groups the error logs of one launch into clusters of similar
// messages, extends them with matching historical clusters, and writes the
// cluster annotations back to the index.
type ClusterService struct {
	es          esclient.SearchClient
	cfg         *config.Config
	builder     *esquery.Builder
	clusterizer *clustering.Clusterizer
	publisher   stats.Publisher
	log         *slog.Logger
}

// NewClusterService wires the clustering pipeline.
func NewClusterService(es esclient.SearchClient, cfg *config.Config, scorer *similarity.Scorer, publisher stats.Publisher) *ClusterService {
	if publisher == nil {
		publisher = stats.NopPublisher{}
	}
	return &ClusterService{
		es:          es,
		cfg:         cfg,
		builder:     esquery.NewBuilder(cfg.Search),
		clusterizer: clustering.NewClusterizer(scorer),
		publisher:   publisher,
		log:         slog.With("component", "cluster_service"),
	}
}

// preparedLog couples a prepared document with its canonical clustering message.
type preparedLog struct {
	doc     models.LogDocument
	message string
}

// signatureGroup is the set of prepared logs sharing one error signature
// (sorted found exceptions plus sorted status codes).
type signatureGroup struct {
	key     string
	indices []int
}

// FindClusters clusters the error logs of the launch and returns one entry per
// cluster. Cluster ids are inherited from matching historical clusters where
// possible and content-hashed otherwise. The index is updated with the cluster
// annotations of the launch's own logs.
func (s *ClusterService) FindClusters(ctx context.Context, info models.LaunchInfoForClustering) models.ClusterResult {
	start := time.Now()
	result := models.ClusterResult{
		Project:  info.Project,
		LaunchID: info.Launch.LaunchID,
	}
	launchStats := stats.NewLaunchStats(stats.MethodFindClusters,
		info.Launch.LaunchID, info.Launch.LaunchName, info.Project, s.cfg.App.AppVersion)
	logLines := info.NumberOfLogLines
	launchStats.NumberOfLogLines = &logLines
	defer s.publishStats(ctx, info.Launch.LaunchID, launchStats, start)

	indexName := logprep.UniteProjectName(info.Project, s.cfg.App.ESProjectIndexPrefix)
	exists, err := s.es.IndexExists(ctx, indexName)
	if err != nil {
		s.log.Error("index existence check failed", "index", indexName, "error", err)
		launchStats.RecordError(err)
		return result
	}
	if !exists {
		s.log.Info("index not found, nothing to cluster", "index", indexName)
		return result
	}

	prepared := s.prepareLaunchLogs(info, indexName)
	launchStats.ItemsToProcess = len(prepared)
	if len(prepared) == 0 {
		return result
	}

	launchLogIDs := make(map[string]struct{}, len(prepared))
	for _, p := range prepared {
		launchLogIDs[p.doc.ID] = struct{}{}
	}

	clusters := make(map[int64]*models.ClusterInfo)
	var clusterOrder []int64
	var bulkOps []esclient.BulkUpdateOp

	for _, group := range groupBySignature(prepared) {
		messages := make([]string, 0, len(group.indices))
		for _, idx := range group.indices {
			messages = append(messages, prepared[idx].message)
		}
		local := s.clusterizer.FindClusters(messages, s.cfg.Search.ClusterLogsMinSimilarity)
		for g := 0; g < len(local); g++ {
			members := make([]preparedLog, 0, len(local[g]))
			for _, pos := range local[g] {
				members = append(members, prepared[group.indices[pos]])
			}
			clusterID, clusterMessage, externalLogIDs := s.resolveCluster(ctx, indexName, members, info, launchLogIDs)
			cluster, ok := clusters[clusterID]
			if !ok {
				cluster = &models.ClusterInfo{ClusterID: clusterID, ClusterMessage: clusterMessage}
				clusters[clusterID] = cluster
				clusterOrder = append(clusterOrder, clusterID)
			}
			for _, m := range members {
				cluster.LogIDs = append(cluster.LogIDs, m.doc.ID)
				bulkOps = append(bulkOps, esclient.BulkUpdateOp{
					Index: indexName,
					ID:    m.doc.ID,
					Doc: map[string]any{
						"cluster_id":      strconv.FormatInt(cluster.ClusterID, 10),
						"cluster_message": cluster.ClusterMessage,
					},
				})
			}
			for _, id := range externalLogIDs {
				cluster.LogIDs = append(cluster.LogIDs, id)
				bulkOps = append(bulkOps, esclient.BulkUpdateOp{
					Index: indexName,
					ID:    id,
					Doc: map[string]any{
						"cluster_id":      strconv.FormatInt(cluster.ClusterID, 10),
						"cluster_message": cluster.ClusterMessage,
					},
				})
			}
		}
	}

	if err := s.es.BulkUpdate(ctx, bulkOps); err != nil {
		s.log.Error("failed to store cluster annotations", "error", err)
		launchStats.RecordError(err)
	}

	for _, id := range clusterOrder {
		result.Clusters = append(result.Clusters, *clusters[id])
	}
	// Singletons are returned but only clusters that grouped or absorbed more
	// than one log count as found.
	foundClusters := 0
	for _, id := range clusterOrder {
		if len(clusters[id].LogIDs) > 1 {
			foundClusters++
		}
	}
	launchStats.FoundClusters = &foundClusters
	if foundClusters == 0 {
		launchStats.NotFound = 1
	}
	s.log.Info("finished clustering",
		"launch_id", info.Launch.LaunchID,
		"logs", len(prepared),
		"clusters", foundClusters,
		"took", time.Since(start).Round(time.Millisecond))
	return result
}

// prepareLaunchLogs derives the indexed form and the canonical clustering
// message of every error-level log of the launch.
func (s *ClusterService) prepareLaunchLogs(info models.LaunchInfoForClustering, indexName string) []preparedLog {
	var prepared []preparedLog
	for _, testItem := range info.Launch.TestItems {
		uniqueLogs := logprep.LeaveOnlyUniqueLogs(testItem.Logs)
		var docs []models.LogDocument
		for _, log := range uniqueLogs {
			if log.LogLevel < models.ErrorLogLevel {
				continue
			}
			docs = append(docs, logprep.PrepareLog(info.Launch, testItem, log, indexName))
		}
		for _, doc := range logprep.DecomposeLogsMergedAndWithoutDuplicates(docs) {
			if doc.Source.IsMerged {
				continue
			}
			message := logprep.MessageForClustering(doc.Source.WholeMessage,
				info.NumberOfLogLines, info.CleanNumbers)
			if message == "" {
				continue
			}
			prepared = append(prepared, preparedLog{doc: doc, message: message})
		}
	}
	return prepared
}

// groupBySignature splits prepared logs by error signature so only logs with
// the same exceptions and status codes may cluster together. Groups come out
// in first-appearance order.
func groupBySignature(prepared []preparedLog) []signatureGroup {
	byKey := make(map[string]int)
	var groups []signatureGroup
	for i, p := range prepared {
		key := logprep.SortedTokens(p.doc.Source.FoundExceptions) + "|" +
			logprep.SortedTokens(p.doc.Source.PotentialStatusCodes)
		pos, ok := byKey[key]
		if !ok {
			pos = len(groups)
			byKey[key] = pos
			groups = append(groups, signatureGroup{key: key})
		}
		groups[pos].indices = append(groups[pos].indices, i)
	}
	return groups
}

// resolveCluster decides the id and message of one local cluster. The
// cross-launch historic pass always runs; a for-update run additionally
// repeats the search within the current launch. The first matched hit carrying
// a cluster annotation lends its id and message, the content hash of the
// member messages is the fallback. All matched hits outside the launch's own
// logs are absorbed into the cluster and returned as externalLogIDs.
func (s *ClusterService) resolveCluster(ctx context.Context, indexName string, members []preparedLog, info models.LaunchInfoForClustering, launchLogIDs map[string]struct{}) (int64, string, []string) {
	representative := members[0]
	threshold := logprep.CalculateThresholdForText(representative.message,
		s.cfg.Search.ClusterLogsMinSimilarity)
	minShouldMatch := logprep.PrepareESMinShouldMatch(threshold)
	minSimilarity := float64(threshold) / 100

	hits := s.searchSimilarHits(ctx, indexName, representative, false, minShouldMatch)
	if info.ForUpdate {
		hits = append(hits, s.searchSimilarHits(ctx, indexName, representative, true, minShouldMatch)...)
	}
	matched := s.filterMatchingHits(representative, hits, info.NumberOfLogLines, minSimilarity)

	var clusterID int64
	var clusterMessage string
	var externalLogIDs []string
	absorbed := make(map[string]struct{}, len(matched))
	for _, hit := range matched {
		if clusterID == 0 {
			if id, err := strconv.ParseInt(hit.Source.ClusterID, 10, 64); err == nil && id != 0 {
				clusterID = id
				clusterMessage = hit.Source.ClusterMessage
			}
		}
		if _, ok := launchLogIDs[hit.ID]; ok {
			continue
		}
		if _, ok := absorbed[hit.ID]; ok {
			continue
		}
		absorbed[hit.ID] = struct{}{}
		externalLogIDs = append(externalLogIDs, hit.ID)
	}

	if clusterID == 0 {
		messages := make([]string, 0, len(members))
		for _, m := range members {
			messages = append(messages, m.message)
		}
		clusterID = clustering.ClusterHash(messages)
	}
	if clusterMessage == "" {
		clusterMessage = logprep.FirstLines(representative.doc.Source.WholeMessage, info.NumberOfLogLines)
	}
	return clusterID, clusterMessage, externalLogIDs
}

// searchSimilarHits runs one pass of the historical-extension query for the
// cluster representative. Search errors degrade to an empty hit list.
func (s *ClusterService) searchSimilarHits(ctx context.Context, indexName string, representative preparedLog, sameLaunch bool, minShouldMatch string) []models.Hit {
	query := s.builder.BuildSimilarItemsQuery(representative.doc, representative.message,
		sameLaunch, minShouldMatch)
	res, err := s.es.Search(ctx, indexName, query.Body())
	if err != nil {
		s.log.Error("similar items query failed", "error", err)
		return nil
	}
	return res.Hits
}

// filterMatchingHits re-clusters the representative together with the hits at
// the same length-normalized threshold the backend query used, and keeps only
// hits landing in the representative's group. Hit messages keep their numbers;
// the backend query already matched under the signature gates.
func (s *ClusterService) filterMatchingHits(representative preparedLog, hits []models.Hit, numberOfLines int, minSimilarity float64) []models.Hit {
	if len(hits) == 0 {
		return nil
	}
	messages := make([]string, 0, len(hits)+1)
	messages = append(messages, representative.message)
	for _, hit := range hits {
		messages = append(messages, strings.TrimSpace(
			logprep.FirstLines(hit.Source.WholeMessage, numberOfLines)))
	}
	groups := s.clusterizer.FindClusters(messages, minSimilarity)
	var matched []models.Hit
	for g := 0; g < len(groups); g++ {
		indices := groups[g]
		if len(indices) == 0 || !containsIndex(indices, 0) {
			continue
		}
		sort.Ints(indices)
		for _, idx := range indices {
			if idx == 0 {
				continue
			}
			matched = append(matched, hits[idx-1])
		}
		break
	}
	return matched
}

func containsIndex(indices []int, target int) bool {
	for _, idx := range indices {
		if idx == target {
			return true
		}
	}
	return false
}

func (s *ClusterService) publishStats(ctx context.Context, launchID int64, launchStats *stats.LaunchStats, start time.Time) {
	launchStats.ProcessedTime = time.Since(start).Seconds()
	envelope := map[int64]*stats.LaunchStats{launchID: launchStats}
	if err := s.publisher.PublishStats(ctx, envelope); err != nil {
		s.log.Error("failed to publish stats", "error", err)
	}
}
