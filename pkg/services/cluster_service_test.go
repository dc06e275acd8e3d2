package services

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/models"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/similarity"
)

const (
	refusedMessage = "ConnectionError: connection refused by host alpha during handshake"
	pointerMessage = "NullPointerException: dereferenced nil worker in dispatch loop"
)

func newTestClusterService(es *fakeSearchClient, publisher *capturingPublisher) *ClusterService {
	return NewClusterService(es, testConfig(), similarity.NewScorer(nil, 0), publisher)
}

func clusteringRequest(messages ...string) models.LaunchInfoForClustering {
	items := make([]models.TestItem, 0, len(messages))
	for i, msg := range messages {
		items = append(items, models.TestItem{
			TestItemID: int64(i + 1),
			Logs:       []models.Log{{LogID: int64(100 + i), LogLevel: models.ErrorLogLevel, Message: msg}},
		})
	}
	return models.LaunchInfoForClustering{
		Launch: models.Launch{
			LaunchID:   7,
			LaunchName: "nightly",
			TestItems:  items,
		},
		Project:          3,
		NumberOfLogLines: -1,
	}
}

func TestFindClustersGroupsSimilarLogs(t *testing.T) {
	es := newFakeSearchClient()
	publisher := &capturingPublisher{}
	service := newTestClusterService(es, publisher)

	result := service.FindClusters(context.Background(),
		clusteringRequest(refusedMessage, refusedMessage, pointerMessage))

	require.Len(t, result.Clusters, 2)
	assert.Equal(t, int64(7), result.LaunchID)
	assert.Equal(t, int64(3), result.Project)

	refused := result.Clusters[0]
	assert.ElementsMatch(t, []string{"100", "101"}, refused.LogIDs)
	assert.NotZero(t, refused.ClusterID)
	assert.Equal(t, refusedMessage, refused.ClusterMessage)

	pointer := result.Clusters[1]
	assert.Equal(t, []string{"102"}, pointer.LogIDs)
	assert.NotEqual(t, refused.ClusterID, pointer.ClusterID)

	require.Len(t, es.bulkOps, 3)
	for _, op := range es.bulkOps {
		assert.Contains(t, op.Doc, "cluster_id")
		assert.Contains(t, op.Doc, "cluster_message")
	}

	envelope := publisher.last()
	require.NotNil(t, envelope)
	st := envelope[7]
	require.NotNil(t, st)
	assert.Equal(t, 3, st.ItemsToProcess)
	require.NotNil(t, st.FoundClusters)
	assert.Equal(t, 1, *st.FoundClusters,
		"the singleton cluster is returned but does not count as found")
	assert.Equal(t, 0, st.NotFound)
}

func TestFindClustersIsDeterministic(t *testing.T) {
	request := clusteringRequest(refusedMessage, refusedMessage, pointerMessage)

	first := newTestClusterService(newFakeSearchClient(), &capturingPublisher{}).
		FindClusters(context.Background(), request)
	second := newTestClusterService(newFakeSearchClient(), &capturingPublisher{}).
		FindClusters(context.Background(), request)

	assert.Equal(t, first, second)
}

func TestFindClustersSignatureSplitsSimilarMessages(t *testing.T) {
	// Same wording but different status codes must not share a cluster.
	es := newFakeSearchClient()
	service := newTestClusterService(es, &capturingPublisher{})

	result := service.FindClusters(context.Background(), clusteringRequest(
		"request to backend failed with status 500 while polling",
		"request to backend failed with status 404 while polling",
	))

	require.Len(t, result.Clusters, 2)
}

func TestFindClustersInheritsHistoricalCluster(t *testing.T) {
	es := newFakeSearchClient()
	es.searchHits = []models.Hit{{
		ID: "900",
		Source: models.LogSource{
			WholeMessage:   refusedMessage,
			ClusterID:      "123456",
			ClusterMessage: "known connection issue",
			LaunchID:       2,
		},
	}}
	publisher := &capturingPublisher{}
	service := newTestClusterService(es, publisher)

	result := service.FindClusters(context.Background(), clusteringRequest(refusedMessage))

	require.Len(t, result.Clusters, 1)
	assert.Equal(t, int64(123456), result.Clusters[0].ClusterID)
	assert.Equal(t, "known connection issue", result.Clusters[0].ClusterMessage)
	assert.Equal(t, []string{"100", "900"}, result.Clusters[0].LogIDs,
		"the matched historical log is absorbed into the cluster")

	require.Len(t, es.bulkOps, 2)
	for _, op := range es.bulkOps {
		assert.Equal(t, "123456", op.Doc["cluster_id"])
		assert.Equal(t, "known connection issue", op.Doc["cluster_message"])
	}
	assert.Equal(t, "900", es.bulkOps[1].ID,
		"the absorbed log receives the cluster annotation too")

	envelope := publisher.last()
	require.NotNil(t, envelope)
	st := envelope[7]
	require.NotNil(t, st.FoundClusters)
	assert.Equal(t, 1, *st.FoundClusters,
		"a singleton grown by historical absorption counts as found")
	assert.Equal(t, 0, st.NotFound)
}

func TestFindClustersForUpdateAbsorbsSameLaunchLogs(t *testing.T) {
	es := newFakeSearchClient()
	es.searchHits = []models.Hit{{
		ID: "900",
		Source: models.LogSource{
			WholeMessage: refusedMessage,
			ClusterID:    "0",
			LaunchID:     7,
		},
	}}
	service := newTestClusterService(es, &capturingPublisher{})

	request := clusteringRequest(refusedMessage)
	request.ForUpdate = true
	result := service.FindClusters(context.Background(), request)

	require.Len(t, result.Clusters, 1)
	assert.Contains(t, result.Clusters[0].LogIDs, "900",
		"an unclustered same-launch log joins the cluster on a for-update run")

	absorbedOps := 0
	for _, op := range es.bulkOps {
		if op.ID == "900" {
			absorbedOps++
			assert.Equal(t, strconv.FormatInt(result.Clusters[0].ClusterID, 10), op.Doc["cluster_id"])
		}
	}
	assert.Equal(t, 1, absorbedOps,
		"the absorbed log is annotated exactly once even when both passes return it")
}

func TestFindClustersForUpdateRunsBothPasses(t *testing.T) {
	es := newFakeSearchClient()
	service := newTestClusterService(es, &capturingPublisher{})

	request := clusteringRequest(refusedMessage)
	request.ForUpdate = true
	service.FindClusters(context.Background(), request)

	require.Len(t, es.searchBodies, 2)
	assert.False(t, launchScoped(es.searchBodies[0]),
		"the cross-launch historic pass runs first")
	assert.True(t, launchScoped(es.searchBodies[1]),
		"a for-update run additionally searches within the launch")
}

func TestFindClustersRunsHistoricPassByDefault(t *testing.T) {
	es := newFakeSearchClient()
	service := newTestClusterService(es, &capturingPublisher{})

	service.FindClusters(context.Background(), clusteringRequest(refusedMessage))

	require.Len(t, es.searchBodies, 1)
	assert.False(t, launchScoped(es.searchBodies[0]))
}

// launchScoped reports whether the query body restricts hits to one launch.
func launchScoped(body map[string]any) bool {
	boolBody := body["query"].(map[string]any)["bool"].(map[string]any)
	for _, clause := range boolBody["must"].([]map[string]any) {
		if term, ok := clause["term"].(map[string]any); ok {
			if _, ok := term["launch_id"]; ok {
				return true
			}
		}
	}
	return false
}

func TestFindClustersNormalizedThresholdGatesNearMisses(t *testing.T) {
	// Ten words raise the 0.95 gate to 100%, so a hit sharing nine of ten
	// tokens must match neither in the query nor in the local re-check.
	repeated := "error error error error error timeout connecting to host alpha"
	nearMiss := "error error error error error timeout connecting to host omega"
	es := newFakeSearchClient()
	es.searchHits = []models.Hit{{
		ID: "900",
		Source: models.LogSource{
			WholeMessage:   nearMiss,
			ClusterID:      "777",
			ClusterMessage: "near miss",
			LaunchID:       2,
		},
	}}
	service := newTestClusterService(es, &capturingPublisher{})

	result := service.FindClusters(context.Background(), clusteringRequest(repeated))

	require.Len(t, result.Clusters, 1)
	assert.NotEqual(t, int64(777), result.Clusters[0].ClusterID)
	assert.Equal(t, []string{"100"}, result.Clusters[0].LogIDs)
}

func TestFindClustersDissimilarHistoricalHitIgnored(t *testing.T) {
	es := newFakeSearchClient()
	es.searchHits = []models.Hit{{
		ID: "900",
		Source: models.LogSource{
			WholeMessage:   pointerMessage,
			ClusterID:      "123456",
			ClusterMessage: "unrelated issue",
		},
	}}
	service := newTestClusterService(es, &capturingPublisher{})

	result := service.FindClusters(context.Background(), clusteringRequest(refusedMessage))

	require.Len(t, result.Clusters, 1)
	assert.NotEqual(t, int64(123456), result.Clusters[0].ClusterID,
		"a dissimilar historical cluster must not be inherited")
}

func TestFindClustersMissingIndex(t *testing.T) {
	es := newFakeSearchClient()
	es.indexExists = false
	publisher := &capturingPublisher{}
	service := newTestClusterService(es, publisher)

	result := service.FindClusters(context.Background(), clusteringRequest(refusedMessage))

	assert.Empty(t, result.Clusters)
	assert.Empty(t, es.bulkOps)
}

func TestFindClustersSingletonOnlyCountsAsNotFound(t *testing.T) {
	es := newFakeSearchClient()
	publisher := &capturingPublisher{}
	service := newTestClusterService(es, publisher)

	service.FindClusters(context.Background(), clusteringRequest(refusedMessage))

	envelope := publisher.last()
	require.NotNil(t, envelope)
	assert.Equal(t, 1, envelope[7].NotFound,
		"a run producing only singleton clusters reports not_found")
	require.NotNil(t, envelope[7].FoundClusters)
	assert.Equal(t, 0, *envelope[7].FoundClusters)
}

func TestFindClustersClusterIDRoundTrips(t *testing.T) {
	es := newFakeSearchClient()
	service := newTestClusterService(es, &capturingPublisher{})

	result := service.FindClusters(context.Background(),
		clusteringRequest(refusedMessage, refusedMessage))

	require.Len(t, result.Clusters, 1)
	require.Len(t, es.bulkOps, 2)
	stored, err := strconv.ParseInt(es.bulkOps[0].Doc["cluster_id"].(string), 10, 64)
	require.NoError(t, err)
	assert.Equal(t, result.Clusters[0].ClusterID, stored)
}
