package services

import (
	"context"
	"time"

	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/esclient"
	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/models"
)

// Batch schedule: the first warmupFlushes batches are small so short launches
// get answers quickly; later batches grow to the configured bound to amortize
// round-trips.
const (
	warmupBatchSize     = 5
	warmupFlushes       = 3
	DefaultMaxBatchSize = 30
)

// batchQueryRunner buffers backend queries into size-bounded batches, issues
// one multi-search per batch, and emits the responses grouped per test item.
// Within one batch the backend preserves request order, so responses are
// realigned with their BatchLogInfo by index.
type batchQueryRunner struct {
	es           esclient.SearchClient
	maxBatchSize int
	emit         func(models.AnalysisCandidate)

	entries      []esclient.MsearchItem
	infos        []models.BatchLogInfo
	testItemDict map[int64][]int
	itemOrder    []int64
	flushesDone  int
}

func newBatchQueryRunner(es esclient.SearchClient, maxBatchSize int, emit func(models.AnalysisCandidate)) *batchQueryRunner {
	if maxBatchSize <= 0 {
		maxBatchSize = DefaultMaxBatchSize
	}
	return &batchQueryRunner{
		es:           es,
		maxBatchSize: maxBatchSize,
		emit:         emit,
		testItemDict: make(map[int64][]int),
	}
}

// add appends one query plus its routing metadata to the pending batch.
func (r *batchQueryRunner) add(item esclient.MsearchItem, info models.BatchLogInfo) {
	index := len(r.entries)
	r.entries = append(r.entries, item)
	r.infos = append(r.infos, info)
	if _, ok := r.testItemDict[info.TestItemID]; !ok {
		r.itemOrder = append(r.itemOrder, info.TestItemID)
	}
	r.testItemDict[info.TestItemID] = append(r.testItemDict[info.TestItemID], index)
}

// batchBound returns the current flush threshold under the warm-up schedule.
func (r *batchQueryRunner) batchBound() int {
	if r.flushesDone < warmupFlushes {
		return warmupBatchSize
	}
	return r.maxBatchSize
}

// full reports whether the pending batch reached its bound. Checked at test
// item boundaries only, so all queries of one test item flush together.
func (r *batchQueryRunner) full() bool {
	return len(r.entries) >= r.batchBound()
}

// flush issues the pending batch as one multi-search and emits one
// AnalysisCandidate per test item. The pending state is cleared even on error.
func (r *batchQueryRunner) flush(ctx context.Context) error {
	if len(r.entries) == 0 {
		return nil
	}
	r.flushesDone++

	start := time.Now()
	responses, err := r.es.Msearch(ctx, r.entries)
	if err != nil {
		r.reset()
		return err
	}
	avgTime := time.Since(start).Seconds()
	if len(responses) > 0 {
		avgTime /= float64(len(responses))
	}

	for _, testItemID := range r.itemOrder {
		var candidates, candidatesWithNoDefect []models.CandidatePair
		var timeProcessed float64
		var last models.BatchLogInfo
		for _, ind := range r.testItemDict[testItemID] {
			last = r.infos[ind]
			var res models.SearchResult
			if ind < len(responses) {
				res = responses[ind]
			}
			pair := models.CandidatePair{Log: last.Log, Hits: res.Hits}
			switch last.QueryType {
			case models.QueryTypeAnalyze:
				candidates = append(candidates, pair)
			case models.QueryTypeNoDefect:
				candidatesWithNoDefect = append(candidatesWithNoDefect, pair)
			}
			timeProcessed += avgTime
		}
		r.emit(models.AnalysisCandidate{
			AnalyzerConfig:         last.AnalyzerConfig,
			TestItemID:             testItemID,
			Project:                last.Project,
			LaunchID:               last.LaunchID,
			LaunchName:             last.LaunchName,
			TimeProcessed:          timeProcessed,
			Candidates:             candidates,
			CandidatesWithNoDefect: candidatesWithNoDefect,
		})
	}
	r.reset()
	return nil
}

func (r *batchQueryRunner) reset() {
	r.entries = nil
	r.infos = nil
	r.itemOrder = nil
	r.testItemDict = make(map[int64][]int)
}
