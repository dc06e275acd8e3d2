// Package logprep provides the pure log-preparation primitives: tokenization,
// field derivation (detected message, stacktrace, exceptions, status codes),
// merging of small logs, and the threshold helpers used by the query builders.
package logprep

import (
	"fmt"
	"math"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/WarmUp-Consulting-Organization/service-auto-analyzer/pkg/models"
)

var (
	exceptionRe  = regexp.MustCompile(`\b[\w.]*(?:Exception|Error)\b`)
	statusCodeRe = regexp.MustCompile(`\b[1-5]\d{2}\b`)
	numberRe     = regexp.MustCompile(`\d+`)
	stackLineRe  = regexp.MustCompile(`^\s+(at\s|\.{3}\s|Caused by:)`)
	tokenSplitRe = regexp.MustCompile(`[^\p{L}\p{N}._-]+`)
)

// SplitWords tokenizes text into lowercase words, dropping tokens shorter than
// minWordLength. A minWordLength of 0 keeps everything.
func SplitWords(text string, minWordLength int) []string {
	var words []string
	for _, tok := range tokenSplitRe.Split(strings.ToLower(text), -1) {
		tok = strings.Trim(tok, "._-")
		if tok == "" || len(tok) < minWordLength {
			continue
		}
		words = append(words, tok)
	}
	return words
}

// FirstLines returns the first n non-empty lines of text joined by newlines.
// Negative n returns the whole text unchanged.
func FirstLines(text string, n int) string {
	if n < 0 {
		return text
	}
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) >= n {
			break
		}
	}
	return strings.Join(lines, "\n")
}

// ExtractFoundExceptions returns the space-joined exception class names found
// in text, deduplicated, in order of first occurrence.
func ExtractFoundExceptions(text string) string {
	return joinUnique(exceptionRe.FindAllString(text, -1))
}

// ExtractPotentialStatusCodes returns the space-joined HTTP-status-like
// three-digit tokens found in text.
func ExtractPotentialStatusCodes(text string) string {
	return joinUnique(statusCodeRe.FindAllString(text, -1))
}

// ExtractOnlyNumbers returns all numeric runs in text, space-joined.
func ExtractOnlyNumbers(text string) string {
	return strings.Join(numberRe.FindAllString(text, -1), " ")
}

// RemoveNumbers replaces numeric runs with a space, collapsing the whitespace.
func RemoveNumbers(text string) string {
	cleaned := numberRe.ReplaceAllString(text, " ")
	return strings.Join(strings.Fields(cleaned), " ")
}

func joinUnique(tokens []string) string {
	seen := make(map[string]struct{}, len(tokens))
	var out []string
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return strings.Join(out, " ")
}

// DetectMessageAndStacktrace splits a raw message into the human-readable part
// and the stack-frame part. Frame lines are the indented "at ..."/"Caused by:"
// lines of JVM-style traces.
func DetectMessageAndStacktrace(text string) (detected, stacktrace string) {
	var msgLines, stackLines []string
	for _, line := range strings.Split(text, "\n") {
		if stackLineRe.MatchString(line) {
			stackLines = append(stackLines, strings.TrimSpace(line))
			continue
		}
		if strings.TrimSpace(line) != "" {
			msgLines = append(msgLines, line)
		}
	}
	return strings.Join(msgLines, "\n"), strings.Join(stackLines, "\n")
}

// LeaveOnlyUniqueLogs drops logs whose message duplicates an earlier one,
// preserving input order.
func LeaveOnlyUniqueLogs(logs []models.Log) []models.Log {
	seen := make(map[string]struct{}, len(logs))
	var unique []models.Log
	for _, log := range logs {
		key := strings.TrimSpace(log.Message)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, log)
	}
	return unique
}

// PrepareLog derives the indexed document for one raw log.
func PrepareLog(launch models.Launch, item models.TestItem, log models.Log, indexName string) models.LogDocument {
	cleaned := strings.TrimSpace(log.Message)
	detected, stacktrace := DetectMessageAndStacktrace(cleaned)
	return models.LogDocument{
		ID:    strconv.FormatInt(log.LogID, 10),
		Index: indexName,
		Source: models.LogSource{
			TestItem:             item.TestItemID,
			UniqueID:             item.UniqueID,
			TestCaseHash:         item.TestCaseHash,
			LaunchID:             launch.LaunchID,
			LaunchName:           launch.LaunchName,
			LogLevel:             log.LogLevel,
			Message:              cleaned,
			DetectedMessage:      detected,
			Stacktrace:           stacktrace,
			WholeMessage:         cleaned,
			OnlyNumbers:          ExtractOnlyNumbers(cleaned),
			FoundExceptions:      ExtractFoundExceptions(cleaned),
			PotentialStatusCodes: ExtractPotentialStatusCodes(cleaned),
		},
	}
}

// smallLogWordBound is the word count below which a log is considered "small"
// and merged with its siblings instead of being queried on its own.
const smallLogWordBound = 2

// DecomposeLogsMergedAndWithoutDuplicates deduplicates prepared logs by
// message and merges the small ones of a test item into one synthetic log with
// is_merged=true. Non-small logs receive the merged text of their small
// siblings in merged_small_logs.
func DecomposeLogsMergedAndWithoutDuplicates(logs []models.LogDocument) []models.LogDocument {
	seen := make(map[string]struct{}, len(logs))
	var big, small []models.LogDocument
	for _, log := range logs {
		key := log.Source.Message
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if len(SplitWords(log.Source.Message, 0)) <= smallLogWordBound {
			small = append(small, log)
		} else {
			big = append(big, log)
		}
	}

	var mergedParts []string
	for _, log := range small {
		if log.Source.Message != "" {
			mergedParts = append(mergedParts, log.Source.Message)
		}
	}
	mergedText := strings.Join(mergedParts, "\n")

	results := make([]models.LogDocument, 0, len(big)+1)
	for _, log := range big {
		log.Source.MergedSmallLogs = mergedText
		log.Source.IsMerged = false
		results = append(results, log)
	}
	if len(small) > 0 {
		merged := small[0]
		merged.Source.Message = ""
		merged.Source.DetectedMessage = ""
		merged.Source.Stacktrace = ""
		merged.Source.IsMerged = true
		merged.Source.MergedSmallLogs = mergedText
		merged.Source.WholeMessage = mergedText
		merged.Source.OnlyNumbers = ExtractOnlyNumbers(mergedText)
		merged.Source.FoundExceptions = ExtractFoundExceptions(mergedText)
		merged.Source.PotentialStatusCodes = ExtractPotentialStatusCodes(mergedText)
		for _, log := range small {
			if log.Source.LogLevel > merged.Source.LogLevel {
				merged.Source.LogLevel = log.Source.LogLevel
			}
		}
		results = append(results, merged)
	}
	return results
}

// MessageForClustering canonicalizes a whole message for clustering: first n
// lines, optionally with numbers stripped.
func MessageForClustering(wholeMessage string, numberOfLines int, cleanNumbers bool) string {
	message := FirstLines(wholeMessage, numberOfLines)
	if cleanNumbers {
		message = RemoveNumbers(message)
	}
	return strings.TrimSpace(message)
}

// CalculateThresholdForText normalizes a similarity threshold by text length:
// for short texts the threshold is raised to the nearest fraction achievable
// with whole matched words. Returns a percentage in [1,100].
func CalculateThresholdForText(text string, minSimilarity float64) int {
	words := SplitWords(text, 0)
	percent := int(math.Round(minSimilarity * 100))
	if len(words) == 0 {
		return clampPercent(percent)
	}
	needed := int(math.Ceil(minSimilarity * float64(len(words))))
	if needed < 1 {
		needed = 1
	}
	normalized := int(math.Floor(float64(needed) / float64(len(words)) * 100))
	if normalized < percent {
		normalized = percent
	}
	return clampPercent(normalized)
}

func clampPercent(p int) int {
	if p < 1 {
		return 1
	}
	if p > 100 {
		return 100
	}
	return p
}

// PrepareESMinShouldMatch renders a percentage as the backend threshold string.
func PrepareESMinShouldMatch(percent int) string {
	return fmt.Sprintf("%d%%", percent)
}

// UniteProjectName maps a project id to its index name.
func UniteProjectName(project int64, prefix string) string {
	return prefix + strconv.FormatInt(project, 10)
}

// RemoveCredentialsFromURL strips userinfo from a URL for logging.
func RemoveCredentialsFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = nil
	return u.String()
}

// SortedTokens returns the space-joined sorted unique tokens of a
// space-separated field, used as a grouping signature.
func SortedTokens(field string) string {
	tokens := strings.Fields(field)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}
