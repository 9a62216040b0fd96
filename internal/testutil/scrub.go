package testutil

import (
	"regexp"
	"strings"
)

// Normalize normalizes output for comparison.
func Normalize(s string) string {
	// Normalize line endings
	s = strings.ReplaceAll(s, "\r\n", "\n")

	// Remove trailing whitespace from lines
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}

	// Remove trailing newlines
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// ScrubTimestamps removes timestamps from output.
func ScrubTimestamps(s string) string {
	patterns := []string{
		`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}[^\s,]*`, // RFC 3339
		`\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}`,        // check_date layout
		`\d{2}:\d{2}:\d{2}`,                           // time only
	}

	result := s
	for _, pattern := range patterns {
		re := regexp.MustCompile(pattern)
		result = re.ReplaceAllString(result, "[TIMESTAMP]")
	}

	return result
}

// ScrubDurations removes durations from output.
func ScrubDurations(s string) string {
	// Duration patterns like "1.234s", "5m30s", "2h15m"
	re := regexp.MustCompile(`\d+(\.\d+)?(ns|us|µs|ms|s|m|h)+`)
	return re.ReplaceAllString(s, "[DURATION]")
}

// ScrubPaths normalizes file paths.
func ScrubPaths(s, basePath string) string {
	return strings.ReplaceAll(s, basePath, "[WORKDIR]")
}

// ScrubUUIDs removes UUIDs from output.
func ScrubUUIDs(s string) string {
	re := regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	return re.ReplaceAllString(s, "[UUID]")
}

// ScrubHashes removes SHA-256 content hashes, as written to the progress
// log, from output.
func ScrubHashes(s string) string {
	re := regexp.MustCompile(`[0-9a-f]{64}`)
	return re.ReplaceAllString(s, "[HASH]")
}

// ScrubRunIDs removes ledger run ids ("run_id": "..." or run_id=...).
func ScrubRunIDs(s string) string {
	re := regexp.MustCompile(`(run_id["=: ]+)[0-9a-zA-Z-]+`)
	return re.ReplaceAllString(s, "${1}[RUN]")
}

// ScrubAll applies all scrubbing functions.
func ScrubAll(s, basePath string) string {
	result := s
	result = ScrubTimestamps(result)
	result = ScrubPaths(result, basePath)
	result = ScrubDurations(result)
	result = ScrubHashes(result)
	result = ScrubUUIDs(result)
	result = ScrubRunIDs(result)
	return Normalize(result)
}
