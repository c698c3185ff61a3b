package worker

import "strings"

// progressMarkers maps tool log phrases to estimated completion
// percentages. Order matters: the first marker found in a line wins,
// so more specific phrases come before substrings they contain.
var progressMarkers = []struct {
	marker   string
	progress int
}{
	{"loading dataset", 5},
	{"found images", 8},
	{"running opensfm", 10},
	{"extracting", 12},
	{"detecting features", 15},
	{"matching", 20},
	{"creating tracks", 25},
	{"reconstructing", 30},
	{"undistort", 35},
	{"openmvs", 40},
	{"densif", 45},
	{"filterpoints", 50},
	{"meshing", 55},
	{"texturing", 60},
	{"georeferenc", 70},
	{"transform", 75},
	{"dem", 80},
	{"orthophoto", 85},
	{"cutting", 88},
	{"finished", 95},
	{"completed", 95},
}

// EstimateProgress maps one tool log line to a progress percentage, or
// 0 when no marker matches.
func EstimateProgress(line string) int {
	lower := strings.ToLower(line)
	for _, m := range progressMarkers {
		if strings.Contains(lower, m.marker) {
			return m.progress
		}
	}
	return 0
}

// ProgressTracker turns noisy log-derived estimates into a monotonic
// progress stream: only strictly greater values are reported, so late
// log lines from earlier stages never move progress backwards.
type ProgressTracker struct {
	last   int
	report func(progress int)
}

func NewProgressTracker(start int, report func(progress int)) *ProgressTracker {
	return &ProgressTracker{last: start, report: report}
}

// Observe estimates progress from one log line and reports it if it
// advances past everything seen so far.
func (t *ProgressTracker) Observe(line string) {
	p := EstimateProgress(line)
	if p > t.last {
		t.last = p
		t.report(p)
	}
}

// Last returns the highest progress reported so far.
func (t *ProgressTracker) Last() int {
	return t.last
}
