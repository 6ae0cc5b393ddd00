// Package policy holds the pure decision functions shared by the expiry
// checkers and the incident pipeline: threshold-crossing detection and
// dedupe fingerprinting.
package policy

import "sort"

// NeedsAlert decides whether a degrading metric (typically days until expiry)
// has just crossed an alert boundary. thresholds may arrive in any order.
// lastAlerted is the metric value at the time of the previous alert, nil if
// never alerted.
//
// An alert fires once per threshold crossing: it fires again if the value
// worsens past a lower threshold, but never re-fires for the same or a higher
// threshold. Callers handle current <= 0 (already expired) themselves.
func NeedsAlert(current int, thresholds []int, lastAlerted *int) bool {
	sorted := make([]int, len(thresholds))
	copy(sorted, thresholds)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	for _, t := range sorted {
		if current <= t && (lastAlerted == nil || *lastAlerted > t) {
			return true
		}
	}
	return false
}
