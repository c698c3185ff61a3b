// Package capacity sizes compute jobs from workload size. It is pure
// domain logic: the tier table and sizing parameters come from
// infrastructure configuration, the selection algorithm and the disk
// formula live here.
package capacity

import (
	"encoding/json"
	"fmt"
	"sort"
)

// MachineTier is one configured (workload bound, compute shape) pair.
type MachineTier struct {
	MaxImages   int    `json:"maxImages"`
	MachineType string `json:"machineType"`
	CPUMilli    int64  `json:"cpuMilli"`
	MemoryMiB   int64  `json:"memoryMib"`
}

// ParseTiers decodes the tier table from its JSON configuration form
// and returns it sorted ascending by MaxImages. An empty or malformed
// table is a configuration error.
func ParseTiers(raw string) ([]MachineTier, error) {
	var tiers []MachineTier
	if err := json.Unmarshal([]byte(raw), &tiers); err != nil {
		return nil, fmt.Errorf("machine tiers must be valid JSON: %w", err)
	}
	if len(tiers) == 0 {
		return nil, fmt.Errorf("machine tiers must be a non-empty array")
	}
	for i, t := range tiers {
		if t.MaxImages <= 0 {
			return nil, fmt.Errorf("machine tier %d: maxImages must be > 0", i)
		}
		if t.MachineType == "" {
			return nil, fmt.Errorf("machine tier %d: machineType is required", i)
		}
		if t.CPUMilli <= 0 || t.MemoryMiB <= 0 {
			return nil, fmt.Errorf("machine tier %d: cpuMilli and memoryMib must be > 0", i)
		}
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MaxImages < tiers[j].MaxImages })
	return tiers, nil
}

// SelectTier picks the first tier whose MaxImages covers fileCount.
// A count on the boundary selects that tier; a count above every bound
// falls back to the largest. Tiers must be sorted ascending.
func SelectTier(fileCount int, tiers []MachineTier) MachineTier {
	for _, t := range tiers {
		if fileCount <= t.MaxImages {
			return t
		}
	}
	return tiers[len(tiers)-1]
}

// DiskSizeMiB computes the boot disk for a workload:
// fileCount * avgImageSizeMB * workingSetFactor * safetyMargin, floored
// at minBootDiskMiB. workingSetFactor accounts for the tool's temporary
// artifacts and outputs relative to raw input size.
func DiskSizeMiB(fileCount int, avgImageSizeMB, workingSetFactor, safetyMargin float64, minBootDiskMiB int64) int64 {
	inputMB := float64(fileCount) * avgImageSizeMB
	total := int64(inputMB * workingSetFactor * safetyMargin)
	if total < minBootDiskMiB {
		return minBootDiskMiB
	}
	return total
}
