package backend

import (
	"sort"
	"strconv"

	"caliban/internal/calerr"
)

// Static client-side compatibility tables for the managed training service.
// The backend rejects anything outside these; validating here turns a slow
// server round trip into an immediate, descriptive error.

var cloudRegions = map[string]bool{
	"us-central1":  true,
	"us-east1":     true,
	"us-west1":     true,
	"europe-west1": true,
	"asia-east1":   true,
}

var cloudMachineTypes = map[string]bool{
	"n1-standard-4":  true,
	"n1-standard-8":  true,
	"n1-standard-16": true,
	"n1-highmem-2":   true,
	"n1-highmem-4":   true,
	"n1-highmem-8":   true,
}

// acceleratorCounts lists the valid per-job counts for each accelerator type.
var acceleratorCounts = map[string][]int{
	"NVIDIA_TESLA_K80":  {1, 2, 4, 8},
	"NVIDIA_TESLA_P100": {1, 2, 4},
	"NVIDIA_TESLA_V100": {1, 2, 4, 8},
	"NVIDIA_TESLA_T4":   {1, 2, 4},
	"TPU_V2":            {8},
	"TPU_V3":            {8},
}

// acceleratorRegions lists where each accelerator type is available.
var acceleratorRegions = map[string][]string{
	"NVIDIA_TESLA_K80":  {"us-central1", "us-east1", "europe-west1"},
	"NVIDIA_TESLA_P100": {"us-central1", "us-east1", "us-west1", "europe-west1"},
	"NVIDIA_TESLA_V100": {"us-central1", "us-west1", "europe-west1"},
	"NVIDIA_TESLA_T4":   {"us-central1", "us-east1", "us-west1", "europe-west1", "asia-east1"},
	"TPU_V2":            {"us-central1", "europe-west1"},
	"TPU_V3":            {"us-central1", "europe-west1"},
}

// validateCloudSpec checks (region, machine-type, accelerator-type,
// accelerator-count) against the static tables, naming the offending
// dimension and its nearest valid values.
func validateCloudSpec(spec JobSpec) error {
	if !cloudRegions[spec.Region] {
		return &calerr.ValidationError{
			Dimension:    "region",
			Value:        spec.Region,
			NearestValid: sortedKeys(cloudRegions),
		}
	}
	if spec.MachineType != "" && !cloudMachineTypes[spec.MachineType] {
		return &calerr.ValidationError{
			Dimension:    "machine-type",
			Value:        spec.MachineType,
			NearestValid: sortedKeys(cloudMachineTypes),
		}
	}

	if spec.Accelerator.Type == "" {
		return nil
	}

	counts, ok := acceleratorCounts[spec.Accelerator.Type]
	if !ok {
		var known []string
		for t := range acceleratorCounts {
			known = append(known, t)
		}
		sort.Strings(known)
		return &calerr.ValidationError{
			Dimension:    "accelerator-type",
			Value:        spec.Accelerator.Type,
			NearestValid: known,
		}
	}

	if !containsInt(counts, spec.Accelerator.Count) {
		valid := make([]string, len(counts))
		for i, c := range counts {
			valid[i] = strconv.Itoa(c)
		}
		return &calerr.ValidationError{
			Dimension:    "accelerator-count",
			Value:        strconv.Itoa(spec.Accelerator.Count),
			NearestValid: valid,
		}
	}

	if regions := acceleratorRegions[spec.Accelerator.Type]; !containsString(regions, spec.Region) {
		return &calerr.ValidationError{
			Dimension:    "region",
			Value:        spec.Region,
			NearestValid: regions,
		}
	}
	return nil
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func containsString(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
