package scoring

import (
	"fmt"
	"strings"
)

// TotalScore sums one employee's weighted metric scores. Weights below 100 are
// not normalised: the unassigned remainder scores zero.
func TotalScore(results []WeightedResult) float64 {
	total := 0.0
	for _, result := range results {
		total += result.WeightedScore
	}
	return total
}

func ParseRollupMethod(value string) (RollupMethod, error) {
	method := RollupMethod(strings.ToLower(strings.TrimSpace(value)))
	if method == "" {
		return RollupAverage, nil
	}
	for _, candidate := range RollupMethods {
		if string(method) == candidate {
			return method, nil
		}
	}
	return "", &ValidationError{Field: "rollupMethod", Reason: fmt.Sprintf("unknown rollup method %q", value)}
}

// Rollup combines member scores into one group score. Empty input is 0 for
// every method. The only error is an unknown method.
func Rollup(members []MemberScore, method RollupMethod) (float64, error) {
	switch method {
	case RollupAverage, RollupWeightedAverage, RollupLeaderScore, RollupSum, RollupMin, RollupMax:
	default:
		return 0, &ValidationError{Field: "rollupMethod", Reason: fmt.Sprintf("unknown rollup method %q", method)}
	}
	if len(members) == 0 {
		return 0, nil
	}

	switch method {
	case RollupWeightedAverage:
		return weightedAverage(members), nil
	case RollupLeaderScore:
		for _, member := range members {
			if member.IsLeader {
				return member.Score, nil
			}
		}
		return average(members), nil
	case RollupSum:
		return sum(members), nil
	case RollupMin:
		low := members[0].Score
		for _, member := range members[1:] {
			if member.Score < low {
				low = member.Score
			}
		}
		return low, nil
	case RollupMax:
		high := members[0].Score
		for _, member := range members[1:] {
			if member.Score > high {
				high = member.Score
			}
		}
		return high, nil
	}
	return average(members), nil
}

func sum(members []MemberScore) float64 {
	total := 0.0
	for _, member := range members {
		total += member.Score
	}
	return total
}

func average(members []MemberScore) float64 {
	return sum(members) / float64(len(members))
}

func weightedAverage(members []MemberScore) float64 {
	var weighted, totalWeight float64
	for _, member := range members {
		weight := 1.0
		if member.Weight != nil {
			weight = *member.Weight
		}
		weighted += member.Score * weight
		totalWeight += weight
	}
	if totalWeight == 0 {
		return 0
	}
	return weighted / totalWeight
}

// PartitionByDepartment groups members by department. Members without a
// department are left out; they still count toward a company rollup.
func PartitionByDepartment(members []MemberScore) map[string][]MemberScore {
	groups := make(map[string][]MemberScore)
	for _, member := range members {
		if member.DepartmentID == "" {
			continue
		}
		groups[member.DepartmentID] = append(groups[member.DepartmentID], member)
	}
	return groups
}
