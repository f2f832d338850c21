package metrics

import (
	"errors"
	"hash/fnv"
	"math"
	"sort"

	"github.com/getsentry/vroom-capture/internal/board"
	"github.com/getsentry/vroom-capture/internal/frame"
)

type (
	// Function is the self time of one function, one value per call.
	Function struct {
		Name          string   `json:"name"`
		File          string   `json:"file"`
		Fingerprint   uint64   `json:"fingerprint"`
		SelfTimesNS   []uint64 `json:"self_times_ns"`
		SumSelfTimeNS uint64   `json:"sum_self_time_ns"`
		CallCount     int64    `json:"call_count"`
	}

	FunctionsMetadata struct {
		MaxVal   uint64
		WorstID  string
		Examples []string
	}

	Aggregator struct {
		MaxUniqueFunctions uint
		MaxNumOfExamples   uint
		Functions          map[uint64]Function
		FunctionsMetadata  map[uint64]FunctionsMetadata
	}

	FunctionMetrics struct {
		Name        string   `json:"name"`
		File        string   `json:"file"`
		Fingerprint uint64   `json:"fingerprint"`
		P50         uint64   `json:"p50"`
		P75         uint64   `json:"p75"`
		P95         uint64   `json:"p95"`
		P99         uint64   `json:"p99"`
		Avg         float64  `json:"avg"`
		Sum         uint64   `json:"sum"`
		Count       uint64   `json:"count"`
		Worst       string   `json:"worst"`
		Examples    []string `json:"examples"`
	}
)

func NewAggregator(MaxUniqueFunctions uint, MaxNumOfExamples uint) Aggregator {
	return Aggregator{
		MaxUniqueFunctions: MaxUniqueFunctions,
		MaxNumOfExamples:   MaxNumOfExamples,
		Functions:          make(map[uint64]Function),
		FunctionsMetadata:  make(map[uint64]FunctionsMetadata),
	}
}

// Fingerprint identifies a function across captures.
func Fingerprint(name, file string) uint64 {
	h := fnv.New64()
	h.Write([]byte(name))
	h.Write([]byte{0})
	h.Write([]byte(file))
	return h.Sum64()
}

// FunctionsFromAggregation extracts the self time of every call of every
// function of agg. Negative self times, left by overlapping scopes, count
// as zero.
func FunctionsFromAggregation(agg *frame.Aggregation, b *board.Board) []Function {
	functions := make([]Function, 0, agg.Len())
	for _, r := range agg.Rows() {
		f := Function{
			Name:        r.Description.Name,
			File:        r.Description.File,
			Fingerprint: Fingerprint(r.Description.Name, r.Description.File),
			SelfTimesNS: make([]uint64, 0, len(r.Nodes)),
			CallCount:   r.Count,
		}
		for _, n := range r.Nodes {
			self := n.SelfDuration()
			if self < 0 {
				self = 0
			}
			ns := uint64(b.TicksToNs(self))
			f.SelfTimesNS = append(f.SelfTimesNS, ns)
			f.SumSelfTimeNS += ns
		}
		functions = append(functions, f)
	}
	return functions
}

func (ma *Aggregator) AddFunctions(functions []Function, ID string) {
	for _, f := range functions {
		if fn, ok := ma.Functions[f.Fingerprint]; ok {
			fn.CallCount += f.CallCount
			fn.SelfTimesNS = append(fn.SelfTimesNS, f.SelfTimesNS...)
			fn.SumSelfTimeNS += f.SumSelfTimeNS
			funcMetadata := ma.FunctionsMetadata[f.Fingerprint]
			if f.SumSelfTimeNS > funcMetadata.MaxVal {
				funcMetadata.MaxVal = f.SumSelfTimeNS
				funcMetadata.WorstID = ID
			}
			if len(funcMetadata.Examples) < int(ma.MaxNumOfExamples) {
				funcMetadata.Examples = append(funcMetadata.Examples, ID)
			}
			ma.FunctionsMetadata[f.Fingerprint] = funcMetadata
			ma.Functions[f.Fingerprint] = fn
		} else {
			f.SelfTimesNS = append([]uint64(nil), f.SelfTimesNS...)
			ma.Functions[f.Fingerprint] = f
			ma.FunctionsMetadata[f.Fingerprint] = FunctionsMetadata{
				MaxVal:   f.SumSelfTimeNS,
				WorstID:  ID,
				Examples: []string{ID},
			}
		}
	}
}

// ToMetrics returns the functions with the highest total self time first.
func (ma *Aggregator) ToMetrics() []FunctionMetrics {
	metrics := make([]FunctionMetrics, 0, len(ma.Functions))

	for _, f := range ma.Functions {
		if len(f.SelfTimesNS) == 0 {
			continue
		}
		sort.Slice(f.SelfTimesNS, func(i, j int) bool {
			return f.SelfTimesNS[i] < f.SelfTimesNS[j]
		})
		p50, _ := quantile(f.SelfTimesNS, 0.5)
		p75, _ := quantile(f.SelfTimesNS, 0.75)
		p95, _ := quantile(f.SelfTimesNS, 0.95)
		p99, _ := quantile(f.SelfTimesNS, 0.99)
		metrics = append(metrics, FunctionMetrics{
			Name:        f.Name,
			File:        f.File,
			Fingerprint: f.Fingerprint,
			P50:         p50,
			P75:         p75,
			P95:         p95,
			P99:         p99,
			Avg:         float64(f.SumSelfTimeNS) / float64(len(f.SelfTimesNS)),
			Sum:         f.SumSelfTimeNS,
			Count:       uint64(f.CallCount),
			Worst:       ma.FunctionsMetadata[f.Fingerprint].WorstID,
			Examples:    ma.FunctionsMetadata[f.Fingerprint].Examples,
		})
	}
	sort.Slice(metrics, func(i, j int) bool {
		if metrics[i].Sum != metrics[j].Sum {
			return metrics[i].Sum > metrics[j].Sum
		}
		return metrics[i].Fingerprint < metrics[j].Fingerprint
	})
	if len(metrics) > int(ma.MaxUniqueFunctions) {
		metrics = metrics[:ma.MaxUniqueFunctions]
	}
	return metrics
}

func quantile(values []uint64, q float64) (uint64, error) {
	if len(values) == 0 {
		return 0, errors.New("cannot compute percentile from empty list")
	}
	if q <= 0 || q > 1 {
		return 0, errors.New("q must be a value between 0 and 1.0")
	}
	index := int(math.Ceil(float64(len(values))*q)) - 1
	return values[index], nil
}
