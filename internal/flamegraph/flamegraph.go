package flamegraph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"

	"github.com/getsentry/vroom-capture/internal/board"
	"github.com/getsentry/vroom-capture/internal/capture"
	"github.com/getsentry/vroom-capture/internal/errorutil"
	"github.com/getsentry/vroom-capture/internal/nodetree"
	"github.com/getsentry/vroom-capture/internal/speedscope"
	"github.com/getsentry/vroom-capture/internal/storageutil"
)

// DefaultMinFrequency is the number of samples under which a branch is left
// out of the flamegraph.
const DefaultMinFrequency = 4

var void = struct{}{}

type (
	node struct {
		description *board.FunctionDescriptor
		passed      int64
		sampled     int64
		captureIDs  map[string]struct{}
		children    []*node
	}

	// Flamegraph merges the sampled trees of many captures. Frames are
	// matched by function name and file since addresses differ between runs.
	Flamegraph struct {
		roots    []*node
		captures int
	}
)

func (fg *Flamegraph) Captures() int {
	return fg.captures
}

// AddCapture merges the sampled tree of every thread of g. The trees are
// built if needed.
func (fg *Flamegraph) AddCapture(captureID string, g *capture.FrameGroup) error {
	for _, td := range g.Threads {
		td.BuildSamplingTree()
		root, err := td.SamplingTree()
		if err != nil {
			return err
		}
		addCallTreeToFlamegraph(&fg.roots, root.Children, captureID)
	}
	fg.captures++
	return nil
}

func getMatchingNode(nodes []*node, n *nodetree.Node) *node {
	for _, existing := range nodes {
		if existing.description.Name == n.Description.Name && existing.description.File == n.Description.File {
			return existing
		}
	}
	return nil
}

func addCallTreeToFlamegraph(flamegraphTree *[]*node, callTree []*nodetree.Node, captureID string) {
	for _, n := range callTree {
		if n.Description == nil {
			continue
		}
		existing := getMatchingNode(*flamegraphTree, n)
		if existing == nil {
			existing = &node{
				description: n.Description,
				captureIDs:  make(map[string]struct{}),
			}
			*flamegraphTree = append(*flamegraphTree, existing)
		}
		existing.passed += n.Passed
		existing.sampled += n.Sampled
		// the capture is an example of the node when samples stopped in it
		if n.Sampled > 0 {
			existing.captureIDs[captureID] = void
		}
		addCallTreeToFlamegraph(&existing.children, n.Children, captureID)
	}
}

type flamegraph struct {
	samples           [][]int
	samplesCaptureIDs [][]int
	sampleCounts      []int64
	frames            *speedscope.FrameTable
	captureIDsIndex   map[string]int
	captureIDs        []string
	endValue          int64
	minFreq           int64
}

// ToSpeedscope renders the merged trees as a single sampled profile whose
// samples are the distinct stacks, weighted by how many times they were seen.
func (fg *Flamegraph) ToSpeedscope(minFreq int64) speedscope.Output {
	fd := &flamegraph{
		frames:          speedscope.NewFrameTable(),
		captureIDsIndex: make(map[string]int),
		minFreq:         minFreq,
		samples:         make([][]int, 0),
		sampleCounts:    make([]int64, 0),
	}
	for _, tree := range fg.roots {
		stack := make([]int, 0, 32)
		fd.visitCalltree(tree, &stack)
	}

	p := speedscope.SampledProfile{
		Samples:         fd.samples,
		SamplesCaptures: fd.samplesCaptureIDs,
		Weights:         fd.sampleCounts,
		IsMainThread:    true,
		Type:            speedscope.ProfileTypeSampled,
		Unit:            speedscope.ValueUnitCount,
		EndValue:        fd.endValue,
	}
	speedscope.SortSamplesAlphabetically(&p, fd.frames.Frames)

	return speedscope.Output{
		Shared: speedscope.SharedData{
			Frames:     fd.frames.Frames,
			CaptureIDs: fd.captureIDs,
		},
		Profiles: []interface{}{p},
	}
}

func (f *flamegraph) visitCalltree(n *node, currentStack *[]int) {
	if n.passed < f.minFreq {
		return
	}
	*currentStack = append(*currentStack, f.frames.Index(n.description))

	// base case (when we reach leaf frames)
	if len(n.children) == 0 {
		f.addSample(currentStack, n.passed, n.captureIDs)
	} else {
		var childrenCount int64
		for _, child := range n.children {
			childrenCount += child.passed
			f.visitCalltree(child, currentStack)
		}
		// samples ending at the current node
		if diff := n.passed - childrenCount; diff >= max(f.minFreq, 1) {
			f.addSample(currentStack, diff, n.captureIDs)
		}
	}
	// pop last element before returning
	*currentStack = (*currentStack)[:len(*currentStack)-1]
}

func (f *flamegraph) addSample(stack *[]int, count int64, captureIDs map[string]struct{}) {
	cp := make([]int, len(*stack))
	copy(cp, *stack)
	f.samples = append(f.samples, cp)
	f.sampleCounts = append(f.sampleCounts, count)
	f.samplesCaptureIDs = append(f.samplesCaptureIDs, f.getCaptureIDsIndices(captureIDs))
	f.endValue += count
}

func (f *flamegraph) getCaptureIDsIndices(captureIDs map[string]struct{}) []int {
	ids := make([]string, 0, len(captureIDs))
	for id := range captureIDs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	indices := make([]int, 0, len(ids))
	for _, id := range ids {
		if idx, ok := f.captureIDsIndex[id]; ok {
			indices = append(indices, idx)
		} else {
			indices = append(indices, len(f.captureIDs))
			f.captureIDsIndex[id] = len(f.captureIDs)
			f.captureIDs = append(f.captureIDs, id)
		}
	}
	return indices
}

// GetFlamegraphFromCaptures reads and decodes captures on numWorkers
// goroutines and merges their sampled trees. Missing or corrupt captures are
// skipped, the deadline of ctx ends the aggregation early.
func GetFlamegraphFromCaptures(
	ctx context.Context,
	storage storageutil.ObjectHandler,
	organizationID uint64,
	captureIDs []string,
	numWorkers int,
	minFreq int64,
) (speedscope.Output, error) {
	hub := sentry.GetHubFromContext(ctx)
	var fg Flamegraph
	for _, res := range storageutil.ReadAll(ctx, storage, organizationID, captureIDs, numWorkers) {
		if res.Err != nil {
			if errors.Is(res.Err, storageutil.ErrObjectNotFound) {
				continue
			}
			if errors.Is(res.Err, context.DeadlineExceeded) {
				break
			}
			captureException(hub, res.Err)
			continue
		}
		g, err := capture.Decode(ctx, bytes.NewReader(res.Data), capture.Options{NumWorkers: 1})
		if err != nil {
			log.Warn().Err(err).Str("capture_id", res.CaptureID).Msg("capture couldn't be decoded")
			captureException(hub, err)
			continue
		}
		if err := fg.AddCapture(res.CaptureID, g); err != nil {
			captureException(hub, err)
		}
	}
	if hub != nil {
		hub.Scope().SetTag("processed_captures", strconv.Itoa(fg.Captures()))
	}
	if fg.Captures() == 0 {
		return speedscope.Output{}, fmt.Errorf("flamegraph: %w", errorutil.ErrNoResults)
	}
	return fg.ToSpeedscope(minFreq), nil
}

func captureException(hub *sentry.Hub, err error) {
	if hub != nil {
		hub.CaptureException(err)
	}
}
