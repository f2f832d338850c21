package main

import (
	"net/http"

	"github.com/getsentry/sentry-go"

	"github.com/getsentry/vroom-capture/internal/board"
	"github.com/getsentry/vroom-capture/internal/httputil"
	"github.com/getsentry/vroom-capture/internal/interval"
	"github.com/getsentry/vroom-capture/internal/nodetree"
)

type (
	// CallTreeNode is a nodetree.Node with times in milliseconds, relative
	// to the start of the capture.
	CallTreeNode struct {
		Name       string          `json:"name"`
		File       string          `json:"file,omitempty"`
		Line       int32           `json:"line,omitempty"`
		StartMs    float64         `json:"start_ms"`
		DurationMs float64         `json:"duration_ms"`
		SelfMs     float64         `json:"self_ms"`
		Children   []*CallTreeNode `json:"children,omitempty"`
	}

	CallTree struct {
		StartMs    float64       `json:"start_ms"`
		DurationMs float64       `json:"duration_ms"`
		Root       *CallTreeNode `json:"root"`
	}

	GetCallTreeResponse struct {
		CallTrees []CallTree `json:"call_trees"`
	}
)

func newCallTreeNode(n *nodetree.Node, b *board.Board) *CallTreeNode {
	c := &CallTreeNode{
		Name:       n.Name(),
		StartMs:    b.TicksToMs(int64(n.Interval.Start - b.TimeSlice.Start)),
		DurationMs: b.TicksToMs(n.Duration),
		SelfMs:     b.TicksToMs(n.SelfDuration()),
	}
	if n.Description != nil {
		c.File = n.Description.File
		c.Line = n.Description.Line
	}
	if len(n.Children) > 0 {
		c.Children = make([]*CallTreeNode, 0, len(n.Children))
		for _, child := range n.Children {
			c.Children = append(c.Children, newCallTreeNode(child, b))
		}
	}
	return c
}

// getCallTree returns the call trees of the frames of a thread intersecting
// [start, end], both given in milliseconds since the start of the capture
// like the times of the response.
func (env *environment) getCallTree(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := sentry.GetHubFromContext(ctx)
	p, ok := httputil.GetInt64QueryParameters(w, r, "start", "end")
	if !ok {
		return
	}

	g, td, ok := env.threadFromRequest(w, r)
	if !ok {
		return
	}

	s := sentry.StartSpan(ctx, "calltree")
	s.Description = "Build call trees"
	frames := td.EventsInRange(msToTick(g.Board, p["start"]), msToTick(g.Board, p["end"]))
	response := GetCallTreeResponse{
		CallTrees: make([]CallTree, 0, len(frames)),
	}
	for _, f := range frames {
		if err := f.BuildTree(); err != nil {
			s.Finish()
			hub.CaptureException(err)
			w.WriteHeader(statusFromError(err))
			return
		}
		root, err := f.Root()
		if err != nil {
			s.Finish()
			hub.CaptureException(err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		response.CallTrees = append(response.CallTrees, CallTree{
			StartMs:    g.Board.TicksToMs(int64(f.Interval.Start - g.Board.TimeSlice.Start)),
			DurationMs: f.DurationMs(g.Board),
			Root:       newCallTreeNode(root, g.Board),
		})
	}
	s.Finish()

	writeJSON(w, r, http.StatusOK, response)
}

func msToTick(b *board.Board, ms int64) interval.Tick {
	return b.TimeSlice.Start + interval.Tick(b.MsToTicks(float64(ms)))
}
