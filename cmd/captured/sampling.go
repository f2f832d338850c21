package main

import (
	"net/http"
	"strconv"

	"github.com/getsentry/sentry-go"

	"github.com/getsentry/vroom-capture/internal/nodetree"
	"github.com/getsentry/vroom-capture/internal/sample"
)

type (
	SamplingNode struct {
		Name     string          `json:"name"`
		Module   string          `json:"module,omitempty"`
		File     string          `json:"file,omitempty"`
		Line     int32           `json:"line,omitempty"`
		Address  uint64          `json:"address,omitempty"`
		Passed   int64           `json:"passed"`
		Sampled  int64           `json:"sampled"`
		Children []*SamplingNode `json:"children,omitempty"`
	}

	SamplingFunction struct {
		Name  string `json:"name"`
		File  string `json:"file,omitempty"`
		Count int64  `json:"count"`
		Total int64  `json:"total"`
		Self  int64  `json:"self"`
	}

	GetSamplingResponse struct {
		Samples   int64              `json:"samples"`
		Root      *SamplingNode      `json:"root"`
		Functions []SamplingFunction `json:"functions"`
	}
)

func newSamplingNode(n *nodetree.Node) *SamplingNode {
	s := &SamplingNode{
		Name:    n.Name(),
		Address: n.Address,
		Passed:  n.Passed,
		Sampled: n.Sampled,
	}
	if n.Description != nil {
		s.Module = n.Description.Module
		s.File = n.Description.File
		s.Line = n.Description.Line
	}
	if len(n.Children) > 0 {
		s.Children = make([]*SamplingNode, 0, len(n.Children))
		for _, c := range n.Children {
			s.Children = append(s.Children, newSamplingNode(c))
		}
	}
	return s
}

// getSampling returns the merged call-stacks of a thread. The optional skip
// query parameter bounds how many pass-through frames are skipped at the
// top of the tree.
func (env *environment) getSampling(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := sentry.GetHubFromContext(ctx)

	skip := sample.DefaultRootSkip
	if raw := r.URL.Query().Get("skip"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			http.Error(w, "skip query parameter should be a positive integer", http.StatusBadRequest)
			return
		}
		skip = v
	}

	_, td, ok := env.threadFromRequest(w, r)
	if !ok {
		return
	}

	s := sentry.StartSpan(ctx, "sampling")
	s.Description = "Merge call-stacks"
	td.BuildSamplingTree()
	s.Finish()

	root, err := td.SamplingTree()
	if err != nil {
		hub.CaptureException(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	agg, err := td.SamplingAggregation()
	if err != nil {
		hub.CaptureException(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	response := GetSamplingResponse{
		Samples:   root.Passed,
		Root:      newSamplingNode(sample.EffectiveRoot(root, skip)),
		Functions: make([]SamplingFunction, 0, agg.Len()),
	}
	for _, row := range agg.Rows() {
		response.Functions = append(response.Functions, SamplingFunction{
			Name:  row.Key.Name,
			File:  row.Key.File,
			Count: row.Count,
			Total: row.Total,
			Self:  row.Self,
		})
	}
	writeJSON(w, r, http.StatusOK, response)
}
