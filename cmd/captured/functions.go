package main

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/getsentry/sentry-go"

	"github.com/getsentry/vroom-capture/internal/board"
	"github.com/getsentry/vroom-capture/internal/frame"
)

var legalOrderBys = map[string]struct{}{"count": {}, "total": {}, "self": {}, "max": {}}

type (
	FunctionRow struct {
		Name        string  `json:"name"`
		FullName    string  `json:"full_name"`
		File        string  `json:"file,omitempty"`
		Line        int32   `json:"line,omitempty"`
		Count       int64   `json:"count"`
		TotalMs     float64 `json:"total_ms"`
		SelfMs      float64 `json:"self_ms"`
		MaxMs       float64 `json:"max_ms"`
		ChildTimeMs float64 `json:"child_time_ms"`
	}

	GetFunctionsResponse struct {
		Functions []FunctionRow `json:"functions"`
	}
)

func functionRows(agg *frame.Aggregation, b *board.Board) []FunctionRow {
	rows := make([]FunctionRow, 0, agg.Len())
	for _, r := range agg.Rows() {
		rows = append(rows, FunctionRow{
			Name:        r.Description.Name,
			FullName:    r.Description.FullName,
			File:        r.Description.File,
			Line:        r.Description.Line,
			Count:       r.Count,
			TotalMs:     b.TicksToMs(r.Total),
			SelfMs:      b.TicksToMs(r.Self),
			MaxMs:       b.TicksToMs(r.Max),
			ChildTimeMs: b.TicksToMs(r.ChildTime),
		})
	}
	return rows
}

// sortFunctionRows orders rows by one of legalOrderBys, descending when
// orderBy starts with a minus sign.
func sortFunctionRows(rows []FunctionRow, orderBy string) error {
	descending := strings.HasPrefix(orderBy, "-")
	orderBy = strings.TrimPrefix(orderBy, "-")
	if _, exists := legalOrderBys[orderBy]; !exists {
		return fmt.Errorf("unknown sort: %s", orderBy)
	}
	value := func(r FunctionRow) float64 {
		switch orderBy {
		case "count":
			return float64(r.Count)
		case "self":
			return r.SelfMs
		case "max":
			return r.MaxMs
		default:
			return r.TotalMs
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if descending {
			return value(rows[i]) > value(rows[j])
		}
		return value(rows[i]) < value(rows[j])
	})
	return nil
}

func (env *environment) getFunctions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hub := sentry.GetHubFromContext(ctx)

	orderBy := r.URL.Query().Get("sort")
	if orderBy == "" {
		orderBy = "-total"
	}
	if err := sortFunctionRows(nil, orderBy); err != nil {
		hub.CaptureException(err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	g, td, ok := env.threadFromRequest(w, r)
	if !ok {
		return
	}

	s := sentry.StartSpan(ctx, "aggregation")
	s.Description = "Aggregate thread functions"
	err := td.BuildAggregation()
	s.Finish()
	if err != nil {
		hub.CaptureException(err)
		w.WriteHeader(statusFromError(err))
		return
	}
	agg, err := td.Aggregation()
	if err != nil {
		hub.CaptureException(err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	rows := functionRows(agg, g.Board)
	_ = sortFunctionRows(rows, orderBy)
	writeJSON(w, r, http.StatusOK, GetFunctionsResponse{
		Functions: rows,
	})
}
