package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/getsentry/vroom-capture/internal/capture"
	"github.com/getsentry/vroom-capture/internal/sample"
)

func thread(g *capture.FrameGroup, index int) (*capture.ThreadData, error) {
	if index < 0 {
		td, ok := g.MainThread()
		if !ok {
			return nil, fmt.Errorf("capture has no thread")
		}
		return td, nil
	}
	return g.Thread(index)
}

func printTrees(w io.Writer, g *capture.FrameGroup, index int, collapse bool) error {
	td, err := thread(g, index)
	if err != nil {
		return err
	}
	for _, f := range td.Events() {
		root, err := f.Root()
		if err != nil {
			return err
		}
		if collapse {
			if err := root.Collapse(w); err != nil {
				return err
			}
			continue
		}
		_, err = fmt.Fprintf(w, "frame [%d, %d] %.3fms\n", f.Interval.Start, f.Interval.Finish, f.DurationMs(g.Board))
		if err != nil {
			return err
		}
		if err := root.Print(w, g.Board.TicksToMs); err != nil {
			return err
		}
	}
	return nil
}

func printFunctions(w io.Writer, g *capture.FrameGroup, index int, orderBy string) error {
	td, err := thread(g, index)
	if err != nil {
		return err
	}
	agg, err := td.Aggregation()
	if err != nil {
		return err
	}
	rows := append(agg.Rows()[:0:0], agg.Rows()...)
	var key func(i int) int64
	switch orderBy {
	case "total":
		key = func(i int) int64 { return rows[i].Total }
	case "self":
		key = func(i int) int64 { return rows[i].Self }
	case "count":
		key = func(i int) int64 { return rows[i].Count }
	case "max":
		key = func(i int) int64 { return rows[i].Max }
	default:
		return fmt.Errorf("unknown sort: %s", orderBy)
	}
	sort.SliceStable(rows, func(i, j int) bool { return key(i) > key(j) })

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCOUNT\tTOTAL\tSELF\tMAX\tFILE")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%.3fms\t%.3fms\t%.3fms\t%s\n",
			r.Description.Name,
			r.Count,
			g.Board.TicksToMs(r.Total),
			g.Board.TicksToMs(r.Self),
			g.Board.TicksToMs(r.Max),
			r.Description.FileBaseName(),
		)
	}
	return tw.Flush()
}

func printSampling(w io.Writer, g *capture.FrameGroup, index, skip int, collapse bool) error {
	td, err := thread(g, index)
	if err != nil {
		return err
	}
	root, err := td.SamplingTree()
	if err != nil {
		return err
	}
	if collapse {
		return root.Collapse(w)
	}
	if _, err := fmt.Fprintf(w, "%d samples\n", root.Passed); err != nil {
		return err
	}
	effective := sample.EffectiveRoot(root, skip)
	if effective == root {
		return root.Print(w, g.Board.TicksToMs)
	}
	if _, err := fmt.Fprintf(w, "%s passed=%d sampled=%d\n", effective.Name(), effective.Passed, effective.Sampled); err != nil {
		return err
	}
	return effective.Print(w, g.Board.TicksToMs)
}

func printInfo(w io.Writer, g *capture.FrameGroup) error {
	b := g.Board
	fmt.Fprintf(w, "version %d, %d ticks/s, %.3fms\n", b.Version, b.Frequency, b.TicksToMs(b.TimeSlice.Duration()))
	fmt.Fprintf(w, "%d records, %d frames, %d skipped, %d ignored\n", g.Stats.Records, g.Stats.Frames, g.Stats.Skipped, g.Stats.Ignored)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tID\tNAME\tFRAMES\tSAMPLES")
	for _, td := range g.Threads {
		name := td.Description.Name
		if td.Index == b.MainThreadIndex {
			name += " (main)"
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%d\n", td.Index, td.Description.ThreadID, name, len(td.Events()), len(td.Callstacks()))
	}
	return tw.Flush()
}
