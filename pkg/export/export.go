// Package export writes scheduling results to CSV and JSON.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/kilianp07/hydroflex/core/model"
)

// WriteJSON writes result rows to w in JSON format.
func WriteJSON(w io.Writer, rows []model.ResultRow) error {
	enc := json.NewEncoder(w)
	return enc.Encode(rows)
}

// WriteCSV writes result rows to w in long CSV format, one value per line.
func WriteCSV(w io.Writer, rows []model.ResultRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"sim_idx", "t", "timestamp", "table", "entity", "value"}); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{
			strconv.Itoa(r.SimIdx),
			strconv.Itoa(r.T),
			r.Timestamp.Format(time.RFC3339),
			r.Table,
			r.Entity,
			formatFloat(r.Value),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTableCSV writes one table in wide format: a line per time step and a
// column per entity, entities sorted by ID.
func WriteTableCSV(w io.Writer, rows []model.ResultRow, table string) error {
	type line struct {
		simIdx int
		ts     time.Time
		values map[string]float64
	}
	byT := make(map[int]*line)
	entities := make(map[string]struct{})
	for _, r := range model.Rows(rows, table) {
		l, ok := byT[r.T]
		if !ok {
			l = &line{simIdx: r.SimIdx, ts: r.Timestamp, values: make(map[string]float64)}
			byT[r.T] = l
		}
		l.values[r.Entity] = r.Value
		entities[r.Entity] = struct{}{}
	}
	cols := make([]string, 0, len(entities))
	for e := range entities {
		cols = append(cols, e)
	}
	sort.Strings(cols)
	steps := make([]int, 0, len(byT))
	for t := range byT {
		steps = append(steps, t)
	}
	sort.Ints(steps)

	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"t", "timestamp", "sim_idx"}, cols...)); err != nil {
		return err
	}
	for _, t := range steps {
		l := byT[t]
		rec := []string{strconv.Itoa(t), l.ts.Format(time.RFC3339), strconv.Itoa(l.simIdx)}
		for _, c := range cols {
			v, ok := l.values[c]
			if !ok {
				rec = append(rec, "")
				continue
			}
			rec = append(rec, formatFloat(v))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteDiagnostics writes the run diagnostics as indented JSON.
func WriteDiagnostics(w io.Writer, d model.Diagnostics) error {
	if d.NonOptimal == nil {
		d.NonOptimal = []int{}
	}
	if d.Recovered == nil {
		d.Recovered = []int{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// WriteState writes a carried-over state so a later run can start from it.
func WriteState(w io.Writer, s model.SubHorizonState) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// ReadState decodes a state written by WriteState.
func ReadState(r io.Reader) (model.SubHorizonState, error) {
	var s model.SubHorizonState
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return model.SubHorizonState{}, fmt.Errorf("decode state: %w", err)
	}
	if s.Volumes == nil {
		s.Volumes = map[string]float64{}
	}
	if s.Shortage == nil {
		s.Shortage = map[string]float64{}
	}
	if s.Overage == nil {
		s.Overage = map[string]float64{}
	}
	return s, nil
}

// ReadStateFile reads a warm-start state from path.
func ReadStateFile(path string) (model.SubHorizonState, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.SubHorizonState{}, err
	}
	defer func() { _ = f.Close() }()
	return ReadState(f)
}

// WriteDir writes every table as <table>.csv into dir along with
// diagnostics.json and, when final is not nil, final_state.json.
func WriteDir(dir string, rows []model.ResultRow, d model.Diagnostics, final *model.SubHorizonState) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, table := range model.Tables(rows) {
		if err := writeFile(filepath.Join(dir, table+".csv"), func(w io.Writer) error {
			return WriteTableCSV(w, rows, table)
		}); err != nil {
			return err
		}
	}
	if err := writeFile(filepath.Join(dir, "diagnostics.json"), func(w io.Writer) error {
		return WriteDiagnostics(w, d)
	}); err != nil {
		return err
	}
	if final == nil {
		return nil
	}
	return writeFile(filepath.Join(dir, "final_state.json"), func(w io.Writer) error {
		return WriteState(w, *final)
	})
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
