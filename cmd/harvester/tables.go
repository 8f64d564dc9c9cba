package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/JustJay7/court-lead-harvester/internal/courts"
	"github.com/JustJay7/court-lead-harvester/internal/database"
	"github.com/JustJay7/court-lead-harvester/internal/documents"
	"github.com/JustJay7/court-lead-harvester/internal/harvest"
	"github.com/jedib0t/go-pretty/v6/table"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	return t
}

func printSummary(w io.Writer, s harvest.Summary) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Court", "Scraper", "Processed", "Inserted", "Leads", "Existing", "Not found", "Review", "Stop", "Error"})
	for _, r := range s.Courts {
		t.AppendRow(table.Row{
			r.Court, r.Scraper, r.Stats.Processed, r.Stats.Inserted, r.Stats.Leads,
			r.Stats.Existing, r.Stats.NotFound, r.Stats.Reviewed, r.Stats.StopReason, r.Error,
		})
	}
	t.AppendFooter(table.Row{"", "", "", s.Inserted, s.Leads})
	t.Render()
	fmt.Fprintln(w, s.Message)
}

func printDocuments(w io.Writer, storage string, res documents.Result) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Downloaded", "Archived (" + storage + ")", "Removed", "Failed"})
	t.AppendRow(table.Row{res.Downloaded, res.Archived, res.Removed, res.Failed})
	t.Render()
}

func printCourts(w io.Writer, registry *courts.Registry, saved []database.ScraperState) {
	states := map[string]database.JSONMap{}
	for _, s := range saved {
		states[s.Name] = s.State
	}

	t := newTable(w)
	t.AppendHeader(table.Row{"Scraper", "Court", "Name", "Enabled", "Cursor"})
	for _, name := range registry.Names() {
		list, _ := registry.Courts(name)
		for _, c := range list {
			t.AppendRow(table.Row{name, c.Code, c.Name, c.Enabled, cursorFor(states[name], c.Code)})
		}
	}
	t.Render()
}

// cursorFor shows the cursor entries of a court when the scraper keys its
// state by court code (optionally scoped, as in MO_SLCO:2024) and the whole
// state otherwise
func cursorFor(state database.JSONMap, code string) string {
	if len(state) == 0 {
		return "-"
	}
	if v, ok := state[code]; ok {
		return fmt.Sprint(v)
	}
	keys := make([]string, 0, len(state))
	var own []string
	for k := range state {
		keys = append(keys, k)
		if strings.HasPrefix(k, code+":") {
			own = append(own, k)
		}
	}
	if len(own) > 0 {
		keys = own
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, state[k]))
	}
	return strings.Join(parts, " ")
}
