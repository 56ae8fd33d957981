package viz

import (
	"fmt"
	"sort"
	"strings"

	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/cellode/internal/storage"
	"github.com/san-kum/cellode/internal/substrates"
)

// Summary renders run metadata and metrics in a panel.
func Summary(meta *storage.RunMetadata) string {
	var b strings.Builder
	b.WriteString(Title.Render(meta.ID))
	b.WriteString("\n")

	row := func(label, value string) {
		fmt.Fprintf(&b, "%s %s\n", MetricLabel.Render(fmt.Sprintf("%-16s", label)), value)
	}
	row("model", meta.Model)
	row("integrator", fmt.Sprintf("%s (dt %g)", meta.Integrator, meta.IntracellularDt))
	row("cells / voxels", fmt.Sprintf("%d / %d", meta.Cells, meta.Voxels))
	row("steps", fmt.Sprintf("%d x %g", meta.Steps, meta.Dt))
	if meta.FailedUpdates > 0 {
		row("failed updates", StatusWarn.Render(fmt.Sprint(meta.FailedUpdates)))
	} else {
		row("failed updates", StatusOK.Render("0"))
	}

	if len(meta.Metrics) > 0 {
		b.WriteString(Separator(40))
		b.WriteString("\n")
		names := make([]string, 0, len(meta.Metrics))
		for name := range meta.Metrics {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			row(name, MetricValue.Render(fmt.Sprintf("%.6g", meta.Metrics[name])))
		}
	}

	return Panel.Render(strings.TrimRight(b.String(), "\n"))
}

// Mappings renders the substrate table of a model together with the current
// internal values.
func Mappings(mappings []substrates.Mapping, names []string, values []float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", Title.Render("substrates"))
	fmt.Fprintf(&b, "%s\n", MetricLabel.Render(fmt.Sprintf("%-6s %-14s %-14s %-8s %s", "index", "substrate", "species", "field", "value")))

	species := make(map[int]string, len(mappings))
	for _, m := range mappings {
		species[m.Index] = m.Species
	}
	for i, name := range names {
		field := Subtle.Render("no")
		if _, ok := species[i]; ok && isCoupled(mappings, i) {
			field = StatusOK.Render("yes")
		}
		sp := species[i]
		if sp == "" {
			sp = "-"
		}
		fmt.Fprintf(&b, "%-6d %-14s %-14s %-8s %s\n", i, name, sp, field, MetricValue.Render(fmt.Sprintf("%g", values[i])))
	}
	return strings.TrimRight(b.String(), "\n")
}

func isCoupled(mappings []substrates.Mapping, index int) bool {
	for _, m := range mappings {
		if m.Index == index {
			return m.Coupled
		}
	}
	return false
}

// Plot draws one series as an ASCII line chart.
func Plot(values []float64, caption string) string {
	if len(values) == 0 {
		return Subtle.Render("no data: " + caption)
	}
	return asciigraph.Plot(values,
		asciigraph.Height(10),
		asciigraph.Width(80),
		asciigraph.Caption(caption),
	)
}
