package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/tabsynth/internal/table"
	"github.com/hpungsan/tabsynth/internal/transform"
)

// DisplayName returns the raw name, or the ID for unnamed models.
func (m *Model) DisplayName() string {
	if m.NameRaw != nil && *m.NameRaw != "" {
		return *m.NameRaw
	}
	return m.ID
}

// Report renders a markdown description of a fitted model: training summary, column
// layout, active modes of each continuous column and the loss history.
func Report(m *Model, tr *transform.Transformer) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", m.DisplayName())

	b.WriteString("## Summary\n\n")
	b.WriteString("| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| ID | `%s` |\n", m.ID)
	if m.SourcePath != "" {
		fmt.Fprintf(&b, "| Source | `%s` |\n", m.SourcePath)
	}
	fmt.Fprintf(&b, "| Rows | %d |\n", m.Rows)
	fmt.Fprintf(&b, "| Columns | %d |\n", m.Columns)
	fmt.Fprintf(&b, "| Width | %d |\n", m.Width)
	fmt.Fprintf(&b, "| Epochs | %d |\n", m.Epochs)
	fmt.Fprintf(&b, "| State | %s |\n", m.State)
	fmt.Fprintf(&b, "| Batch size | %d |\n", m.Config.BatchSize)
	fmt.Fprintf(&b, "| Pac | %d |\n", m.Config.Pac)
	fmt.Fprintf(&b, "| Created | %s |\n", time.Unix(m.CreatedAt, 0).UTC().Format(time.RFC3339))
	if last, ok := m.FinalLoss(); ok {
		fmt.Fprintf(&b, "| Final generator loss | %.4f |\n", last.GeneratorLoss)
		fmt.Fprintf(&b, "| Final discriminator loss | %.4f |\n", last.DiscriminatorLoss)
	}

	if tr != nil {
		writeLayout(&b, tr)
		writeModes(&b, tr)
	}

	b.WriteString("\n## Losses\n\n")
	if len(m.Losses) == 0 {
		b.WriteString("No epochs recorded.\n")
		return b.String()
	}
	b.WriteString("| Epoch | Generator | Discriminator |\n|---:|---:|---:|\n")
	for _, l := range m.Losses {
		fmt.Fprintf(&b, "| %d | %.4f | %.4f |\n", l.Epoch, l.GeneratorLoss, l.DiscriminatorLoss)
	}
	return b.String()
}

func writeLayout(b *strings.Builder, tr *transform.Transformer) {
	b.WriteString("\n## Columns\n\n")
	b.WriteString("| Column | Type | Kind | Offset | Width | Detail |\n|---|---|---|---:|---:|---|\n")
	for _, c := range tr.Columns {
		fmt.Fprintf(b, "| %s | %s | %s | %d | %d | %s |\n",
			escapeCell(c.Spec.Name), c.Spec.SDType, c.Kind(), c.Offset, c.Width, columnDetail(c))
	}
}

func columnDetail(c *transform.Column) string {
	switch c.Kind() {
	case table.KindDiscrete:
		return fmt.Sprintf("%d categories", len(c.Categories))
	case table.KindContinuous:
		parts := []string{fmt.Sprintf("%d modes", len(c.Modes.Slots()))}
		if c.Modes.Missing {
			parts = append(parts, "missing slot")
		}
		if c.Numeric != nil {
			if c.Numeric.DatetimeFormat != "" {
				parts = append(parts, "format `"+c.Numeric.DatetimeFormat+"`")
			}
			if c.Numeric.LogScale {
				parts = append(parts, "log scale")
			}
		}
		return strings.Join(parts, ", ")
	case table.KindID:
		if c.IntegerIDs {
			return "regenerated as integers"
		}
		return "regenerated as ULIDs"
	}
	return ""
}

func writeModes(b *strings.Builder, tr *transform.Transformer) {
	wrote := false
	for _, c := range tr.Columns {
		if c.Kind() != table.KindContinuous || c.Modes == nil {
			continue
		}
		if !wrote {
			b.WriteString("\n## Modes\n")
			wrote = true
		}
		fmt.Fprintf(b, "\n### %s\n\n", c.Spec.Name)
		b.WriteString("| Slot | Weight | Mean | Std |\n|---:|---:|---:|---:|\n")
		for _, i := range c.Modes.Slots() {
			m := c.Modes.Modes[i]
			fmt.Fprintf(b, "| %d | %.4f | %.4g | %.4g |\n", i, m.Weight, m.Mean, m.Std)
		}
	}
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
