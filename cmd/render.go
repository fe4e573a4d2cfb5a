package cmd

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/pelletier/go-toml/v2"

	"github.com/StinkyLord/modlist-builder/internal/compiler"
	"github.com/StinkyLord/modlist-builder/internal/config"
	"github.com/StinkyLord/modlist-builder/internal/model"
)

// maxUnmatchedShown caps the unmatched listing; the rest are counted.
const maxUnmatchedShown = 25

var kindOrder = []model.Kind{
	model.KindFromArchive,
	model.KindPatchedFromArchive,
	model.KindInlineFile,
	model.KindIgnored,
	model.KindNoMatch,
}

func renderSummary(w io.Writer, res *compiler.Result, outDir string) {
	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("42")).
		MarginTop(1)

	labelStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("214")).
		Width(22)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("245"))

	pathStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("39"))

	var sb strings.Builder
	st := res.Stats
	sb.WriteString(headerStyle.Render("✓ Modlist compiled"))
	sb.WriteString("\n\n")

	row := func(label, value string) {
		sb.WriteString(labelStyle.Render(label))
		sb.WriteString(valueStyle.Render(value))
		sb.WriteString("\n")
	}
	row("Installed files", humanize.Comma(int64(st.Files)))
	for _, k := range kindOrder {
		if n := st.ByKind[k]; n > 0 {
			row("  "+string(k), humanize.Comma(int64(n)))
		}
	}
	row("Archives used", humanize.Comma(int64(st.Archives)))
	row("Patch data", humanize.Bytes(uint64(st.PatchBytes)))
	row("Inline data", humanize.Bytes(uint64(st.InlineBytes)))
	row("Took", st.Duration.Round(time.Millisecond).String())
	if outDir != "" {
		sb.WriteString(labelStyle.Render("Written to"))
		sb.WriteString(pathStyle.Render(outDir))
		sb.WriteString("\n")
	}
	fmt.Fprint(w, sb.String())
}

func renderUnmatched(w io.Writer, files []model.NoMatch) {
	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("196")).
		MarginBottom(1)

	itemStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("245"))

	hintStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("242")).
		Italic(true).
		MarginTop(1)

	sorted := slices.Clone(files)
	slices.SortFunc(sorted, func(a, b model.NoMatch) int {
		return strings.Compare(string(a.To), string(b.To))
	})

	var sb strings.Builder
	sb.WriteString(headerStyle.Render(fmt.Sprintf("✗ %d file(s) have no match", len(sorted))))
	sb.WriteString("\n")
	for i, f := range sorted {
		if i == maxUnmatchedShown {
			sb.WriteString(itemStyle.Render(fmt.Sprintf("  … and %d more", len(sorted)-i)))
			sb.WriteString("\n")
			break
		}
		sb.WriteString(itemStyle.Render(fmt.Sprintf("  • %s (%s, %s)", f.To, f.Reason, humanize.Bytes(uint64(f.Size)))))
		sb.WriteString("\n")
	}
	sb.WriteString(hintStyle.Render("Add an ignore or inline pattern, or download the archive the file came from."))
	sb.WriteString("\n")
	fmt.Fprint(w, sb.String())
}

func renderConfig(w io.Writer, cfg *config.Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	_, err = w.Write(data)
	return err
}
