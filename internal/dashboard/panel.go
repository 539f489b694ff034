package dashboard

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// renderPanel draws a rounded-border panel with a title embedded in the top
// border and one empty padding line above and below the content.
func renderPanel(title string, content string) string {
	var lines []string

	lines = append(lines, buildTopBorder(title))
	lines = append(lines, buildEmptyLine())
	for _, line := range strings.Split(content, "\n") {
		lines = append(lines, buildContentLine(line))
	}
	lines = append(lines, buildEmptyLine())
	lines = append(lines, buildBottomBorder())

	return strings.Join(lines, "\n")
}

// buildTopBorder creates: ╭─ TITLE ─────...─────╮ at exact panelTotalWidth.
func buildTopBorder(title string) string {
	titleUpper := strings.ToUpper(title)
	prefix := "╭─ "
	prefixWidth := lipgloss.Width(prefix + titleUpper + " ")

	dashCount := panelTotalWidth - prefixWidth - 1 // -1 for ╮
	if dashCount < 0 {
		dashCount = 0
	}

	return borderStyle.Render(prefix) +
		titleStyle.Render(titleUpper) +
		borderStyle.Render(" "+strings.Repeat("─", dashCount)+"╮")
}

func buildEmptyLine() string {
	return borderStyle.Render("│") + strings.Repeat(" ", panelTotalWidth-2) + borderStyle.Render("│")
}

// buildContentLine wraps one content line in side borders, padding to width.
func buildContentLine(line string) string {
	lineWidth := lipgloss.Width(line)
	padding := panelTotalWidth - 3 - lineWidth // borders + 1 leading space
	if padding < 0 {
		padding = 0
	}
	return borderStyle.Render("│") + " " + line + strings.Repeat(" ", padding) + borderStyle.Render("│")
}

func buildBottomBorder() string {
	return borderStyle.Render("╰" + strings.Repeat("─", panelTotalWidth-2) + "╯")
}

// dotLeader creates: "  label ....... value" padded to totalWidth.
func dotLeader(label string, value string, totalWidth int) string {
	prefix := "  " + label + " "
	suffix := " " + value
	prefixWidth := lipgloss.Width(prefix)
	suffixWidth := lipgloss.Width(suffix)
	dotsNeeded := totalWidth - prefixWidth - suffixWidth
	if dotsNeeded < 3 {
		dotsNeeded = 3
	}
	return prefix + strings.Repeat(".", dotsNeeded) + suffix
}

// dotLeaderStyled creates a dot-leader with a styled value. Width is
// computed on the raw value, then the style is applied.
func dotLeaderStyled(label string, value string, style lipgloss.Style, totalWidth int) string {
	prefix := "  " + label + " "
	suffix := " " + value
	prefixWidth := lipgloss.Width(prefix)
	suffixWidth := lipgloss.Width(suffix)
	dotsNeeded := totalWidth - prefixWidth - suffixWidth
	if dotsNeeded < 3 {
		dotsNeeded = 3
	}
	return prefix + strings.Repeat(".", dotsNeeded) + " " + style.Render(value)
}

// truncateString truncates a string to maxLen, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// renderSparkline scales values into block characters of the given width.
func renderSparkline(values []float64, width int) string {
	levels := normalizeToSparkline(values, width)
	runes := make([]rune, len(levels))
	for i, lv := range levels {
		runes[i] = sparkBlocks[lv]
	}
	return string(runes)
}

// normalizeToSparkline scales float64 values to the 0-8 sparkBlocks range.
// Values are right-aligned; when there are more values than width, only the
// most recent are kept.
func normalizeToSparkline(values []float64, width int) []int {
	result := make([]int, width)
	if len(values) == 0 {
		return result
	}

	if len(values) > width {
		values = values[len(values)-width:]
	}
	offset := width - len(values)

	var max float64
	for _, v := range values {
		if v > max {
			max = v
		}
	}
	if max <= 0 {
		return result
	}

	for i, v := range values {
		level := int(v / max * 8)
		if level < 0 {
			level = 0
		}
		if level > 8 {
			level = 8
		}
		if v > 0 && level == 0 {
			level = 1
		}
		result[offset+i] = level
	}
	return result
}

// formatCompact formats a number in compact form: 0, 999, 1.0K, 57.3K, 1.2M.
func formatCompact(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1_000_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
}
