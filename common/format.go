package common

import (
	"fmt"
	"io"
	"strings"
)

// OperationDetail represents a single line of a generation report
type OperationDetail struct {
	Message   string
	Count     int
	IsSkipped bool
}

// FormatOperationResult formats report lines grouped by category with consistent styling
func FormatOperationResult(title string, details []OperationDetail, categories map[string][]OperationDetail) string {
	if len(details) == 0 && len(categories) == 0 {
		return title + "\nNo techniques applied"
	}

	var result strings.Builder
	result.WriteString(title)

	// Format categorized details
	if len(categories) > 0 {
		result.WriteString("\n")
		for _, category := range categoryOrder(categories) {
			categoryDetails := categories[category]

			var emoji string
			switch strings.ToLower(category) {
			case "source":
				emoji = "📝"
			case "object", "assembly":
				emoji = "🧩"
			case "executable":
				emoji = "📦"
			default:
				emoji = "🛠️"
			}

			result.WriteString(fmt.Sprintf("%s %s:\n", emoji, strings.ToUpper(category)))
			for _, detail := range categoryDetails {
				prefix := "   ✓ "
				if detail.IsSkipped {
					prefix = "   ⚠️ "
				}
				result.WriteString(prefix + detail.Message + "\n")
			}
		}
	}

	// Format uncategorized details
	if len(details) > 0 && len(categories) == 0 {
		for _, detail := range details {
			prefix := "✓ "
			if detail.IsSkipped {
				prefix = "⚠️ "
			}
			result.WriteString("\n" + prefix + detail.Message)
		}
	}

	return strings.TrimSuffix(result.String(), "\n")
}

// CategorizeResults groups technique results by the stage they ran at
func CategorizeResults(results []*OperationResult) map[string][]OperationDetail {
	categories := map[string][]OperationDetail{}
	for _, r := range results {
		if r == nil {
			continue
		}
		key := r.Stage.String()
		categories[key] = append(categories[key], OperationDetail{
			Message:   r.String(),
			Count:     r.Count,
			IsSkipped: !r.Applied,
		})
	}
	return categories
}

func categoryOrder(categories map[string][]OperationDetail) []string {
	var order []string
	seen := map[string]bool{}
	for _, s := range Stages {
		if len(categories[s.String()]) > 0 {
			order = append(order, s.String())
			seen[s.String()] = true
		}
	}
	for name, details := range categories {
		if !seen[name] && len(details) > 0 {
			order = append(order, name)
		}
	}
	return order
}

// WriteSectionTable prints the section table with permissions and classification.
func WriteSectionTable(w io.Writer, sections []*Section) {
	fmt.Fprintln(w, "📊 SECTION ANALYSIS")
	fmt.Fprintln(w, "═══════════════════")
	if len(sections) == 0 {
		fmt.Fprintln(w, "❌ No sections found")
		return
	}
	writable := 0
	for _, s := range sections {
		if s.Writable {
			writable++
		}
	}
	fmt.Fprintf(w, "Total Sections:     %d\nWritable Secs:      %d\n\n", len(sections), writable)
	fmt.Fprintf(w, "%-18s %-12s %-10s %-5s %-8s %s\n", "Name", "Address", "Size", "Perm", "Entropy", "Class")
	for _, s := range sections {
		class := "-"
		if _, m, ok := ClassifySection(s.Name); ok {
			class = m.Description
		}
		perm := s.Perm()
		if s.Name == CodeSectionName && s.Writable {
			perm += " ⚠️"
		}
		fmt.Fprintf(w, "%-18s 0x%-10X %-10s %-5s %-8.2f %s\n", s.Name, s.Address, FormatFileSize(s.Size), perm, s.Entropy, class)
	}
	fmt.Fprintln(w)
}

// WriteEntryDisassembly prints the first instructions at the entry point of img.
func WriteEntryDisassembly(w io.Writer, img BinaryImage, count int) {
	fmt.Fprintln(w, "🔍 ENTRY POINT")
	fmt.Fprintln(w, "══════════════")
	code, mode, err := img.EntryCode(count * 15)
	if err != nil {
		fmt.Fprintf(w, "⚠️  %v\n\n", err)
		return
	}
	insts := Disassemble(code, mode, 0, count)
	for _, in := range insts {
		fmt.Fprintf(w, "  +0x%04X  %-6d %s\n", in.Offset, in.Size, in.Text)
	}
	if n := CountBreakpoints(code, insts); n > 0 {
		fmt.Fprintf(w, "⚠️  %d INT3 breakpoint(s) at the entry point\n", n)
	}
	fmt.Fprintln(w)
}
