package perw

import (
	"fmt"
	"io"

	"gosshield/common"
)

// Analyze prints the header facts, section table and entry point of the image.
func (p *PEFile) Analyze(w io.Writer) error {
	fmt.Fprintln(w, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║            PE FILE ANALYSIS REPORT           ║")
	fmt.Fprintln(w, "╚══════════════════════════════════════════════╝")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "📁 BINARY INFORMATION")
	fmt.Fprintln(w, "═════════════════════")
	fmt.Fprintf(w, "File Name:       %s\n", p.FileName)
	fmt.Fprintf(w, "File Size:       %s (%d bytes)\n", common.FormatFileSize(p.FileSize), p.FileSize)
	fmt.Fprintf(w, "Architecture:    %s\n", map[bool]string{true: "x64 (64-bit)", false: "x86 (32-bit)"}[p.Is64Bit])
	if p.Machine != "" {
		fmt.Fprintf(w, "Machine Type:    %s\n", p.Machine)
	}
	if p.TimeDateStamp != "" {
		fmt.Fprintf(w, "Compile Time:    %s\n", p.TimeDateStamp)
	}
	fmt.Fprintf(w, "Image Base:      0x%X\n", p.imageBase)
	fmt.Fprintf(w, "Entry Point:     0x%X\n", p.entryPoint)
	for _, warning := range p.Warnings {
		fmt.Fprintf(w, "⚠️  %s\n", warning)
	}
	fmt.Fprintln(w)

	common.WriteSectionTable(w, p.SectionTable())
	common.WriteEntryDisassembly(w, p, 8)
	return nil
}
