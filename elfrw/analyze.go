package elfrw

import (
	"fmt"
	"io"

	"gosshield/common"
)

// Analyze prints the header facts, section table and entry point of the image.
func (e *ELFFile) Analyze(w io.Writer) error {
	fmt.Fprintln(w, "╔══════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║           ELF FILE ANALYSIS REPORT           ║")
	fmt.Fprintln(w, "╚══════════════════════════════════════════════╝")
	fmt.Fprintln(w)

	fileSize := int64(len(e.RawData))
	fmt.Fprintln(w, "📁 BINARY INFORMATION")
	fmt.Fprintln(w, "═════════════════════")
	fmt.Fprintf(w, "File Name:       %s\n", e.FileName)
	fmt.Fprintf(w, "File Size:       %s (%d bytes)\n", common.FormatFileSize(fileSize), fileSize)
	fmt.Fprintf(w, "File Format:     ELF (%s-bit)\n", map[bool]string{true: "64", false: "32"}[e.Is64Bit])
	fmt.Fprintf(w, "File Type:       %s\n", e.FileType)
	fmt.Fprintf(w, "Machine Type:    %s\n", e.Machine)
	fmt.Fprintf(w, "Endianness:      %s\n", map[bool]string{true: "Little Endian", false: "Big Endian"}[e.IsLittleEndian()])
	fmt.Fprintf(w, "Entry Point:     0x%X\n", e.EntryPoint())
	for _, warning := range e.Warnings {
		fmt.Fprintf(w, "⚠️  %s\n", warning)
	}
	fmt.Fprintln(w)

	common.WriteSectionTable(w, e.SectionTable())
	if residual := common.ResidualSymbolSections(e.SectionTable()); len(residual) > 0 {
		fmt.Fprintf(w, "ℹ️  symbol/debug sections present: %v\n\n", residual)
	}
	e.writeSectionTypes(w)
	common.WriteEntryDisassembly(w, e, 8)
	return nil
}

func (e *ELFFile) writeSectionTypes(w io.Writer) {
	counts := map[string]int{}
	var order []string
	for _, s := range e.Sections {
		name := sectionTypeName(s.Type)
		if counts[name] == 0 {
			order = append(order, name)
		}
		counts[name]++
	}
	fmt.Fprint(w, "Section Types:  ")
	for _, name := range order {
		fmt.Fprintf(w, " %s×%d", name, counts[name])
	}
	fmt.Fprint(w, "\n\n")
}
