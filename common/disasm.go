package common

import (
	"golang.org/x/arch/x86/x86asm"
)

type Instruction struct {
	Offset uint64
	Size   int
	Inst   x86asm.Inst
	Text   string
}

// Disassemble decodes up to limit instructions (0 means all). Undecodable
// bytes are skipped one at a time.
func Disassemble(code []byte, mode int, base uint64, limit int) []Instruction {
	var instructions []Instruction
	offset := uint64(0)

	for offset < uint64(len(code)) {
		if limit > 0 && len(instructions) >= limit {
			break
		}
		inst, err := x86asm.Decode(code[offset:], mode)
		if err != nil {
			offset++
			continue
		}

		instructions = append(instructions, Instruction{
			Offset: offset,
			Size:   inst.Len,
			Inst:   inst,
			Text:   x86asm.IntelSyntax(inst, base+offset, nil),
		})

		offset += uint64(inst.Len)
	}

	return instructions
}

// CountBreakpoints counts decoded single-byte INT3 instructions.
func CountBreakpoints(code []byte, instructions []Instruction) int {
	count := 0
	for _, in := range instructions {
		if in.Size == 1 && int(in.Offset) < len(code) && code[in.Offset] == 0xCC {
			count++
		}
	}
	return count
}
