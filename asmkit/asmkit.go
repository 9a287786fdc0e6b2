// Package asmkit disassembles machine code for previewing patches.
package asmkit

import (
	"fmt"

	"golang.org/x/arch/arm/armasm"
	"golang.org/x/arch/x86/x86asm"
)

const (
	SkipSyntax  DisassemblySyntax = ""
	ATTSyntax   DisassemblySyntax = "att"
	GoSyntax    DisassemblySyntax = "go"
	IntelSyntax DisassemblySyntax = "intel"
)

type DisassemblySyntax string

const (
	X86_32Platform = "x86_32"
	X86_64Platform = "x86_64"
	ARMPlatform    = "arm"
)

// Platforms returns the platform names understood by
// ConfigForPlatform.
func Platforms() []string {
	return []string{X86_32Platform, X86_64Platform, ARMPlatform}
}

type DisassemblerConfig struct {
	Syntax     DisassemblySyntax
	ArchConfig interface{}
}

type X86Config struct {
	Bits int
}

type ARMConfig struct {
	Mode armasm.Mode
}

// ConfigForPlatform returns a DisassemblerConfig for the named
// platform, using Intel syntax for x86 and GNU syntax for ARM.
func ConfigForPlatform(platform string) (DisassemblerConfig, error) {
	switch platform {
	case ARMPlatform:
		return DisassemblerConfig{
			Syntax:     ATTSyntax,
			ArchConfig: ARMConfig{Mode: armasm.ModeARM},
		}, nil
	case X86_32Platform, X86_64Platform:
		bits := 32
		if platform == X86_64Platform {
			bits = 64
		}

		return DisassemblerConfig{
			Syntax:     IntelSyntax,
			ArchConfig: X86Config{Bits: bits},
		}, nil
	default:
		return DisassemblerConfig{}, fmt.Errorf("unsupported platform: %q (supported: %q)",
			platform, Platforms())
	}
}

func NewDisassembler(config DisassemblerConfig) (*Disassembler, error) {
	switch assertedConfig := config.ArchConfig.(type) {
	case ARMConfig:
		var dissassemFn func(inst armasm.Inst) string
		switch config.Syntax {
		case SkipSyntax:
			// Do nothing.
		case ATTSyntax:
			dissassemFn = armasm.GNUSyntax
		default:
			return nil, fmt.Errorf("unsupported syntax type for arm: %s", config.Syntax)
		}

		return &Disassembler{
			disassOneInstFn: func(remainingInsts []byte) (Inst, error) {
				armInst, err := armasm.Decode(remainingInsts, assertedConfig.Mode)
				if err != nil {
					return Inst{}, err
				}

				var disassembly string
				if dissassemFn != nil {
					disassembly = dissassemFn(armInst)
				}

				return Inst{
					Bin: copySlice(remainingInsts, armInst.Len),
					Len: armInst.Len,
					Dis: disassembly,
				}, nil
			},
		}, nil
	case X86Config:
		var disassemblyFn func(inst x86asm.Inst) string
		switch config.Syntax {
		case SkipSyntax:
			// Do nothing.
		case ATTSyntax:
			disassemblyFn = func(inst x86asm.Inst) string {
				return x86asm.GNUSyntax(inst, 0, nil)
			}
		case GoSyntax:
			disassemblyFn = func(inst x86asm.Inst) string {
				return x86asm.GoSyntax(inst, 0, nil)
			}
		case IntelSyntax:
			disassemblyFn = func(inst x86asm.Inst) string {
				return x86asm.IntelSyntax(inst, 0, nil)
			}
		default:
			return nil, fmt.Errorf("unsupported syntax type for x86: %q", config.Syntax)
		}

		return &Disassembler{
			disassOneInstFn: func(remainingInsts []byte) (Inst, error) {
				x86Inst, err := x86asm.Decode(remainingInsts, assertedConfig.Bits)
				if err != nil {
					return Inst{}, err
				}

				// Decode reports truncated or unknown input as
				// a bare prefix rather than as an error.
				if x86Inst.Op == 0 {
					return Inst{}, fmt.Errorf("failed to decode instruction - %w",
						x86asm.ErrTruncated)
				}

				var disassembly string
				if disassemblyFn != nil {
					disassembly = disassemblyFn(x86Inst)
				}

				return Inst{
					Bin: copySlice(remainingInsts, x86Inst.Len),
					Len: x86Inst.Len,
					Dis: disassembly,
				}, nil
			},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported config type: %T", assertedConfig)
	}
}

func copySlice(src []byte, numBytes int) []byte {
	cp := make([]byte, numBytes)

	copy(cp, src[0:numBytes])

	return cp
}

type Disassembler struct {
	disassOneInstFn func(remainingInsts []byte) (Inst, error)
}

// All decodes every instruction in rawInstructions, calling
// onDecodeFn for each one.
func (o *Disassembler) All(rawInstructions []byte, onDecodeFn func(Inst) error) error {
	index := 0

	for index < len(rawInstructions) {
		inst, err := o.disassOneInstFn(rawInstructions[index:])
		if err != nil {
			return fmt.Errorf("failed to decode instruction at %d - %w - remaining data: 0x%x",
				index, err, rawInstructions[index:])
		}

		inst.Index = index

		err = onDecodeFn(inst)
		if err != nil {
			return fmt.Errorf("on decode function failed for instruction at %d (%q) - %w",
				index, inst.Dis, err)
		}

		index += inst.Len
	}

	return nil
}

// Next decodes the first instruction in rawInstructions.
func (o *Disassembler) Next(rawInstructions []byte) (Inst, error) {
	return o.disassOneInstFn(rawInstructions)
}

type Inst struct {
	Bin   []byte
	Len   int
	Index int
	Dis   string
}
