package main

import (
	"fmt"
	"strings"

	"bscanner/internal/stream"
	"bscanner/internal/util"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var liftCommand = &cobra.Command{
	Use:   "lift",
	Short: "lift a program and print its ESIL listing",
	Long:  ``,
	RunE: func(*cobra.Command, []string) error {
		return errors.Wrap(lift(), "lift")
	},
}

var (
	ImageHex  string
	ImageBase string
	PrintHash bool
	ListFrom  string
	Sequence  []string
)

func init() {
	liftCommand.Flags().StringVar(&ProgramFile, "program", "", "program description (yaml or json)")
	liftCommand.Flags().StringVar(&ImageHex, "image", "", "hex encoded x86-64 code")
	liftCommand.Flags().StringVar(&ImageBase, "base", "0x1000", "load address of --image")
	liftCommand.Flags().BoolVar(&PrintHash, "hash", false, "print the keccak256 of the code image")
	liftCommand.Flags().StringVar(&ListFrom, "from", "", "list from the first instruction at or after this address")
	liftCommand.Flags().StringSliceVar(&Sequence, "find", nil, "mnemonic sequence to search, one entry per instruction, alternatives split by |")
}

func lift() error {
	var program *stream.Program
	switch {
	case ProgramFile != "":
		p, err := stream.LoadProgram(ProgramFile)
		if err != nil {
			return err
		}
		program = p
	case ImageHex != "":
		base, ok := util.ParseUint64(ImageBase)
		if !ok {
			return errors.Errorf("bad base %q", ImageBase)
		}
		program = &stream.Program{Arch: "x86-64", Base: base, Image: ImageHex}
	default:
		return errors.New("--program or --image is required")
	}

	table, err := program.Table()
	if err != nil {
		return err
	}
	if PrintHash && program.Image != "" {
		hash, _, err := util.HexCodeHash(strings.TrimSpace(program.Image))
		if err != nil {
			return errors.Wrap(err, "HexCodeHash")
		}
		fmt.Printf("code hash: %s\n", hash)
	}
	instructions := table.Instructions()
	if ListFrom != "" {
		from, ok := util.ParseUint64(ListFrom)
		if !ok {
			return errors.Errorf("bad address %q", ListFrom)
		}
		i := util.InstructionIndex(table.Addresses(), from)
		if i < 0 {
			return errors.Errorf("no instruction at or after %#x", from)
		}
		instructions = instructions[i:]
	}
	if len(Sequence) > 0 {
		patterns := make([][]string, len(Sequence))
		for i, p := range Sequence {
			patterns[i] = strings.Split(p, "|")
		}
		for _, i := range stream.FindSequence(patterns, instructions) {
			fmt.Printf("match at %#x\n", instructions[i].Address)
		}
		return nil
	}
	fmt.Print(stream.Listing(instructions))

	todo := 0
	for _, ins := range instructions {
		if strings.Contains(ins.ESIL, "TODO") {
			todo++
		}
	}
	if todo > 0 {
		log.Warnf("%d of %d instructions have no semantics", todo, len(instructions))
	}
	return nil
}
