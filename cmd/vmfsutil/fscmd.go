package main

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-vmfs/internal/block"
	"github.com/deploymenttheory/go-vmfs/internal/filesystem"
	"github.com/deploymenttheory/go-vmfs/internal/types"
)

var fsCmd = &cobra.Command{
	Use:   "fs",
	Short: "Read and write through a block, respecting its type",
}

var fsReadCmd = &cobra.Command{
	Use:   "read <block-id> <pos> <len>",
	Short: "Read len bytes at pos within a sub-block or file block, printed as hex",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseBlockID(args[0])
		if err != nil {
			return err
		}
		pos, err := strconv.ParseInt(args[1], 0, 64)
		if err != nil {
			return fmt.Errorf("parsing pos: %w", err)
		}
		length, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("parsing len: %w", err)
		}

		fs, err := mountFilesystem()
		if err != nil {
			return err
		}

		buf := make([]byte, length)
		n, err := readBlock(fs, id, pos, buf)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmdOut(), "%s\n", hex.EncodeToString(buf[:n]))
		return nil
	},
}

var fsWriteCmd = &cobra.Command{
	Use:   "write <block-id> <pos> <data>",
	Short: "Write data (as UTF-8 text) at pos within a sub-block or file block",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseBlockID(args[0])
		if err != nil {
			return err
		}
		pos, err := strconv.ParseInt(args[1], 0, 64)
		if err != nil {
			return fmt.Errorf("parsing pos: %w", err)
		}

		fs, err := mountFilesystem()
		if err != nil {
			return err
		}

		n, err := writeBlock(fs, id, pos, []byte(args[2]))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmdOut(), "wrote %d byte(s)\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fsCmd)
	fsCmd.AddCommand(fsReadCmd, fsWriteCmd)
}

func readBlock(fs *filesystem.Filesystem, id types.BlockID, pos int64, buf []byte) (int, error) {
	switch id.Type() {
	case types.BlockTypeSB:
		return block.ReadSB(fs, id, pos, buf)
	case types.BlockTypeFB:
		return block.ReadFB(fs, id, pos, buf)
	default:
		return 0, fmt.Errorf("fs read: block type %v has no piecewise read", id.Type())
	}
}

func writeBlock(fs *filesystem.Filesystem, id types.BlockID, pos int64, buf []byte) (int, error) {
	switch id.Type() {
	case types.BlockTypeSB:
		return block.WriteSB(fs, id, pos, buf)
	case types.BlockTypeFB:
		return block.WriteFB(fs, id, pos, buf)
	default:
		return 0, fmt.Errorf("fs write: block type %v has no piecewise write", id.Type())
	}
}
