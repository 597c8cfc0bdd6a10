package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-vmfs/internal/block"
)

var allocType string

var blockCmd = &cobra.Command{
	Use:   "block",
	Short: "Query and manipulate block allocation state",
}

var blockStatusCmd = &cobra.Command{
	Use:   "status <block-id>",
	Short: "Print whether a block is allocated",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseBlockID(args[0])
		if err != nil {
			return err
		}
		fs, err := mountFilesystem()
		if err != nil {
			return err
		}
		allocated, err := block.GetStatus(fs, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmdOut(), "%08x: allocated=%t\n", uint32(id), allocated)
		return nil
	},
}

var blockAllocCmd = &cobra.Command{
	Use:   "alloc",
	Short: "Allocate a free block of the given type and print its ID",
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := blockTypeFromString(allocType)
		if err != nil {
			return err
		}
		fs, err := mountFilesystem()
		if err != nil {
			return err
		}
		id, err := block.Alloc(fs, t)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmdOut(), "%08x\n", uint32(id))
		return nil
	},
}

var blockFreeCmd = &cobra.Command{
	Use:   "free <block-id>",
	Short: "Mark a block free",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseBlockID(args[0])
		if err != nil {
			return err
		}
		fs, err := mountFilesystem()
		if err != nil {
			return err
		}
		if err := block.Free(fs, id); err != nil {
			return err
		}
		fmt.Fprintf(cmdOut(), "%08x: freed\n", uint32(id))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(blockCmd)
	blockCmd.AddCommand(blockStatusCmd, blockAllocCmd, blockFreeCmd)

	blockAllocCmd.Flags().StringVar(&allocType, "type", "fb", "block type to allocate: fb, sb, pb or fd")
}
