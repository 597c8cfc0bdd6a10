package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-vmfs/internal/types"
	"github.com/deploymenttheory/go-vmfs/internal/volume"
)

var (
	extentLVMUUID     string
	extentSize        uint64
	extentBlocks      uint64
	extentNumExtents  uint32
	extentFirstSeg    uint32
	extentLastSeg     uint32
	extentNumSegments uint32
)

var extentCmd = &cobra.Command{
	Use:   "extent",
	Short: "Manage physical extents",
}

var extentAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Write a fresh volume header into path, making it usable as an extent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExtentAdd(args[0])
	},
}

func init() {
	rootCmd.AddCommand(extentCmd)
	extentCmd.AddCommand(extentAddCmd)

	extentAddCmd.Flags().StringVar(&extentLVMUUID, "lvm-uuid", "", "LVM UUID this extent belongs to (generated if empty)")
	extentAddCmd.Flags().Uint64Var(&extentSize, "size", 0, "extent size in bytes")
	extentAddCmd.Flags().Uint64Var(&extentBlocks, "blocks", 0, "extent size in blocks")
	extentAddCmd.Flags().Uint32Var(&extentNumExtents, "num-extents", 1, "total number of extents in the LVM")
	extentAddCmd.Flags().Uint32Var(&extentFirstSeg, "first-segment", 0, "first segment number covered by this extent")
	extentAddCmd.Flags().Uint32Var(&extentLastSeg, "last-segment", 0, "last segment number covered by this extent")
	extentAddCmd.Flags().Uint32Var(&extentNumSegments, "num-segments", 1, "number of segments covered by this extent")
}

func runExtentAdd(path string) error {
	lvmUUID := uuid.New()
	if extentLVMUUID != "" {
		parsed, err := uuid.Parse(extentLVMUUID)
		if err != nil {
			return fmt.Errorf("parsing --lvm-uuid: %w", err)
		}
		lvmUUID = parsed
	}

	info := types.VolumeInfo{
		UUID:         uuid.New(),
		LVMUUID:      lvmUUID,
		Size:         extentSize,
		Blocks:       extentBlocks,
		NumExtents:   extentNumExtents,
		FirstSegment: extentFirstSeg,
		LastSegment:  extentLastSeg,
		NumSegments:  extentNumSegments,
	}

	vol, err := volume.Create(path, debugLevel)
	if err != nil {
		return err
	}
	defer vol.Close()

	if err := vol.WriteHeader(info); err != nil {
		return err
	}
	fmt.Fprintf(cmdOut(), "formatted %s as extent of LVM %s\n", path, lvmUUID)
	return nil
}
