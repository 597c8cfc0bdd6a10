package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/deploymenttheory/go-vmfs/internal/types"
)

func cmdOut() io.Writer { return os.Stdout }

func parseBlockID(s string) (types.BlockID, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("parsing block id %q: %w", s, err)
	}
	return types.BlockID(v), nil
}

func blockTypeFromString(s string) (types.BlockType, error) {
	switch s {
	case "fb":
		return types.BlockTypeFB, nil
	case "sb":
		return types.BlockTypeSB, nil
	case "pb":
		return types.BlockTypePB, nil
	case "fd":
		return types.BlockTypeFD, nil
	default:
		return types.BlockTypeInvalid, fmt.Errorf("unknown block type %q (want fb, sb, pb or fd)", s)
	}
}
