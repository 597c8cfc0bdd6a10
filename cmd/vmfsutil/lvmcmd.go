package main

import (
	"github.com/spf13/cobra"
)

var lvmCmd = &cobra.Command{
	Use:   "lvm",
	Short: "Inspect a logical volume",
}

var lvmShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print logical volume and extent information",
	RunE: func(cmd *cobra.Command, args []string) error {
		l, err := openLVM()
		if err != nil {
			return err
		}
		defer l.Close()
		l.Show(cmdOut())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lvmCmd)
	lvmCmd.AddCommand(lvmShowCmd)
}
