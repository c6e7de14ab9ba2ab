package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/srediag/shmheap/pkg/shm"
)

var removeMissingOK bool

func init() {
	cmd := newRemoveCmd()
	cmd.Flags().BoolVar(&removeMissingOK, "missing-ok", false, "Succeed when the object does not exist")
	rootCmd.AddCommand(cmd)
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove [name]",
		Short: "Remove a shared memory object",
		Long: `The remove command unlinks the shared memory object. Processes that still
map it keep their mapping until they exit.

Example:
  shmheapctl remove
  shmheapctl remove bluesim1 --missing-ok`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(segmentName(args))
		},
	}
}

func runRemove(name string) error {
	err := shm.Remove(name)
	if errors.Is(err, os.ErrNotExist) && removeMissingOK {
		printVerbose("%s does not exist\n", name)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}
	printInfo("Removed %s\n", name)
	return nil
}
