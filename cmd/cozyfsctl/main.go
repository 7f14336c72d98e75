// Command cozyfsctl formats, inspects, and repairs CozyFS buffers
// backed by a file, mirroring the retrieval pack's convention of a
// small cobra-based cmd/<tool>/main.go per binary (see
// bureau-foundation-bureau's cmd/ layout and pilat-go-ext4fs's
// cmd/ext4-fixtures).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cozyfs/cozyfs"
	"github.com/cozyfs/cozyfs/host/refhost"
	"github.com/cozyfs/cozyfs/hostfile"
	"github.com/cozyfs/cozyfs/internal/logging"
)

var (
	flagSize         int64
	flagEnableBackup bool
	flagRefreshOnly  bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cozyfsctl",
		Short: "Format, inspect, and repair CozyFS buffers backed by a file",
	}
	root.AddCommand(newFormatCmd(), newStatCmd(), newRepairCmd())
	return root
}

func newFormatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "format <path>",
		Short: "Format a new backing file as a fresh CozyFS buffer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			m, err := hostfile.Open(path, flagSize)
			if err != nil {
				return err
			}
			defer m.Close()

			opt := cozyfs.DefaultOption()
			opt.EnableBackup = flagEnableBackup
			opt.Logger = logging.New()

			if flagRefreshOnly {
				if err := cozyfs.InitRefresh(m.Buf, opt); err != nil {
					return err
				}
			} else if err := cozyfs.Init(m.Buf, opt); err != nil {
				return err
			}
			return m.Sync()
		},
	}
	cmd.Flags().Int64VarP(&flagSize, "size", "s", 1<<20, "buffer size in bytes")
	cmd.Flags().BoolVar(&flagEnableBackup, "backup", true, "enable dual-region backup mode")
	cmd.Flags().BoolVar(&flagRefreshOnly, "refresh-only", false, "only reset the lock and backup flag of an existing buffer")
	return cmd
}

func newStatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stat <path>",
		Short: "Print root-page metadata for a CozyFS-backed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			m, err := hostfile.Open(path, info.Size())
			if err != nil {
				return err
			}
			defer m.Close()

			opt := cozyfs.DefaultOption()
			opt.EnableBackup = flagEnableBackup
			opt.Logger = logging.Nop()

			s, err := cozyfs.Attach(m.Buf, 0, refhost.New(), opt)
			if err != nil {
				return err
			}
			stat := s.Stat()
			fmt.Printf("generation:      %d\n", stat.Generation)
			fmt.Printf("total pages:     %d\n", stat.TotalPages)
			fmt.Printf("pages in use:    %d\n", stat.NumPages)
			fmt.Printf("backup mode:     %v\n", stat.EnableBackup)
			fmt.Printf("active half:     %d\n", stat.ActiveHalf)
			fmt.Printf("lock held until: %d (ms since epoch)\n", stat.LockExpiry)
			return nil
		},
	}
	cmd.Flags().BoolVar(&flagEnableBackup, "backup", true, "the buffer was formatted with backup mode enabled")
	return cmd
}

func newRepairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair <path>",
		Short: "Restore the active half from its backup sibling after a crash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			m, err := hostfile.Open(path, info.Size())
			if err != nil {
				return err
			}
			defer m.Close()

			opt := cozyfs.DefaultOption()
			opt.EnableBackup = true
			opt.Logger = logging.New()

			s, err := cozyfs.Attach(m.Buf, 0, refhost.New(), opt)
			if err != nil {
				return err
			}
			if err := s.ForceRestore(); err != nil {
				return err
			}
			return m.Sync()
		},
	}
	return cmd
}
