// Command btrfs-ls recursively lists a btrfs filesystem's directory
// tree, in the style of `find`, starting at a subvolume's root.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/datawire/dlib/dlog"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pegasusheavy/btrfsfs/lib/btrfsfs"
	"github.com/pegasusheavy/btrfsfs/lib/btrfsitem"
	"github.com/pegasusheavy/btrfsfs/lib/btrfsprim"
)

type logLevelFlag struct{ logrus.Level }

func (lvl *logLevelFlag) Type() string { return "loglevel" }
func (lvl *logLevelFlag) Set(str string) error {
	var err error
	lvl.Level, err = logrus.ParseLevel(str)
	return err
}

var _ pflag.Value = (*logLevelFlag)(nil)

func main() {
	verbosity := logLevelFlag{Level: logrus.WarnLevel}
	var subvolID int64
	var crossSubvolumes bool

	cmd := &cobra.Command{
		Use:   "btrfs-ls DEVICE...",
		Short: "Recursively list a btrfs filesystem's directory tree",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logrus.New()
			logger.SetLevel(verbosity.Level)
			ctx := dlog.WithLogger(context.Background(), dlog.WrapLogrus(logger))
			return run(ctx, args, btrfsprim.ObjID(subvolID), crossSubvolumes)
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().Var(&verbosity, "verbosity", "set the log verbosity")
	cmd.Flags().Int64Var(&subvolID, "subvol", 0, "subvolume tree ID to list (0 means the default subvolume)")
	cmd.Flags().BoolVar(&crossSubvolumes, "cross-subvolumes", false, "descend into nested subvolumes")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "btrfs-ls: error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, paths []string, subvolID btrfsprim.ObjID, crossSubvolumes bool) (err error) {
	devices, closeAll, err := btrfsfs.OpenDevices(paths...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeAll(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	fs, err := btrfsfs.Open(ctx, devices, btrfsfs.Options{
		VerifyChecksums: true,
		CrossSubvolumes: crossSubvolumes,
	})
	if err != nil {
		return err
	}

	if subvolID == 0 {
		subvolID, err = fs.DefaultSubvolume(ctx)
		if err != nil {
			return fmt.Errorf("default subvolume: %w", err)
		}
	}

	root, err := fs.ResolvePath(ctx, subvolID, "/")
	if err != nil {
		return fmt.Errorf("resolving subvolume root: %w", err)
	}
	return walk(ctx, fs, subvolID, "/", root)
}

// walk prints inode and, for a directory, its children. name is the
// path relative to the root of subvolume top, which every child is
// resolved from, so ResolvePath reports (or, with --cross-subvolumes,
// follows) each subvolume boundary on the way.
func walk(ctx context.Context, fs *btrfsfs.FS, top btrfsprim.ObjID, name string, inode btrfsfs.Inode) error {
	fmt.Printf("% 10d  % 8o  %s\n", inode.Item.Size, inode.Item.Mode, name)
	if !inode.Item.IsDir() {
		return nil
	}
	entries, err := fs.ReadDir(ctx, inode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "btrfs-ls: %s: %v\n", name, err)
		return nil
	}
	for _, entry := range entries {
		childName := name
		if childName != "/" {
			childName += "/"
		}
		childName += entry.Name
		child, err := fs.ResolvePath(ctx, top, childName)
		if err != nil {
			if _, ok := err.(btrfsfs.ErrCrossesSubvolume); ok {
				fmt.Printf("% 10s  % 8s  %s (subvolume, use --cross-subvolumes)\n", "-", "-", childName)
				continue
			}
			fmt.Fprintf(os.Stderr, "btrfs-ls: %s: %v\n", childName, err)
			continue
		}
		if entry.Type == btrfsitem.FT_SYMLINK {
			target, err := fs.ReadLink(ctx, child)
			if err == nil {
				fmt.Printf("% 10d  % 8o  %s -> %s\n", child.Item.Size, child.Item.Mode, childName, target)
				continue
			}
		}
		if err := walk(ctx, fs, top, childName, child); err != nil {
			return err
		}
	}
	return nil
}
