// cmd/rockup is the command-line front end onto the rockup package:
// positional <backup-dir> <source-dir>... with -b/-B/-r/--dry-run
// switches, matching spec.md §6's external CLI contract. Grounded on
// mmp-bk/cmd/rdso/main.go's flag.NewFlagSet usage pattern.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rockup/rockup"
	"github.com/rockup/rockup/project"
	"github.com/rockup/rockup/util"
)

// splitPatterns turns a comma-separated --exclude value into the
// pattern list project.Config.ExcludePatterns expects, dropping empty
// entries left by stray commas.
func splitPatterns(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: rockup [-B] [--dry-run] [--exclude pat,...] <backup-dir> <source-dir>...\n")
	fmt.Fprintf(os.Stderr, "       rockup -r <dest> <backup-dir>\n")
	os.Exit(1)
}

func main() {
	fs := flag.NewFlagSet("rockup", flag.ContinueOnError)
	_ = fs.Bool("b", true, "back up the source directories (the default)")
	full := fs.Bool("B", false, "force a full backup, ignoring any existing manifest")
	restoreDest := fs.String("r", "", "restore the latest snapshot into this directory instead of backing up")
	dryRun := fs.Bool("dry-run", false, "back up without writing to the repository; a restore (-r) ignores this flag")
	verbose := fs.Bool("v", false, "verbose progress output")
	debug := fs.Bool("debug", false, "debug output")
	obfuscate := fs.Bool("obfuscate", false, "randomize copy-volume stream file names")
	exclude := fs.String("exclude", "", "comma-separated gitignore-style patterns to exclude from backup")

	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}
	args := fs.Args()
	if len(args) < 1 {
		usage()
	}

	log := util.NewLogger(*verbose, *debug)
	cfg := project.Config{
		VolumePolicy:      project.VolumeAuto,
		CompressionPolicy: project.CompressionAuto,
		Obfuscate:         *obfuscate,
		DryRun:            *dryRun,
		ExcludePatterns:   splitPatterns(*exclude),
	}

	proj, err := project.New(args[0], cfg, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *restoreDest != "" {
		if err := rockup.Restore(proj, *restoreDest); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if len(args) < 2 {
		usage()
	}
	summary, err := rockup.Backup(proj, args[1:], *full)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if summary.ManifestID == "" {
		log.Verbose("no changes; nothing backed up\n")
		return
	}
	log.Verbose("%s: %d file(s), %s read, %s written (ratio %.2f)\n",
		summary.ManifestID, summary.FilesBackedUp,
		util.FmtBytes(summary.BytesRead), util.FmtBytes(summary.BytesWritten),
		summary.CompressionRatio())
}
