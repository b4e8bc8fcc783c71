package main

import (
	"errors"
	"fmt"
	"os"

	log "github.com/dsoprea/go-logging"
	"github.com/urfave/cli/v2"

	"github.com/dargueta/fatdefrag/errorcreator"
	"github.com/dargueta/fatdefrag/fragmentator"
	"github.com/dargueta/fatdefrag/fragreport"
	"github.com/dargueta/fatdefrag/internal/ferrors"
	"github.com/dargueta/fatdefrag/relocator"
	"github.com/dargueta/fatdefrag/volume"
)

// Exit codes, matching the documented external interface: 0 success, 1 user
// error (usage errors, panics urfave/cli itself turns into errors), 2
// corrupt image / manual intervention required, 3 I/O error.
const (
	exitOK          = 0
	exitGeneric     = 1
	exitCorruptData = 2
	exitIoError     = 3
)

func main() {
	app := &cli.App{
		Name:  "fatdefrag",
		Usage: "Inspect, defragment, fragment, and corrupt FAT12/16/32 volume images",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log replayed/discarded journal records"},
		},
		Commands: []*cli.Command{
			{
				Name:      "info",
				Usage:     "Report cluster usage and file count for an image",
				ArgsUsage: "IMAGE",
				Action:    runInfo,
			},
			{
				Name:      "defrag",
				Usage:     "Relocate every fragmented file into a contiguous run",
				ArgsUsage: "IMAGE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "report", Usage: "write a CSV report of every move to this path"},
				},
				Action: runDefrag,
			},
			{
				Name:      "frag",
				Usage:     "Deliberately scatter every file's clusters, the inverse of defrag",
				ArgsUsage: "IMAGE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "report", Usage: "write a CSV report of every move to this path"},
				},
				Action: runFrag,
			},
			{
				Name:      "error",
				Usage:     "Inject broken-chain, lost-cluster, cross-link, and bad-dirent corruption",
				ArgsUsage: "IMAGE",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "report", Usage: "write a CSV report of every injection to this path"},
				},
				Action: runError,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "fatdefrag: %s\n", err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, ferrors.FormatError), errors.Is(err, ferrors.CorruptChain), errors.Is(err, ferrors.CorruptJournal):
		return exitCorruptData
	case errors.Is(err, ferrors.IoError), errors.Is(err, ferrors.Busy):
		return exitIoError
	default:
		return exitGeneric
	}
}

func openVolume(c *cli.Context) (*volume.Volume, error) {
	path := c.Args().First()
	if path == "" {
		return nil, cli.Exit("IMAGE argument is required", exitGeneric)
	}
	return volume.Open(path)
}

func runInfo(c *cli.Context) error {
	v, err := openVolume(c)
	if err != nil {
		return err
	}
	defer v.Close()

	st, err := v.Stat()
	if err != nil {
		return err
	}

	bp := v.BootParameters()
	fmt.Printf("variant:        %s\n", bp.Variant)
	fmt.Printf("total clusters: %d\n", st.TotalClusters)
	fmt.Printf("free clusters:  %d\n", st.FreeClusters)
	fmt.Printf("files:          %d\n", st.FileCount)
	return nil
}

func runDefrag(c *cli.Context) error {
	v, err := openVolume(c)
	if err != nil {
		return err
	}
	defer v.Close()

	report, err := relocator.New(v).Defragment()
	if err != nil {
		return err
	}

	relocated := 0
	for _, r := range report.Results {
		if !r.Skipped {
			relocated++
		}
	}
	fmt.Printf("relocated %d file(s)\n", relocated)
	if reportPath := c.String("report"); reportPath != "" {
		if err := writeCSVReport(reportPath, report.Results); err != nil {
			return err
		}
	}
	if report.Errors != nil {
		_ = log.Errorf("defrag finished with %d skipped file(s)", len(report.Errors.Errors))
	}
	return nil
}

func runFrag(c *cli.Context) error {
	v, err := openVolume(c)
	if err != nil {
		return err
	}
	defer v.Close()

	report, err := fragmentator.New(v).Scatter()
	if err != nil {
		return err
	}

	scattered := 0
	for _, r := range report.Results {
		if !r.Skipped {
			scattered++
		}
	}
	fmt.Printf("scattered %d file(s)\n", scattered)
	if reportPath := c.String("report"); reportPath != "" {
		if err := writeCSVReport(reportPath, report.Results); err != nil {
			return err
		}
	}
	return nil
}

func runError(c *cli.Context) error {
	v, err := openVolume(c)
	if err != nil {
		return err
	}
	defer v.Close()

	files, err := v.WalkTree()
	if err != nil {
		return err
	}

	report := errorcreator.New(v).InjectAll(files)
	fmt.Printf("attempted %d injection(s)\n", len(report.Results))
	if reportPath := c.String("report"); reportPath != "" {
		if err := writeCSVReport(reportPath, report.Results); err != nil {
			return err
		}
	}
	return nil
}

func writeCSVReport(path string, rows interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return ferrors.IoError.WrapError(err)
	}
	defer f.Close()

	if err := fragreport.WriteWithHeader(f, rows); err != nil {
		return ferrors.IoError.WrapError(err)
	}
	return nil
}
