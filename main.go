// Command pspdecrypt decrypts firmware modules and updater archives:
// single ~PSP/ELF containers, EBOOT.PBP wrappers, and PSAR update
// images.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/xeonliu/pspdecrypt/internal/container"
	"github.com/xeonliu/pspdecrypt/internal/ipl"
	"github.com/xeonliu/pspdecrypt/internal/kirk"
	"github.com/xeonliu/pspdecrypt/internal/psar"
)

func newEngine(secureID *[16]byte) *kirk.Engine {
	e := kirk.New()
	if secureID != nil {
		e.SetFuseID(*secureID)
	}
	return e
}

func main() {
	app := &cli.App{
		Name:  "pspdecrypt",
		Usage: "decrypt and decompress firmware modules and update archives",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log every pipeline step",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "decrypt",
				Usage:     "decrypt one module (~PSP, ELF, or EBOOT.PBP)",
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "outfile",
						Aliases: []string{"o"},
						Usage:   "write the result here instead of FILE.dec",
					},
					&cli.BoolFlag{
						Name:  "no-decomp",
						Usage: "keep the body compressed after decryption",
					},
					&cli.StringFlag{
						Name:  "secureid",
						Usage: "32 hex digits seeding the per-console fuse id",
					},
				},
				Action: runDecrypt,
			},
			{
				Name:      "extract",
				Usage:     "unpack an update image (PSAR or updater EBOOT.PBP)",
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "outdir",
						Aliases: []string{"d"},
						Value:   ".",
						Usage:   "extraction root",
					},
					&cli.StringSliceFlag{
						Name:  "only",
						Usage: "glob filter on entry names, repeatable (\"kd/**\")",
					},
					&cli.IntFlag{
						Name:  "jobs",
						Value: runtime.NumCPU(),
						Usage: "concurrent entry workers",
					},
					&cli.BoolFlag{
						Name:  "extract-only",
						Usage: "write entries as stored, skipping decryption",
					},
					&cli.StringFlag{
						Name:  "secureid",
						Usage: "32 hex digits seeding the per-console fuse id",
					},
				},
				Action: runExtract,
			},
			{
				Name:      "ipl",
				Usage:     "decrypt the first stage of a boot image block chain",
				ArgsUsage: "FILE",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "outfile",
						Aliases: []string{"o"},
						Usage:   "write the stage here instead of FILE.stage1",
					},
					&cli.StringFlag{
						Name:  "secureid",
						Usage: "32 hex digits seeding the per-console fuse id",
					},
				},
				Action: runIPL,
			},
			{
				Name:      "info",
				Usage:     "print what the container headers say, without decrypting",
				ArgsUsage: "FILE",
				Action:    runInfo,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "pspdecrypt:", err)
		os.Exit(1)
	}
}

func logger(c *cli.Context) *slog.Logger {
	level := slog.LevelInfo
	if c.Bool("verbose") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func inputFile(c *cli.Context) (string, []byte, error) {
	if c.NArg() != 1 {
		return "", nil, fmt.Errorf("expected exactly one input file")
	}
	name := c.Args().First()
	data, err := os.ReadFile(name)
	return name, data, err
}

func parseSecureID(c *cli.Context) (*[16]byte, error) {
	s := c.String("secureid")
	if s == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(raw) != 16 {
		return nil, fmt.Errorf("secureid must be 32 hex digits")
	}
	id := new([16]byte)
	copy(id[:], raw)
	return id, nil
}

func runDecrypt(c *cli.Context) error {
	log := logger(c)
	name, data, err := inputFile(c)
	if err != nil {
		return err
	}
	id, err := parseSecureID(c)
	if err != nil {
		return err
	}

	// An EBOOT wrapper decrypts through its executable section.
	if pbp, err := container.ParsePBP(data); err == nil {
		log.Debug("PBP wrapper", "data.psp", len(pbp.DataPSP), "data.psar", len(pbp.DataPSAR))
		data = pbp.DataPSP
	}

	e := newEngine(id)
	res, err := container.Decrypt(e, data, container.Options{
		SkipDecompress: c.Bool("no-decomp"),
	})
	if err != nil {
		return err
	}
	for _, d := range res.Diagnostics {
		log.Warn("decrypted with fallback", "diag", d.String())
	}

	out := c.String("outfile")
	if out == "" {
		out = name + ".dec"
	}
	if err := os.WriteFile(out, res.Data, 0o644); err != nil {
		return err
	}
	log.Info("decrypted", "in", name, "out", out, "size", len(res.Data))
	return nil
}

func runExtract(c *cli.Context) error {
	log := logger(c)
	name, data, err := inputFile(c)
	if err != nil {
		return err
	}
	id, err := parseSecureID(c)
	if err != nil {
		return err
	}

	if pbp, err := container.ParsePBP(data); err == nil {
		log.Debug("PBP wrapper, using its archive section", "size", len(pbp.DataPSAR))
		data = pbp.DataPSAR
	}

	ar, err := psar.Parse(data)
	if err != nil {
		return err
	}
	log.Info("archive opened", "file", name, "version", ar.Version, "entries", len(ar.Entries))

	manifest, err := psar.Extract(context.Background(), log, ar, psar.ExtractOptions{
		OutDir:         c.String("outdir"),
		Only:           c.StringSlice("only"),
		Jobs:           c.Int("jobs"),
		SecureID:       id,
		DecryptEntries: !c.Bool("extract-only"),
	})
	var sb strings.Builder
	for _, me := range manifest {
		fmt.Fprintf(&sb, "%016x  %9d  %s\n", me.Sum, me.Size, me.Name)
	}
	fmt.Print(sb.String())
	if werr := os.WriteFile(filepath.Join(c.String("outdir"), "manifest.txt"), []byte(sb.String()), 0o644); werr != nil && err == nil {
		err = werr
	}
	return err
}

func runIPL(c *cli.Context) error {
	log := logger(c)
	name, data, err := inputFile(c)
	if err != nil {
		return err
	}
	id, err := parseSecureID(c)
	if err != nil {
		return err
	}

	stage, err := ipl.Decrypt(newEngine(id), data, nil)
	if err != nil {
		return err
	}
	out := c.String("outfile")
	if out == "" {
		out = name + ".stage1"
	}
	if err := os.WriteFile(out, stage, 0o644); err != nil {
		return err
	}
	log.Info("boot stage decrypted", "in", name, "out", out, "size", len(stage))
	return nil
}

func runInfo(c *cli.Context) error {
	_, data, err := inputFile(c)
	if err != nil {
		return err
	}

	if pbp, err := container.ParsePBP(data); err == nil {
		fmt.Println("kind:        PBP")
		fmt.Printf("param.sfo:   %d bytes\n", len(pbp.ParamSFO))
		fmt.Printf("data.psp:    %d bytes\n", len(pbp.DataPSP))
		fmt.Printf("data.psar:   %d bytes\n", len(pbp.DataPSAR))
		return nil
	}

	info, err := container.Probe(data)
	if err != nil {
		return err
	}
	fmt.Println("kind:       ", info.Kind)
	if info.SCESkipped != 0 {
		fmt.Printf("~SCE header: %#x bytes skipped\n", info.SCESkipped)
	}
	if info.Kind == "PRX" {
		fmt.Printf("tag:         %#08x", info.Tag)
		if info.KeySet != "" {
			fmt.Printf(" (%s)", info.KeySet)
		}
		fmt.Println()
		fmt.Println("mode:       ", info.DecryptMode)
		fmt.Printf("elf size:    %#x\n", info.ElfSize)
		fmt.Printf("psp size:    %#x\n", info.PspSize)
		if info.Compression != "" {
			fmt.Println("compression:", info.Compression)
		}
	}
	return nil
}
