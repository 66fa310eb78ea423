/*
   Copyright The containerd Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

// Package app assembles the avbverify command line: flag parsing and
// human-readable reporting live here, every actual decision is made by
// internal/bootvalidator.
package app

import (
	"context"
	"fmt"
	"os"

	clog "github.com/containerd/log"
	"github.com/urfave/cli/v2"

	"github.com/openavb/avbverify/internal/avb"
	"github.com/openavb/avbverify/internal/bootvalidator"
	"github.com/openavb/avbverify/internal/config"
	"github.com/openavb/avbverify/internal/devicemapper"
	"github.com/openavb/avbverify/internal/errdefs"
	"github.com/openavb/avbverify/internal/fstab"
	"github.com/openavb/avbverify/internal/log"
)

// New returns the avbverify cli.App.
func New() *cli.App {
	app := cli.NewApp()
	app.Name = "avbverify"
	app.Usage = "verify AVB partition signatures and program their dm-verity hashtrees"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "path to a validator policy TOML file; defaults are used if unset",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "set the logging level [trace, debug, info, warn, error]",
			Value: "info",
		},
		&cli.StringFlag{
			Name:  "device-dir",
			Usage: "override the configured device_dir partition-name-to-path prefix",
		},
		&cli.StringFlag{
			Name:  "dmsetup-path",
			Usage: "override the configured dmsetup binary path",
		},
		&cli.BoolFlag{
			Name:  "dry-run",
			Usage: "verify every root partition but never program dm-verity",
		},
	}
	app.Action = run
	return app
}

func run(cliCtx *cli.Context) error {
	level := cliCtx.String("log-level")
	if err := clog.SetLevel(level); err != nil {
		return errdefs.Structuralf(err, "invalid log level %q", level)
	}
	ctx := cliCtx.Context
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig(cliCtx.String("config"))
	if err != nil {
		return err
	}
	if dir := cliCtx.String("device-dir"); dir != "" {
		cfg.DeviceDir = dir
	}
	if path := cliCtx.String("dmsetup-path"); path != "" {
		cfg.DmsetupPath = path
	}

	pass := bootvalidator.Pass{
		Config:          cfg,
		DevicePath:      devicePathConstructor(cfg.DeviceDir),
		Entries:         entriesFromConfig(cfg),
		Mapper:          devicemapper.DmsetupMapper{Path: cfg.DmsetupPath},
		BootConfig:      avb.CmdlineBootConfigReader,
		TrustedRootKeys: cfg.TrustedRootKeys,
	}
	if cliCtx.Bool("dry-run") {
		pass.Entries = nil
	}

	report, err := bootvalidator.Run(ctx, pass)
	if err != nil {
		return err
	}

	return printReport(ctx, report)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return &cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil, errdefs.Structuralf(err, "config file %q", path)
	}
	return config.Load(path)
}

func devicePathConstructor(deviceDir string) avb.DevicePathConstructor {
	dir := deviceDir
	if dir == "" {
		dir = "/dev/block/by-name"
	}
	return func(devicePartitionName string) string {
		return dir + "/" + devicePartitionName
	}
}

func entriesFromConfig(cfg *config.Config) map[string]*fstab.Entry {
	entries := make(map[string]*fstab.Entry, len(cfg.Partitions))
	for _, p := range cfg.Partitions {
		entries[p.Name] = &fstab.Entry{MountPoint: p.MountPoint, BlkDevice: p.BlkDevice}
	}
	return entries
}

func printReport(ctx context.Context, report *bootvalidator.Report) error {
	var failed bool

	for _, pr := range report.Partitions {
		entry := log.G(ctx).WithField(log.Partition, pr.PartitionName)
		if pr.Err != nil {
			entry.WithError(pr.Err).Error("partition verification failed")
			failed = true
			continue
		}
		entry.WithField("verdict", pr.Result.Verdict.String()).Info("partition verified")

		for name, setupErr := range pr.HashtreeSetups {
			if setupErr != nil {
				log.G(ctx).WithField(log.Partition, name).WithError(setupErr).Error("dm-verity setup failed")
				failed = true
			}
		}
	}

	fmt.Printf("overall verdict: %s\n", report.Overall.String())

	if failed {
		return errdefs.Structural(nil, "one or more partitions failed verification or dm-verity setup")
	}
	return nil
}
