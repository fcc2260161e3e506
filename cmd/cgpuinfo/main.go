// Copyright 2024 Gustavo C. Viegas. All rights reserved.

// Cgpuinfo prints the adapters that the gpu backends
// expose.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jjzhang166/SakuraEngine/config"
	"github.com/jjzhang166/SakuraEngine/gpu"
	_ "github.com/jjzhang166/SakuraEngine/gpu/null"
	_ "github.com/jjzhang166/SakuraEngine/gpu/vk"
	_ "github.com/jjzhang166/SakuraEngine/gpu/wgpu"
)

type options struct {
	backend string
	debug   bool
	config  string
	format  string
	verbose bool
	formats bool
}

func newRootCmd() *cobra.Command {
	var opts options
	root := &cobra.Command{
		Use:           "cgpuinfo",
		Short:         "Print the adapters of a gpu backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, &opts)
		},
	}
	f := root.PersistentFlags()
	f.StringVarP(&opts.backend, "backend", "b", "", "name of the backend (overrides the configuration)")
	f.BoolVar(&opts.debug, "debug", false, "enable the debug layer")
	f.StringVarP(&opts.config, "config", "c", "", "path of a TOML configuration file")
	f.StringVarP(&opts.format, "format", "f", "yaml", "output format (json or yaml)")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log debug messages")
	root.Flags().BoolVar(&opts.formats, "formats", false, "include format capabilities")

	root.AddCommand(&cobra.Command{
		Use:   "backends",
		Short: "List the registered backends",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names := make([]string, 0)
			for _, b := range gpu.Backends() {
				names = append(names, b.Name())
			}
			return write(cmd.OutOrStdout(), opts.format, names)
		},
	})
	return root
}

func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.config)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("backend") {
		cfg.Instance.Backend = opts.backend
	}
	if opts.debug {
		cfg.Instance.DebugLayer = true
	}
	if opts.verbose {
		cfg.LogLevel = log.DebugLevel.String()
	}
	cfg.ApplyLogLevel()
	return cfg, nil
}

func run(cmd *cobra.Command, opts *options) error {
	if opts.format != "json" && opts.format != "yaml" {
		return errors.Newf("unknown output format %q", opts.format)
	}
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	inst, err := gpu.NewInstance(cfg.InstanceDescriptor())
	if err != nil {
		return err
	}
	defer inst.Destroy()
	return write(cmd.OutOrStdout(), opts.format, newReport(inst, opts.formats))
}

func write(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return errors.Newf("unknown output format %q", format)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cgpuinfo:", err)
		os.Exit(1)
	}
}
