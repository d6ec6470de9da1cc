// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/safemutate/internal/substrate"
	"github.com/AleutianAI/safemutate/internal/substrateconfig"
	"github.com/AleutianAI/safemutate/internal/supervisor"
)

var (
	flagRoot           string
	flagConfig         string
	flagYes            bool
	flagForceYes       bool
	flagNonInteractive bool
)

type substrateKey struct{}

func withSubstrate(ctx context.Context, s *substrate.Substrate) context.Context {
	return context.WithValue(ctx, substrateKey{}, s)
}

func substrateFrom(cmd *cobra.Command) *substrate.Substrate {
	s, _ := cmd.Context().Value(substrateKey{}).(*substrate.Substrate)
	return s
}

var rootCmd = &cobra.Command{
	Use:           "substrate",
	Short:         "Safe mutation substrate: atomic moves, a reversible history journal, a guarded git frontend and a file organizer",
	Long:          `substrate wraps file moves, git's destructive commands and bulk file organization in a single history journal every mutation can be undone from.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := substrateconfig.Load(flagConfig)
		if err != nil {
			return err
		}
		if flagRoot != "" {
			cfg.Root = flagRoot
		}
		if cfg.Root == "" {
			wd, err := os.Getwd()
			if err != nil {
				return supervisor.Wrap(supervisor.KindInternal, "resolve working directory", "", err)
			}
			cfg.Root = wd
		}
		if flagYes {
			cfg.Protocol.AssumeYes = true
		}
		if flagForceYes {
			cfg.Protocol.ForceYes = true
		}
		if flagNonInteractive {
			cfg.Protocol.NonInteractive = true
		}

		s, err := substrate.New(cfg)
		if err != nil {
			return err
		}
		if _, err := s.Sweep(substrate.DefaultSweepRetention); err != nil {
			s.Logger.Warn("substrate: startup backup sweep failed", "error", err)
		}
		cmd.SetContext(withSubstrate(cmd.Context(), s))
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		s := substrateFrom(cmd)
		if s == nil {
			return nil
		}
		return s.Shutdown(context.Background())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", "", "substrate root directory (journal, backups, manifests); defaults to the current directory")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "config.yaml", "path to an optional config.yaml")
	rootCmd.PersistentFlags().BoolVar(&flagYes, "yes", false, "assume yes for medium-danger confirmations")
	rootCmd.PersistentFlags().BoolVar(&flagForceYes, "force-yes", false, "assume yes for high-danger confirmations, including typed-phrase prompts")
	rootCmd.PersistentFlags().BoolVar(&flagNonInteractive, "non-interactive", false, "never prompt; fail with ConfirmationRequired instead of reading stdin")

	rootCmd.AddCommand(afsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(safegitCmd)
	rootCmd.AddCommand(organizeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		nonInteractive := flagNonInteractive
		supervisor.PrintError(os.Stderr, err, nonInteractive)
		os.Exit(supervisor.ExitCodeFor(err))
	}
}

// printf is a tiny helper so subcommands don't each import fmt just to
// write to cmd.OutOrStdout().
func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
