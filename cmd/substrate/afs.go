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
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/safemutate/internal/afs"
	"github.com/AleutianAI/safemutate/internal/history"
)

var (
	afsVerifyChecksum   bool
	afsNoVerifyChecksum bool
	afsMaxRetries       int
	afsRetryDelay       time.Duration
	afsTimeout          time.Duration
)

var afsCmd = &cobra.Command{
	Use:   "afs",
	Short: "Atomic file moves and copies",
}

var afsMoveCmd = &cobra.Command{
	Use:   "move <src...> <dst>",
	Short: "Atomically move one or more files into dst",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAFSTransfer(cmd, args, (*afs.Engine).AtomicMove, history.KindWriteFile)
	},
}

var afsCopyCmd = &cobra.Command{
	Use:   "copy <src...> <dst>",
	Short: "Atomically copy one or more files into dst",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAFSTransfer(cmd, args, (*afs.Engine).AtomicCopy, history.KindWriteFile)
	},
}

func addAFSFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&afsVerifyChecksum, "verify-checksum", false, "force checksum verification on")
	cmd.Flags().BoolVar(&afsNoVerifyChecksum, "no-verify-checksum", false, "force checksum verification off")
	cmd.Flags().IntVar(&afsMaxRetries, "max-retries", 0, "override the configured max retry count")
	cmd.Flags().DurationVar(&afsRetryDelay, "retry-delay", 0, "override the configured retry delay")
	cmd.Flags().DurationVar(&afsTimeout, "timeout", 0, "override the configured per-operation timeout")
}

func init() {
	addAFSFlags(afsMoveCmd)
	addAFSFlags(afsCopyCmd)
	afsCmd.AddCommand(afsMoveCmd, afsCopyCmd)
}

type transferFunc func(*afs.Engine, context.Context, string, string, afs.Options, afs.Meta) (afs.Result, error)

func runAFSTransfer(cmd *cobra.Command, args []string, transfer transferFunc, kind history.Kind) error {
	s := substrateFrom(cmd)
	srcs, dst := args[:len(args)-1], args[len(args)-1]

	opts := s.Config.ToAFSOptions()
	if afsVerifyChecksum {
		opts.VerifyChecksum = true
	}
	if afsNoVerifyChecksum {
		opts.VerifyChecksum = false
	}
	if afsMaxRetries > 0 {
		opts.MaxRetries = afsMaxRetries
	}
	if afsRetryDelay > 0 {
		opts.RetryDelay = afsRetryDelay
	}
	if afsTimeout > 0 {
		opts.Timeout = afsTimeout
	}

	ctx := cmd.Context()
	for _, src := range srcs {
		meta := afs.Meta{Kind: kind, Tool: cmd.Name(), Args: []string{src, dst}}
		result, err := transfer(s.AFS, ctx, src, dst, opts, meta)
		if err != nil {
			return err
		}
		printf(cmd, "%s -> %s  op_id=%s hash=%s\n", src, dst, result.Operation.OpID, result.Operation.NewHash)
	}
	return nil
}
