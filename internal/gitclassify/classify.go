// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gitclassify implements the Command Classifier (C7): it maps a
// normalized git invocation to exactly one danger class, independent of
// any environment/mode policy (that gating lives in internal/sge, which
// consumes this package's output alongside a Context).
package gitclassify

import "strings"

// DangerClass is the closed set spec.md §4.7 names.
type DangerClass string

const (
	ClassSafe                   DangerClass = "safe"
	ClassReversibleDestructive  DangerClass = "reversible_destructive"
	ClassConvertibleDestructive DangerClass = "convertible_destructive"
	ClassHighRiskDestructive    DangerClass = "high_risk_destructive"
)

// Classification is Classify's result for one argv.
type Classification struct {
	Class DangerClass
	// Command is the base git subcommand (argv[0] after alias expansion
	// and a leading "git" is stripped), e.g. "reset", "push".
	Command string
	// Rewrite is set when Class is ClassConvertibleDestructive: the
	// argv SGE should run in place of the original unless the caller
	// confirms they want the raw form kept.
	Rewrite []string
	// Blocked is set for commands with no in-process safe path at all
	// (filter-branch, filter-repo): SGE must refuse outright.
	Blocked bool
	// Alternatives are suggested when Blocked is true.
	Alternatives []string
	// Phrase is the exact confirmation phrase required before SGE will
	// execute a high-risk command.
	Phrase string
}

func normalize(argv []string) []string {
	out := make([]string, 0, len(argv))
	for _, a := range argv {
		if a == "" {
			continue
		}
		out = append(out, a)
	}
	if len(out) > 0 && out[0] == "git" {
		out = out[1:]
	}
	return out
}

func hasFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func hasPrefix(args []string, prefix string) bool {
	for _, a := range args {
		if strings.HasPrefix(a, prefix) {
			return true
		}
	}
	return false
}

func firstNonFlag(args []string) string {
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			return a
		}
	}
	return ""
}

// ResolveAlias expands argv[0] through lookup (typically backed by `git
// config --get alias.<name>`) if it names a configured alias, splitting
// the alias definition on whitespace the way git itself does for simple
// (non-shell-out "!") aliases. Shell-out aliases (value starting with
// "!") are returned unexpanded: SGE treats them as opaque and classifies
// the literal "!..." command as high-risk, since their effect cannot be
// statically determined.
func ResolveAlias(argv []string, lookup func(alias string) (string, bool)) []string {
	if len(argv) == 0 {
		return argv
	}
	name := argv[0]
	if name == "git" && len(argv) > 1 {
		name = argv[1]
	}
	value, ok := lookup(name)
	if !ok || strings.HasPrefix(value, "!") {
		return argv
	}
	expanded := strings.Fields(value)
	if argv[0] == "git" {
		out := append([]string{"git"}, expanded...)
		return append(out, argv[2:]...)
	}
	return append(expanded, argv[1:]...)
}

// Classify maps a normalized git invocation to exactly one danger class.
func Classify(argv []string) Classification {
	result := classify(argv)
	recordClassification(result)
	return result
}

func classify(argv []string) Classification {
	args := normalize(argv)
	if len(args) == 0 {
		return Classification{Class: ClassSafe}
	}
	cmd := args[0]
	rest := args[1:]

	switch {
	case strings.HasPrefix(cmd, "!"):
		return Classification{Class: ClassHighRiskDestructive, Command: cmd, Phrase: "PROCEED"}

	case cmd == "filter-branch":
		return Classification{
			Class: ClassHighRiskDestructive, Command: cmd, Blocked: true,
			Alternatives: []string{
				"git filter-repo, run directly by an operator outside this interposer",
				"a throwaway clone plus manual history surgery reviewed before pushing",
			},
		}
	case cmd == "filter-repo":
		return Classification{
			Class: ClassHighRiskDestructive, Command: cmd, Blocked: true,
			Alternatives: []string{"run filter-repo directly with an operator present, outside this interposer"},
		}

	case cmd == "reset" && hasFlag(rest, "--hard"):
		return Classification{Class: ClassReversibleDestructive, Command: cmd}
	case cmd == "checkout" && (hasFlag(rest, "-f") || hasFlag(rest, "--force") || hasFlag(rest, ".")):
		return Classification{Class: ClassReversibleDestructive, Command: cmd}
	case cmd == "clean" && hasPrefix(rest, "-f"):
		return Classification{Class: ClassReversibleDestructive, Command: cmd}
	case cmd == "stash" && (firstNonFlag(rest) == "drop" || firstNonFlag(rest) == "clear"):
		return Classification{Class: ClassReversibleDestructive, Command: cmd}
	case cmd == "branch" && hasFlag(rest, "-D"):
		return Classification{Class: ClassReversibleDestructive, Command: cmd}
	case cmd == "commit" && hasFlag(rest, "--amend"):
		return Classification{Class: ClassReversibleDestructive, Command: cmd}
	case cmd == "rebase":
		return Classification{Class: ClassReversibleDestructive, Command: cmd}

	case cmd == "push" && hasFlag(rest, "--mirror"):
		return Classification{Class: ClassHighRiskDestructive, Command: cmd, Phrase: "MIRROR PUSH"}
	case cmd == "push" && hasFlag(rest, "--delete"):
		return Classification{Class: ClassHighRiskDestructive, Command: cmd, Phrase: "DELETE"}
	case cmd == "push" && (hasFlag(rest, "--force") || hasFlag(rest, "-f")) && !hasPrefix(rest, "--force-with-lease"):
		return Classification{
			Class: ClassConvertibleDestructive, Command: cmd,
			Rewrite: rewriteForceToLease(args),
		}

	case cmd == "reflog" && firstNonFlag(rest) == "expire":
		return Classification{Class: ClassHighRiskDestructive, Command: cmd, Phrase: "PROCEED"}
	case cmd == "update-ref" && hasFlag(rest, "-d"):
		return Classification{Class: ClassHighRiskDestructive, Command: cmd, Phrase: "PROCEED"}
	case cmd == "gc" && hasPrefix(rest, "--prune=now"):
		return Classification{Class: ClassHighRiskDestructive, Command: cmd, Phrase: "PROCEED"}

	default:
		return Classification{Class: ClassSafe, Command: cmd}
	}
}

func rewriteForceToLease(args []string) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if a == "--force" || a == "-f" {
			out = append(out, "--force-with-lease")
			continue
		}
		out = append(out, a)
	}
	return out
}
