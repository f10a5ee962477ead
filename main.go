//
// pssh is a thin demonstration CLI over internal/selector and
// internal/fleet: load an inventory, pick hosts with an IP expression
// and/or a label predicate, and fan a command, file transfer or
// reachability probe out to them in parallel.
//
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Nordstrom/pssh/internal/config"
	"github.com/Nordstrom/pssh/internal/fleet"
	"github.com/Nordstrom/pssh/internal/model"
	"github.com/Nordstrom/pssh/internal/selector"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "exec":
		runExec(os.Args[2:])
	case "upload":
		runUpload(os.Args[2:])
	case "download":
		runDownload(os.Args[2:])
	case "probe":
		runProbe(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: pssh <exec|upload|download|probe> [flags]")
}

// targetFlags are the flags common to every subcommand: how to load the
// inventory and which hosts within it to target.
type targetFlags struct {
	inventory  string
	group      string
	ipExpr     string
	labelExpr  string
	maxConc    int
	knownHosts string
}

func addTargetFlags(fs *flag.FlagSet) *targetFlags {
	t := &targetFlags{}
	fs.StringVar(&t.inventory, "inventory", "inventory.yml", "path to the YAML host inventory")
	fs.StringVar(&t.group, "group", "", "named server group to target (ambient inventory sugar)")
	fs.StringVar(&t.ipExpr, "hosts", "", "IP-set expression restricting targets")
	fs.StringVar(&t.labelExpr, "selector", "", "label predicate restricting targets")
	fs.IntVar(&t.maxConc, "max-concurrent", 50, "maximum concurrent connections")
	fs.StringVar(&t.knownHosts, "known-hosts", "", "path to the trust-on-first-use known hosts file")
	return t
}

func (t *targetFlags) resolve() ([]model.Host, error) {
	inv, err := config.Load(t.inventory)
	if err != nil {
		return nil, err
	}

	if t.group != "" {
		return inv.ResolveGroup(t.group)
	}
	return selector.Select(inv.Hosts(), t.ipExpr, t.labelExpr)
}

func runExec(args []string) {
	fs := flag.NewFlagSet("exec", flag.ExitOnError)
	t := addTargetFlags(fs)
	retries := fs.Int("retries", 0, "transport-level retries per host")
	stopOnError := fs.Bool("stop-on-error", false, "cancel remaining hosts on first failure")
	pty := fs.Bool("pty", false, "allocate a pseudo-terminal")
	sudo := fs.Bool("sudo", false, "run the command under sudo, answering its password prompt")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "exec: missing command argument")
		os.Exit(1)
	}
	command := fs.Arg(0)

	hosts, err := t.resolve()
	fatalIf(err)
	if len(hosts) == 0 {
		fmt.Fprintln(os.Stderr, "exec: no hosts matched")
		os.Exit(1)
	}

	logger := fleet.NewDefaultLogger()
	opts := fleet.Options{
		MaxConcurrent: t.maxConc,
		Retries:       *retries,
		StopOnError:   *stopOnError,
		PTY:           *pty,
		ApplySudo:     *sudo,
		Logger:        logger,
		KnownHosts:    fleet.NewKnownHosts(t.knownHosts),
		Progress: func(completed, total int, r model.CommandResult) {
			fmt.Printf("[%d/%d] %s: %s\n", completed, total, r.Host, r.Status)
		},
	}

	batch := fleet.ExecuteParallel(context.Background(), hosts, command, opts)
	printCommandResults(batch)
}

func runUpload(args []string) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	t := addTargetFlags(fs)
	recursive := fs.Bool("recursive", false, "transfer directories recursively")
	fs.Parse(args)

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "upload: usage: pssh upload [flags] <local> <remote>")
		os.Exit(1)
	}

	hosts, err := t.resolve()
	fatalIf(err)

	opts := fleet.TransferOptions{
		MaxConcurrent: t.maxConc,
		Recursive:     *recursive,
		KnownHosts:    fleet.NewKnownHosts(t.knownHosts),
		Progress: func(completed, total int, r model.TransferResult) {
			fmt.Printf("[%d/%d] %s: %s (%d bytes)\n", completed, total, r.Host, r.Status, r.TransferredBytes)
		},
	}

	batch := fleet.Upload(context.Background(), hosts, fs.Arg(0), fs.Arg(1), opts)
	printTransferResults(batch)
}

func runDownload(args []string) {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	t := addTargetFlags(fs)
	recursive := fs.Bool("recursive", false, "transfer directories recursively")
	fs.Parse(args)

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "download: usage: pssh download [flags] <remote> <local-dir>")
		os.Exit(1)
	}

	hosts, err := t.resolve()
	fatalIf(err)

	opts := fleet.TransferOptions{
		MaxConcurrent: t.maxConc,
		Recursive:     *recursive,
		KnownHosts:    fleet.NewKnownHosts(t.knownHosts),
		Progress: func(completed, total int, r model.TransferResult) {
			fmt.Printf("[%d/%d] %s: %s (%d bytes)\n", completed, total, r.Host, r.Status, r.TransferredBytes)
		},
	}

	batch := fleet.Download(context.Background(), hosts, fs.Arg(0), fs.Arg(1), opts)
	printTransferResults(batch)
}

func runProbe(args []string) {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	t := addTargetFlags(fs)
	fs.Parse(args)

	hosts, err := t.resolve()
	fatalIf(err)

	opts := fleet.ProbeOptions{
		MaxConcurrent: t.maxConc,
		KnownHosts:    fleet.NewKnownHosts(t.knownHosts),
	}

	batch := fleet.ProbeParallel(context.Background(), hosts, opts)
	for _, r := range batch {
		fmt.Printf("%-20s %-14s ssh=%v %s\n", r.Host, r.Status, r.SSHAvailable, r.ResponseTime.Round(time.Millisecond))
	}
}

func printCommandResults(batch fleet.Batch[model.CommandResult]) {
	for _, r := range batch {
		exit := "-"
		if r.ExitCode != nil {
			exit = fmt.Sprintf("%d", *r.ExitCode)
		}
		fmt.Printf("--- %s (%s, exit=%s) ---\n%s\n", r.Host, r.Status, exit, r.Stdout)
		if r.Stderr != "" {
			fmt.Fprintf(os.Stderr, "--- %s stderr ---\n%s\n", r.Host, r.Stderr)
		}
	}
}

func printTransferResults(batch fleet.Batch[model.TransferResult]) {
	for _, r := range batch {
		fmt.Printf("%-20s %-14s %d bytes %s -> %s\n", r.Host, r.Status, r.TransferredBytes, r.LocalPath, r.RemotePath)
	}
}

func fatalIf(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
