package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/rfcommd/btserial/internal/log"
	"github.com/rfcommd/btserial/pkg/cli"
	"github.com/rfcommd/btserial/pkg/client"
	"github.com/rfcommd/btserial/pkg/connection"
	"github.com/rfcommd/btserial/pkg/protocol"
	"github.com/rfcommd/btserial/pkg/proxy"
)

func writeErr(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, format, a...)
	fmt.Fprintf(os.Stderr, "\n")
}

const usage = `
 * Without -proxy, commands drive a local adapter. A connection opened by a single
   command closes when the program exits; run without a COMMAND for an interactive shell.
 * With -proxy, commands drive the proxy's session, which outlives this program.`

func Usage() {
	fmt.Printf("Usage: %s [OPTION...] COMMAND [ARG...]\n", os.Args[0])
	fmt.Printf("\nRun %s help COMMAND for more information. Valid COMMANDs are listed below.", os.Args[0])
	fmt.Println("")
	fmt.Println(usage)
	fmt.Println("")

	fmt.Printf("Available OPTIONs:\n")
	flag.PrintDefaults()
	fmt.Println("")
	fmt.Printf("Available COMMANDs:\n")
	maxLength := 0
	var labels []string
	for command := range commands {
		labels = append(labels, command)
		if len(command) > maxLength {
			maxLength = len(command)
		}
	}
	sort.Strings(labels)
	for _, command := range labels {
		info := commands[command]
		fmt.Printf("  %s%s %s\n", command, strings.Repeat(" ", maxLength-len(command)), info.help)
	}
}

func runCommand(session proxy.Backend, args []string, timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := execute(ctx, session, args); err != nil {
		switch {
		case errors.Is(err, ErrCommandLineArgs):
		case errors.Is(err, ErrUnknownCommand):
			writeErr("Unrecognized command: %s", args[0])
		case errors.Is(err, context.DeadlineExceeded):
			writeErr("Command timed out; use -command-timeout to allow more time")
		default:
			writeErr("Failed to execute command: %s", err)
		}
		return 1
	}
	return 0
}

func runInteractiveShell(session proxy.Backend, timeout time.Duration) int {
	scanner := bufio.NewScanner(os.Stdin)
	for fmt.Printf("> "); scanner.Scan(); fmt.Printf("> ") {
		args, err := shlex.Split(scanner.Text())
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" {
			return 0
		}
		if err != nil {
			writeErr("Invalid command: %s", err)
			continue
		}
		if args[0] == "help" {
			if len(args) > 1 {
				if info, ok := commands[args[1]]; ok {
					info.Usage(args[1])
					continue
				}
			}
			Usage()
			continue
		}
		runCommand(session, args, timeout)
	}
	if err := scanner.Err(); err != nil {
		writeErr("Error reading command: %s", err)
		return 1
	}
	return 0
}

func main() {
	status := 1
	defer func() {
		os.Exit(status)
	}()

	var (
		commandTimeout time.Duration
		dialTimeout    time.Duration
	)
	config, err := cli.NewConfig(cli.FlagAdapter | cli.FlagSession | cli.FlagProxy)
	if err != nil {
		writeErr("Failed to load configuration: %s", err)
		return
	}
	flag.Usage = Usage
	flag.DurationVar(&commandTimeout, "command-timeout", 30*time.Second, "Set timeout for each command.")
	flag.DurationVar(&dialTimeout, "dial-timeout", 10*time.Second, "Set timeout for reaching the proxy.")

	config.RegisterCommandLineFlags()
	flag.Parse()
	config.ReadFromEnvironment()
	if config.Verbose {
		log.SetLevel(log.LevelDebug)
	}
	if err := config.LoadFile(); err != nil {
		writeErr("Error loading configuration: %s", err)
		return
	}

	args := flag.Args()
	if len(args) > 0 {
		if args[0] == "help" {
			if len(args) == 1 {
				Usage()
				status = 0
				return
			}
			info, ok := commands[args[1]]
			if !ok {
				writeErr("Unrecognized command: %s", args[1])
				return
			}
			info.Usage(args[1])
			status = 0
			return
		}
		if _, ok := commands[args[0]]; !ok {
			writeErr("Unrecognized command: %s", args[0])
			return
		}
	}

	var session proxy.Backend
	if config.ProxyURL != "" {
		token, err := config.Token()
		if err != nil {
			writeErr("Error loading token: %s", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
		stream, err := client.Dial(ctx, config.ProxyURL, token)
		cancel()
		if err != nil {
			writeErr("Error connecting to proxy: %s", err)
			return
		}
		defer stream.Close()
		remote := &remoteSession{stream: stream}
		go remote.watch()
		session = remote
	} else {
		local, err := config.Open(context.Background(), func(s connection.Status) {
			log.Debug("Connection state: %s", s)
		})
		if err != nil {
			writeErr("Error: %s", err)
			if errors.Is(err, protocol.ErrAdapterUnavailable) {
				writeErr("\nCheck that bluetoothd is running and the adapter is powered, or use -backend sim.")
			}
			return
		}
		defer local.Close()
		session = local
	}

	if len(args) > 0 {
		status = runCommand(session, args, commandTimeout)
	} else {
		status = runInteractiveShell(session, commandTimeout)
	}
}
