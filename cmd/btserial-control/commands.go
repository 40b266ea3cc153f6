package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rfcommd/btserial/pkg/connection"
	"github.com/rfcommd/btserial/pkg/facade"
	"github.com/rfcommd/btserial/pkg/protocol"
	"github.com/rfcommd/btserial/pkg/proxy"
)

var (
	ErrCommandLineArgs = errors.New("invalid command line arguments")
	ErrUnknownCommand  = errors.New("unrecognized command")
	ErrInvalidEOL      = errors.New("line ending must be one of: none, lf, cr, crlf")
)

// stdout receives command output.
var stdout io.Writer = os.Stdout

var lineEndings = map[string]string{
	"none": "",
	"lf":   "\n",
	"cr":   "\r",
	"crlf": "\r\n",
}

type Argument struct {
	name string
	help string
}

type Handler func(ctx context.Context, session proxy.Backend, args map[string]string) error

type Command struct {
	help     string
	args     []Argument
	optional []Argument
	handler  Handler
}

// call runs method and converts a failed response into an error.
func call(ctx context.Context, session proxy.Backend, method string, params facade.RequestParameters, sink facade.EventSink) (facade.Response, error) {
	rsp := session.Handle(ctx, facade.Call{Method: method, Params: params}, sink)
	if rsp.Error != nil {
		return rsp, rsp.Error
	}
	return rsp, nil
}

// decode converts a result or event payload into out. Values produced by a local session are Go
// values; values relayed by a proxy are raw JSON.
func decode(value interface{}, out interface{}) error {
	raw, ok := value.(json.RawMessage)
	if !ok {
		var err error
		if raw, err = json.Marshal(value); err != nil {
			return err
		}
	}
	return json.Unmarshal(raw, out)
}

func GetDuration(value string) (time.Duration, error) {
	if seconds, err := strconv.ParseFloat(value, 64); err == nil {
		value = fmt.Sprintf("%gs", seconds)
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrCommandLineArgs, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: duration must be positive", ErrCommandLineArgs)
	}
	return d, nil
}

func GetLineEnding(name string) (string, error) {
	if name == "" {
		return "", nil
	}
	eol, ok := lineEndings[strings.ToLower(name)]
	if !ok {
		return "", ErrInvalidEOL
	}
	return eol, nil
}

func printDevices(devices []protocol.Device) {
	if len(devices) == 0 {
		fmt.Fprintln(stdout, "No devices")
		return
	}
	for _, d := range devices {
		fmt.Fprintf(stdout, "%s\t%s\n", d.Address, d.Name)
	}
}

// readOnce performs one read and reports whether the stream ended.
func readOnce(ctx context.Context, session proxy.Backend, params facade.RequestParameters) (bool, error) {
	rsp, err := call(ctx, session, "read", params, nil)
	if err != nil {
		return false, err
	}
	if rsp.Result != nil {
		var data string
		if err := decode(rsp.Result, &data); err != nil {
			return false, err
		}
		fmt.Fprint(stdout, data)
	}
	return rsp.EOF, nil
}

func execute(ctx context.Context, session proxy.Backend, args []string) error {
	if len(args) == 0 {
		return errors.New("missing COMMAND")
	}

	info, ok := commands[args[0]]
	if !ok {
		return ErrUnknownCommand
	}

	var err error
	if len(args)-1 < len(info.args) || len(args)-1 > len(info.args)+len(info.optional) {
		writeErr("Invalid number of command line arguments: %d (%d required, %d optional).", len(args)-1, len(info.args), len(info.optional))
		err = ErrCommandLineArgs
	} else {
		keywords := make(map[string]string)
		for i, argInfo := range info.args {
			keywords[argInfo.name] = args[i+1]
		}
		index := len(info.args) + 1
		for _, argInfo := range info.optional {
			if index >= len(args) {
				break
			}
			keywords[argInfo.name] = args[index]
			index++
		}
		err = info.handler(ctx, session, keywords)
	}

	if errors.Is(err, ErrCommandLineArgs) {
		info.Usage(args[0])
	}
	return err
}

func (c *Command) Usage(name string) {
	fmt.Printf("Usage: %s", name)
	maxLength := 0
	for _, arg := range c.args {
		fmt.Printf(" %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Printf(" [")
	}
	for _, arg := range c.optional {
		fmt.Printf(" %s", arg.name)
		if len(arg.name) > maxLength {
			maxLength = len(arg.name)
		}
	}
	if len(c.optional) > 0 {
		fmt.Printf(" ]")
	}
	fmt.Printf("\n%s\n", c.help)
	maxLength++
	for _, arg := range c.args {
		fmt.Printf("    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
	for _, arg := range c.optional {
		fmt.Printf("    %s:%s%s\n", arg.name, strings.Repeat(" ", maxLength-len(arg.name)), arg.help)
	}
}

var commands = map[string]*Command{
	"permissions": &Command{
		help: "Check and request the Bluetooth permissions",
		handler: func(ctx context.Context, session proxy.Backend, args map[string]string) error {
			rsp, err := call(ctx, session, "ensurePermissions", nil, nil)
			if err != nil {
				return err
			}
			var granted bool
			if err := decode(rsp.Result, &granted); err != nil {
				return err
			}
			if granted {
				fmt.Fprintln(stdout, "Permissions granted")
			} else {
				fmt.Fprintln(stdout, "Permissions requested; run the command again once the host grants them")
			}
			return nil
		},
	},
	"paired": &Command{
		help: "List paired devices",
		handler: func(ctx context.Context, session proxy.Backend, args map[string]string) error {
			rsp, err := call(ctx, session, "getPairedDevices", nil, nil)
			if err != nil {
				return err
			}
			var devices []protocol.Device
			if err := decode(rsp.Result, &devices); err != nil {
				return err
			}
			printDevices(devices)
			return nil
		},
	},
	"scan": &Command{
		help: "Discover nearby devices, printing each as it is found",
		optional: []Argument{
			Argument{name: "TIMEOUT", help: "Scan duration (e.g., 10s or 10; defaults to the session's scan timeout)"},
		},
		handler: func(ctx context.Context, session proxy.Backend, args map[string]string) error {
			var params facade.RequestParameters
			if value, ok := args["TIMEOUT"]; ok {
				timeout, err := GetDuration(value)
				if err != nil {
					return err
				}
				params = facade.RequestParameters{"timeout": timeout.Seconds()}
			}
			sink := facade.SinkFunc(func(_ context.Context, e facade.Event) error {
				if e.Name != facade.EventDeviceFound {
					return nil
				}
				var d protocol.Device
				if err := decode(e.Payload, &d); err != nil {
					return err
				}
				fmt.Fprintf(stdout, "Found %s\t%s\n", d.Address, d.Name)
				return nil
			})
			rsp, err := call(ctx, session, "scanDevices", params, sink)
			if err != nil {
				return err
			}
			var devices []protocol.Device
			if err := decode(rsp.Result, &devices); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Scan finished: %d devices\n", len(devices))
			return nil
		},
	},
	"connect": &Command{
		help: "Open an RFCOMM connection to ADDRESS",
		args: []Argument{
			Argument{name: "ADDRESS", help: "Device address (e.g., 00:11:22:33:44:55)"},
		},
		handler: func(ctx context.Context, session proxy.Backend, args map[string]string) error {
			address, err := protocol.ParseAddress(args["ADDRESS"])
			if err != nil {
				return fmt.Errorf("%w: %s", ErrCommandLineArgs, err)
			}
			if _, err := call(ctx, session, "connect", facade.RequestParameters{"address": address}, nil); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "Connected to %s\n", address)
			return nil
		},
	},
	"disconnect": &Command{
		help: "Close the active connection",
		handler: func(ctx context.Context, session proxy.Backend, args map[string]string) error {
			_, err := call(ctx, session, "disconnect", nil, nil)
			return err
		},
	},
	"write": &Command{
		help: "Send MESSAGE over the active connection",
		args: []Argument{
			Argument{name: "MESSAGE", help: "Text to send"},
		},
		optional: []Argument{
			Argument{name: "EOL", help: "Line ending to append: none (default), lf, cr or crlf"},
		},
		handler: func(ctx context.Context, session proxy.Backend, args map[string]string) error {
			eol, err := GetLineEnding(args["EOL"])
			if err != nil {
				return fmt.Errorf("%w: %s", ErrCommandLineArgs, err)
			}
			_, err = call(ctx, session, "write", facade.RequestParameters{"message": args["MESSAGE"] + eol}, nil)
			return err
		},
	},
	"read": &Command{
		help: "Print whatever data is waiting on the active connection",
		optional: []Argument{
			Argument{name: "CAPACITY", help: "Maximum number of bytes to read"},
		},
		handler: func(ctx context.Context, session proxy.Backend, args map[string]string) error {
			var params facade.RequestParameters
			if value, ok := args["CAPACITY"]; ok {
				capacity, err := strconv.Atoi(value)
				if err != nil || capacity <= 0 {
					return fmt.Errorf("%w: CAPACITY must be a positive integer", ErrCommandLineArgs)
				}
				params = facade.RequestParameters{"capacity": capacity}
			}
			eof, err := readOnce(ctx, session, params)
			if err != nil {
				return err
			}
			if eof {
				fmt.Fprintln(stdout, "\n(end of stream)")
			}
			return nil
		},
	},
	"monitor": &Command{
		help: "Print incoming data until DURATION elapses or the peer closes the connection",
		args: []Argument{
			Argument{name: "DURATION", help: "How long to listen (e.g., 30s)"},
		},
		handler: func(ctx context.Context, session proxy.Backend, args map[string]string) error {
			duration, err := GetDuration(args["DURATION"])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(ctx, duration)
			defer cancel()
			for ctx.Err() == nil {
				eof, err := readOnce(ctx, session, nil)
				if err != nil {
					if ctx.Err() != nil {
						break
					}
					return err
				}
				if eof {
					fmt.Fprintln(stdout, "\n(end of stream)")
					return nil
				}
			}
			return nil
		},
	},
	"state": &Command{
		help: "Show the connection state",
		handler: func(ctx context.Context, session proxy.Backend, args map[string]string) error {
			rsp, err := call(ctx, session, "getState", nil, nil)
			if err != nil {
				return err
			}
			var status connection.Status
			if err := decode(rsp.Result, &status); err != nil {
				return err
			}
			fmt.Fprintln(stdout, status)
			return nil
		},
	},
}
