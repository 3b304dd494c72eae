package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/manur84/digitalsignage-sub008/pkg/registry"
	"github.com/manur84/digitalsignage-sub008/pkg/service"
)

// Console is the in-process operator surface: approve mobile apps,
// inspect fleet state and push commands without a mobile client.
type Console struct {
	srv *service.Server
	rl  *readline.Instance
}

// NewConsole creates the operator console.
func NewConsole(srv *service.Server) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "signage> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{srv: srv, rl: rl}, nil
}

// Stdout returns a writer coordinated with the prompt.
func (c *Console) Stdout() io.Writer { return c.rl.Stdout() }

// Run starts the command loop. It returns when the operator exits or
// ctx is cancelled.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "devices", "list", "ls":
			c.cmdDevices()

		case "apps":
			c.cmdApps()

		case "approve":
			c.cmdApprove(args)

		case "reject":
			c.cmdReject(args)

		case "revoke":
			c.cmdRevoke(args)

		case "send":
			c.cmdSend(ctx, args)

		case "assign":
			c.cmdAssign(args)

		case "layouts":
			c.cmdLayouts()

		case "screenshot":
			c.cmdScreenshot(ctx, args)

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `
Signage Server Commands:
  Fleet:
    devices                    - List connected display devices
    send <client-id> <cmd>     - Send a command to a device
    screenshot <client-id>     - Fetch a frame capture
    assign <client-id> <layout>- Assign a layout to a device
    layouts                    - List available layouts

  Mobile Apps:
    apps                       - List app registrations
    approve <device-id> [perm...] - Approve a pending app
    reject <device-id> [reason]   - Reject a pending app
    revoke <device-id>            - Revoke an approved app

  Other:
    help                       - Show this help
    quit                       - Shut down the server`)
}

func (c *Console) cmdDevices() {
	infos := c.srv.Registry().Snapshot(registry.RoleDevice)
	if len(infos) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "No devices connected")
		return
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ClientID < infos[j].ClientID })

	fmt.Fprintf(c.rl.Stdout(), "%-38s %-20s %-10s %s\n", "CLIENT-ID", "NAME", "STATUS", "LAST-HEARTBEAT")
	for _, info := range infos {
		last := "-"
		if !info.LastHeartbeat.IsZero() {
			last = time.Since(info.LastHeartbeat).Round(time.Second).String() + " ago"
		}
		fmt.Fprintf(c.rl.Stdout(), "%-38s %-20s %-10s %s\n", info.ClientID, info.Name, info.Status, last)
	}
}

func (c *Console) cmdApps() {
	regs, err := c.srv.Authorization().List()
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	if len(regs) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "No app registrations")
		return
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].DeviceIdentifier < regs[j].DeviceIdentifier })

	fmt.Fprintf(c.rl.Stdout(), "%-30s %-20s %-10s %s\n", "DEVICE-ID", "NAME", "STATUS", "PERMISSIONS")
	for _, reg := range regs {
		fmt.Fprintf(c.rl.Stdout(), "%-30s %-20s %-10s %s\n",
			reg.DeviceIdentifier, reg.DeviceName, reg.Status, strings.Join(reg.Permissions, ","))
	}
}

func (c *Console) cmdApprove(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: approve <device-id> [permission...]")
		return
	}
	reg, err := c.srv.Authorization().Approve(args[0], args[1:])
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "Approved %s (permissions: %s, expires: %s)\n",
		reg.DeviceIdentifier, strings.Join(reg.Permissions, ","), reg.ExpiresAt.Format(time.RFC3339))
}

func (c *Console) cmdReject(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: reject <device-id> [reason]")
		return
	}
	reason := strings.Join(args[1:], " ")
	if _, err := c.srv.Authorization().Reject(args[0], reason); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "Rejected %s\n", args[0])
}

func (c *Console) cmdRevoke(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: revoke <device-id>")
		return
	}
	if _, err := c.srv.Authorization().Revoke(args[0]); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "Revoked %s (the app must register again)\n", args[0])
}

// cmdSend parses trailing key=value pairs into command parameters.
func (c *Console) cmdSend(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: send <client-id> <command> [key=value...]")
		return
	}
	params := make(map[string]any)
	for _, arg := range args[2:] {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			fmt.Fprintf(c.rl.Stdout(), "Ignoring malformed parameter %q\n", arg)
			continue
		}
		params[key] = value
	}

	result, err := c.srv.Dispatcher().Send(ctx, args[0], args[1], params, 0)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	if result.Success {
		fmt.Fprintf(c.rl.Stdout(), "OK: %v\n", result.Result)
	} else {
		fmt.Fprintf(c.rl.Stdout(), "Command failed: %s\n", result.Error)
	}
}

func (c *Console) cmdAssign(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: assign <client-id> <layout-id>")
		return
	}
	if err := c.srv.AssignLayout(args[0], args[1]); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "Assigned layout %s to %s\n", args[1], args[0])
}

func (c *Console) cmdLayouts() {
	layouts := c.srv.Content().Layouts()
	if len(layouts) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "No layouts configured")
		return
	}
	for _, l := range layouts {
		fmt.Fprintf(c.rl.Stdout(), "%-20s %s\n", l.LayoutID, l.Name)
	}
}

func (c *Console) cmdScreenshot(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: screenshot <client-id>")
		return
	}
	result, err := c.srv.Dispatcher().Send(ctx, args[0], "screenshot", nil, 0)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	if !result.Success {
		fmt.Fprintf(c.rl.Stdout(), "Capture failed: %s\n", result.Error)
		return
	}
	image, _ := result.Result.(string)
	fmt.Fprintf(c.rl.Stdout(), "Received %d bytes (base64)\n", len(image))
}
