// Command hm10ctl talks to an HM-10 module on a serial port for bench work:
// liveness checks, reading its identity, changing the baud rate or MAC
// address, rebooting, factory reset, applying a profile and scanning for
// advertising modules.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/urfave/cli"

	"i4.energy/across/hm10bridge/at"
	"i4.energy/across/hm10bridge/hm10"
	"i4.energy/across/hm10bridge/profile"
)

// dialFunc returns the dialer for a port at a rate.
type dialFunc func(port string, baud at.Baudrate) hm10.Dialer

func serialDial(port string, baud at.Baudrate) hm10.Dialer {
	return hm10.SerialDialer{PortName: port, BaudRate: baud}
}

func main() {
	if err := newApp(serialDial).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "hm10ctl:", err)
		os.Exit(1)
	}
}

func newApp(dial dialFunc) *cli.App {
	app := cli.NewApp()
	app.Name = "hm10ctl"
	app.Usage = "configure and inspect an HM-10 BLE module"
	// -v is taken by --verbose
	app.HideVersion = true
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "port, p", Value: "/dev/ttyUSB0", Usage: "serial port", EnvVar: "HM10_PORT"},
		cli.IntFlag{Name: "baud, b", Value: 9600, Usage: "baud rate the module currently uses", EnvVar: "HM10_BAUD"},
		cli.DurationFlag{Name: "timeout", Value: time.Second, Usage: "command timeout"},
		cli.BoolFlag{Name: "verbose, v", Usage: "log AT traffic"},
	}

	withDevice := func(fn func(ctx context.Context, c *cli.Context, d *hm10.Device) error) func(*cli.Context) error {
		return func(c *cli.Context) error {
			ctx := context.Background()
			d, err := open(ctx, c, dial)
			if err != nil {
				return err
			}
			defer d.Close()
			return fn(ctx, c, d)
		}
	}

	app.Commands = []cli.Command{
		{
			Name:  "alive",
			Usage: "check that the module answers AT",
			Action: withDevice(func(ctx context.Context, c *cli.Context, d *hm10.Device) error {
				if !d.IsAlive(ctx) {
					return cli.NewExitError("module not responding", 2)
				}
				fmt.Fprintln(c.App.Writer, "alive")
				return nil
			}),
		},
		{
			Name:   "info",
			Usage:  "print the module identity and settings",
			Action: withDevice(printInfo),
		},
		{
			Name:      "mac",
			Usage:     "print the module MAC address, or set it",
			ArgsUsage: "[new-mac]",
			Action: withDevice(func(ctx context.Context, c *cli.Context, d *hm10.Device) error {
				if mac := c.Args().First(); mac != "" {
					if err := d.SetMACAddress(ctx, mac); err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, "MAC address set, effective after reset")
					return nil
				}
				mac, err := d.MACAddress(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, mac)
				return nil
			}),
		},
		{
			Name:      "baud",
			Usage:     "print the configured baud rate, or change it",
			ArgsUsage: "[rate]",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "reboot", Usage: "reboot right away and follow with the local port"},
			},
			Action: withDevice(func(ctx context.Context, c *cli.Context, d *hm10.Device) error {
				arg := c.Args().First()
				if arg == "" {
					rate, err := d.BaudRate(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, rate)
					return nil
				}
				bps, err := strconv.Atoi(arg)
				if err != nil {
					return fmt.Errorf("invalid baud rate %q", arg)
				}
				rate := at.ParseBaudrate(bps)
				if err := d.SetBaudRate(ctx, rate, c.Bool("reboot"), true); err != nil {
					return err
				}
				state := d.LinkState()
				fmt.Fprintf(c.App.Writer, "current %v, pending %v\n", state.Current, state.Pending)
				return nil
			}),
		},
		{
			Name:  "reset",
			Usage: "reboot the module",
			Action: withDevice(func(ctx context.Context, c *cli.Context, d *hm10.Device) error {
				return d.Reboot(ctx, true)
			}),
		},
		{
			Name:  "renew",
			Usage: "restore factory settings and reboot",
			Action: withDevice(func(ctx context.Context, c *cli.Context, d *hm10.Device) error {
				if err := d.FactoryReset(ctx, true); err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "factory settings restored, baud %v\n", d.LinkState().Current)
				return nil
			}),
		},
		{
			Name:      "apply",
			Usage:     "apply a YAML module profile",
			ArgsUsage: "<profile.yaml>",
			Action: func(c *cli.Context) error {
				path := c.Args().First()
				if path == "" {
					return cli.NewExitError("profile path required", 1)
				}
				p, err := profile.Load(path)
				if err != nil {
					return err
				}
				return withDevice(func(ctx context.Context, c *cli.Context, d *hm10.Device) error {
					return p.Apply(ctx, d)
				})(c)
			},
		},
		{
			Name:  "scan",
			Usage: "scan for modules advertising the HM-10 service",
			Flags: []cli.Flag{
				cli.DurationFlag{Name: "duration, d", Value: 10 * time.Second, Usage: "how long to scan"},
			},
			Action: runScan,
		},
	}
	return app
}

func open(ctx context.Context, c *cli.Context, dial dialFunc) (*hm10.Device, error) {
	baud := at.ParseBaudrate(c.GlobalInt("baud"))
	if !baud.Valid() {
		return nil, fmt.Errorf("unsupported baud rate %d", c.GlobalInt("baud"))
	}

	level := slog.LevelWarn
	if c.GlobalBool("verbose") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(c.App.ErrWriter, &slog.HandlerOptions{Level: level}))

	config, err := hm10.NewConfigBuilder().
		WithLogger(logger).
		WithBaudRate(baud).
		WithDialer(dial(c.GlobalString("port"), baud)).
		WithCommandTimeout(c.GlobalDuration("timeout")).
		WithInitTimeout(3 * time.Second).
		Build()
	if err != nil {
		return nil, err
	}
	return hm10.New(ctx, config)
}

func printInfo(ctx context.Context, c *cli.Context, d *hm10.Device) error {
	w := c.App.Writer

	version, err := d.FirmwareVersion(ctx)
	if err != nil {
		return err
	}
	mac, err := d.MACAddress(ctx)
	if err != nil {
		return err
	}
	name, err := d.Name(ctx)
	if err != nil {
		return err
	}
	role, err := d.Role(ctx)
	if err != nil {
		return err
	}
	baud, err := d.BaudRate(ctx)
	if err != nil {
		return err
	}
	notify, err := d.Notify(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "version: %s\n", version)
	fmt.Fprintf(w, "mac:     %s\n", mac)
	fmt.Fprintf(w, "name:    %s\n", name)
	fmt.Fprintf(w, "role:    %s\n", role)
	fmt.Fprintf(w, "baud:    %s\n", baud)
	fmt.Fprintf(w, "notify:  %t\n", notify)
	return nil
}
