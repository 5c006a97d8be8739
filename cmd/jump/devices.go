package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/HerbHall/jump/internal/api"
	"github.com/HerbHall/jump/internal/reach"
	"github.com/HerbHall/jump/pkg/models"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

const loadFallback = "Failed to load devices"

func newListCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered devices",
		Args:    cobra.NoArgs,
		RunE: withApp(appOptions{}, func(cmd *cobra.Command, a *app, _ []string) error {
			devices, err := a.loadDevices(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeIndented(a.out, devices)
			}
			if len(devices) == 0 {
				fmt.Fprintln(a.out, "No devices registered.")
				return nil
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tMAC\tIP\tPORT\tDESCRIPTION")
			for i := range devices {
				d := &devices[i]
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
					d.ID, d.Name, d.MACAddress, deref(d.IPAddress), d.Port, deref(d.Description))
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

// deviceFlags binds the device form fields to flags.
type deviceFlags struct {
	in models.DeviceInput
}

func (f *deviceFlags) bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.in.Name, "name", "", "display name")
	fs.StringVar(&f.in.MACAddress, "mac", "", "MAC address (AA:BB:CC:DD:EE:FF)")
	fs.StringVar(&f.in.IPAddress, "ip", "", "IP address")
	fs.StringVar(&f.in.Port, "port", strconv.Itoa(models.DefaultWakePort), "UDP port for the magic packet")
	fs.StringVar(&f.in.Description, "description", "", "free-form description")
}

// overlay writes the flags the user set over in.
func (f *deviceFlags) overlay(fs *pflag.FlagSet, in models.DeviceInput) models.DeviceInput {
	if fs.Changed("name") {
		in.Name = f.in.Name
	}
	if fs.Changed("mac") {
		in.MACAddress = f.in.MACAddress
	}
	if fs.Changed("ip") {
		in.IPAddress = f.in.IPAddress
	}
	if fs.Changed("port") {
		in.Port = f.in.Port
	}
	if fs.Changed("description") {
		in.Description = f.in.Description
	}
	return in
}

func newAddCmd() *cobra.Command {
	var f deviceFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a device",
		Long: "Register a device with the service. When --ip is given without --mac,\n" +
			"the MAC address is looked up in the service host's ARP table.",
		Args: cobra.NoArgs,
		RunE: withApp(appOptions{}, func(cmd *cobra.Command, a *app, _ []string) error {
			in := f.in
			if in.MACAddress == "" && strings.TrimSpace(in.IPAddress) != "" {
				mac, err := a.lookup(cmd.Context(), in.IPAddress)
				if err != nil {
					return err
				}
				in.MACAddress = mac
			}
			out, err := a.devices.Create(cmd.Context(), in)
			if err != nil {
				return reported(err)
			}
			if out.Value != nil {
				a.logger.Debug("device created", zap.String("id", out.Value.ID))
			}
			return nil
		}),
	}
	f.bind(cmd.Flags())
	return cmd
}

func newEditCmd() *cobra.Command {
	var f deviceFlags
	cmd := &cobra.Command{
		Use:   "edit <id|name>",
		Short: "Change a device",
		Long:  "Change the fields given as flags. Fields without a flag keep their current value.",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(appOptions{}, func(cmd *cobra.Command, a *app, args []string) error {
			d, err := a.resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			in := f.overlay(cmd.Flags(), models.InputFromDevice(d))
			if _, err := a.devices.Update(cmd.Context(), d.ID, in); err != nil {
				return reported(err)
			}
			return nil
		}),
	}
	f.bind(cmd.Flags())
	return cmd
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id|name>",
		Aliases: []string{"remove", "delete"},
		Short:   "Remove a device",
		Args:    cobra.ExactArgs(1),
		RunE: withApp(appOptions{}, func(cmd *cobra.Command, a *app, args []string) error {
			d, err := a.resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if _, err := a.devices.Delete(cmd.Context(), d.ID); err != nil {
				return reported(err)
			}
			return nil
		}),
	}
}

func newWakeCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "wake <id|name>",
		Short: "Send a wake packet to a device",
		Long: "Ask the service to send a magic packet. With --wait, ping the device's\n" +
			"IP address until it answers or reach.timeout elapses.",
		Args: cobra.ExactArgs(1),
		RunE: withApp(appOptions{}, func(cmd *cobra.Command, a *app, args []string) error {
			d, err := a.resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			res := a.devices.Wake(cmd.Context(), d.ID)
			if !res.Success {
				if res.Err == nil {
					return reported(errors.New(res.Message))
				}
				return reported(res.Err)
			}
			if !wait {
				return nil
			}
			ip := deref(d.IPAddress)
			if ip == "" {
				return fmt.Errorf("%s has no IP address to wait on", d.Name)
			}
			fmt.Fprintf(a.out, "Waiting for %s (%s)...\n", d.Name, ip)
			up, err := reach.New(a.cfg.Reach, a.logger.Named("reach")).WaitReachable(cmd.Context(), ip)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s is up after %s\n", d.Name, up.Elapsed.Round(100*time.Millisecond))
			return nil
		}),
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait until the device answers ping")
	return cmd
}

func newLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <ip>",
		Short: "Resolve an IP address to a MAC address",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(appOptions{}, func(cmd *cobra.Command, a *app, args []string) error {
			mac, err := a.lookup(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, mac)
			return nil
		}),
	}
}

// loadDevices fetches the collection, reporting the service's message on failure.
func (a *app) loadDevices(ctx context.Context) ([]models.Device, error) {
	col, err := a.devices.List(ctx)
	if err != nil {
		return nil, errors.New(api.Message(err, loadFallback))
	}
	return col.Data, nil
}

// resolve finds a device by ID, then by case-insensitive name.
func (a *app) resolve(ctx context.Context, ref string) (models.Device, error) {
	devices, err := a.loadDevices(ctx)
	if err != nil {
		return models.Device{}, err
	}
	for i := range devices {
		if devices[i].ID == ref {
			return devices[i], nil
		}
	}
	var match []models.Device
	for i := range devices {
		if strings.EqualFold(devices[i].Name, ref) {
			match = append(match, devices[i])
		}
	}
	switch len(match) {
	case 0:
		return models.Device{}, fmt.Errorf("no device %q", ref)
	case 1:
		return match[0], nil
	default:
		return models.Device{}, fmt.Errorf("%d devices are named %q; use the ID", len(match), ref)
	}
}

// lookup returns the MAC address the service host has for ip.
func (a *app) lookup(ctx context.Context, ip string) (string, error) {
	resp, err := a.devices.LookupMAC(ctx, ip)
	if err != nil {
		return "", reported(err)
	}
	if !resp.Found || resp.MAC == "" {
		return "", reported(fmt.Errorf("no MAC address for %s", ip))
	}
	return resp.MAC, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
