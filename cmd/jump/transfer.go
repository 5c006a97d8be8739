package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/HerbHall/jump/internal/api"
	"github.com/HerbHall/jump/internal/devices"
	"github.com/spf13/cobra"
)

func newExportCmd() *cobra.Command {
	var (
		dir       string
		fromServe bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export devices as portable JSON",
		Long: "Print the device list in portable form, or write it to a dated file in\n" +
			"the directory given by --output. --server asks the service for its own export.",
		Args: cobra.NoArgs,
		RunE: withApp(appOptions{}, func(cmd *cobra.Command, a *app, _ []string) error {
			ctx := cmd.Context()
			if dir != "" && !fromServe {
				path, err := a.devices.WriteExport(ctx, dir)
				if err != nil {
					return reported(err)
				}
				fmt.Fprintln(a.out, path)
				return nil
			}

			// The document goes to stdout, so notifications must not.
			a.mute()
			if fromServe {
				exported, err := a.devices.ServerExport(ctx)
				if err != nil {
					return errors.New(api.Message(err, devices.ExportFailed))
				}
				return writeIndented(a.out, exported)
			}
			data, err := a.devices.ExportJSON(ctx)
			if err != nil {
				return errors.New(api.Message(err, devices.ExportFailed))
			}
			_, err = a.out.Write(append(data, '\n'))
			return err
		}),
	}
	cmd.Flags().StringVarP(&dir, "output", "o", "", "directory to write the export file into")
	cmd.Flags().BoolVar(&fromServe, "server", false, "use the service's export endpoint")
	return cmd
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.json|->",
		Short: "Import devices from a JSON export",
		Long:  "Import every record of an export document in one request. Use - to read stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(appOptions{}, func(cmd *cobra.Command, a *app, args []string) error {
			if args[0] == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				_, err = a.devices.ImportJSON(cmd.Context(), data)
				return reported(err)
			}
			_, err := a.devices.ImportFile(cmd.Context(), args[0])
			return reported(err)
		}),
	}
}
