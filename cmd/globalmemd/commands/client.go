package commands

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/srediag/plugin-chrdev/pkg/globalmem"
	"github.com/srediag/plugin-chrdev/pkg/transport"
)

func clientFromFlags(cmd *cobra.Command) (*transport.Client, error) {
	server, err := cmd.Flags().GetString("server")
	if err != nil {
		return nil, err
	}
	retry, err := cmd.Flags().GetDuration("retry")
	if err != nil {
		return nil, err
	}
	return transport.NewClient(server, nil, retry)
}

func newReadCmd() *cobra.Command {
	var offset, length uint64
	cmd := &cobra.Command{
		Use:   "read NODE",
		Short: "Read bytes from a device node to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			data, err := c.Read(cmd.Context(), args[0], offset, length)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().Uint64Var(&offset, "offset", 0, "Byte offset to read from")
	cmd.Flags().Uint64Var(&length, "length", globalmem.Capacity, "Number of bytes to read")
	return cmd
}

func newWriteCmd() *cobra.Command {
	var offset uint64
	cmd := &cobra.Command{
		Use:   "write NODE [DATA]",
		Short: "Write DATA, or stdin when omitted, to a device node",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			if len(args) == 2 {
				data = []byte(args[1])
			} else {
				var err error
				data, err = io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return errors.Wrap(err, "read stdin")
				}
			}
			c, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			result, err := c.Write(cmd.Context(), args[0], offset, data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d of %d bytes to %s at offset %d\n",
				result.Transferred, result.Requested, result.Node, result.Offset)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&offset, "offset", 0, "Byte offset to write at")
	return cmd
}

func newDevicesCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List the device nodes of a running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromFlags(cmd)
			if err != nil {
				return err
			}
			list, err := c.Devices(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			for _, d := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tminor %d\n", d.Name, d.Minor)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the list as JSON")
	return cmd
}
