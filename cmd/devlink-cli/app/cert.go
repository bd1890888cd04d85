package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devlink-io/devlink/pkg/cert"
)

const caName = "ca"

func newCertCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cert",
		Short: "Generate certificate material for the mTLS listener",
	}

	cmd.PersistentFlags().String("dir", "certs", "Directory the certificates are read from and written to.")

	cmd.AddCommand(newCertCACommand())
	cmd.AddCommand(newCertServerCommand())
	cmd.AddCommand(newCertDeviceCommand())

	return cmd
}

func newCertCACommand() *cobra.Command {
	var cn string

	cmd := &cobra.Command{
		Use:   "ca",
		Short: "Create a new certificate authority",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			pair, err := cert.NewCA(cn)
			if err != nil {
				return err
			}
			if err := pair.WriteFiles(dir, caName); err != nil {
				return err
			}

			fmt.Printf("CA written to %s/%s.crt\n", dir, caName)
			return nil
		},
	}

	cmd.Flags().StringVar(&cn, "cn", "devlink-ca", "Common name of the CA certificate.")

	return cmd
}

func newCertServerCommand() *cobra.Command {
	var (
		cn    string
		hosts []string
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Issue the broker certificate, signed by the CA",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			ca, err := cert.LoadPair(dir, caName)
			if err != nil {
				return fmt.Errorf("load ca (run 'cert ca' first): %w", err)
			}

			pair, err := cert.NewServerCert(ca, cn, hosts)
			if err != nil {
				return err
			}
			if err := pair.WriteFiles(dir, "server"); err != nil {
				return err
			}

			fmt.Printf("Server certificate written to %s/server.crt\n", dir)
			return nil
		},
	}

	cmd.Flags().StringVar(&cn, "cn", "devlink-server", "Common name of the broker certificate.")
	cmd.Flags().StringSliceVar(&hosts, "host", []string{"localhost", "127.0.0.1"}, "DNS names and IPs devices connect to.")

	return cmd
}

func newCertDeviceCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "device <device-id>",
		Short: "Issue a client certificate for one device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			deviceID := args[0]

			ca, err := cert.LoadPair(dir, caName)
			if err != nil {
				return fmt.Errorf("load ca (run 'cert ca' first): %w", err)
			}

			pair, err := cert.NewDeviceCert(ca, deviceID)
			if err != nil {
				return err
			}
			if err := pair.WriteFiles(dir, deviceID); err != nil {
				return err
			}

			fmt.Printf("Device certificate written to %s/%s.crt\n", dir, deviceID)
			return nil
		},
	}
}
