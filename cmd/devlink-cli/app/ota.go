package app

import (
	"fmt"
	"os"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/devlink-io/devlink/internal/admin"
	"github.com/devlink-io/devlink/internal/ota"
	"github.com/devlink-io/devlink/internal/wire"
)

func newOtaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ota",
		Short: "Manage firmware packages and device assignments",
	}

	cmd.AddCommand(newOtaAddCommand())
	cmd.AddCommand(newOtaRemoveCommand())
	cmd.AddCommand(newOtaLinkCommand())
	cmd.AddCommand(newOtaUnlinkCommand())
	cmd.AddCommand(newOtaListImagesCommand())
	cmd.AddCommand(newOtaListGroupsCommand())

	return cmd
}

func newOtaAddCommand() *cobra.Command {
	var primaryFile, secondaryFile string

	cmd := &cobra.Command{
		Use:   "add <version>",
		Short: "Upload a firmware package (version is M.m.p-c-H)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := ota.ParseVersion(args[0])
			if err != nil {
				return err
			}
			if primaryFile == "" && secondaryFile == "" {
				return fmt.Errorf("at least one of --primary or --secondary is required")
			}

			update := ota.Update{Package: &ota.Package{Version: version}}
			for _, src := range []struct {
				path string
				typ  ota.ImageType
			}{
				{primaryFile, ota.ImagePrimary},
				{secondaryFile, ota.ImageSecondary},
			} {
				if src.path == "" {
					continue
				}
				data, err := os.ReadFile(src.path)
				if err != nil {
					return fmt.Errorf("read %s image: %w", src.typ, err)
				}
				update.Images = append(update.Images, ota.ImageBlob{Data: data, ImageType: src.typ})
			}

			msg, err := wire.Marshal(update)
			if err != nil {
				return fmt.Errorf("encode update: %w", err)
			}

			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Send(admin.ManagementData{Cmd: admin.CmdAddOta, Msg: msg}); err != nil {
				return err
			}

			rd, err := client.ReadResponse()
			if err != nil {
				return err
			}
			if rd.Kind != admin.RespAddOta {
				return fmt.Errorf("unexpected response kind %d", rd.Kind)
			}

			var result admin.AddOtaPayload
			if err := wire.Unmarshal(rd.Msg, &result); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			if !result.OK {
				return fmt.Errorf("server rejected package: %s", result.Message)
			}

			fmt.Printf("Package %s stored\n", version)
			return nil
		},
	}

	cmd.Flags().StringVar(&primaryFile, "primary", "", "Path to the primary firmware image.")
	cmd.Flags().StringVar(&secondaryFile, "secondary", "", "Path to the secondary firmware image.")

	return cmd
}

func newOtaRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <update-id>",
		Short: "Delete a firmware package and all its assignments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Send(admin.ManagementData{Cmd: admin.CmdRemoveOta, Msg: []byte(args[0])}); err != nil {
				return err
			}

			fmt.Printf("Package %s removed\n", args[0])
			return nil
		},
	}
}

func newOtaLinkCommand() *cobra.Command {
	var deviceID, groupID string

	cmd := &cobra.Command{
		Use:   "link <update-id>",
		Short: "Pin a package to a device or group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if deviceID == "" && groupID == "" {
				return fmt.Errorf("at least one of --device or --group is required")
			}

			msg, err := wire.Marshal(admin.LinkPayload{
				DeviceID: deviceID,
				GroupID:  groupID,
				ImageID:  args[0],
			})
			if err != nil {
				return fmt.Errorf("encode link payload: %w", err)
			}

			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Send(admin.ManagementData{Cmd: admin.CmdLinkOta, Msg: msg}); err != nil {
				return err
			}

			fmt.Printf("Package %s linked\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&deviceID, "device", "", "Device to pin the package to.")
	cmd.Flags().StringVar(&groupID, "group", "", "Group to pin the package to.")

	return cmd
}

func newOtaUnlinkCommand() *cobra.Command {
	var deviceID, groupID string

	cmd := &cobra.Command{
		Use:   "unlink",
		Short: "Clear a device or group assignment",
		RunE: func(cmd *cobra.Command, args []string) error {
			if deviceID == "" && groupID == "" {
				return fmt.Errorf("at least one of --device or --group is required")
			}

			msg, err := wire.Marshal(admin.LinkPayload{DeviceID: deviceID, GroupID: groupID})
			if err != nil {
				return fmt.Errorf("encode unlink payload: %w", err)
			}

			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Send(admin.ManagementData{Cmd: admin.CmdUnlinkOta, Msg: msg}); err != nil {
				return err
			}

			fmt.Println("Assignment cleared")
			return nil
		},
	}

	cmd.Flags().StringVar(&deviceID, "device", "", "Device whose pin should be cleared.")
	cmd.Flags().StringVar(&groupID, "group", "", "Group whose pin should be cleared.")

	return cmd
}

func newOtaListImagesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list-images",
		Short: "List stored firmware packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Send(admin.ManagementData{Cmd: admin.CmdGetImageList}); err != nil {
				return err
			}

			rd, err := client.ReadResponse()
			if err != nil {
				return err
			}
			if rd.Kind != admin.RespImageList {
				return fmt.Errorf("unexpected response kind %d", rd.Kind)
			}

			var payload admin.ImageListPayload
			if err := wire.Unmarshal(rd.Msg, &payload); err != nil {
				return fmt.Errorf("decode image list: %w", err)
			}

			table := uitable.New()
			table.AddRow("UPDATE ID", "FILES", "ADDED")
			for _, entry := range payload.Images {
				added := ""
				if entry.Package.DateAdded != nil {
					added = entry.Package.DateAdded.Format("2006-01-02 15:04:05")
				}
				table.AddRow(entry.UpdateID, len(entry.Package.Files), added)
			}
			fmt.Println(table)
			return nil
		},
	}
}

func newOtaListGroupsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list-groups",
		Short: "List device groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := dial()
			if err != nil {
				return err
			}
			defer client.Close()

			if err := client.Send(admin.ManagementData{Cmd: admin.CmdGetGroupList}); err != nil {
				return err
			}

			rd, err := client.ReadResponse()
			if err != nil {
				return err
			}
			if rd.Kind != admin.RespGroupList {
				return fmt.Errorf("unexpected response kind %d", rd.Kind)
			}

			var payload admin.GroupListPayload
			if err := wire.Unmarshal(rd.Msg, &payload); err != nil {
				return fmt.Errorf("decode group list: %w", err)
			}

			table := uitable.New()
			table.AddRow("GROUP")
			for _, g := range payload.Groups {
				table.AddRow(g)
			}
			fmt.Println(table)
			return nil
		},
	}
}
