package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// Image management commands
var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Manage repository images",
	Long: `Manage deployable images in the repository.

Images are deployed onto instance root disks at spawn time and
captured back from instances by snapshot and resize.`,
}

func init() {
	imageCmd.AddCommand(imageImportCmd)
	imageCmd.AddCommand(imageListCmd)
	imageCmd.AddCommand(imageDeleteCmd)
	imageCmd.AddCommand(imageExportCmd)
}

var imageImportCmd = &cobra.Command{
	Use:   "import <source> <name>",
	Short: "Import an image bundle into the repository",
	Long: `Import an image bundle into the repository.

The source is a bundle location the gateway can reach. The image can
then be referenced by name in instance configuration files.

Example:
  crucible image import /bundles/rhel7-img1.tgz rhel7-img1`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, name := args[0], args[1]

		rt, err := newRuntime()
		if err != nil {
			return err
		}

		ctx := context.Background()
		exists, err := rt.images.Exists(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to check if image exists: %w", err)
		}
		if exists {
			return fmt.Errorf("image %s already exists", name)
		}

		fmt.Printf("Importing image from %s as %s...\n", source, name)
		if err := rt.images.Import(ctx, name, source); err != nil {
			return fmt.Errorf("failed to import image: %w", err)
		}

		fmt.Printf("✓ Image %s imported successfully\n", name)
		return nil
	},
}

var imageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all images in the repository",
	Long: `List all images stored in the repository.

Shows image name, profile, and when each image was last deployed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}

		ctx := context.Background()
		images, err := rt.images.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list images: %w", err)
		}

		if len(images) == 0 {
			fmt.Println("No images found in repository")
			return nil
		}

		free, err := rt.images.FreeSpaceGB(ctx)
		if err != nil {
			return fmt.Errorf("failed to read repository free space: %w", err)
		}

		fmt.Printf("%-30s %-15s %s\n", "NAME", "PROFILE", "LAST USED")
		fmt.Println(strings.Repeat("-", 70))

		for _, img := range images {
			lastUsed := "-"
			if !img.LastUsed.IsZero() {
				lastUsed = img.LastUsed.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%-30s %-15s %s\n", img.Name, img.Profile, lastUsed)
		}

		fmt.Printf("\nTotal: %d image(s), %.1f GB free\n", len(images), free)
		return nil
	},
}

var imageDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete an image from the repository",
	Long: `Delete an image from the repository.

Example:
  crucible image delete rhel7-img1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		rt, err := newRuntime()
		if err != nil {
			return err
		}

		fmt.Printf("Deleting image %s...\n", name)
		if err := rt.images.Delete(context.Background(), name); err != nil {
			return fmt.Errorf("failed to delete image: %w", err)
		}

		fmt.Printf("✓ Image %s deleted successfully\n", name)
		return nil
	},
}

var imageExportCmd = &cobra.Command{
	Use:   "export <name> <destination>",
	Short: "Export an image as a bundle",
	Long: `Export a repository image as a bundle at destination.

Example:
  crucible image export rhel7-img1 /bundles/rhel7-img1.tgz`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, destination := args[0], args[1]

		rt, err := newRuntime()
		if err != nil {
			return err
		}

		ctx := context.Background()
		exists, err := rt.images.Exists(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to check if image exists: %w", err)
		}
		if !exists {
			return fmt.Errorf("image %s not found", name)
		}

		fmt.Printf("Exporting image %s to %s...\n", name, destination)
		if err := rt.images.Export(ctx, name, destination); err != nil {
			return fmt.Errorf("failed to export image: %w", err)
		}

		fmt.Printf("✓ Image %s exported successfully\n", name)
		return nil
	},
}
