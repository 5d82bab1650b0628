package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"facewatch/internal/gallery"
	"facewatch/internal/scan"
)

var (
	addName  string
	addAttrs gallery.Attributes
)

var galleryCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Manage registered identities",
}

var galleryAddCmd = &cobra.Command{
	Use:   "add <image>",
	Short: "Register an identity from a photo containing one face",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		img, err := scan.DecodeImage(data)
		if err != nil {
			return err
		}
		id, err := facewatch.Gallery.Register(cmd.Context(), addName, addAttrs, img)
		if err != nil {
			return err
		}
		fmt.Printf("Registered %s (%s embedding)\n", id.Name, id.Backend)
		return nil
	},
}

var galleryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered identities",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := facewatch.Gallery.List(cmd.Context())
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Println("No identities registered.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tAGE\tGENDER\tCRIME\tBACKEND\tADDED")
		for _, id := range ids {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", id.Name, id.Age, id.Gender, id.Crime, id.Backend, id.Created.Format("2006-01-02 15:04"))
		}
		return w.Flush()
	},
}

var galleryRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Remove an identity and its photo",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := facewatch.Gallery.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed %s\n", args[0])
		return nil
	},
}

func init() {
	galleryAddCmd.Flags().StringVar(&addName, "name", "", "Identity name")
	galleryAddCmd.Flags().StringVar(&addAttrs.Age, "age", "", "Age")
	galleryAddCmd.Flags().StringVar(&addAttrs.Gender, "gender", "", "Gender")
	galleryAddCmd.Flags().StringVar(&addAttrs.Crime, "crime", "", "Offence on record")
	galleryAddCmd.MarkFlagRequired("name")

	galleryCmd.AddCommand(galleryAddCmd, galleryListCmd, galleryRmCmd)
	rootCmd.AddCommand(galleryCmd)
}
