package main

import (
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tendant/artisan-nft/pkg/artisan"
)

func parseItemID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid item id %q", artisan.ErrInvalidArgument, s)
	}
	return id, nil
}

// NewItemsCommand creates the items command
func NewItemsCommand() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "items [id]",
		Short: "List items, or show one item",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd, false)
			if err != nil {
				return err
			}
			defer client.Close()
			ctx := contextOf(cmd)

			if len(args) == 1 {
				id, err := parseItemID(args[0])
				if err != nil {
					return err
				}
				item, err := client.Aggregator.Get(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), item)
			}

			var items []artisan.ItemRecord
			if owner != "" {
				items, err = client.Aggregator.ListOwnedBy(ctx, owner)
			} else {
				items, err = client.Aggregator.ListAll(ctx)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), items)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "only items owned by this address")
	cmd.AddCommand(&cobra.Command{
		Use:   "provenance <id>",
		Short: "Show the ownership history of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			client, err := newClient(cmd, false)
			if err != nil {
				return err
			}
			defer client.Close()
			entries, err := client.Aggregator.Provenance(contextOf(cmd), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entries)
		},
	})
	return cmd
}

// NewCreatorsCommand creates the creators command
func NewCreatorsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "creators",
		Short: "List registered creators",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd, false)
			if err != nil {
				return err
			}
			defer client.Close()
			creators, err := client.Aggregator.ListCreators(contextOf(cmd))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), creators)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "register <address>",
		Short: "Grant the creator role to an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd, true)
			if err != nil {
				return err
			}
			defer client.Close()
			out, err := client.Orchestrator.RegisterCreator(contextOf(cmd), args[0])
			if err != nil {
				return err
			}
			if out.AlreadyRegistered {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is already a registered creator\n", args[0])
				return nil
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	})
	return cmd
}

// NewUploadCommand creates the upload command
func NewUploadCommand() *cobra.Command {
	var mimeType string

	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Store a file in the content store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			if mimeType == "" {
				mimeType = http.DetectContentType(data)
			}

			client, err := newClient(cmd, false)
			if err != nil {
				return err
			}
			defer client.Close()

			id, err := client.Uploader.UploadBlob(contextOf(cmd), data, mimeType)
			if err != nil {
				return err
			}
			locator := artisan.Locator(id)
			url, _ := client.Resolver.Resolve(locator)
			fmt.Fprintf(cmd.OutOrStdout(), "Content ID: %s\nLocator: %s\nURL: %s\n", id, locator, url)
			return nil
		},
	}
	cmd.Flags().StringVar(&mimeType, "mime-type", "", "content type (detected when empty)")
	return cmd
}

// NewMintCommand creates the mint command
func NewMintCommand() *cobra.Command {
	var (
		owner, name, description, materials, details, image, imageFile, price string
	)

	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Upload item metadata and mint it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var initial *big.Int
			if price != "" {
				p, err := artisan.ParseAmount(price)
				if err != nil {
					return err
				}
				initial = p
			}

			client, err := newClient(cmd, true)
			if err != nil {
				return err
			}
			defer client.Close()
			ctx := contextOf(cmd)

			if imageFile != "" {
				data, err := os.ReadFile(imageFile)
				if err != nil {
					return fmt.Errorf("failed to read %s: %w", imageFile, err)
				}
				id, err := client.Uploader.UploadBlob(ctx, data, http.DetectContentType(data))
				if err != nil {
					return err
				}
				image = artisan.Locator(id)
			}

			metaID, _, err := client.Uploader.UploadMetadata(ctx, artisan.MetadataInput{
				Name:           name,
				Description:    description,
				Image:          image,
				Materials:      materials,
				CreatorDetails: details,
			})
			if err != nil {
				return err
			}

			if owner == "" {
				owner = client.Session.Snapshot().Identity
			}
			out, err := client.Orchestrator.Mint(ctx, artisan.MintArgs{
				Owner:          owner,
				Description:    description,
				Materials:      materials,
				CreatorDetails: details,
				Locator:        artisan.Locator(metaID),
				InitialPrice:   initial,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "owner address (defaults to the signer)")
	cmd.Flags().StringVar(&name, "name", "", "item name")
	cmd.Flags().StringVar(&description, "description", "", "item description")
	cmd.Flags().StringVar(&materials, "materials", "", "materials used")
	cmd.Flags().StringVar(&details, "details", "", "creator details")
	cmd.Flags().StringVar(&image, "image", "", "image locator")
	cmd.Flags().StringVar(&imageFile, "image-file", "", "image file to upload")
	cmd.Flags().StringVar(&price, "price", "", "list for sale at this price after minting")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

// NewListCommand creates the list command
func NewListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list <id> <price>",
		Short: "List an owned item for sale",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			price, err := artisan.ParseAmount(args[1])
			if err != nil {
				return err
			}
			client, err := newClient(cmd, true)
			if err != nil {
				return err
			}
			defer client.Close()
			out, err := client.Orchestrator.List(contextOf(cmd), id, price)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

// NewDelistCommand creates the delist command
func NewDelistCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delist <id>",
		Short: "Remove an owned item from sale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			client, err := newClient(cmd, true)
			if err != nil {
				return err
			}
			defer client.Close()
			out, err := client.Orchestrator.Delist(contextOf(cmd), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

// NewBuyCommand creates the buy command
func NewBuyCommand() *cobra.Command {
	var payment string

	cmd := &cobra.Command{
		Use:   "buy <id>",
		Short: "Purchase a listed item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			client, err := newClient(cmd, true)
			if err != nil {
				return err
			}
			defer client.Close()
			ctx := contextOf(cmd)

			var amount *big.Int
			if payment != "" {
				if amount, err = artisan.ParseAmount(payment); err != nil {
					return err
				}
			} else {
				item, err := client.Aggregator.Get(ctx, id)
				if err != nil {
					return err
				}
				amount = item.PriceBase
				if amount == nil {
					amount = new(big.Int)
				}
			}

			out, err := client.Orchestrator.Purchase(ctx, id, amount)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&payment, "payment", "", "amount to pay (defaults to the listed price)")
	return cmd
}

// NewActivityCommand creates the activity command
func NewActivityCommand() *cobra.Command {
	var item uint64
	var actor string

	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show journaled transactions for an item or an address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (item == 0) == (actor == "") {
				return fmt.Errorf("%w: exactly one of --item or --actor is required", artisan.ErrInvalidArgument)
			}
			client, err := newClient(cmd, false)
			if err != nil {
				return err
			}
			defer client.Close()

			var activity []*artisan.Activity
			if item != 0 {
				activity, err = client.Repository.ListActivityByItem(contextOf(cmd), item)
			} else {
				activity, err = client.Repository.ListActivityByActor(contextOf(cmd), actor)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), activity)
		},
	}
	cmd.Flags().Uint64Var(&item, "item", 0, "item id")
	cmd.Flags().StringVar(&actor, "actor", "", "actor address")
	return cmd
}

// NewSessionCommand creates the session command
func NewSessionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "session",
		Short: "Connect the configured signer and show its roles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cmd, true)
			if err != nil {
				return err
			}
			defer client.Close()
			return printJSON(cmd.OutOrStdout(), client.Session.Snapshot())
		},
	}
}
