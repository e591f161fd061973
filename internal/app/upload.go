package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vidfriends/toptop/internal/ability"
	"github.com/vidfriends/toptop/internal/api"
)

func (c *cli) uploadCommand() *cobra.Command {
	var title, desc string
	cmd := &cobra.Command{
		Use:   "upload <location>",
		Short: "Upload a short video",
		Long: `Upload a short video.

The location may be a local path, an s3://bucket/key object or a web page
URL that yt-dlp can download. For web pages the page title and description
are used unless --title or --desc is given.

Examples:
  toptop upload ./clip.mp4 --title "Morning run"
  toptop upload s3://media/raw/clip.mp4 --title "From the bucket"
  toptop upload https://example.com/watch?v=42`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := c.require(ability.ActionCreate, ability.SubjectShortVideo); err != nil {
				return err
			}

			asset, err := c.deps.media.Open(ctx, args[0])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[0], err)
			}
			defer asset.Close()

			if strings.TrimSpace(title) == "" {
				title = asset.Title
			}
			if !cmd.Flags().Changed("desc") {
				desc = asset.Description
			}

			if !c.jsonOut {
				fmt.Fprintf(c.stderr, "Uploading %s (%d bytes)...\n", asset.Name, asset.Size)
			}
			result, err := c.deps.client.Users.Upload(ctx, api.UploadRequest{
				Title: title,
				Desc:  desc,
				File:  &api.FilePart{Filename: asset.Name, Content: asset},
			})
			if err != nil {
				return fmt.Errorf("upload: %w", err)
			}
			c.deps.feed.Invalidate()

			if c.jsonOut {
				return c.printJSON(result)
			}
			msg := result.Message
			if msg == "" {
				msg = "Video uploaded."
			}
			c.printf("%s\n", msg)
			if result.Video != nil && result.Video.ID != "" {
				c.printf("Video id: %s\n", result.Video.ID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "video title")
	cmd.Flags().StringVar(&desc, "desc", "", "video description")
	return cmd
}

func (c *cli) canCommand() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "can [action:subject | action subject]",
		Short: "Check what the current session may do",
		Long: `Check a permission of the current session, or list all grants.

Examples:
  toptop can create:ShortVideo
  toptop can read Profile
  toptop can --all`,
		Args: cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ab := c.ability()
			if all || len(args) == 0 {
				grants := ab.Grants()
				if c.jsonOut {
					return c.printJSON(map[string]any{"role": ab.Role(), "grants": grants})
				}
				c.printf("Role %s\n", ab.Role())
				for _, g := range grants {
					c.printf("  %s\n", g)
				}
				return nil
			}

			grantArg := args[0]
			if len(args) == 2 {
				grantArg = args[0] + ":" + args[1]
			}
			grant, err := ability.ParseGrant(grantArg)
			if err != nil {
				return err
			}
			allowed := ab.Can(grant.Action, grant.Subject)

			if c.jsonOut {
				return c.printJSON(map[string]any{"role": ab.Role(), "grant": grant, "allowed": allowed})
			}
			if allowed {
				c.printf("yes: %s may %s\n", ab.Role(), grant)
			} else {
				c.printf("no: %s may not %s\n", ab.Role(), grant)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list every grant of the current role")
	return cmd
}
