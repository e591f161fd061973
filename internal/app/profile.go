package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vidfriends/toptop/internal/ability"
	"github.com/vidfriends/toptop/internal/api"
	"github.com/vidfriends/toptop/internal/engagement"
	"github.com/vidfriends/toptop/internal/models"
)

func (c *cli) profileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show your profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.require(ability.ActionRead, ability.SubjectProfile); err != nil {
				return err
			}
			user, err := c.deps.client.Users.Profile(cmd.Context())
			if err != nil {
				return fmt.Errorf("load profile: %w", err)
			}
			return c.printUser(user)
		},
	}
	cmd.AddCommand(c.profileUpdateCommand())
	return cmd
}

func (c *cli) profileUpdateCommand() *cobra.Command {
	var (
		update api.ProfileUpdate
		avatar string
	)
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Edit username, bio and avatar",
		Long: `Edit your profile. --avatar accepts a local path or an s3://bucket/key
location.

Examples:
  toptop profile update --username dancer --bio "I post dance clips"
  toptop profile update --avatar ./me.png`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := c.require(ability.ActionRead, ability.SubjectProfile); err != nil {
				return err
			}
			user, err := c.viewer(ctx)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("username") {
				update.Username = user.Username
			}
			if !cmd.Flags().Changed("bio") {
				update.Bio = user.Bio
			}

			if avatar != "" {
				asset, err := c.deps.media.Open(ctx, avatar)
				if err != nil {
					return fmt.Errorf("open avatar: %w", err)
				}
				defer asset.Close()
				update.Avatar = &api.FilePart{Filename: asset.Name, Content: asset}
			}

			updated, err := c.deps.client.Users.UpdateProfile(ctx, user.ID, update)
			if err != nil {
				return fmt.Errorf("update profile: %w", err)
			}
			if !c.jsonOut {
				c.printf("Profile updated\n")
			}
			return c.printUser(updated)
		},
	}
	cmd.Flags().StringVar(&update.Username, "username", "", "new username")
	cmd.Flags().StringVar(&update.Bio, "bio", "", "new bio")
	cmd.Flags().StringVar(&avatar, "avatar", "", "avatar image location")
	return cmd
}

func (c *cli) printUser(user models.User) error {
	if c.jsonOut {
		return c.printJSON(user)
	}
	w := c.newTable()
	fmt.Fprintf(w, "ID\t%s\n", user.ID)
	fmt.Fprintf(w, "USERNAME\t%s\n", user.Username)
	fmt.Fprintf(w, "EMAIL\t%s\n", user.Email)
	if user.Bio != "" {
		fmt.Fprintf(w, "BIO\t%s\n", user.Bio)
	}
	if user.Avatar != "" {
		fmt.Fprintf(w, "AVATAR\t%s\n", user.Avatar)
	}
	fmt.Fprintf(w, "FOLLOWERS\t%d\n", user.FollowersCount)
	fmt.Fprintf(w, "FOLLOWING\t%d\n", user.FollowingCount)
	fmt.Fprintf(w, "LIKES\t%d\n", user.LikesCount)
	return w.Flush()
}

func (c *cli) followingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "following",
		Short: "Refresh and list the accounts you follow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			user, err := c.viewer(ctx)
			if err != nil {
				return err
			}
			ids, err := c.deps.feed.SyncFollowing(ctx, user.ID)
			if err != nil {
				return err
			}

			if c.jsonOut {
				return c.printJSON(map[string]any{"following": ids, "count": len(ids)})
			}
			if len(ids) == 0 {
				c.printf("You are not following anyone yet\n")
				return nil
			}
			for _, id := range ids {
				c.printf("%s\n", id)
			}
			return nil
		},
	}
}

func (c *cli) followCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "follow <author-id>",
		Short: "Follow a video author",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !c.deps.session.LoggedIn() {
				return fmt.Errorf("%w: log in to follow authors", api.ErrNotLoggedIn)
			}
			control := engagement.NewFollowControl(c.deps.client.Users, c.deps.session, c.deps.notifier)
			if control.IsFollowing(args[0]) {
				if c.jsonOut {
					return c.printJSON(map[string]any{"authorId": args[0], "following": true})
				}
				c.printf("Already following %s\n", args[0])
				return nil
			}
			if err := control.Follow(cmd.Context(), args[0]); err != nil {
				return err
			}
			if c.jsonOut {
				return c.printJSON(map[string]any{"authorId": args[0], "following": true})
			}
			return nil
		},
	}
}
