package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vidfriends/toptop/internal/engagement"
	"github.com/vidfriends/toptop/internal/feed"
	"github.com/vidfriends/toptop/internal/models"
)

type feedFlags struct {
	variant string
	page    int
}

func (f *feedFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.variant, "variant", string(models.FeedDesktop), "feed variant (desktop, mobile)")
	cmd.Flags().IntVar(&f.page, "page", 1, "feed page")
}

func (f *feedFlags) parse() (models.FeedVariant, error) {
	return models.ParseFeedVariant(strings.TrimSpace(f.variant))
}

func (c *cli) feedCommand() *cobra.Command {
	var flags feedFlags
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "List a page of the video feed",
		Long: `List a page of the video feed.

The desktop variant reads /videos/all, the mobile variant /users/all.

Examples:
  toptop feed
  toptop feed --variant mobile --page 2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			variant, err := flags.parse()
			if err != nil {
				return err
			}
			c.syncFollowing(ctx)

			page, err := c.deps.feed.Load(ctx, variant, flags.page)
			if err != nil {
				return err
			}

			if c.jsonOut {
				return c.printJSON(page)
			}
			if len(page.Videos) == 0 {
				c.printf("No videos found\n")
				return nil
			}

			viewer := c.viewerID()
			w := c.newTable()
			printTableHeader(w, "ID", "TITLE", "AUTHOR", "LIKES", "SAVES", "VIEWS", "FLAGS")
			for _, v := range page.Videos {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
					v.ID,
					truncate(v.Title, 32),
					c.authorLabel(v.Author),
					v.Likes,
					v.Saved,
					v.Views,
					videoFlags(v, viewer),
				)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			p := page.Pagination
			if p.TotalPages > 0 {
				c.printf("\nPage %d of %d (%d videos)\n", p.CurrentPage, p.TotalPages, p.TotalVideos)
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

// syncFollowing refreshes the following set for logged-in users. Failures
// only cost the "following" markers, so they are logged and ignored.
func (c *cli) syncFollowing(ctx context.Context) {
	user, ok := c.deps.session.User()
	if !ok || user.ID == "" || !c.deps.session.LoggedIn() {
		return
	}
	if _, err := c.deps.feed.SyncFollowing(ctx, user.ID); err != nil {
		c.deps.logger.Debug("following not synced", "error", err)
	}
}

func (c *cli) authorLabel(a models.Author) string {
	name := a.Username
	if name == "" {
		name = a.ID
	}
	if a.ID != "" && c.deps.session.IsFollowing(a.ID) {
		name += " (following)"
	}
	return name
}

func videoFlags(v models.Video, viewer string) string {
	var flags []string
	if v.LikedByUser(viewer) {
		flags = append(flags, "liked")
	}
	if v.SavedByUser(viewer) {
		flags = append(flags, "saved")
	}
	return strings.Join(flags, ",")
}

// controlsFor finds id in the first feed page so the toggle starts from the
// server's membership lists. A video outside that page starts unliked and
// unsaved.
func (c *cli) controlsFor(ctx context.Context, flags feedFlags, id string) (*engagement.Controls, error) {
	variant, err := flags.parse()
	if err != nil {
		return nil, err
	}
	video, err := c.deps.feed.Find(ctx, variant, id)
	if errors.Is(err, feed.ErrVideoNotFound) {
		video, err = models.Video{ID: id}, nil
	}
	if err != nil {
		return nil, err
	}
	return engagement.NewControls(video, c.viewerID(), c.deps.client.Videos, c.deps.notifier), nil
}

func (c *cli) printEngagement(state engagement.State) error {
	if c.jsonOut {
		return c.printJSON(state)
	}
	c.printf("%s  liked=%t saved=%t  likes=%d saves=%d shares=%d comments=%d\n",
		state.VideoID, state.Liked, state.Saved, state.Likes, state.Saves, state.Shares, state.Comments)
	return nil
}

func (c *cli) toggleCommand(use, short string, toggle func(*engagement.Controls, context.Context) error) *cobra.Command {
	var flags feedFlags
	cmd := &cobra.Command{
		Use:   use + " <video-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			controls, err := c.controlsFor(ctx, flags, args[0])
			if err != nil {
				return err
			}
			if err := toggle(controls, ctx); err != nil {
				return err
			}
			return c.printEngagement(controls.State())
		},
	}
	flags.register(cmd)
	return cmd
}

func (c *cli) likeCommand() *cobra.Command {
	return c.toggleCommand("like", "Like or unlike a video", (*engagement.Controls).ToggleLike)
}

func (c *cli) saveCommand() *cobra.Command {
	return c.toggleCommand("save", "Save or unsave a video", (*engagement.Controls).ToggleSave)
}

func (c *cli) shareCommand() *cobra.Command {
	return c.toggleCommand("share", "Share a video", (*engagement.Controls).Share)
}

func (c *cli) commentCommand() *cobra.Command {
	var flags feedFlags
	cmd := &cobra.Command{
		Use:   "comment <video-id> <text>...",
		Short: "Comment on a video",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			controls, err := c.controlsFor(ctx, flags, args[0])
			if err != nil {
				return err
			}
			if err := controls.Comment(ctx, strings.Join(args[1:], " ")); err != nil {
				return err
			}
			return c.printEngagement(controls.State())
		},
	}
	flags.register(cmd)
	return cmd
}

// screenHeight is the height of one feed item when watch scrolls to --start.
const screenHeight = 800

type watchResult struct {
	VideoID string        `json:"videoId"`
	Title   string        `json:"title"`
	Watched time.Duration `json:"watched"`
	Length  time.Duration `json:"length"`
	Counted bool          `json:"counted"`
}

func (c *cli) watchCommand() *cobra.Command {
	var (
		flags    feedFlags
		start    int
		count    int
		length   time.Duration
		fraction float64
		steps    int
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Play through the feed and report views",
		Long: `Play through a page of the feed with simulated playback.

Each video is played for --fraction of --length in --steps time updates.
A view is reported once playback crosses TOPTOP_VIEW_THRESHOLD.

Examples:
  toptop watch --count 3
  toptop watch --start 4 --fraction 0.5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			variant, err := flags.parse()
			if err != nil {
				return err
			}
			if length <= 0 || steps <= 0 || fraction < 0 {
				return errors.New("--length and --steps must be positive and --fraction not negative")
			}

			page, err := c.deps.feed.Load(ctx, variant, flags.page)
			if err != nil {
				return err
			}
			if len(page.Videos) == 0 {
				return errors.New("no videos to watch")
			}

			if start < 0 || start >= len(page.Videos) {
				return fmt.Errorf("start index %d outside page of %d videos", start, len(page.Videos))
			}
			cursor := feed.NewCursor(len(page.Videos))
			cursor.Scroll(float64(start)*screenHeight, screenHeight)

			tracker := engagement.NewViewTracker("", c.deps.cfg.ViewThreshold, c.deps.client.Videos, c.deps.events, c.deps.logger)
			player := engagement.NewPlayer(tracker, true)

			var results []watchResult
			for {
				idx := cursor.Index()
				video := page.Videos[idx]
				results = append(results, c.play(player, video, cursor.Autoplay(idx), length, fraction, steps))

				if count > 0 && len(results) >= count {
					break
				}
				if _, err := cursor.Next(); err != nil {
					if errors.Is(err, feed.ErrNoNextVideo) {
						break
					}
					return err
				}
			}

			if c.jsonOut {
				return c.printJSON(results)
			}
			w := c.newTable()
			printTableHeader(w, "ID", "TITLE", "WATCHED", "VIEW")
			for _, r := range results {
				view := "-"
				if r.Counted {
					view = "counted"
				}
				fmt.Fprintf(w, "%s\t%s\t%s/%s\t%s\n", r.VideoID, truncate(r.Title, 32), r.Watched, r.Length, view)
			}
			return w.Flush()
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&start, "start", 0, "index of the first video on the page")
	cmd.Flags().IntVar(&count, "count", 0, "number of videos to watch (0 for the whole page)")
	cmd.Flags().DurationVar(&length, "length", 15*time.Second, "simulated length of each video")
	cmd.Flags().Float64Var(&fraction, "fraction", 1, "share of each video to watch")
	cmd.Flags().IntVar(&steps, "steps", 10, "time updates per video")
	return cmd
}

// play feeds one video through the player as a sequence of time updates.
func (c *cli) play(player *engagement.Player, video models.Video, visible bool, length time.Duration, fraction float64, steps int) watchResult {
	player.SetVideo(video.ID)
	player.LoadMetadata(length)
	player.SetVisible(visible)
	defer player.SetVisible(false)

	target := time.Duration(float64(length) * fraction)
	if target > length {
		target = length
	}
	for i := 1; i <= steps; i++ {
		player.TimeUpdate(target * time.Duration(i) / time.Duration(steps))
	}

	state := player.State()
	return watchResult{
		VideoID: video.ID,
		Title:   video.Title,
		Watched: state.Position,
		Length:  state.Duration,
		Counted: state.Viewed,
	}
}
