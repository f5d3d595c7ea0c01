package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/emilythestrangee/chainblog/backend/internal/models"
)

func (a *app) postsCmd() *cobra.Command {
	var author string
	cmd := &cobra.Command{
		Use:   "posts",
		Short: "List posts, newest last",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.ledgerClient(cmd.Context())
			if err != nil {
				return err
			}

			var posts []models.Post
			if author != "" {
				posts, err = client.GetPostsByAuthor(cmd.Context(), author)
			} else {
				posts, err = client.GetPosts(cmd.Context())
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(posts) == 0 {
				muted.Fprintln(out, "No posts yet.")
				return nil
			}
			for _, p := range posts {
				printPost(out, p)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&author, "author", "", "Only posts created by this address")
	return cmd
}

func (a *app) postCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "post <post-id>",
		Short: "Show one post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid post id %q", args[0])
			}
			client, err := a.ledgerClient(cmd.Context())
			if err != nil {
				return err
			}
			post, err := client.GetPost(cmd.Context(), id)
			if err != nil {
				return err
			}
			printPost(cmd.OutOrStdout(), post)
			return nil
		},
	}
}

func (a *app) commentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "comments <post-id>",
		Short: "List the comments of a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid post id %q", args[0])
			}
			client, err := a.ledgerClient(cmd.Context())
			if err != nil {
				return err
			}
			comments, err := client.GetCommentsForPost(cmd.Context(), id)
			if err != nil {
				return err
			}
			printComments(cmd.OutOrStdout(), comments)
			return nil
		},
	}
}

func (a *app) myCommentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "my-comments",
		Short: "List the comments written by the connected account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.connected(cmd.Context())
			if err != nil {
				return err
			}
			account, _ := client.Address()
			comments, err := client.GetCommentsForUser(cmd.Context(), account.Hex())
			if err != nil {
				return err
			}
			printComments(cmd.OutOrStdout(), comments)
			return nil
		},
	}
}

func printPost(w io.Writer, p models.Post) {
	heading.Fprintf(w, "#%d %s\n", p.ID, p.Title)
	fmt.Fprintf(w, "  by %s (%s) on %s\n", p.Author, shortAddress(p.AuthorAddress.Hex()), formatTime(p.Timestamp))
	fmt.Fprintf(w, "  ▲ %d  ▼ %d  ", p.Upvotes, p.Downvotes)
	muted.Fprintf(w, "ipfs://%s\n", p.ContentRef)
}

func printComments(w io.Writer, comments []models.Comment) {
	if len(comments) == 0 {
		muted.Fprintln(w, "No comments yet.")
		return
	}
	for _, c := range comments {
		heading.Fprintf(w, "#%d ", c.ID)
		fmt.Fprintf(w, "%s on post #%d: %s\n", c.CommenterName, c.PostID, c.Content)
		muted.Fprintf(w, "  %s, %s  ▲ %d  ▼ %d\n", shortAddress(c.CommenterAddress.Hex()), formatTime(c.Timestamp), c.Upvotes, c.Downvotes)
	}
}
