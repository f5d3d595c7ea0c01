package cli

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/emilythestrangee/chainblog/backend/internal/gateway"
	"github.com/emilythestrangee/chainblog/backend/internal/ledger"
	"github.com/emilythestrangee/chainblog/backend/internal/models"
	"github.com/emilythestrangee/chainblog/backend/internal/reaction"
)

func (a *app) connectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Unlock the wallet and print the active account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.connected(cmd.Context())
			if err != nil {
				return err
			}
			account, _ := client.Address()
			success.Fprintf(cmd.OutOrStdout(), "Connected as %s\n", account.Hex())
			return nil
		},
	}
}

// parseTarget reads "<post|comment> <id>" and the optional parent post.
func parseTarget(typ, id string, postID uint64) (models.Target, error) {
	targetType, err := models.ParseTargetType(typ)
	if err != nil {
		return models.Target{}, err
	}
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil {
		return models.Target{}, fmt.Errorf("invalid %s id %q", targetType, id)
	}
	if targetType == models.TargetComment {
		return models.CommentTarget(postID, n), nil
	}
	return models.PostTarget(n), nil
}

func (a *app) reactionCmd() *cobra.Command {
	var postID uint64
	cmd := &cobra.Command{
		Use:   "reaction <post|comment> <id>",
		Short: "Show the counters of a target and how the connected account reacted",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseTarget(args[0], args[1], postID)
			if err != nil {
				return err
			}
			client, err := a.ledgerClient(cmd.Context())
			if err != nil {
				return err
			}
			// identity is optional here, a refused or broken wallet is not
			if _, err := client.Connect(cmd.Context()); err != nil && !errors.Is(err, ledger.ErrWalletUnavailable) {
				return err
			}

			r := reaction.NewReconciler(client)
			defer r.Close()
			entry, err := r.Observe(cmd.Context(), target)
			if err != nil {
				return err
			}
			printEntry(cmd.OutOrStdout(), entry)
			return nil
		},
	}
	cmd.Flags().Uint64Var(&postID, "post-id", 0, "Parent post of a comment target")
	return cmd
}

func (a *app) voteCmd() *cobra.Command {
	var postID uint64
	cmd := &cobra.Command{
		Use:   "vote <post|comment> <id> <up|down>",
		Short: "Upvote or downvote a post or comment, once",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseTarget(args[0], args[1], postID)
			if err != nil {
				return err
			}
			d, err := models.ParseDirection(args[2])
			if err != nil {
				return err
			}
			client, err := a.connected(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			r := reaction.NewReconciler(client)
			defer r.Close()
			entry, err := r.Vote(cmd.Context(), target, d)
			switch {
			case errors.Is(err, ledger.ErrAlreadyReacted):
				prev, _ := entry.Reaction.Direction()
				warn.Fprintf(out, "Already voted %s on %s\n", prev, target)
			case err != nil:
				if reason, ok := ledger.RevertReason(err); ok {
					warn.Fprintf(out, "Vote rejected by the ledger: %s\n", reason)
				}
			default:
				success.Fprintf(out, "Voted %s on %s\n", d, target)
				muted.Fprintf(out, "tx %s\n", entry.TxHash.Hex())
			}
			printEntry(out, entry)
			return err
		},
	}
	cmd.Flags().Uint64Var(&postID, "post-id", 0, "Parent post of a comment target, looked up when omitted")
	return cmd
}

func printEntry(w io.Writer, e reaction.Entry) {
	fmt.Fprintf(w, "%s  ▲ %d  ▼ %d", e.Target, e.Tally.Upvotes, e.Tally.Downvotes)
	if e.Optimistic {
		muted.Fprint(w, " (estimated)")
	}
	fmt.Fprintln(w)
	if d, ok := e.Reaction.Direction(); ok {
		fmt.Fprintf(w, "your vote: %s\n", d)
	}
}

func (a *app) commentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "comment <post-id> <name> <text>",
		Short: "Comment on a post",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			postID, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid post id %q", args[0])
			}
			client, err := a.connected(cmd.Context())
			if err != nil {
				return err
			}
			tx, err := client.SubmitComment(cmd.Context(), postID, args[1], args[2])
			if err != nil {
				return err
			}
			success.Fprintf(cmd.OutOrStdout(), "Comment added to post #%d\n", postID)
			muted.Fprintf(cmd.OutOrStdout(), "tx %s\n", tx.Hash.Hex())
			return nil
		},
	}
}

func (a *app) publishCmd() *cobra.Command {
	var (
		draft       gateway.PostDraft
		tags        string
		contentFile string
		imagePath   string
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Pin a post through the API and record it on the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if contentFile != "" {
				body, err := os.ReadFile(contentFile)
				if err != nil {
					return err
				}
				draft.Content = string(body)
			}
			draft.Tags = splitTags(tags)
			draft = draft.Normalize()

			var image *gateway.Image
			if imagePath != "" {
				data, err := os.ReadFile(imagePath)
				if err != nil {
					return err
				}
				image = &gateway.Image{
					Name:     filepath.Base(imagePath),
					MimeType: http.DetectContentType(data),
					Data:     data,
				}
			}

			client, err := a.connected(cmd.Context())
			if err != nil {
				return err
			}

			api := gateway.New(a.apiURL)
			defer api.Close()
			if a.apiToken != "" {
				api.SetToken(a.apiToken)
			}

			out := cmd.OutOrStdout()
			uploaded, err := api.UploadPost(cmd.Context(), draft, image)
			if err != nil {
				return err
			}
			muted.Fprintf(out, "Pinned %s\n", uploaded.IPFSGateway)

			created, err := client.SubmitPost(cmd.Context(), draft.Author, draft.Title, uploaded.IPFSHash)
			if err != nil {
				return fmt.Errorf("post pinned as %s but not recorded: %w", uploaded.IPFSHash, err)
			}
			success.Fprintf(out, "Published post #%d\n", created.PostID)
			muted.Fprintf(out, "tx %s\n", created.Hash.Hex())
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&draft.Title, "title", "", "Post title")
	f.StringVar(&draft.Content, "content", "", "Post body")
	f.StringVar(&contentFile, "content-file", "", "Read the post body from a file")
	f.StringVar(&draft.Author, "author", "", "Display name, Anonymous when empty")
	f.StringVar(&tags, "tags", "", "Comma separated tags, at most 5")
	f.StringVar(&imagePath, "image", "", "Cover image to pin with the post")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}
