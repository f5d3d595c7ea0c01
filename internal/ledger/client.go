package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/emilythestrangee/chainblog/backend/internal/models"
)

const DefaultTimeout = 60 * time.Second

var (
	ledgerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chainblog_ledger_calls_total",
		Help: "The total number of ledger calls by method and outcome",
	}, []string{"method", "outcome"})

	ledgerLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chainblog_ledger_call_latency",
			Help:    "Histogram of ledger call latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 15, 60},
		},
		[]string{"method"},
	)
)

// AccountListener is told about identity changes. next is the zero
// address after a disconnect.
type AccountListener func(prev, next common.Address)

type Option func(*Client)

func WithWallet(w Wallet) Option {
	return func(c *Client) { c.wallet = w }
}

// WithTimeout bounds every ledger call, including the wait for a write to
// be mined. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// Client is the typed surface over the blog contract. Reads work without
// a connection; writes need the identity established by Connect.
type Client struct {
	contract Contract
	wallet   Wallet
	timeout  time.Duration
	log      zerolog.Logger

	mu        sync.RWMutex
	account   common.Address
	connected bool
	listeners map[int]AccountListener
	nextID    int
}

func NewClient(contract Contract, opts ...Option) *Client {
	c := &Client{
		contract:  contract,
		timeout:   DefaultTimeout,
		log:       log.With().Str("component", "ledger").Logger(),
		listeners: make(map[int]AccountListener),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect asks the wallet for account access and makes its account the
// active identity.
func (c *Client) Connect(ctx context.Context) (common.Address, error) {
	if c.wallet == nil {
		return common.Address{}, ErrWalletUnavailable
	}
	account, err := run(c, ctx, "connect", func(ctx context.Context) (common.Address, error) {
		return c.wallet.Account(ctx)
	})
	if err != nil {
		return common.Address{}, err
	}
	c.setAccount(account, true)
	c.log.Info().Str("account", account.Hex()).Msg("Wallet connected")
	return account, nil
}

func (c *Client) Disconnect() {
	c.setAccount(common.Address{}, false)
}

// Address returns the active identity.
func (c *Client) Address() (common.Address, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.account, c.connected
}

// OnAccountChanged registers fn and returns a function that removes it.
func (c *Client) OnAccountChanged(fn AccountListener) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Client) setAccount(next common.Address, connected bool) {
	c.mu.Lock()
	prev := c.account
	c.account, c.connected = next, connected
	listeners := lo.Values(c.listeners)
	c.mu.Unlock()

	if prev == next {
		return
	}
	for _, fn := range listeners {
		fn(prev, next)
	}
}

// signer fetches fresh transaction options from the wallet. The wallet
// may have switched accounts since Connect; the switch is adopted here.
func (c *Client) signer(ctx context.Context) (*bind.TransactOpts, error) {
	if _, connected := c.Address(); !connected || c.wallet == nil {
		return nil, ErrNotConnected
	}
	opts, err := c.wallet.Signer(ctx)
	if err != nil {
		return nil, err
	}
	if account, _ := c.Address(); account != opts.From {
		c.log.Info().Str("from", account.Hex()).Str("to", opts.From.Hex()).Msg("Wallet account changed")
		c.setAccount(opts.From, true)
	}
	return opts, nil
}

// Refresh re-fetches the signer and returns the account it signs for,
// adopting a wallet switch the same way a write would.
func (c *Client) Refresh(ctx context.Context) (common.Address, error) {
	opts, err := c.signer(ctx)
	if err != nil {
		return common.Address{}, err
	}
	return opts.From, nil
}

// run bounds fn by the client timeout and records the outcome.
func run[T any](c *Client, ctx context.Context, method string, fn func(context.Context) (T, error)) (T, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := fn(ctx)
	ledgerLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())

	err = classify(err)
	ledgerCalls.WithLabelValues(method, outcome(err)).Inc()
	if err != nil {
		var zero T
		return zero, err
	}
	return res, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrTransactionReverted):
		return "reverted"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func (c *Client) GetPosts(ctx context.Context) ([]models.Post, error) {
	return run(c, ctx, "getAllPosts", c.contract.GetAllPosts)
}

func (c *Client) GetPost(ctx context.Context, postID uint64) (models.Post, error) {
	return run(c, ctx, "getPostById", func(ctx context.Context) (models.Post, error) {
		return c.contract.GetPostByID(ctx, postID)
	})
}

func (c *Client) GetPostsByAuthor(ctx context.Context, author string) ([]models.Post, error) {
	addr, err := ParseAddress(author)
	if err != nil {
		return nil, err
	}
	return run(c, ctx, "getPostsByUser", func(ctx context.Context) ([]models.Post, error) {
		return c.contract.GetPostsByUser(ctx, addr)
	})
}

// GetCommentsForPost returns the comments of postID in ledger order.
func (c *Client) GetCommentsForPost(ctx context.Context, postID uint64) ([]models.Comment, error) {
	comments, err := run(c, ctx, "getComments", func(ctx context.Context) ([]models.Comment, error) {
		return c.contract.GetComments(ctx, postID)
	})
	if err != nil {
		return nil, err
	}
	return lo.Filter(comments, func(cm models.Comment, _ int) bool { return cm.PostID == postID }), nil
}

func (c *Client) GetCommentsForUser(ctx context.Context, address string) ([]models.Comment, error) {
	addr, err := ParseAddress(address)
	if err != nil {
		return nil, err
	}
	return run(c, ctx, "getCommentsByUser", func(ctx context.Context) ([]models.Comment, error) {
		return c.contract.GetCommentsByUser(ctx, addr)
	})
}

func (c *Client) PostIDForComment(ctx context.Context, commentID uint64) (uint64, error) {
	return run(c, ctx, "getPostIdfromComment", func(ctx context.Context) (uint64, error) {
		return c.contract.GetPostIDFromComment(ctx, commentID)
	})
}

// HasReacted reads voter's reaction on target from the ledger.
func (c *Client) HasReacted(ctx context.Context, target models.Target, voter common.Address) (models.ReactionState, error) {
	up, down := c.contract.HasUpVoted, c.contract.HasDownVoted
	if target.Type == models.TargetComment {
		up, down = c.contract.HasUpVotedComment, c.contract.HasDownVotedComment
	}

	return run(c, ctx, "hasReacted", func(ctx context.Context) (models.ReactionState, error) {
		var state models.ReactionState
		var err error
		if state.Upvoted, err = up(ctx, target.ID, voter); err != nil {
			return state, err
		}
		if state.Downvoted, err = down(ctx, target.ID, voter); err != nil {
			return state, err
		}
		return state, nil
	})
}

// Tally reads the current counters of target.
func (c *Client) Tally(ctx context.Context, target models.Target) (models.Tally, error) {
	if target.Type != models.TargetComment {
		post, err := c.GetPost(ctx, target.ID)
		if err != nil {
			return models.Tally{}, err
		}
		return post.Tally(), nil
	}

	target, err := c.resolve(ctx, target)
	if err != nil {
		return models.Tally{}, err
	}
	comments, err := c.GetCommentsForPost(ctx, target.PostID)
	if err != nil {
		return models.Tally{}, err
	}
	comment, ok := lo.Find(comments, func(cm models.Comment) bool { return cm.ID == target.ID })
	if !ok {
		return models.Tally{}, fmt.Errorf("%s: %w", target, ErrNotFound)
	}
	return comment.Tally(), nil
}

// resolve fills in the parent post of a comment target.
func (c *Client) resolve(ctx context.Context, target models.Target) (models.Target, error) {
	if target.Type != models.TargetComment || target.PostID != 0 {
		return target, nil
	}
	postID, err := c.PostIDForComment(ctx, target.ID)
	if err != nil {
		return target, err
	}
	target.PostID = postID
	return target, nil
}

// SubmitVote casts a vote and waits for it to be mined. Duplicate votes
// are left for the ledger to reject.
func (c *Client) SubmitVote(ctx context.Context, target models.Target, d models.Direction) (Tx, error) {
	if d != models.Up && d != models.Down {
		return Tx{}, fmt.Errorf("invalid vote direction %q", d)
	}
	opts, err := c.signer(ctx)
	if err != nil {
		return Tx{}, err
	}
	target, err = c.resolve(ctx, target)
	if err != nil {
		return Tx{}, err
	}

	var method string
	var send func(context.Context) (Tx, error)
	switch {
	case target.Type == models.TargetComment && d == models.Up:
		method = "upvoteComment"
		send = func(ctx context.Context) (Tx, error) { return c.contract.UpvoteComment(ctx, opts, target.PostID, target.ID) }
	case target.Type == models.TargetComment:
		method = "downvoteComment"
		send = func(ctx context.Context) (Tx, error) { return c.contract.DownvoteComment(ctx, opts, target.PostID, target.ID) }
	case d == models.Up:
		method = "upvotePost"
		send = func(ctx context.Context) (Tx, error) { return c.contract.UpvotePost(ctx, opts, target.ID) }
	default:
		method = "downvotePost"
		send = func(ctx context.Context) (Tx, error) { return c.contract.DownvotePost(ctx, opts, target.ID) }
	}

	tx, err := run(c, ctx, method, send)
	if err != nil {
		c.log.Warn().Err(err).Str("target", target.String()).Str("direction", string(d)).Msg("Vote failed")
		return Tx{}, err
	}
	c.log.Info().Str("target", target.String()).Str("direction", string(d)).Str("tx", tx.Hash.Hex()).Msg("Vote mined")
	return tx, nil
}

// SubmitComment adds a comment under postID. Blank name or text is
// rejected before anything is sent.
func (c *Client) SubmitComment(ctx context.Context, postID uint64, name, text string) (Tx, error) {
	if strings.TrimSpace(name) == "" {
		return Tx{}, missingField("name")
	}
	if strings.TrimSpace(text) == "" {
		return Tx{}, missingField("content")
	}
	opts, err := c.signer(ctx)
	if err != nil {
		return Tx{}, err
	}
	return run(c, ctx, "addComment", func(ctx context.Context) (Tx, error) {
		return c.contract.AddComment(ctx, opts, postID, name, text)
	})
}

// SubmitPost records a post whose content was pinned as contentRef and
// returns the id the ledger assigned to it.
func (c *Client) SubmitPost(ctx context.Context, author, title, contentRef string) (PostCreated, error) {
	switch {
	case strings.TrimSpace(title) == "":
		return PostCreated{}, missingField("title")
	case strings.TrimSpace(author) == "":
		return PostCreated{}, missingField("author")
	case strings.TrimSpace(contentRef) == "":
		return PostCreated{}, missingField("ipfsHash")
	}
	opts, err := c.signer(ctx)
	if err != nil {
		return PostCreated{}, err
	}
	created, err := run(c, ctx, "createPost", func(ctx context.Context) (PostCreated, error) {
		return c.contract.CreatePost(ctx, opts, author, title, contentRef)
	})
	if err != nil {
		return PostCreated{}, err
	}
	c.log.Info().Uint64("postId", created.PostID).Str("tx", created.Hash.Hex()).Msg("Post created")
	return created, nil
}
