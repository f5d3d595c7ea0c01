package ledger

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emilythestrangee/chainblog/backend/internal/models"
)

var testChainID = big.NewInt(1337)

func newWallet(t *testing.T) *KeyWallet {
	t.Helper()
	w, err := GenerateKeyWallet(testChainID)
	require.NoError(t, err)
	return w
}

func connectedClient(t *testing.T, contract Contract, opts ...Option) (*Client, common.Address) {
	t.Helper()
	c := NewClient(contract, append([]Option{WithWallet(newWallet(t))}, opts...)...)
	addr, err := c.Connect(context.Background())
	require.NoError(t, err)
	return c, addr
}

func seedPost(t *testing.T, c *Client) uint64 {
	t.Helper()
	created, err := c.SubmitPost(context.Background(), "alice", "Hello", "QmHello")
	require.NoError(t, err)
	return created.PostID
}

// strayComments leaks a comment of another post into every GetComments
// result.
type strayComments struct {
	*MemoryContract
}

func (s strayComments) GetComments(ctx context.Context, postID uint64) ([]models.Comment, error) {
	comments, err := s.MemoryContract.GetComments(ctx, postID)
	if err != nil {
		return nil, err
	}
	return append(comments, models.Comment{ID: 99, PostID: postID + 1, Content: "stray"}), nil
}

// untouchableWallet fails the test when a write reaches the signer.
type untouchableWallet struct {
	t       *testing.T
	account common.Address
}

func (w untouchableWallet) Account(context.Context) (common.Address, error) {
	return w.account, nil
}

func (w untouchableWallet) Signer(context.Context) (*bind.TransactOpts, error) {
	w.t.Fatal("signer requested")
	return nil, errors.New("unreachable")
}

type switchingWallet struct {
	first, second *KeyWallet
	switched      atomic.Bool
}

func (w *switchingWallet) Account(ctx context.Context) (common.Address, error) {
	return w.first.Account(ctx)
}

func (w *switchingWallet) Signer(ctx context.Context) (*bind.TransactOpts, error) {
	if w.switched.Load() {
		return w.second.Signer(ctx)
	}
	return w.first.Signer(ctx)
}

func TestConnect(t *testing.T) {
	t.Run("no wallet", func(t *testing.T) {
		c := NewClient(NewMemoryContract())
		_, err := c.Connect(context.Background())
		assert.ErrorIs(t, err, ErrWalletUnavailable)

		_, connected := c.Address()
		assert.False(t, connected)
	})

	t.Run("establishes identity", func(t *testing.T) {
		w := newWallet(t)
		want, _ := w.Account(context.Background())

		c := NewClient(NewMemoryContract(), WithWallet(w))
		got, err := c.Connect(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, got)

		addr, connected := c.Address()
		assert.True(t, connected)
		assert.Equal(t, want, addr)
	})

	t.Run("disconnect notifies listeners", func(t *testing.T) {
		c, addr := connectedClient(t, NewMemoryContract())

		var prev, next common.Address
		unsubscribe := c.OnAccountChanged(func(p, n common.Address) { prev, next = p, n })
		c.Disconnect()
		unsubscribe()

		assert.Equal(t, addr, prev)
		assert.Equal(t, common.Address{}, next)
		_, connected := c.Address()
		assert.False(t, connected)
	})
}

func TestReadsWithoutConnection(t *testing.T) {
	memory := NewMemoryContract()
	writer, _ := connectedClient(t, memory)
	postID := seedPost(t, writer)

	reader := NewClient(memory)
	posts, err := reader.GetPosts(context.Background())
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, postID, posts[0].ID)
	assert.Equal(t, "QmHello", posts[0].ContentRef)

	_, err = reader.GetPost(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubmitRequiresConnection(t *testing.T) {
	c := NewClient(NewMemoryContract(), WithWallet(newWallet(t)))

	_, err := c.SubmitVote(context.Background(), models.PostTarget(1), models.Up)
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = c.SubmitComment(context.Background(), 1, "bob", "hi")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSubmitPost(t *testing.T) {
	c, addr := connectedClient(t, NewMemoryContract())

	first, err := c.SubmitPost(context.Background(), "alice", "First", "QmFirst")
	require.NoError(t, err)
	second, err := c.SubmitPost(context.Background(), "alice", "Second", "QmSecond")
	require.NoError(t, err)

	assert.Equal(t, uint64(1), first.PostID)
	assert.Equal(t, uint64(2), second.PostID)
	assert.Equal(t, "Second", second.Title)
	assert.NotEqual(t, common.Hash{}, second.Hash)

	mine, err := c.GetPostsByAuthor(context.Background(), addr.Hex())
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	for _, tc := range []struct{ author, title, ref string }{
		{"", "T", "Qm"},
		{"A", "  ", "Qm"},
		{"A", "T", ""},
	} {
		_, err := c.SubmitPost(context.Background(), tc.author, tc.title, tc.ref)
		assert.ErrorIs(t, err, ErrMissingField)
	}
}

func TestAtMostOneReactionPerVoter(t *testing.T) {
	c, addr := connectedClient(t, NewMemoryContract())
	postID := seedPost(t, c)
	target := models.PostTarget(postID)

	_, err := c.SubmitVote(context.Background(), target, models.Up)
	require.NoError(t, err)

	for _, d := range []models.Direction{models.Up, models.Down} {
		_, err = c.SubmitVote(context.Background(), target, d)
		assert.ErrorIs(t, err, ErrTransactionReverted)
		reason, ok := RevertReason(err)
		assert.True(t, ok)
		assert.Equal(t, "Already voted", reason)
	}

	state, err := c.HasReacted(context.Background(), target, addr)
	require.NoError(t, err)
	assert.Equal(t, models.ReactionState{Upvoted: true}, state)

	tally, err := c.Tally(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, models.Tally{Upvotes: 1}, tally)
}

func TestHasReactedAfterVote(t *testing.T) {
	memory := NewMemoryContract()
	c, addr := connectedClient(t, memory)
	postID := seedPost(t, c)
	_, err := c.SubmitComment(context.Background(), postID, "bob", "nice")
	require.NoError(t, err)

	tests := []struct {
		name   string
		target models.Target
		dir    models.Direction
		want   models.ReactionState
	}{
		{"post downvote", models.PostTarget(postID), models.Down, models.ReactionState{Downvoted: true}},
		{"comment upvote", models.CommentTarget(postID, 1), models.Up, models.ReactionState{Upvoted: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before, err := c.HasReacted(context.Background(), tt.target, addr)
			require.NoError(t, err)
			assert.False(t, before.Any())

			_, err = c.SubmitVote(context.Background(), tt.target, tt.dir)
			require.NoError(t, err)

			after, err := c.HasReacted(context.Background(), tt.target, addr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, after)
		})
	}
}

func TestCommentVoteResolvesParentPost(t *testing.T) {
	c, _ := connectedClient(t, NewMemoryContract())
	seedPost(t, c)
	postID := seedPost(t, c)
	_, err := c.SubmitComment(context.Background(), postID, "bob", "second post comment")
	require.NoError(t, err)

	target := models.Target{Type: models.TargetComment, ID: 1}
	_, err = c.SubmitVote(context.Background(), target, models.Down)
	require.NoError(t, err)

	tally, err := c.Tally(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, models.Tally{Downvotes: 1}, tally)

	parent, err := c.PostIDForComment(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, postID, parent)
}

func TestGetCommentsForPostFiltersForeignComments(t *testing.T) {
	memory := NewMemoryContract()
	c, _ := connectedClient(t, strayComments{memory})
	first := seedPost(t, c)
	second := seedPost(t, c)

	for _, postID := range []uint64{first, second, first} {
		_, err := c.SubmitComment(context.Background(), postID, "bob", "hi")
		require.NoError(t, err)
	}

	comments, err := c.GetCommentsForPost(context.Background(), first)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	for _, cm := range comments {
		assert.Equal(t, first, cm.PostID)
	}
	assert.Equal(t, []uint64{1, 3}, []uint64{comments[0].ID, comments[1].ID})
}

func TestConcurrentVotesOneWins(t *testing.T) {
	memory := NewMemoryContract()
	c, _ := connectedClient(t, memory)
	postID := seedPost(t, c)
	memory.SetMineDelay(20 * time.Millisecond)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.SubmitVote(context.Background(), models.PostTarget(postID), models.Up)
		}(i)
	}
	wg.Wait()

	var ok, reverted int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrTransactionReverted):
			reverted++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, reverted)

	post, err := c.GetPost(context.Background(), postID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), post.Upvotes)
}

func TestEmptyCommentRejectedBeforeNetwork(t *testing.T) {
	memory := NewMemoryContract()
	c := NewClient(memory, WithWallet(untouchableWallet{t: t, account: common.HexToAddress("0x01")}))
	_, err := c.Connect(context.Background())
	require.NoError(t, err)

	for _, tc := range []struct{ name, text string }{
		{"bob", ""},
		{"bob", "   "},
		{"", "hello"},
	} {
		_, err := c.SubmitComment(context.Background(), 1, tc.name, tc.text)
		assert.ErrorIs(t, err, ErrMissingField)
	}

	comments, err := memory.GetCommentsByUser(context.Background(), common.HexToAddress("0x01"))
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestGetCommentsForUserInvalidAddress(t *testing.T) {
	c := NewClient(NewMemoryContract())

	for _, addr := range []string{"", "0x123", "not-an-address"} {
		_, err := c.GetCommentsForUser(context.Background(), addr)
		assert.ErrorIs(t, err, ErrInvalidAddress, addr)
	}

	comments, err := c.GetCommentsForUser(context.Background(), "0x000000000000000000000000000000000000dEaD")
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestTimeoutIsNotRevert(t *testing.T) {
	memory := NewMemoryContract()
	c, _ := connectedClient(t, memory, WithTimeout(20*time.Millisecond))
	postID := seedPost(t, c)
	memory.SetMineDelay(time.Second)

	_, err := c.SubmitVote(context.Background(), models.PostTarget(postID), models.Up)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrTransactionReverted)
}

func TestSignerSwitchUpdatesAccount(t *testing.T) {
	w := &switchingWallet{first: newWallet(t), second: newWallet(t)}
	c := NewClient(NewMemoryContract(), WithWallet(w))
	first, err := c.Connect(context.Background())
	require.NoError(t, err)

	var changes [][2]common.Address
	c.OnAccountChanged(func(prev, next common.Address) {
		changes = append(changes, [2]common.Address{prev, next})
	})

	w.switched.Store(true)
	created, err := c.SubmitPost(context.Background(), "alice", "T", "QmT")
	require.NoError(t, err)

	second, _ := w.second.Account(context.Background())
	current, _ := c.Address()
	assert.Equal(t, second, current)
	require.Len(t, changes, 1)
	assert.Equal(t, [2]common.Address{first, second}, changes[0])

	post, err := c.GetPost(context.Background(), created.PostID)
	require.NoError(t, err)
	assert.Equal(t, second, post.AuthorAddress)
}

func TestRefreshAdoptsWalletSwitch(t *testing.T) {
	w := &switchingWallet{first: newWallet(t), second: newWallet(t)}
	c := NewClient(NewMemoryContract(), WithWallet(w))
	first, err := c.Connect(context.Background())
	require.NoError(t, err)

	got, err := c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, got)

	w.switched.Store(true)
	second, _ := w.second.Account(context.Background())
	got, err = c.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, second, got)

	current, _ := c.Address()
	assert.Equal(t, second, current)
}
