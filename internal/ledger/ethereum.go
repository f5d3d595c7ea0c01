package ledger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/samber/lo"

	"github.com/emilythestrangee/chainblog/backend/internal/models"
)

//go:embed blog_abi.json
var blogABIJSON string

const postCreatedEvent = "Postcreation"

// ParseBlogABI returns the blog contract's ABI.
func ParseBlogABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(blogABIJSON))
}

// Backend is what EthContract needs from a node connection. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// postRecord and commentRecord mirror the contract's Post and Comment
// structs; field names follow the ABI component names.
type postRecord struct {
	Id            *big.Int
	Author        string
	Title         string
	IpfsHash      string
	AuthorAddress common.Address
	Upvote        *big.Int
	Downvote      *big.Int
	Timestamp     *big.Int
}

func (r postRecord) model() models.Post {
	return models.Post{
		ID:            bigUint(r.Id),
		Author:        r.Author,
		AuthorAddress: r.AuthorAddress,
		Title:         r.Title,
		ContentRef:    r.IpfsHash,
		Upvotes:       bigUint(r.Upvote),
		Downvotes:     bigUint(r.Downvote),
		Timestamp:     bigInt(r.Timestamp),
	}
}

type commentRecord struct {
	Id               *big.Int
	PostId           *big.Int
	CommenterAddress common.Address
	CommenterName    string
	Content          string
	Upvote           *big.Int
	Downvote         *big.Int
	Timestamp        *big.Int
}

func (r commentRecord) model() models.Comment {
	return models.Comment{
		ID:               bigUint(r.Id),
		PostID:           bigUint(r.PostId),
		CommenterName:    r.CommenterName,
		CommenterAddress: r.CommenterAddress,
		Content:          r.Content,
		Upvotes:          bigUint(r.Upvote),
		Downvotes:        bigUint(r.Downvote),
		Timestamp:        bigInt(r.Timestamp),
	}
}

type postCreation struct {
	PostId    *big.Int
	Title     string
	Author    string
	Timestamp *big.Int
}

// EthContract talks to the deployed blog contract over JSON-RPC.
type EthContract struct {
	address  common.Address
	backend  Backend
	abi      abi.ABI
	contract *bind.BoundContract
	closer   func()
}

// DialEthContract connects to rpcURL and binds the contract at address.
func DialEthContract(ctx context.Context, rpcURL string, address common.Address) (*EthContract, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("error connecting to rpc node: %w", err)
	}

	c, err := NewEthContract(client, address)
	if err != nil {
		client.Close()
		return nil, err
	}
	c.closer = client.Close
	return c, nil
}

func NewEthContract(backend Backend, address common.Address) (*EthContract, error) {
	parsed, err := ParseBlogABI()
	if err != nil {
		return nil, fmt.Errorf("error parsing contract abi: %w", err)
	}

	return &EthContract{
		address:  address,
		backend:  backend,
		abi:      parsed,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
	}, nil
}

func (c *EthContract) Address() common.Address {
	return c.address
}

func (c *EthContract) Close() {
	if c.closer != nil {
		c.closer()
	}
}

func (c *EthContract) call(ctx context.Context, method string, params ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, params...); err != nil {
		return nil, callError(method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", method)
	}
	return out, nil
}

func (c *EthContract) transact(ctx context.Context, opts *bind.TransactOpts, method string, params ...interface{}) (*types.Receipt, error) {
	if opts == nil {
		return nil, ErrNotConnected
	}
	signer := *opts
	signer.Context = ctx

	tx, err := c.contract.Transact(&signer, method, params...)
	if err != nil {
		return nil, callError(method, err)
	}

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		return nil, fmt.Errorf("%s: waiting for %s: %w", method, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, &RevertError{Method: method, Reason: "execution failed", TxHash: tx.Hash()}
	}
	return receipt, nil
}

func (c *EthContract) posts(ctx context.Context, method string, params ...interface{}) ([]models.Post, error) {
	out, err := c.call(ctx, method, params...)
	if err != nil {
		return nil, err
	}
	records := *abi.ConvertType(out[0], new([]postRecord)).(*[]postRecord)
	return lo.Map(records, func(r postRecord, _ int) models.Post { return r.model() }), nil
}

func (c *EthContract) comments(ctx context.Context, method string, params ...interface{}) ([]models.Comment, error) {
	out, err := c.call(ctx, method, params...)
	if err != nil {
		return nil, err
	}
	records := *abi.ConvertType(out[0], new([]commentRecord)).(*[]commentRecord)
	return lo.Map(records, func(r commentRecord, _ int) models.Comment { return r.model() }), nil
}

func (c *EthContract) flag(ctx context.Context, method string, id uint64, voter common.Address) (bool, error) {
	out, err := c.call(ctx, method, new(big.Int).SetUint64(id), voter)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

func (c *EthContract) GetAllPosts(ctx context.Context) ([]models.Post, error) {
	return c.posts(ctx, "getAllPosts")
}

func (c *EthContract) GetPostsByUser(ctx context.Context, author common.Address) ([]models.Post, error) {
	return c.posts(ctx, "getPostsByUser", author)
}

func (c *EthContract) GetPostByID(ctx context.Context, postID uint64) (models.Post, error) {
	out, err := c.call(ctx, "getPostById", new(big.Int).SetUint64(postID))
	if err != nil {
		if errors.Is(err, ErrTransactionReverted) {
			return models.Post{}, fmt.Errorf("post %d: %w", postID, ErrNotFound)
		}
		return models.Post{}, err
	}
	post := (*abi.ConvertType(out[0], new(postRecord)).(*postRecord)).model()
	// unset mapping slots come back zeroed
	if post.ID == 0 && post.Timestamp == 0 {
		return models.Post{}, fmt.Errorf("post %d: %w", postID, ErrNotFound)
	}
	return post, nil
}

func (c *EthContract) GetComments(ctx context.Context, postID uint64) ([]models.Comment, error) {
	return c.comments(ctx, "getComments", new(big.Int).SetUint64(postID))
}

func (c *EthContract) GetCommentsByUser(ctx context.Context, commenter common.Address) ([]models.Comment, error) {
	return c.comments(ctx, "getCommentsByUser", commenter)
}

func (c *EthContract) GetPostIDFromComment(ctx context.Context, commentID uint64) (uint64, error) {
	out, err := c.call(ctx, "getPostIdfromComment", new(big.Int).SetUint64(commentID))
	if err != nil {
		if errors.Is(err, ErrTransactionReverted) {
			return 0, fmt.Errorf("comment %d: %w", commentID, ErrNotFound)
		}
		return 0, err
	}
	postID := bigUint(*abi.ConvertType(out[0], new(*big.Int)).(**big.Int))
	if postID == 0 {
		return 0, fmt.Errorf("comment %d: %w", commentID, ErrNotFound)
	}
	return postID, nil
}

func (c *EthContract) HasUpVoted(ctx context.Context, postID uint64, voter common.Address) (bool, error) {
	return c.flag(ctx, "hasUpVoted", postID, voter)
}

func (c *EthContract) HasDownVoted(ctx context.Context, postID uint64, voter common.Address) (bool, error) {
	return c.flag(ctx, "hasDownVoted", postID, voter)
}

func (c *EthContract) HasUpVotedComment(ctx context.Context, commentID uint64, voter common.Address) (bool, error) {
	return c.flag(ctx, "hasUpVotedComment", commentID, voter)
}

func (c *EthContract) HasDownVotedComment(ctx context.Context, commentID uint64, voter common.Address) (bool, error) {
	return c.flag(ctx, "hasDownVotedComment", commentID, voter)
}

func (c *EthContract) CreatePost(ctx context.Context, opts *bind.TransactOpts, author, title, contentRef string) (PostCreated, error) {
	receipt, err := c.transact(ctx, opts, "createPost", author, title, contentRef)
	if err != nil {
		return PostCreated{}, err
	}

	created, err := c.parsePostCreated(receipt)
	if err != nil {
		return PostCreated{}, err
	}
	created.Tx = txFromReceipt(receipt)
	return created, nil
}

func (c *EthContract) parsePostCreated(receipt *types.Receipt) (PostCreated, error) {
	event, ok := c.abi.Events[postCreatedEvent]
	if !ok {
		return PostCreated{}, fmt.Errorf("abi has no %s event", postCreatedEvent)
	}

	for _, entry := range receipt.Logs {
		if entry == nil || len(entry.Topics) == 0 || entry.Topics[0] != event.ID {
			continue
		}
		var ev postCreation
		if err := c.contract.UnpackLog(&ev, postCreatedEvent, *entry); err != nil {
			return PostCreated{}, fmt.Errorf("error decoding %s event: %w", postCreatedEvent, err)
		}
		return PostCreated{
			PostID:    bigUint(ev.PostId),
			Title:     ev.Title,
			Author:    ev.Author,
			Timestamp: bigInt(ev.Timestamp),
		}, nil
	}
	return PostCreated{}, fmt.Errorf("%s event not found in receipt %s", postCreatedEvent, receipt.TxHash.Hex())
}

func (c *EthContract) AddComment(ctx context.Context, opts *bind.TransactOpts, postID uint64, name, text string) (Tx, error) {
	return c.write(ctx, opts, "addComment", new(big.Int).SetUint64(postID), name, text)
}

func (c *EthContract) UpvotePost(ctx context.Context, opts *bind.TransactOpts, postID uint64) (Tx, error) {
	return c.write(ctx, opts, "upvotePost", new(big.Int).SetUint64(postID))
}

func (c *EthContract) DownvotePost(ctx context.Context, opts *bind.TransactOpts, postID uint64) (Tx, error) {
	return c.write(ctx, opts, "downvotePost", new(big.Int).SetUint64(postID))
}

func (c *EthContract) UpvoteComment(ctx context.Context, opts *bind.TransactOpts, postID, commentID uint64) (Tx, error) {
	return c.write(ctx, opts, "upvoteComment", new(big.Int).SetUint64(postID), new(big.Int).SetUint64(commentID))
}

func (c *EthContract) DownvoteComment(ctx context.Context, opts *bind.TransactOpts, postID, commentID uint64) (Tx, error) {
	return c.write(ctx, opts, "downvoteComment", new(big.Int).SetUint64(postID), new(big.Int).SetUint64(commentID))
}

func (c *EthContract) write(ctx context.Context, opts *bind.TransactOpts, method string, params ...interface{}) (Tx, error) {
	receipt, err := c.transact(ctx, opts, method, params...)
	if err != nil {
		return Tx{}, err
	}
	return txFromReceipt(receipt), nil
}

func txFromReceipt(receipt *types.Receipt) Tx {
	tx := Tx{Hash: receipt.TxHash}
	if receipt.BlockNumber != nil {
		tx.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return tx
}

// callError turns node-reported reverts into *RevertError, decoding the
// Error(string) payload when the node returns it.
func callError(method string, err error) error {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		reason := dataErr.Error()
		if raw, ok := dataErr.ErrorData().(string); ok {
			if data, decodeErr := hexutil.Decode(raw); decodeErr == nil {
				if unpacked, unpackErr := abi.UnpackRevert(data); unpackErr == nil {
					reason = unpacked
				}
			}
		}
		return &RevertError{Method: method, Reason: reason}
	}
	if strings.Contains(err.Error(), "execution reverted") {
		return &RevertError{Method: method, Reason: err.Error()}
	}
	return fmt.Errorf("%s: %w", method, err)
}

func bigUint(v *big.Int) uint64 {
	if v == nil {
		return 0
	}
	return v.Uint64()
}

func bigInt(v *big.Int) int64 {
	if v == nil {
		return 0
	}
	return v.Int64()
}
