// Package gateway is the client side of the backend's upload API. It
// prepares a post draft the way the publishing form does and sends it to
// POST /api/uploadPostToIPFS.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"resty.dev/v3"

	"github.com/emilythestrangee/chainblog/backend/internal/ipfs"
)

const (
	MaxTags       = 5
	DefaultAuthor = "Anonymous"

	uploadPath = "/api/uploadPostToIPFS"
)

var validate = validator.New()

type PostDraft struct {
	Title   string   `validate:"required"`
	Content string   `validate:"required"`
	Author  string   `validate:"required"`
	Tags    []string `validate:"max=5,dive,required"`
}

// Normalize trims every field, keeps the first five distinct tags and
// falls back to DefaultAuthor for a blank author.
func (d PostDraft) Normalize() PostDraft {
	d.Title = strings.TrimSpace(d.Title)
	d.Content = strings.TrimSpace(d.Content)
	d.Author = strings.TrimSpace(d.Author)
	if d.Author == "" {
		d.Author = DefaultAuthor
	}

	tags := lo.Uniq(lo.FilterMap(d.Tags, func(tag string, _ int) (string, bool) {
		tag = strings.TrimSpace(tag)
		return tag, tag != ""
	}))
	if len(tags) > MaxTags {
		tags = tags[:MaxTags]
	}
	d.Tags = tags
	return d
}

type Image struct {
	Name     string
	MimeType string
	Data     []byte
}

// UploadResult is the body of a successful upload. ImageHash is empty
// when no image was sent.
type UploadResult struct {
	Message     string `json:"message"`
	IPFSHash    string `json:"ipfsHash"`
	ImageHash   string `json:"imageHash,omitempty"`
	IPFSGateway string `json:"ipfsGateway"`
}

type apiError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

type Client struct {
	client *resty.Client
}

func New(baseURL string) *Client {
	return &Client{
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(2 * time.Minute),
	}
}

// SetToken sends token as a bearer credential on every request.
func (c *Client) SetToken(token string) {
	c.client.SetAuthToken(token)
}

func (c *Client) Close() error {
	return c.client.Close()
}

// UploadPost pins the normalized draft, and image when given, through the
// backend. The call is made once; failures wrap ipfs.ErrUploadFailed.
func (c *Client) UploadPost(ctx context.Context, draft PostDraft, image *Image) (UploadResult, error) {
	draft = draft.Normalize()
	if err := validate.Struct(draft); err != nil {
		return UploadResult{}, fmt.Errorf("invalid post: %w", err)
	}

	tags, err := json.Marshal(draft.Tags)
	if err != nil {
		return UploadResult{}, err
	}

	req := c.client.R().
		WithContext(ctx).
		SetMultipartFormData(map[string]string{
			"title":   draft.Title,
			"content": draft.Content,
			"author":  draft.Author,
			"tags":    string(tags),
		}).
		SetResult(&UploadResult{})
	if image != nil && len(image.Data) > 0 {
		req.SetMultipartField("image", image.Name, image.MimeType, bytes.NewReader(image.Data))
	}

	res, err := req.Post(uploadPath)
	if err != nil {
		return UploadResult{}, fmt.Errorf("%w: %w", ipfs.ErrUploadFailed, err)
	}
	if res.IsError() {
		var body apiError
		_ = json.Unmarshal([]byte(res.String()), &body)
		msg := lo.CoalesceOrEmpty(body.Error, body.Message, res.Status())
		return UploadResult{}, fmt.Errorf("%w: %s", ipfs.ErrUploadFailed, msg)
	}
	return *res.Result().(*UploadResult), nil
}
