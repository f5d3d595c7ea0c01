package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emilythestrangee/chainblog/backend/internal/events"
	"github.com/emilythestrangee/chainblog/backend/internal/ipfs"
	"github.com/emilythestrangee/chainblog/backend/internal/ledger"
	"github.com/emilythestrangee/chainblog/backend/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeUploader struct {
	mu     sync.Mutex
	docs   []models.PostMetadata
	names  []string
	labels []map[string]string
	images []string
	fail   error
}

func (f *fakeUploader) UploadJSON(_ context.Context, v any, opts ipfs.Options) (ipfs.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return ipfs.Artifact{}, f.fail
	}
	f.docs = append(f.docs, v.(models.PostMetadata))
	f.names = append(f.names, opts.Name)
	f.labels = append(f.labels, opts.KeyValues)
	return ipfs.NewArtifact(fmt.Sprintf("QmDoc%d", len(f.docs))), nil
}

func (f *fakeUploader) UploadImage(_ context.Context, data []byte, filename, _ string) (ipfs.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return ipfs.Artifact{}, f.fail
	}
	f.images = append(f.images, filename)
	return ipfs.NewArtifact("QmImage" + filename), nil
}

type memoryUploads struct {
	mu      sync.Mutex
	uploads []models.Upload
}

func (m *memoryUploads) SaveUpload(_ context.Context, upload *models.Upload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads = append(m.uploads, *upload)
	return nil
}

func (m *memoryUploads) ListUploads(_ context.Context, kind string, limit int) ([]models.Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Upload
	for i := len(m.uploads) - 1; i >= 0 && len(out) < limit; i-- {
		if kind == "" || m.uploads[i].Kind == kind {
			out = append(out, m.uploads[i])
		}
	}
	return out, nil
}

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type staticResolver map[string]models.PostMetadata

func (r staticResolver) Metadata(_ context.Context, cid string) (models.PostMetadata, error) {
	meta, ok := r[cid]
	if !ok {
		return models.PostMetadata{}, errors.New("unknown cid")
	}
	return meta, nil
}

type fixture struct {
	router   *gin.Engine
	ledger   *ledger.Client
	account  common.Address
	uploader *fakeUploader
	uploads  *memoryUploads
	events   *recordingPublisher
}

func newFixture(t *testing.T, local bool, resolver MetadataResolver) *fixture {
	t.Helper()

	wallet, err := ledger.GenerateKeyWallet(big.NewInt(1337))
	require.NoError(t, err)
	client := ledger.NewClient(ledger.NewMemoryContract(), ledger.WithWallet(wallet))
	account, err := client.Connect(context.Background())
	require.NoError(t, err)

	f := &fixture{
		ledger:   client,
		account:  account,
		uploader: &fakeUploader{},
		uploads:  &memoryUploads{},
		events:   &recordingPublisher{},
	}
	h := NewHandler(Deps{
		Ledger:   client,
		Uploader: f.uploader,
		Uploads:  f.uploads,
		Resolver: resolver,
		Events:   f.events,
		Local:    local,
	})

	r := gin.New()
	api := r.Group("/api")
	api.POST("/uploadPostToIPFS", h.Upload.UploadPostToIPFS)
	api.GET("/uploads", h.Upload.ListUploads)
	api.POST("/uploadPostToBlockchain", h.Post.CreatePostOnBlockchain)
	api.GET("/getallpost", h.Post.GetAllPosts)
	api.GET("/getpostofuser/:address", h.Post.GetPostsOfUser)
	api.GET("/getpostbyid/:postId", h.Post.GetPostByID)
	api.GET("/comments/:postId", h.Comment.GetCommentsFromPost)
	api.GET("/comments/user/:address", h.Comment.GetCommentsOfUser)
	api.GET("/comment/:commentId/post", h.Comment.GetPostOfComment)
	api.GET("/reactions/:targetType/:targetId/:address", h.Reaction.GetReaction)
	f.router = r
	return f
}

func (f *fixture) do(t *testing.T, req *http.Request) (int, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var body map[string]any
	if strings.HasPrefix(strings.TrimSpace(w.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w.Code, body
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func multipartRequest(t *testing.T, fields map[string]string, image []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if image != nil {
		part, err := mw.CreateFormFile("image", "cat.png")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/uploadPostToIPFS", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, path string, v any) *http.Request {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestUploadPostWithoutImage(t *testing.T) {
	f := newFixture(t, true, nil)

	code, body := f.do(t, multipartRequest(t, map[string]string{
		"title": "T", "content": "C", "author": "A", "tags": "[]",
	}, nil))

	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "QmDoc1", body["ipfsHash"])
	assert.Equal(t, "https://ipfs.io/ipfs/QmDoc1", body["ipfsGateway"])
	assert.Equal(t, "Post metadata + image uploaded to IPFS", body["message"])
	assert.NotContains(t, body, "imageHash")

	require.Len(t, f.uploader.docs, 1)
	assert.Nil(t, f.uploader.docs[0].ImageHash)
	assert.Equal(t, "post-T.json", f.uploader.names[0])
	assert.Empty(t, f.uploader.images)

	require.Len(t, f.uploads.uploads, 1)
	assert.Equal(t, models.UploadKindJSON, f.uploads.uploads[0].Kind)
	assert.Equal(t, []string{events.SubjectUploadPinned}, f.events.subjects)
}

func TestUploadPostWithImage(t *testing.T) {
	f := newFixture(t, true, nil)

	code, body := f.do(t, multipartRequest(t, map[string]string{
		"title": "T", "content": "C", "author": "A", "tags": `["go"]`,
	}, []byte("png bytes")))

	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "QmImagecat.png", body["imageHash"])

	require.Len(t, f.uploader.docs, 1)
	require.NotNil(t, f.uploader.docs[0].ImageHash)
	assert.Equal(t, "QmImagecat.png", *f.uploader.docs[0].ImageHash)

	require.Len(t, f.uploads.uploads, 2)
	assert.Equal(t, models.UploadKindImage, f.uploads.uploads[0].Kind)
	assert.Equal(t, "QmImagecat.png", f.uploads.uploads[1].ImageCID)
}

func TestUploadPostValidation(t *testing.T) {
	f := newFixture(t, true, nil)

	code, body := f.do(t, multipartRequest(t, map[string]string{"title": "T", "content": "C", "author": "A"}, nil))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Title, tags, author, and content are required", body["message"])
	assert.Empty(t, f.uploader.docs)
}

func TestUploadPostTags(t *testing.T) {
	f := newFixture(t, true, nil)

	code, body := f.do(t, multipartRequest(t, map[string]string{
		"title": "T", "content": "C", "author": "A", "tags": "go,web3",
	}, nil))
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Tags must be a JSON array of strings", body["message"])
	assert.Empty(t, f.uploader.docs)

	code, _ = f.do(t, multipartRequest(t, map[string]string{
		"title": "T", "content": "C", "author": "A", "tags": `[" go ", "", "web3"]`,
	}, nil))
	require.Equal(t, http.StatusOK, code)
	require.Len(t, f.uploader.docs, 1)
	assert.Equal(t, `["go","web3"]`, f.uploader.docs[0].Tags)
	assert.Equal(t, "go,web3", f.uploader.labels[0]["tags"])
	assert.Equal(t, `["go","web3"]`, f.uploads.uploads[0].Tags)
}

func TestListUploads(t *testing.T) {
	f := newFixture(t, true, nil)

	w := f.get(t, "/api/uploads")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	for _, title := range []string{"First", "Second"} {
		code, _ := f.do(t, multipartRequest(t, map[string]string{
			"title": title, "content": "C", "author": "A", "tags": "[]",
		}, []byte("png bytes")))
		require.Equal(t, http.StatusOK, code)
	}

	w = f.get(t, "/api/uploads?kind=json&limit=1")
	require.Equal(t, http.StatusOK, w.Code)
	var uploads []models.Upload
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &uploads))
	require.Len(t, uploads, 1)
	assert.Equal(t, "Second", uploads[0].Title)
	assert.Equal(t, models.UploadKindJSON, uploads[0].Kind)

	w = f.get(t, "/api/uploads")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &uploads))
	assert.Len(t, uploads, 4)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/uploads?kind=video").Code)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/uploads?limit=0").Code)
}

func TestUploadPostUpstreamFailure(t *testing.T) {
	f := newFixture(t, true, nil)
	f.uploader.fail = fmt.Errorf("%w: status 401", ipfs.ErrUploadFailed)

	code, body := f.do(t, multipartRequest(t, map[string]string{
		"title": "T", "content": "C", "author": "A", "tags": "[]",
	}, nil))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "Error uploading to IPFS", body["message"])
	assert.Contains(t, body["error"], "status 401")
	assert.Empty(t, f.events.subjects)
}

func TestCreatePostOnBlockchain(t *testing.T) {
	f := newFixture(t, true, nil)

	code, body := f.do(t, jsonRequest(t, "/api/uploadPostToBlockchain", gin.H{
		"title": "Hello", "author": "alice", "ipfsHash": "QmHello",
	}))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Post stored on local blockchain", body["message"])
	assert.Equal(t, "1", body["postId"])
	assert.Equal(t, "Hello", body["title"])
	assert.NotEmpty(t, body["txHash"])
	assert.Equal(t, []string{events.SubjectPostCreated}, f.events.subjects)

	post, err := f.ledger.GetPost(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "QmHello", post.ContentRef)
	assert.Equal(t, f.account, post.AuthorAddress)
}

func TestCreatePostOnBlockchainValidation(t *testing.T) {
	tests := []struct {
		name    string
		local   bool
		input   gin.H
		message string
	}{
		{"no title", true, gin.H{"author": "a", "ipfsHash": "Qm"}, "Title required"},
		{"no author", true, gin.H{"title": "t", "ipfsHash": "Qm"}, "Author required"},
		{"no hash", true, gin.H{"title": "t", "author": "a"}, "IPFS hash required"},
		{"testnet", false, gin.H{"title": "t", "author": "a", "ipfsHash": "Qm"}, "Use frontend MetaMask for testnet"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.local, nil)
			code, body := f.do(t, jsonRequest(t, "/api/uploadPostToBlockchain", tt.input))
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, tt.message, body["message"])

			posts, err := f.ledger.GetPosts(context.Background())
			require.NoError(t, err)
			assert.Empty(t, posts)
		})
	}
}

func TestGetPosts(t *testing.T) {
	f := newFixture(t, true, staticResolver{"QmHello": {Title: "Hello", Content: "body"}})

	w := f.get(t, "/api/getallpost")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	_, err := f.ledger.SubmitPost(context.Background(), "alice", "Hello", "QmHello")
	require.NoError(t, err)
	_, err = f.ledger.SubmitPost(context.Background(), "alice", "Other", "QmUnknown")
	require.NoError(t, err)

	w = f.get(t, "/api/getallpost")
	require.Equal(t, http.StatusOK, w.Code)
	var posts []models.Post
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &posts))
	require.Len(t, posts, 2)
	require.NotNil(t, posts[0].Content)
	assert.Equal(t, "body", posts[0].Content.Content)
	assert.Equal(t, "body...", posts[0].Excerpt)
	assert.Nil(t, posts[1].Content)
	assert.Empty(t, posts[1].Excerpt)

	w = f.get(t, "/api/getpostofuser/"+f.account.Hex())
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &posts))
	assert.Len(t, posts, 2)

	w = f.get(t, "/api/getpostbyid/2")
	require.Equal(t, http.StatusOK, w.Code)
	var post models.Post
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &post))
	assert.Equal(t, "Other", post.Title)
}

func TestGetPostErrors(t *testing.T) {
	f := newFixture(t, true, nil)

	assert.Equal(t, http.StatusNotFound, f.get(t, "/api/getpostbyid/7").Code)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/getpostbyid/seven").Code)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/api/getpostofuser/0x123").Code)
}

func TestComments(t *testing.T) {
	f := newFixture(t, true, nil)
	ctx := context.Background()

	_, err := f.ledger.SubmitPost(ctx, "alice", "Hello", "QmHello")
	require.NoError(t, err)
	_, err = f.ledger.SubmitComment(ctx, 1, "bob", "first!")
	require.NoError(t, err)

	code, body := f.do(t, httptest.NewRequest(http.MethodGet, "/api/comments/1", nil))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Fetching comments successful", body["message"])

	result := body["result"].([]any)
	require.Len(t, result, 1)
	comment := result[0].(map[string]any)
	assert.Equal(t, float64(1), comment["commentId"])
	assert.Equal(t, float64(1), comment["postId"])
	assert.Equal(t, "bob", comment["commenterName"])
	assert.Equal(t, f.account.Hex(), comment["commenterAddress"])
	assert.Equal(t, "0", comment["upvote"])
	assert.Equal(t, "0", comment["downvote"])
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.000Z$`, comment["timestamp"])

	code, body = f.do(t, httptest.NewRequest(http.MethodGet, "/api/comments/user/"+f.account.Hex(), nil))
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["comments"], 1)

	code, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/api/comments/user/alice", nil))
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.do(t, httptest.NewRequest(http.MethodGet, "/api/comment/1/post", nil))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["postId"])

	code, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/api/comment/9/post", nil))
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGetReaction(t *testing.T) {
	f := newFixture(t, true, nil)
	ctx := context.Background()

	_, err := f.ledger.SubmitPost(ctx, "alice", "Hello", "QmHello")
	require.NoError(t, err)
	_, err = f.ledger.SubmitComment(ctx, 1, "bob", "first!")
	require.NoError(t, err)
	_, err = f.ledger.SubmitVote(ctx, models.CommentTarget(1, 1), models.Down)
	require.NoError(t, err)

	code, body := f.do(t, httptest.NewRequest(http.MethodGet, "/api/reactions/comment/1/"+f.account.Hex()+"?postId=1", nil))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["upvoted"])
	assert.Equal(t, true, body["downvoted"])

	code, body = f.do(t, httptest.NewRequest(http.MethodGet, "/api/reactions/post/1/"+f.account.Hex(), nil))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["upvoted"])
	assert.Equal(t, false, body["downvoted"])

	code, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/api/reactions/user/1/"+f.account.Hex(), nil))
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = f.do(t, httptest.NewRequest(http.MethodGet, "/api/reactions/post/1/bob", nil))
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestLedgerStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, ledgerStatus(fmt.Errorf("post#3: %w", ledger.ErrNotFound)))
	assert.Equal(t, http.StatusGatewayTimeout, ledgerStatus(ledger.ErrTimeout))
	assert.Equal(t, http.StatusServiceUnavailable, ledgerStatus(ledger.ErrNotConnected))
	assert.Equal(t, http.StatusInternalServerError, ledgerStatus(&ledger.RevertError{Method: "upvotePost", Reason: "Already voted"}))
}
