package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/emilythestrangee/chainblog/backend/internal/events"
	"github.com/emilythestrangee/chainblog/backend/internal/ipfs"
	"github.com/emilythestrangee/chainblog/backend/internal/models"
)

const maxImageSize = 10 << 20

const (
	defaultUploadLimit = 20
	maxUploadLimit     = 100
)

type UploadHandler struct {
	uploader Uploader
	uploads  UploadStore
	events   events.Publisher
	now      func() time.Time
}

func NewUploadHandler(uploader Uploader, uploads UploadStore, publisher events.Publisher) *UploadHandler {
	return &UploadHandler{uploader: uploader, uploads: uploads, events: publisher, now: time.Now}
}

func postFileName(title string) string {
	return "post-" + strings.TrimSpace(title) + ".json"
}

func readImage(fh *multipart.FileHeader) ([]byte, error) {
	if fh.Size > maxImageSize {
		return nil, fmt.Errorf("%w: image larger than %d bytes", ipfs.ErrUploadFailed, maxImageSize)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// UploadPostToIPFS pins the optional image and then the post document
// that references it.
func (h *UploadHandler) UploadPostToIPFS(c *gin.Context) {
	title := c.PostForm("title")
	tags := c.PostForm("tags")
	content := c.PostForm("content")
	author := c.PostForm("author")
	if title == "" || tags == "" || content == "" || author == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Title, tags, author, and content are required"})
		return
	}
	tagList, err := models.ParseTags(tags)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Tags must be a JSON array of strings"})
		return
	}
	normalized, _ := json.Marshal(tagList)
	tags = string(normalized)

	ctx := c.Request.Context()
	var imageHash *string
	var image ipfs.Artifact

	if fh, err := c.FormFile("image"); err == nil {
		data, err := readImage(fh)
		if err != nil {
			uploadFailed(c, err)
			return
		}
		image, err = h.uploader.UploadImage(ctx, data, fh.Filename, fh.Header.Get("Content-Type"))
		if err != nil {
			uploadFailed(c, err)
			return
		}
		imageHash = &image.CID
		log.Info().Str("cid", image.CID).Msg("Uploaded image")
	}

	doc := models.PostMetadata{
		Title:     title,
		Tags:      tags,
		Content:   content,
		Author:    author,
		ImageHash: imageHash,
		CreatedAt: h.now().UTC(),
	}
	artifact, err := h.uploader.UploadJSON(ctx, doc, ipfs.Options{
		Name:      postFileName(title),
		KeyValues: map[string]string{"title": title, "author": author, "tags": strings.Join(doc.TagList(), ",")},
	})
	if err != nil {
		uploadFailed(c, err)
		return
	}

	h.record(ctx, doc, artifact, image)

	res := gin.H{
		"message":     "Post metadata + image uploaded to IPFS",
		"ipfsHash":    artifact.CID,
		"ipfsGateway": ipfs.DefaultPublicGateway + "/" + artifact.CID,
	}
	if imageHash != nil {
		res["imageHash"] = *imageHash
	}
	c.JSON(http.StatusOK, res)
}

// record keeps the pinned artifacts in the upload store and announces
// the document. Neither is allowed to fail the upload.
func (h *UploadHandler) record(ctx context.Context, doc models.PostMetadata, artifact, image ipfs.Artifact) {
	if h.uploads != nil {
		if image.CID != "" {
			err := h.uploads.SaveUpload(ctx, &models.Upload{
				CID: image.CID, Kind: models.UploadKindImage, CreatedAt: doc.CreatedAt,
			})
			if err != nil {
				log.Warn().Err(err).Str("cid", image.CID).Msg("Could not record image upload")
			}
		}
		err := h.uploads.SaveUpload(ctx, &models.Upload{
			CID:       artifact.CID,
			Kind:      models.UploadKindJSON,
			Name:      postFileName(doc.Title),
			Title:     doc.Title,
			Author:    doc.Author,
			Tags:      doc.Tags,
			Content:   doc.Content,
			ImageCID:  image.CID,
			CreatedAt: doc.CreatedAt,
		})
		if err != nil {
			log.Warn().Err(err).Str("cid", artifact.CID).Msg("Could not record post upload")
		}
	}

	err := h.events.Publish(ctx, events.SubjectUploadPinned, events.UploadPinned{
		CID:      artifact.CID,
		Kind:     models.UploadKindJSON,
		Title:    doc.Title,
		ImageCID: image.CID,
		PinnedAt: doc.CreatedAt,
	})
	if err != nil {
		log.Warn().Err(err).Str("cid", artifact.CID).Msg("Could not announce upload")
	}
}

func uploadFailed(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"message": "Error uploading to IPFS", "error": err.Error()})
}

// ListUploads returns the newest recorded uploads, optionally of one kind.
func (h *UploadHandler) ListUploads(c *gin.Context) {
	if h.uploads == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "Upload store not configured"})
		return
	}

	kind := c.Query("kind")
	if kind != "" && !lo.Contains([]string{models.UploadKindJSON, models.UploadKindImage}, kind) {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid kind"})
		return
	}
	limit := defaultUploadLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid limit"})
			return
		}
		limit = min(n, maxUploadLimit)
	}

	uploads, err := h.uploads.ListUploads(c.Request.Context(), kind, limit)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error listing uploads", "error": err.Error()})
		return
	}
	if uploads == nil {
		uploads = []models.Upload{}
	}
	c.JSON(http.StatusOK, uploads)
}
