package models

import "time"

const (
	UploadKindJSON  = "json"
	UploadKindImage = "image"
)

// Upload records one artifact pinned through the upload gateway.
type Upload struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CID       string    `gorm:"column:cid;uniqueIndex;not null" json:"cid"`
	Kind      string    `gorm:"not null" json:"kind"`
	Name      string    `json:"name"`
	Title     string    `json:"title,omitempty"`
	Author    string    `json:"author,omitempty"`
	Tags      string    `json:"tags,omitempty"`
	Content   string    `gorm:"type:text" json:"content,omitempty"`
	ImageCID  string    `gorm:"column:image_cid" json:"imageCid,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Metadata rebuilds the pinned post document from a JSON upload record.
func (u Upload) Metadata() PostMetadata {
	meta := PostMetadata{
		Title:     u.Title,
		Tags:      u.Tags,
		Content:   u.Content,
		Author:    u.Author,
		CreatedAt: u.CreatedAt,
	}
	if u.ImageCID != "" {
		image := u.ImageCID
		meta.ImageHash = &image
	}
	return meta
}
