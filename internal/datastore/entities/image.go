// Package entities contains the GORM models of the clipvault store.
package entities

import "github.com/clipvault/clipvault/internal/recognition"

// Image is one captured clipboard image and its derived metadata.
// Timestamps are milliseconds since the Unix epoch.
type Image struct {
	ID     int64               `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	Image  []byte              `gorm:"column:image;type:blob" json:"-"`
	OCR    *recognition.Result `gorm:"column:ocr;type:text" json:"ocr"`
	Size   int64               `gorm:"column:size" json:"size"`
	Width  int                 `gorm:"column:width" json:"width"`
	Height int                 `gorm:"column:height" json:"height"`
	CTime  int64               `gorm:"column:ctime" json:"ctime"`
	MTime  int64               `gorm:"column:mtime;index:index_mtime" json:"mtime"`
	Sum    string              `gorm:"column:sum;type:varchar(64);index:index_sum" json:"sum"`
}

// TableName returns the table name for GORM.
func (Image) TableName() string {
	return "image"
}
