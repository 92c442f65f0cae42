package storage

import "time"

type NodeStatus string

const (
	StatusInactive  NodeStatus = "inactive"
	StatusNew       NodeStatus = "new"
	StatusConnected NodeStatus = "connected"
	StatusRestart   NodeStatus = "restart"
	StatusLost      NodeStatus = "lost"
)

// RootFolderID is the self-parented root of the folder tree.
const RootFolderID int64 = 1

// StorageNode 存储节点表
type StorageNode struct {
	ID           int64      `gorm:"primaryKey;autoIncrement"`
	Address      string     `gorm:"size:255"`
	StorageSpace int64      `gorm:"not null"`
	Status       NodeStatus `gorm:"size:16;not null;index"`
	UpdateTime   time.Time  `gorm:"autoUpdateTime"`
}

func (StorageNode) TableName() string {
	return "tbl_storage_node"
}

// File 文件表
type File struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	Name       string    `gorm:"size:255;not null"`
	Size       int64     `gorm:"not null"`
	UploadDate time.Time `gorm:"not null"`
	FolderID   int64     `gorm:"not null;index"`
}

func (File) TableName() string {
	return "tbl_file"
}

// FilePart 文件分片表; (file_id, sequence_order) is unique.
type FilePart struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	FileID        int64  `gorm:"not null;uniqueIndex:ux_file_part_order,priority:1"`
	NodeID        int64  `gorm:"not null;index"`
	AccessName    string `gorm:"size:255;not null"`
	SequenceOrder int    `gorm:"not null;uniqueIndex:ux_file_part_order,priority:2"`
	Size          int64  `gorm:"not null"`
}

func (FilePart) TableName() string {
	return "tbl_file_part"
}

// LostFilePart keeps the id of the FilePart it replaces. It only charges
// the part's size against its former node.
type LostFilePart struct {
	ID            int64  `gorm:"primaryKey;autoIncrement:false"`
	FileID        int64  `gorm:"not null;index"`
	NodeID        int64  `gorm:"not null;index"`
	AccessName    string `gorm:"size:255;not null"`
	SequenceOrder int    `gorm:"not null"`
	Size          int64  `gorm:"not null"`
}

func (LostFilePart) TableName() string {
	return "tbl_file_part_lost"
}

func (p FilePart) Lost() LostFilePart {
	return LostFilePart{
		ID:            p.ID,
		FileID:        p.FileID,
		NodeID:        p.NodeID,
		AccessName:    p.AccessName,
		SequenceOrder: p.SequenceOrder,
		Size:          p.Size,
	}
}

// Folder 目录表; (parent_id, name) is unique.
type Folder struct {
	ID       int64  `gorm:"primaryKey;autoIncrement"`
	ParentID int64  `gorm:"not null;uniqueIndex:ux_folder_name,priority:1"`
	Name     string `gorm:"size:255;not null;uniqueIndex:ux_folder_name,priority:2"`

	Children []*Folder `gorm:"-"`
}

func (Folder) TableName() string {
	return "tbl_folder"
}
