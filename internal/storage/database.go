package storage

import (
	"errors"
	"fmt"
	"log"

	"dfs-lite/internal/config"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(dbType config.DatabaseType, dsn string) (*Database, error) {
	var dialector gorm.Dialector

	switch dbType {
	case config.DatabaseMySQL:
		dialector = mysql.Open(dsn)
		log.Printf("Connecting to MySQL: %s", maskPassword(dsn))
	case config.DatabaseSQLite:
		dialector = sqlite.Open(dsn)
		log.Printf("Connecting to SQLite: %s", dsn)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if dbType == config.DatabaseSQLite {
		// handshakes persist from many goroutines; one connection keeps
		// sqlite from answering "database is locked"
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	// 自动迁移表结构
	if err := db.AutoMigrate(&StorageNode{}, &File{}, &FilePart{}, &LostFilePart{}, &Folder{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	d := &Database{db: db}
	if err := d.ensureRootFolder(); err != nil {
		return nil, err
	}

	log.Printf("Database (%s) connected and migrated successfully", dbType)

	return d, nil
}

// maskPassword 隐藏 DSN 中的密码
func maskPassword(dsn string) string {
	if len(dsn) > 20 {
		return dsn[:10] + "***" + dsn[len(dsn)-10:]
	}
	return "***"
}

func (d *Database) ensureRootFolder() error {
	root := Folder{ID: RootFolderID, ParentID: RootFolderID, Name: "root"}
	err := d.db.Where(Folder{ID: RootFolderID}).FirstOrCreate(&root).Error
	if err != nil {
		return fmt.Errorf("failed to create root folder: %w", err)
	}
	return nil
}

func notFound(err, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}

// CreateNode 插入节点并返回生成的 ID
func (d *Database) CreateNode(node *StorageNode) error {
	node.ID = 0
	return d.db.Create(node).Error
}

func (d *Database) GetNode(id int64) (*StorageNode, error) {
	var node StorageNode
	if err := d.db.First(&node, id).Error; err != nil {
		return nil, notFound(err, ErrNodeNotFound)
	}
	return &node, nil
}

// SaveNode 更新节点状态与容量
func (d *Database) SaveNode(node *StorageNode) error {
	return d.db.Model(&StorageNode{}).
		Where("id = ?", node.ID).
		Updates(map[string]interface{}{
			"status":        node.Status,
			"storage_space": node.StorageSpace,
			"address":       node.Address,
		}).Error
}

func (d *Database) UpdateNodeStatus(id int64, status NodeStatus) error {
	return d.db.Model(&StorageNode{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (d *Database) ListNodes() ([]StorageNode, error) {
	var nodes []StorageNode
	err := d.db.Order("id").Find(&nodes).Error
	return nodes, err
}

func (d *Database) ListNodesByStatus(status NodeStatus) ([]StorageNode, error) {
	var nodes []StorageNode
	err := d.db.Where("status = ?", status).Order("id").Find(&nodes).Error
	return nodes, err
}

// CreateFile 插入文件记录
func (d *Database) CreateFile(file *File) error {
	if file.FolderID == 0 {
		file.FolderID = RootFolderID
	}
	return d.db.Create(file).Error
}

func (d *Database) GetFile(id int64) (*File, error) {
	var file File
	if err := d.db.First(&file, id).Error; err != nil {
		return nil, notFound(err, ErrFileNotFound)
	}
	return &file, nil
}

func (d *Database) ListFiles() ([]File, error) {
	var files []File
	err := d.db.Order("id").Find(&files).Error
	return files, err
}

func (d *Database) ListFilesInFolder(folderID int64) ([]File, error) {
	var files []File
	err := d.db.Where("folder_id = ?", folderID).Order("id").Find(&files).Error
	return files, err
}

func (d *Database) DeleteFile(id int64) error {
	return d.db.Delete(&File{}, id).Error
}

// CreateFileParts 在一个事务中写入所有分片
func (d *Database) CreateFileParts(parts []FilePart) error {
	if len(parts) == 0 {
		return nil
	}
	err := d.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&File{}).Where("id = ?", parts[0].FileID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrFileNotFound
		}
		return tx.Create(&parts).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicatePart
	}
	return err
}

// ListFileParts 按 sequence_order 返回文件的所有分片
func (d *Database) ListFileParts(fileID int64) ([]FilePart, error) {
	var parts []FilePart
	err := d.db.Where("file_id = ?", fileID).Order("sequence_order, id").Find(&parts).Error
	return parts, err
}

func (d *Database) DeleteFilePart(id int64) error {
	return d.db.Delete(&FilePart{}, id).Error
}

// MarkPartLost moves a part into the lost ledger, keeping its id.
func (d *Database) MarkPartLost(part FilePart) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&FilePart{}, part.ID).Error; err != nil {
			return err
		}
		lost := part.Lost()
		return tx.Save(&lost).Error
	})
}

func (d *Database) ListLostParts() ([]LostFilePart, error) {
	var parts []LostFilePart
	err := d.db.Order("id").Find(&parts).Error
	return parts, err
}

// FindParts returns the parts a node holds under the given access names.
func (d *Database) FindParts(nodeID int64, accessNames []string) ([]FilePart, error) {
	if len(accessNames) == 0 {
		return nil, nil
	}
	var parts []FilePart
	err := d.db.Where("node_id = ? AND access_name IN ?", nodeID, accessNames).
		Order("file_id, sequence_order").
		Find(&parts).Error
	return parts, err
}

// UsedSpace 返回每个节点已占用的字节数，包括丢失的分片
func (d *Database) UsedSpace() (map[int64]int64, error) {
	type row struct {
		NodeID int64
		Total  int64
	}
	used := make(map[int64]int64)

	for _, model := range []interface{}{&FilePart{}, &LostFilePart{}} {
		var rows []row
		err := d.db.Model(model).
			Select("node_id, COALESCE(SUM(size), 0) AS total").
			Group("node_id").
			Scan(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, r := range rows {
			used[r.NodeID] += r.Total
		}
	}
	return used, nil
}

// ClearAll 清空所有元数据，只保留根目录
func (d *Database) ClearAll() error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{&StorageNode{}, &FilePart{}, &LostFilePart{}, &File{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Where("id <> ?", RootFolderID).Delete(&Folder{}).Error
	})
}

// GetStats 获取统计信息
func (d *Database) GetStats() (map[string]interface{}, error) {
	var totalFiles, totalParts, lostParts, nodeCount int64
	var totalSize, lostSize int64

	if err := d.db.Model(&File{}).Count(&totalFiles).Error; err != nil {
		return nil, err
	}
	d.db.Model(&File{}).Select("COALESCE(SUM(size), 0)").Scan(&totalSize)
	d.db.Model(&FilePart{}).Count(&totalParts)
	d.db.Model(&LostFilePart{}).Count(&lostParts)
	d.db.Model(&LostFilePart{}).Select("COALESCE(SUM(size), 0)").Scan(&lostSize)
	d.db.Model(&StorageNode{}).Count(&nodeCount)

	return map[string]interface{}{
		"total_files": totalFiles,
		"total_size":  totalSize,
		"total_parts": totalParts,
		"lost_parts":  lostParts,
		"lost_size":   lostSize,
		"node_count":  nodeCount,
	}, nil
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
