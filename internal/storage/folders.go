package storage

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// CreateFolder 在 parentID 下创建目录
func (d *Database) CreateFolder(parentID int64, name string) (*Folder, error) {
	if name == "" {
		return nil, fmt.Errorf("folder name must not be empty")
	}
	if _, err := d.GetFolder(parentID); err != nil {
		return nil, err
	}

	folder := &Folder{ParentID: parentID, Name: name}
	if err := d.db.Create(folder).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrFolderExists
		}
		return nil, err
	}
	return folder, nil
}

func (d *Database) GetFolder(id int64) (*Folder, error) {
	var folder Folder
	if err := d.db.First(&folder, id).Error; err != nil {
		return nil, notFound(err, ErrFolderNotFound)
	}
	return &folder, nil
}

func (d *Database) ListFolders() ([]Folder, error) {
	var folders []Folder
	err := d.db.Order("id").Find(&folders).Error
	return folders, err
}

func (d *Database) RenameFolder(id int64, name string) error {
	if id == RootFolderID {
		return ErrRootFolder
	}
	if name == "" {
		return fmt.Errorf("folder name must not be empty")
	}
	if _, err := d.GetFolder(id); err != nil {
		return err
	}
	err := d.db.Model(&Folder{}).Where("id = ?", id).Update("name", name).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrFolderExists
	}
	return err
}

// MoveFolder reparents folder id under parentID. It fails before writing
// anything when parentID lies inside the subtree rooted at id.
func (d *Database) MoveFolder(id, parentID int64) error {
	if id == RootFolderID {
		return ErrRootFolder
	}

	folders, err := d.folderMap()
	if err != nil {
		return err
	}
	if _, ok := folders[id]; !ok {
		return ErrFolderNotFound
	}
	if _, ok := folders[parentID]; !ok {
		return ErrFolderNotFound
	}
	if isAncestor(folders, id, parentID) {
		return ErrFolderCycle
	}

	err = d.db.Model(&Folder{}).Where("id = ?", id).Update("parent_id", parentID).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrFolderExists
	}
	return err
}

// DeleteFolder removes an empty folder. Only files count: child folders do
// not block the delete.
func (d *Database) DeleteFolder(id int64) error {
	if id == RootFolderID {
		return ErrRootFolder
	}
	if _, err := d.GetFolder(id); err != nil {
		return err
	}

	var count int64
	if err := d.db.Model(&File{}).Where("folder_id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %d file(s)", ErrFolderNotEmpty, count)
	}
	return d.db.Delete(&Folder{}, id).Error
}

// FolderTree 返回以根目录为起点的目录树
func (d *Database) FolderTree() (*Folder, error) {
	list, err := d.ListFolders()
	if err != nil {
		return nil, err
	}
	folders := make(map[int64]*Folder, len(list))
	for i := range list {
		folders[list[i].ID] = &list[i]
	}
	root, ok := folders[RootFolderID]
	if !ok {
		return nil, ErrFolderNotFound
	}
	for i := range list {
		f := &list[i]
		if f.ID == RootFolderID {
			continue
		}
		if parent, ok := folders[f.ParentID]; ok {
			parent.Children = append(parent.Children, f)
		}
	}
	return root, nil
}

func (d *Database) folderMap() (map[int64]*Folder, error) {
	folders, err := d.ListFolders()
	if err != nil {
		return nil, err
	}
	m := make(map[int64]*Folder, len(folders))
	for i := range folders {
		m[folders[i].ID] = &folders[i]
	}
	return m, nil
}

// isAncestor reports whether ancestor is node itself or lies on the path
// from node up to the root.
func isAncestor(folders map[int64]*Folder, ancestor, node int64) bool {
	seen := make(map[int64]bool)
	for cur := node; !seen[cur]; {
		if cur == ancestor {
			return true
		}
		seen[cur] = true
		f, ok := folders[cur]
		if !ok || cur == RootFolderID {
			return false
		}
		cur = f.ParentID
	}
	return false
}
