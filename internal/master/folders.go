package master

import (
	"log"

	"dfs-lite/internal/storage"
)

func (m *Master) CreateFolder(parentID int64, name string) (*storage.Folder, error) {
	folder, err := m.db.CreateFolder(parentID, name)
	if err != nil {
		return nil, err
	}
	log.Printf("Folder %d (%s) created under %d", folder.ID, name, parentID)
	return folder, nil
}

func (m *Master) RenameFolder(id int64, name string) error {
	return m.db.RenameFolder(id, name)
}

// MoveFolder reparents a folder. Moving a folder below itself fails with
// storage.ErrFolderCycle and changes nothing.
func (m *Master) MoveFolder(id, parentID int64) error {
	if err := m.db.MoveFolder(id, parentID); err != nil {
		return err
	}
	log.Printf("Folder %d moved under %d", id, parentID)
	return nil
}

// DeleteFolder removes a folder that holds no files.
func (m *Master) DeleteFolder(id int64) error {
	if err := m.db.DeleteFolder(id); err != nil {
		return err
	}
	log.Printf("Folder %d deleted", id)
	return nil
}

func (m *Master) FolderTree() (*storage.Folder, error) {
	return m.db.FolderTree()
}

func (m *Master) GetFile(id int64) (*storage.File, error) {
	return m.db.GetFile(id)
}

// ListFiles lists every file, or only the files of one folder when folderID
// is not zero.
func (m *Master) ListFiles(folderID int64) ([]storage.File, error) {
	if folderID == 0 {
		return m.db.ListFiles()
	}
	if _, err := m.db.GetFolder(folderID); err != nil {
		return nil, err
	}
	return m.db.ListFilesInFolder(folderID)
}

// ClearDatabase wipes every node, file, part and folder record except the
// root folder. Live sessions are left alone.
func (m *Master) ClearDatabase() error {
	if err := m.db.ClearAll(); err != nil {
		return err
	}
	log.Println("Database cleared")
	return nil
}

// Stats merges the metadata counters with the live view of the nodes.
func (m *Master) Stats() (map[string]interface{}, error) {
	stats, err := m.db.GetStats()
	if err != nil {
		return nil, err
	}
	avail, err := m.SpaceAvailable()
	if err != nil {
		return nil, err
	}
	stats["live_nodes"] = m.nodes.Len()
	stats["total_space"] = m.TotalSpace()
	stats["space_available"] = avail
	stats["ready"] = m.Ready()
	return stats, nil
}
