package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateFolder(t *testing.T) {
	db := newTestDatabase(t)

	docs, err := db.CreateFolder(RootFolderID, "docs")
	require.NoError(t, err)
	assert.Equal(t, RootFolderID, docs.ParentID)

	_, err = db.CreateFolder(RootFolderID, "docs")
	assert.Error(t, err, "names are unique per parent")

	_, err = db.CreateFolder(docs.ID, "docs")
	assert.NoError(t, err, "same name under another parent is fine")

	_, err = db.CreateFolder(999, "orphan")
	assert.ErrorIs(t, err, ErrFolderNotFound)
}

func TestMoveFolderRejectsCycles(t *testing.T) {
	db := newTestDatabase(t)

	a, err := db.CreateFolder(RootFolderID, "a")
	require.NoError(t, err)
	b, err := db.CreateFolder(a.ID, "b")
	require.NoError(t, err)
	c, err := db.CreateFolder(b.ID, "c")
	require.NoError(t, err)

	assert.ErrorIs(t, db.MoveFolder(a.ID, c.ID), ErrFolderCycle)
	assert.ErrorIs(t, db.MoveFolder(a.ID, b.ID), ErrFolderCycle)
	assert.ErrorIs(t, db.MoveFolder(a.ID, a.ID), ErrFolderCycle)

	unchanged, err := db.GetFolder(a.ID)
	require.NoError(t, err)
	assert.Equal(t, RootFolderID, unchanged.ParentID)

	require.NoError(t, db.MoveFolder(c.ID, a.ID))
	moved, err := db.GetFolder(c.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, moved.ParentID)
}

func TestRootFolderIsFixed(t *testing.T) {
	db := newTestDatabase(t)
	a, err := db.CreateFolder(RootFolderID, "a")
	require.NoError(t, err)

	assert.ErrorIs(t, db.MoveFolder(RootFolderID, a.ID), ErrRootFolder)
	assert.ErrorIs(t, db.RenameFolder(RootFolderID, "top"), ErrRootFolder)
	assert.ErrorIs(t, db.DeleteFolder(RootFolderID), ErrRootFolder)
}

func TestDeleteFolder(t *testing.T) {
	db := newTestDatabase(t)

	full, err := db.CreateFolder(RootFolderID, "full")
	require.NoError(t, err)
	f := &File{Name: "x", Size: 1, FolderID: full.ID}
	require.NoError(t, db.CreateFile(f))

	assert.ErrorIs(t, db.DeleteFolder(full.ID), ErrFolderNotEmpty)

	parent, err := db.CreateFolder(RootFolderID, "parent")
	require.NoError(t, err)
	_, err = db.CreateFolder(parent.ID, "child")
	require.NoError(t, err)
	assert.NoError(t, db.DeleteFolder(parent.ID), "child folders do not block deletion")

	_, err = db.GetFolder(parent.ID)
	assert.ErrorIs(t, err, ErrFolderNotFound)
}

func TestRenameFolder(t *testing.T) {
	db := newTestDatabase(t)
	a, err := db.CreateFolder(RootFolderID, "a")
	require.NoError(t, err)

	require.NoError(t, db.RenameFolder(a.ID, "renamed"))
	got, err := db.GetFolder(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
}

func TestFolderTree(t *testing.T) {
	db := newTestDatabase(t)
	a, err := db.CreateFolder(RootFolderID, "a")
	require.NoError(t, err)
	_, err = db.CreateFolder(a.ID, "b")
	require.NoError(t, err)
	_, err = db.CreateFolder(RootFolderID, "z")
	require.NoError(t, err)

	root, err := db.FolderTree()
	require.NoError(t, err)
	require.Len(t, root.Children, 2)
	assert.Equal(t, "a", root.Children[0].Name)
	require.Len(t, root.Children[0].Children, 1)
	assert.Equal(t, "b", root.Children[0].Children[0].Name)
}
