package storage

import "errors"

var (
	ErrNodeNotFound   = errors.New("storage node not found")
	ErrFileNotFound   = errors.New("file not found")
	ErrFolderNotFound = errors.New("folder not found")
	ErrFolderExists   = errors.New("folder with that name already exists")
	ErrFolderCycle    = errors.New("cannot move a folder into its own subtree")
	ErrFolderNotEmpty = errors.New("folder is not empty")
	ErrRootFolder     = errors.New("root folder cannot be changed")
	ErrDuplicatePart  = errors.New("duplicate part sequence order")
)
