package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"go.uber.org/zap"
)

// Folder is a node of the remote folder tree.
type Folder struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Children    []Folder `json:"children,omitempty"`
}

// FolderDescription is the optional JSON stored on the leaf import folder.
type FolderDescription struct {
	Summary    string `json:"summary,omitempty"`
	MediaCount *int   `json:"mediaCount,omitempty"`
	Source     string `json:"source,omitempty"`
	URL        string `json:"url,omitempty"`
}

// String renders the description, or "" when every field is empty.
func (d FolderDescription) String() string {
	if d == (FolderDescription{}) {
		return ""
	}
	data, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	return string(data)
}

// ListFolders returns the top-level folders with their subtrees.
func (c *Client) ListFolders(ctx context.Context) ([]Folder, error) {
	var folders []Folder
	if err := c.get(ctx, EndpointFolderList, nil, &folders); err != nil {
		return nil, err
	}
	return folders, nil
}

// CreateFolder creates name under parentID, or at the top level when parentID is empty.
func (c *Client) CreateFolder(ctx context.Context, name, parentID string) (Folder, error) {
	payload := map[string]any{"folderName": name}
	if parentID != "" {
		payload["parent"] = parentID
	}
	var folder Folder
	if err := c.post(ctx, EndpointFolderCreate, payload, &folder); err != nil {
		return Folder{}, err
	}
	return folder, nil
}

// UpdateFolder replaces the description of a folder.
func (c *Client) UpdateFolder(ctx context.Context, id, description string) (Folder, error) {
	var folder Folder
	payload := map[string]any{"folderId": id, "newDescription": description}
	if err := c.post(ctx, EndpointFolderUpdate, payload, &folder); err != nil {
		return Folder{}, err
	}
	return folder, nil
}

// EnsureFolder finds or creates name. Without a parent it looks only at the
// top level; with one, the parent is located anywhere in the tree and name is
// looked up among its direct children. A non-empty description is written
// to the folder.
func (c *Client) EnsureFolder(ctx context.Context, name, parentName, description string) (Folder, error) {
	if name == "" {
		return Folder{}, fmt.Errorf("folder name is required")
	}
	folders, err := c.ListFolders(ctx)
	if err != nil {
		return Folder{}, err
	}
	root := &Folder{Children: folders}

	var (
		folder   *Folder
		parentID string
	)
	if parentName == "" {
		folder = SearchPreOrder(root, name, 1)
	} else {
		parent := SearchPreOrder(root, parentName, math.MaxInt)
		if parent == nil {
			return Folder{}, fmt.Errorf("parent folder %q does not exist", parentName)
		}
		parentID = parent.ID
		folder = SearchPreOrder(parent, name, 1)
	}

	var result Folder
	if folder != nil {
		result = *folder
	} else {
		created, err := c.CreateFolder(ctx, name, parentID)
		if err != nil {
			return Folder{}, fmt.Errorf("create folder %q: %w", name, err)
		}
		c.logger.Info("folder created", zap.String("name", name), zap.String("parent", parentName))
		result = created
	}

	if description != "" {
		updated, err := c.UpdateFolder(ctx, result.ID, description)
		if err != nil {
			return Folder{}, fmt.Errorf("update folder %q: %w", name, err)
		}
		if updated.ID != "" {
			result = updated
		}
	}
	return result, nil
}

// EnsureFolderChain ensures each folder of path exists under the previous
// one and returns the last. description is applied to the last folder only.
func (c *Client) EnsureFolderChain(ctx context.Context, path []string, description string) (Folder, error) {
	if len(path) == 0 {
		return Folder{}, fmt.Errorf("folder path is empty")
	}
	var (
		folder Folder
		err    error
	)
	for i, name := range path {
		parent := ""
		if i > 0 {
			parent = path[i-1]
		}
		desc := ""
		if i == len(path)-1 {
			desc = description
		}
		if folder, err = c.EnsureFolder(ctx, name, parent, desc); err != nil {
			return Folder{}, err
		}
	}
	return folder, nil
}

// SearchPreOrder returns the first folder named name, visiting a node before
// its children and descending at most depth levels below node.
func SearchPreOrder(node *Folder, name string, depth int) *Folder {
	if node.Name != "" && node.Name == name {
		return node
	}
	if depth <= 0 {
		return nil
	}
	for i := range node.Children {
		if found := SearchPreOrder(&node.Children[i], name, depth-1); found != nil {
			return found
		}
	}
	return nil
}
