package remote

import (
	"context"
	"fmt"
	"net/url"
)

// NewItem describes an asset to import from a local path.
type NewItem struct {
	Path       string
	Name       string
	Website    string
	Tags       []string
	Annotation string
	FolderID   string
}

// ItemInfo is the remote view of an item.
type ItemInfo struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Ext        string   `json:"ext"`
	URL        string   `json:"url"`
	Tags       []string `json:"tags"`
	Annotation string   `json:"annotation"`
}

// ItemUpdate carries the fields to change. Nil fields are left alone.
type ItemUpdate struct {
	ID         string
	Name       *string
	URL        *string
	Tags       []string
	Annotation *string
}

// AddItemFromPath imports a local file and returns the assigned item id.
func (c *Client) AddItemFromPath(ctx context.Context, item NewItem) (string, error) {
	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}
	payload := map[string]any{
		"path":       item.Path,
		"name":       item.Name,
		"website":    item.Website,
		"tags":       tags,
		"annotation": item.Annotation,
	}
	if item.FolderID != "" {
		payload["folderId"] = item.FolderID
	}
	var id string
	if err := c.post(ctx, EndpointItemAdd, payload, &id); err != nil {
		return "", err
	}
	if id == "" {
		return "", &ProtocolError{Endpoint: EndpointItemAdd, Status: 200, Message: "empty item id"}
	}
	return id, nil
}

// ItemInfo fetches the current remote metadata of an item.
func (c *Client) ItemInfo(ctx context.Context, id string) (ItemInfo, error) {
	var info ItemInfo
	if err := c.get(ctx, EndpointItemInfo, url.Values{"id": {id}}, &info); err != nil {
		return ItemInfo{}, err
	}
	if info.ID == "" {
		info.ID = id
	}
	return info, nil
}

// UpdateItem pushes the changed fields of an item.
func (c *Client) UpdateItem(ctx context.Context, update ItemUpdate) error {
	if update.ID == "" {
		return fmt.Errorf("item id is required")
	}
	payload := map[string]any{"id": update.ID}
	if update.Name != nil {
		payload["name"] = *update.Name
	}
	if update.URL != nil {
		payload["url"] = *update.URL
	}
	if update.Tags != nil {
		payload["tags"] = update.Tags
	}
	if update.Annotation != nil {
		payload["annotation"] = *update.Annotation
	}
	return c.post(ctx, EndpointItemUpdate, payload, nil)
}
