package googleforms

import (
	"context"
	"fmt"

	"google.golang.org/api/drive/v3"
)

// ShareFile grants anyone-with-the-link read access to an uploaded file and returns
// a link a chat client can fetch.
func (c *Client) ShareFile(ctx context.Context, fileID string) (string, error) {
	perm := &drive.Permission{Type: "anyone", Role: "reader"}
	if _, err := c.drive.Permissions.Create(fileID, perm).SupportsAllDrives(true).Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("drive.permissions.create %s: %w", fileID, err)
	}
	f, err := c.drive.Files.Get(fileID).Fields("webContentLink", "webViewLink").SupportsAllDrives(true).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("drive.files.get %s: %w", fileID, err)
	}
	switch {
	case f.WebContentLink != "":
		return f.WebContentLink, nil
	case f.WebViewLink != "":
		return f.WebViewLink, nil
	}
	return "", fmt.Errorf("drive.files.get %s: no shareable link", fileID)
}
