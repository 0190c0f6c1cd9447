package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

const downloadMaxBytes = 100 * 1024 * 1024

// DownloadAssetTool saves a URL's body to disk.
type DownloadAssetTool struct {
	Root       string
	HTTPClient *http.Client
}

func (d *DownloadAssetTool) Name() string { return "download_asset" }

func (d *DownloadAssetTool) Description() string {
	return "Download a file from a URL and save it to savePath."
}

func (d *DownloadAssetTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "Asset URL",
			},
			"savePath": map[string]any{
				"type":        "string",
				"description": "Where to save the asset",
			},
		},
		"required": []string{"url", "savePath"},
	}
}

func (d *DownloadAssetTool) SideEffect() SideEffectType { return SideEffectNetwork }

func (d *DownloadAssetTool) Execute(ctx context.Context, input map[string]any) (ToolOutput, error) {
	rawURL, ok := stringArg(input, "url")
	if !ok {
		return errorOutput("url is required"), nil
	}
	savePath, ok := stringArg(input, "savePath")
	if !ok {
		return errorOutput("savePath is required"), nil
	}
	dest := resolvePath(d.Root, savePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return errorOutput("creating request: %s", err), nil
	}
	req.Header.Set("User-Agent", webUserAgent)

	resp, err := httpClient(d.HTTPClient).Do(req)
	if err != nil {
		return errorOutput("fetching URL: %s", err), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return errorOutput("HTTP %d from %s", resp.StatusCode, rawURL), nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errorOutput("creating directories: %s", err), nil
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".*.part")
	if err != nil {
		return errorOutput("%s", err), nil
	}
	n, err := io.Copy(tmp, io.LimitReader(resp.Body, downloadMaxBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > downloadMaxBytes {
		err = fmt.Errorf("asset exceeds %d bytes", downloadMaxBytes)
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dest)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return errorOutput("saving asset: %s", err), nil
	}

	return ToolOutput{Content: fmt.Sprintf("Asset downloaded to: %s (%d bytes)", savePath, n)}, nil
}
