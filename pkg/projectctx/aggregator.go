// Package projectctx assembles a point-in-time snapshot of a project by
// composing several tool calls against the filesystem and terminal providers.
package projectctx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jg-phare/devorch/pkg/mcp"
)

// NoRepository is the version-control status reported when the status
// command cannot be run or the path is not inside a repository.
const NoRepository = "no repository detected"

// Snapshot is an immutable aggregate describing a project at one instant.
type Snapshot struct {
	Path                 string         `json:"path"`
	FileStructure        []string       `json:"fileStructure"`
	PackageManifest      map[string]any `json:"packageManifest"`
	VersionControlStatus string         `json:"versionControlStatus"`
	Timestamp            time.Time      `json:"timestamp"`
}

// ToolCaller is the subset of the registry the aggregator depends on.
type ToolCaller interface {
	CallTool(ctx context.Context, server, tool string, args map[string]any, opts ...mcp.CallOption) (*mcp.ToolResult, error)
}

// Options configures an Aggregator. Zero values select the defaults.
type Options struct {
	FilesystemServer string // default "filesystem"
	TerminalServer   string // default "terminal"
	ManifestName     string // default "package.json"
	StatusCommand    string // default "git status --porcelain"
}

// Aggregator builds Snapshots. It holds no state between calls.
type Aggregator struct {
	caller ToolCaller
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New returns an aggregator issuing its calls through caller.
func New(caller ToolCaller, opts Options, logger zerolog.Logger) *Aggregator {
	if opts.FilesystemServer == "" {
		opts.FilesystemServer = "filesystem"
	}
	if opts.TerminalServer == "" {
		opts.TerminalServer = "terminal"
	}
	if opts.ManifestName == "" {
		opts.ManifestName = "package.json"
	}
	if opts.StatusCommand == "" {
		opts.StatusCommand = "git status --porcelain"
	}
	return &Aggregator{
		caller: caller,
		opts:   opts,
		logger: logger.With().Str("component", "projectctx").Logger(),
		now:    time.Now,
	}
}

// subCall is one row of the fallback policy table. A mandatory call's
// failure aborts the snapshot; an optional call's failure is logged and
// fallback fills in its field.
type subCall struct {
	name      string
	server    string
	tool      string
	args      map[string]any
	mandatory bool
	apply     func(s *Snapshot, res *mcp.ToolResult) error
	fallback  func(s *Snapshot)
}

func (a *Aggregator) policy(path string) []subCall {
	return []subCall{
		{
			name:      "file structure",
			server:    a.opts.FilesystemServer,
			tool:      "list_directory",
			args:      map[string]any{"path": path, "recursive": true},
			mandatory: true,
			apply: func(s *Snapshot, res *mcp.ToolResult) error {
				s.FileStructure = parseListing(res.Text())
				return nil
			},
		},
		{
			name:   "package manifest",
			server: a.opts.FilesystemServer,
			tool:   "read_file",
			args:   map[string]any{"path": filepath.Join(path, a.opts.ManifestName)},
			apply: func(s *Snapshot, res *mcp.ToolResult) error {
				var manifest map[string]any
				if err := json.Unmarshal([]byte(res.Text()), &manifest); err != nil {
					return fmt.Errorf("parse %s: %w", a.opts.ManifestName, err)
				}
				if manifest == nil {
					return fmt.Errorf("%s is not a JSON object", a.opts.ManifestName)
				}
				s.PackageManifest = manifest
				return nil
			},
			fallback: func(s *Snapshot) { s.PackageManifest = map[string]any{} },
		},
		{
			name:   "version control status",
			server: a.opts.TerminalServer,
			tool:   "run_command",
			args:   map[string]any{"command": a.opts.StatusCommand, "cwd": path},
			apply: func(s *Snapshot, res *mcp.ToolResult) error {
				status, err := parseCommandOutput(res.Text())
				if err != nil {
					return err
				}
				s.VersionControlStatus = status
				return nil
			},
			fallback: func(s *Snapshot) { s.VersionControlStatus = NoRepository },
		},
	}
}

// GetProjectContext runs every sub-call concurrently and assembles the
// results. Only a failure of the directory listing is returned.
func (a *Aggregator) GetProjectContext(ctx context.Context, path string) (*Snapshot, error) {
	snap := &Snapshot{Path: path}
	calls := a.policy(path)

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range calls {
		g.Go(func() error {
			err := a.run(gctx, c, snap)
			if err == nil {
				return nil
			}
			if c.mandatory {
				return fmt.Errorf("%s: %w", c.name, err)
			}
			a.logger.Warn().Err(err).Str("call", c.name).Str("path", path).Msg("optional context call failed, using fallback")
			c.fallback(snap)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap.Timestamp = a.now()
	return snap, nil
}

// run performs one call. A domain error counts as a failure.
func (a *Aggregator) run(ctx context.Context, c subCall, snap *Snapshot) error {
	res, err := a.caller.CallTool(ctx, c.server, c.tool, c.args)
	if err != nil {
		return err
	}
	if res.IsError {
		return &DomainError{Server: c.server, Tool: c.tool, Message: res.Text()}
	}
	return c.apply(snap, res)
}

// DomainError is a tool-reported failure (isError) encountered by the
// aggregator.
type DomainError struct {
	Server  string
	Tool    string
	Message string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s/%s reported: %s", e.Server, e.Tool, e.Message)
}

// IsDomainError reports whether err is a tool-reported failure.
func IsDomainError(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}

// parseListing decodes the JSON array list_directory returns. Providers
// that answer with plain text get one entry per non-empty line.
func parseListing(text string) []string {
	var paths []string
	if err := json.Unmarshal([]byte(text), &paths); err == nil {
		if paths == nil {
			paths = []string{}
		}
		return paths
	}
	paths = []string{}
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			paths = append(paths, line)
		}
	}
	return paths
}

// commandOutput mirrors the terminal provider's run_command payload.
type commandOutput struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exitCode"`
}

func parseCommandOutput(text string) (string, error) {
	var out commandOutput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return "", fmt.Errorf("parse command output: %w", err)
	}
	if out.ExitCode != 0 {
		return "", fmt.Errorf("status command exited %d: %s", out.ExitCode, strings.TrimSpace(out.Stderr))
	}
	return out.Stdout, nil
}
