package engine

import (
	"context"
	"testing"

	"triforge/engine/internal/errinfo"
	"triforge/engine/internal/workspace"
)

func TestWorkspaceFileOps(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	if _, errInfo := eng.WorkspaceReadFile(ctx, mustJSON(t, map[string]any{"path": "missing.txt"})); errInfo == nil || errInfo.ErrorCode != errinfo.CodeFileNotFound {
		t.Fatalf("expected not found, got %+v", errInfo)
	}

	if _, errInfo := eng.WorkspaceWriteFile(ctx, mustJSON(t, map[string]any{"path": "./workspace/a/b.txt", "content": "hello"})); errInfo != nil {
		t.Fatalf("write: %+v", errInfo)
	}
	resp, errInfo := eng.WorkspaceReadFile(ctx, mustJSON(t, map[string]any{"path": "a/b.txt"}))
	if errInfo != nil {
		t.Fatalf("read: %+v", errInfo)
	}
	if resp.(map[string]any)["content"].(string) != "hello" {
		t.Fatalf("content mismatch: %+v", resp)
	}

	resp, errInfo = eng.WorkspaceFileExists(ctx, mustJSON(t, map[string]any{"path": "a/b.txt"}))
	if errInfo != nil || !resp.(map[string]any)["exists"].(bool) {
		t.Fatalf("exists: %+v %+v", resp, errInfo)
	}

	if _, errInfo := eng.WorkspaceWriteFile(ctx, mustJSON(t, map[string]any{"path": "c.txt", "content": "top"})); errInfo != nil {
		t.Fatalf("write c: %+v", errInfo)
	}
	resp, errInfo = eng.WorkspaceListFiles(ctx, mustJSON(t, map[string]any{}))
	if errInfo != nil {
		t.Fatalf("list: %+v", errInfo)
	}
	files := resp.(map[string]any)["files"].([]workspace.Entry)
	if len(files) != 2 || files[0].Path != "a/b.txt" || files[1].Path != "c.txt" {
		t.Fatalf("unexpected listing: %+v", files)
	}

	if _, errInfo := eng.WorkspaceDeleteFile(ctx, mustJSON(t, map[string]any{"path": "a/b.txt"})); errInfo != nil {
		t.Fatalf("delete: %+v", errInfo)
	}
	if _, errInfo := eng.WorkspaceDeleteFile(ctx, mustJSON(t, map[string]any{"path": "a/b.txt"})); errInfo == nil || errInfo.ErrorCode != errinfo.CodeFileNotFound {
		t.Fatalf("expected not found on repeat delete, got %+v", errInfo)
	}

	if _, errInfo := eng.WorkspaceWriteFile(ctx, mustJSON(t, map[string]any{"path": "../evil.txt", "content": "x"})); errInfo == nil || errInfo.ErrorCode != errinfo.CodeInvalidPath {
		t.Fatalf("expected invalid path, got %+v", errInfo)
	}
}

func TestWorkspaceAutosaveWrite(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	if _, errInfo := eng.SettingsUpdate(ctx, mustJSON(t, map[string]any{"autosaveDelayMs": 20})); errInfo != nil {
		t.Fatalf("settings: %+v", errInfo)
	}
	resp, errInfo := eng.WorkspaceWriteFile(ctx, mustJSON(t, map[string]any{
		"path":     "draft.md",
		"content":  "first",
		"autosave": true,
	}))
	if errInfo != nil {
		t.Fatalf("autosave write: %+v", errInfo)
	}
	if !resp.(map[string]any)["scheduled"].(bool) {
		t.Fatalf("expected scheduled write, got %+v", resp)
	}

	waitFor(t, "autosave flush", func() bool {
		content, err := eng.workspaceStore().Read("draft.md")
		return err == nil && content == "first"
	})

	if _, errInfo := eng.WorkspaceWriteFile(ctx, mustJSON(t, map[string]any{"path": "/abs.md", "content": "x", "autosave": true})); errInfo == nil || errInfo.ErrorCode != errinfo.CodeInvalidPath {
		t.Fatalf("expected invalid path from autosave, got %+v", errInfo)
	}
}

func TestWorkspaceClearFlushesAndEmpties(t *testing.T) {
	ctx := context.Background()
	eng, _ := newTestEngine(t)

	if _, errInfo := eng.WorkspaceWriteFile(ctx, mustJSON(t, map[string]any{"path": "a.txt", "content": "1"})); errInfo != nil {
		t.Fatalf("write: %+v", errInfo)
	}
	if _, errInfo := eng.WorkspaceWriteFile(ctx, mustJSON(t, map[string]any{"path": "b.txt", "content": "2", "autosave": true})); errInfo != nil {
		t.Fatalf("autosave write: %+v", errInfo)
	}

	if _, errInfo := eng.WorkspaceClear(ctx, nil); errInfo != nil {
		t.Fatalf("clear: %+v", errInfo)
	}
	if eng.autosave.Pending() != 0 {
		t.Fatalf("autosave still pending after clear: %d", eng.autosave.Pending())
	}
	resp, errInfo := eng.WorkspaceListFiles(ctx, mustJSON(t, map[string]any{}))
	if errInfo != nil {
		t.Fatalf("list: %+v", errInfo)
	}
	if files := resp.(map[string]any)["files"].([]workspace.Entry); len(files) != 0 {
		t.Fatalf("workspace not empty after clear: %+v", files)
	}
}
