package appdirs

import (
	"os"
	"path/filepath"
)

const (
	appDirName = "triforge"
)

func DataDir() (string, error) {
	if override := os.Getenv("TRIFORGE_DATA_DIR"); override != "" {
		return override, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, appDirName), nil
}

func WorkspaceDir(dataDir string) string {
	return filepath.Join(dataDir, "workspace")
}

func HistoryDir(dataDir string) string {
	return filepath.Join(dataDir, "history")
}
