package showrunner

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

//go:embed html_templates/dashboard.html
var dashboardTemplate string

const metadataTag = `<script type="application/json" id="run-metadata">`

// DashboardEntry is one run report listed on the dashboard.
type DashboardEntry struct {
	DemoName     string
	RunID        string
	Timestamp    string
	Success      bool
	State        string
	SceneCount   int
	FrameCount   int
	Duration     string
	RelativePath string
	CreatedAt    time.Time
}

// GenerateDashboard writes baseDir/index.html linking every run report laid
// out by ReportDir, newest first.
func GenerateDashboard(baseDir string, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := scanRunReports(baseDir, logger)
	if err != nil {
		return "", fmt.Errorf("failed to scan run reports: %w", err)
	}

	tmpl := template.Must(template.New("dashboard").Parse(dashboardTemplate))
	data := struct {
		Reports     []DashboardEntry
		GeneratedAt time.Time
	}{entries, time.Now()}

	path := filepath.Join(baseDir, "index.html")
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create dashboard file: %w", err)
	}
	defer file.Close()

	if err := tmpl.Execute(file, data); err != nil {
		return "", fmt.Errorf("failed to execute dashboard template: %w", err)
	}

	logger.Info("dashboard generated", slog.String("path", path), slog.Int("reports", len(entries)))
	return path, nil
}

// scanRunReports finds <demo>/<timestamp>/index.html below baseDir.
func scanRunReports(baseDir string, logger *slog.Logger) ([]DashboardEntry, error) {
	var entries []DashboardEntry
	root := filepath.Join(baseDir, "index.html")

	err := filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != "index.html" || path == root {
			return nil
		}

		dir := filepath.Dir(path)
		timestamp := filepath.Base(dir)
		if _, err := time.Parse(ReportTimestampFormat, timestamp); err != nil {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		entry := DashboardEntry{
			DemoName:     filepath.Base(filepath.Dir(dir)),
			Timestamp:    timestamp,
			RelativePath: relativePath(baseDir, path),
			CreatedAt:    info.ModTime(),
		}

		meta, err := readRunMetadata(path)
		if err != nil {
			logger.Debug("report without metadata", slog.String("path", path), slog.String("error", err.Error()))
		} else {
			entry.DemoName = meta.DemoName
			entry.RunID = meta.RunID
			entry.Success = meta.Success
			entry.State = meta.State
			entry.SceneCount = meta.SceneCount
			entry.FrameCount = meta.FrameCount
			entry.Duration = meta.Duration
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp > entries[j].Timestamp
	})
	return entries, nil
}

// readRunMetadata extracts the JSON block embedded by GenerateReport.
func readRunMetadata(htmlPath string) (RunMetadata, error) {
	content, err := os.ReadFile(htmlPath)
	if err != nil {
		return RunMetadata{}, err
	}
	html := string(content)

	start := strings.Index(html, metadataTag)
	if start == -1 {
		return RunMetadata{}, errors.New("no metadata block")
	}
	start += len(metadataTag)
	end := strings.Index(html[start:], "</script>")
	if end == -1 {
		return RunMetadata{}, errors.New("unterminated metadata block")
	}

	var meta RunMetadata
	if err := json.Unmarshal([]byte(strings.TrimSpace(html[start:start+end])), &meta); err != nil {
		return RunMetadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return meta, nil
}

func relativePath(base, target string) string {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return target
	}
	return filepath.ToSlash(rel)
}
