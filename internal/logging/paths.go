package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.scribe/logs/).
// Falls back to temp directory if home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".scribe", "logs")
	}
	return filepath.Join(home, ".scribe", "logs")
}

// DefaultLogPath returns the default scheduler log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "scheduler.log")
}

// LogSource distinguishes the two processes that write logs under
// DefaultLogDir: the scheduler (C1/C2 batch processing) and the search
// daemon (C4 query handling).
type LogSource string

const (
	// LogSourceScheduler is the task scheduler / indexing pipeline log.
	LogSourceScheduler LogSource = "scheduler"
	// LogSourceSearch is the search daemon log.
	LogSourceSearch LogSource = "search"
	// LogSourceAll combines all log sources.
	LogSourceAll LogSource = "all"
)

// SearchLogPath returns the search daemon log path.
func SearchLogPath() string {
	return filepath.Join(DefaultLogDir(), "search.log")
}

// FindLogFile attempts to find the log file for viewing.
// Priority:
// 1. Explicit path (if provided)
// 2. ~/.scribe/logs/scheduler.log (global)
//
// Returns an error if no log file is found.
func FindLogFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit, nil
		}
		return "", fmt.Errorf("log file not found: %s", explicit)
	}

	globalPath := DefaultLogPath()
	if _, err := os.Stat(globalPath); err == nil {
		return globalPath, nil
	}

	return "", fmt.Errorf("no log file found. Scheduler may not have run with --debug yet.\nExpected at: %s", globalPath)
}

// FindLogFileBySource finds log files based on the source type.
// Returns a list of log file paths that exist.
func FindLogFileBySource(source LogSource, explicit string) ([]string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return []string{explicit}, nil
		}
		return nil, fmt.Errorf("log file not found: %s", explicit)
	}

	var paths []string
	var checked []string

	switch source {
	case LogSourceScheduler:
		p := DefaultLogPath()
		checked = append(checked, p)
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}

	case LogSourceSearch:
		p := SearchLogPath()
		checked = append(checked, p)
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}

	case LogSourceAll:
		schedPath, searchPath := DefaultLogPath(), SearchLogPath()
		checked = append(checked, schedPath, searchPath)
		if _, err := os.Stat(schedPath); err == nil {
			paths = append(paths, schedPath)
		}
		if _, err := os.Stat(searchPath); err == nil {
			paths = append(paths, searchPath)
		}

	default:
		return nil, fmt.Errorf("unknown log source: %s (use: scheduler, search, all)", source)
	}

	if len(paths) == 0 {
		hint := getLogHint(source)
		return nil, fmt.Errorf("no log files found for source '%s'.\nChecked: %v\n\n%s", source, checked, hint)
	}

	return paths, nil
}

// ParseLogSource parses a string into a LogSource.
func ParseLogSource(s string) LogSource {
	switch s {
	case "search":
		return LogSourceSearch
	case "all":
		return LogSourceAll
	default:
		return LogSourceScheduler
	}
}

// EnsureLogDir creates the log directory if it doesn't exist.
func EnsureLogDir() error {
	dir := DefaultLogDir()
	return os.MkdirAll(dir, 0o755)
}

func getLogHint(source LogSource) string {
	switch source {
	case LogSourceScheduler:
		return "To generate scheduler logs:\n  scribed --debug daemon start"
	case LogSourceSearch:
		return "To generate search daemon logs:\n  scribed --debug daemon start"
	case LogSourceAll:
		return "To generate logs:\n  scribed --debug daemon start"
	default:
		return ""
	}
}
