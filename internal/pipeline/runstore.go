package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/trendwire/ingest/internal/signal"
)

// runArtifacts owns the on-disk run log and JSON report for one run. The log
// receives timestamped progress lines as the run advances; the report is
// written once at the end.
type runArtifacts struct {
	runID      string
	logPath    string
	reportPath string
	logFile    *os.File
	clock      signal.Clock
}

func startRunArtifacts(dataDir, runID string, clock signal.Clock) (*runArtifacts, error) {
	logsDir := filepath.Join(dataDir, "logs")
	runsDir := filepath.Join(dataDir, "runs")
	for _, dir := range []string{logsDir, runsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create run dir %s: %w", dir, err)
		}
	}
	logPath := filepath.Join(logsDir, runID+".log")
	f, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("create run log: %w", err)
	}
	a := &runArtifacts{
		runID:      runID,
		logPath:    logPath,
		reportPath: filepath.Join(runsDir, runID+".json"),
		logFile:    f,
		clock:      clock,
	}
	a.append("run_start " + runID)
	return a, nil
}

// append writes one timestamped progress line. Log failures are swallowed;
// the run log is an operator convenience, never a reason to abort a run.
func (a *runArtifacts) append(message string) {
	if a == nil || a.logFile == nil {
		return
	}
	line := fmt.Sprintf("[%s] %s\n", a.clock.Now().Format(time.RFC3339), message)
	_, _ = a.logFile.WriteString(line)
}

// finalize writes the JSON report and closes the log.
func (a *runArtifacts) finalize(report signal.RunReport) error {
	if a.logFile != nil {
		_ = a.logFile.Close()
		a.logFile = nil
	}
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run report: %w", err)
	}
	if err := os.WriteFile(a.reportPath, payload, 0o644); err != nil {
		return fmt.Errorf("write run report: %w", err)
	}
	return nil
}
