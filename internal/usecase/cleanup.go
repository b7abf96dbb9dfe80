package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adapt/offsite/internal/domain"
)

// Cleanup prunes local run directories older than the retention window.
// Remote objects are never touched.
type Cleanup struct {
	tempDir       string
	runName       string
	retentionDays int
	logger        Logger
	now           func() time.Time
}

func NewCleanup(tempDir, runName string, retentionDays int, logger Logger) *Cleanup {
	if runName == "" {
		runName = domain.DefaultRunName
	}
	return &Cleanup{
		tempDir:       tempDir,
		runName:       runName,
		retentionDays: retentionDays,
		logger:        logger,
		now:           time.Now,
	}
}

// Execute returns the number of removed run directories. A retention of
// zero days disables pruning.
func (uc *Cleanup) Execute(ctx context.Context) (int, error) {
	if uc.retentionDays <= 0 {
		return 0, nil
	}
	uc.logger.Infof("Starting cleanup, retention: %d days", uc.retentionDays)

	entries, err := os.ReadDir(uc.tempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read temp dir: %w", err)
	}

	cutoff := uc.now().AddDate(0, 0, -uc.retentionDays)
	deleted := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if !entry.IsDir() {
			continue
		}

		timestamp, err := extractTimestamp(uc.runName, entry.Name())
		if err != nil {
			continue
		}
		if !timestamp.Before(cutoff) {
			continue
		}

		uc.logger.Infof("Deleting old run directory: %s", entry.Name())
		if err := os.RemoveAll(filepath.Join(uc.tempDir, entry.Name())); err != nil {
			uc.logger.Errorf("Failed to delete %s: %v", entry.Name(), err)
			continue
		}
		deleted++
	}

	uc.logger.Infof("Deleted %d old run directory(ies)", deleted)
	return deleted, nil
}

// extractTimestamp parses "<runName>-<timestamp>" directory names.
func extractTimestamp(runName, dirName string) (time.Time, error) {
	stamp, ok := strings.CutPrefix(dirName, runName+"-")
	if !ok {
		return time.Time{}, fmt.Errorf("not a %s run: %s", runName, dirName)
	}
	return time.ParseInLocation(domain.RunTimestampLayout, stamp, time.Local)
}
