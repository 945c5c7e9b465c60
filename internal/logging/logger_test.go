package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func resetLogging() {
	CloseAll()
	logsDir = ""
	opts = Options{}
}

// TestAllCategoriesLog tests that all categories create log files when debug is on.
func TestAllCategoriesLog(t *testing.T) {
	defer resetLogging()
	tempDir := t.TempDir()

	if err := Initialize(tempDir, Options{Debug: true, Level: "debug"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	categories := []Category{
		CategoryBoot, CategoryCampaign, CategoryInstrument,
		CategoryAcquisition, CategoryConfig, CategoryStore,
	}
	for _, cat := range categories {
		Get(cat).Info("test message for %s", cat)
	}
	CloseAll()

	date := time.Now().Format("2006-01-02")
	for _, cat := range categories {
		logPath := filepath.Join(tempDir, "logs", date+"_"+string(cat)+".log")
		data, err := os.ReadFile(logPath)
		if err != nil {
			t.Errorf("expected log file for category %s: %v", cat, err)
			continue
		}
		if !strings.Contains(string(data), "test message for "+string(cat)) {
			t.Errorf("log file for %s missing test message", cat)
		}
	}
}

// TestDisabledInProductionMode tests that no files are written when debug is off.
func TestDisabledInProductionMode(t *testing.T) {
	defer resetLogging()
	tempDir := t.TempDir()

	if err := Initialize(tempDir, Options{Debug: false}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	Campaign("should not appear")
	Instrument("should not appear")

	if _, err := os.Stat(filepath.Join(tempDir, "logs")); !os.IsNotExist(err) {
		t.Errorf("logs directory should not exist in production mode")
	}
}

func TestCategoryFilter(t *testing.T) {
	defer resetLogging()
	tempDir := t.TempDir()

	err := Initialize(tempDir, Options{
		Debug: true,
		Level: "debug",
		Categories: map[string]bool{
			"campaign":   true,
			"instrument": false,
		},
	})
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	if !IsCategoryEnabled(CategoryCampaign) {
		t.Errorf("campaign category should be enabled")
	}
	if IsCategoryEnabled(CategoryInstrument) {
		t.Errorf("instrument category should be disabled")
	}
	// Unlisted categories default to enabled.
	if !IsCategoryEnabled(CategoryStore) {
		t.Errorf("unlisted category should default to enabled")
	}
}

func TestLevelFiltering(t *testing.T) {
	defer resetLogging()
	tempDir := t.TempDir()

	if err := Initialize(tempDir, Options{Debug: true, Level: "warn"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	l := Get(CategoryCampaign)
	l.Debug("debug line")
	l.Info("info line")
	l.Warn("warn line")
	l.Error("error line")
	CloseAll()

	date := time.Now().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(tempDir, "logs", date+"_campaign.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	content := string(data)
	if strings.Contains(content, "debug line") || strings.Contains(content, "info line") {
		t.Errorf("lines below warn level should be filtered, got:\n%s", content)
	}
	if !strings.Contains(content, "warn line") || !strings.Contains(content, "error line") {
		t.Errorf("warn/error lines missing, got:\n%s", content)
	}
}

func TestTimer(t *testing.T) {
	defer resetLogging()
	tempDir := t.TempDir()

	if err := Initialize(tempDir, Options{Debug: true, Level: "debug"}); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	timer := StartTimer(CategoryStore, "TestOperation")
	time.Sleep(5 * time.Millisecond)
	if elapsed := timer.Stop(); elapsed < 5*time.Millisecond {
		t.Errorf("timer elapsed %v, want >= 5ms", elapsed)
	}
}
