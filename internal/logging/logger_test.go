package logging

/*
dnsdeny — DNS blocklist fetcher and renderer in Go
Copyright (C) 2026  The dnsdeny authors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitialize(t *testing.T) {
	if err := Initialize(nil); err != nil {
		t.Fatalf("Initialize(nil): %v", err)
	}
	if GetLogger() == nil {
		t.Fatal("GetLogger returned nil")
	}

	if err := Initialize(&Config{Level: "debug", Console: true}); err != nil {
		t.Fatalf("Initialize with custom config: %v", err)
	}
}

func TestGetLoggerLazyDefault(t *testing.T) {
	globalLogger = nil
	logger := GetLogger()
	if logger == nil {
		t.Fatal("GetLogger returned nil")
	}
	if logger != GetLogger() {
		t.Error("GetLogger should return the same instance")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo}, // default
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if level := parseLevel(tt.input); level != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, level, tt.expected)
			}
		})
	}
}

func TestFileLogging(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "fetch.log")
	if err := Initialize(&Config{Level: "info", File: logFile}); err != nil {
		t.Fatalf("Initialize with file: %v", err)
	}

	Info("fetched source", "source", "stevenblack", "domains", 12345)
	Infof("rendered %d unique domains", 12345)

	if err := GetLogger().Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "fetched source") {
		t.Error("log file missing expected message")
	}
}

func TestJSONFormat(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "fetch.log")
	if err := Initialize(&Config{Level: "info", File: logFile, JSON: true}); err != nil {
		t.Fatalf("Initialize with JSON format: %v", err)
	}

	Info("json test message")
	if err := GetLogger().Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg"`) {
		t.Error("log file does not look like JSON output")
	}
}

func TestReload(t *testing.T) {
	if err := Initialize(&Config{Level: "info", Console: true}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	logger := GetLogger()
	if err := logger.Reload(&Config{Level: "debug", Console: true, JSON: true}); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if logger.config.Level != "debug" {
		t.Error("config level not updated after Reload")
	}
}

func TestCompatibilityFunctions(t *testing.T) {
	if err := Initialize(&Config{Level: "info"}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	Printf("printf test %d", 42)
	Println("println test", 42)
	if With(slog.String("source", "adaway")) == nil {
		t.Error("With returned nil")
	}
	if WithError(os.ErrNotExist) == nil {
		t.Error("WithError returned nil")
	}
}
