// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package opm

import (
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// extensionMap is the default extension -> bucket mapping for
// RuleByExtension, carried over from the original tool's EXTENSION_MAP.
var extensionMap = map[string]string{
	".jpg": "Images", ".jpeg": "Images", ".png": "Images", ".gif": "Images",
	".bmp": "Images", ".svg": "Images", ".webp": "Images", ".tiff": "Images",

	".pdf": "Documents", ".doc": "Documents", ".docx": "Documents",
	".txt": "Documents", ".rtf": "Documents", ".odt": "Documents",
	".xls": "Documents", ".xlsx": "Documents", ".ppt": "Documents", ".pptx": "Documents",

	".py": "Code", ".java": "Code", ".js": "Code", ".html": "Code", ".css": "Code",
	".cpp": "Code", ".c": "Code", ".h": "Code", ".php": "Code", ".rb": "Code",
	".go": "Code", ".rs": "Code", ".ts": "Code", ".jsx": "Code", ".tsx": "Code",

	".sh": "Scripts", ".bat": "Scripts", ".ps1": "Scripts", ".cmd": "Scripts",

	".zip": "Archives", ".rar": "Archives", ".7z": "Archives", ".tar": "Archives",
	".gz": "Archives", ".bz2": "Archives", ".xz": "Archives",

	".mp3": "Audio", ".wav": "Audio", ".flac": "Audio", ".aac": "Audio",
	".ogg": "Audio", ".m4a": "Audio",

	".mp4": "Video", ".avi": "Video", ".mkv": "Video", ".mov": "Video",
	".wmv": "Video", ".flv": "Video", ".webm": "Video",

	".json": "Data", ".xml": "Data", ".csv": "Data", ".sql": "Data",
	".yaml": "Data", ".yml": "Data", ".toml": "Data",
}

func bucketByExtension(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if b, ok := extensionMap[ext]; ok {
		return b
	}
	return "Other"
}

func bucketByDate(info os.FileInfo, format string) string {
	if format == "" {
		format = "2006-01"
	}
	return info.ModTime().Format(format)
}

func bucketBySize(info os.FileInfo, smallMB, largeMB float64) string {
	if smallMB <= 0 {
		smallMB = 1.0
	}
	if largeMB <= 0 {
		largeMB = 100.0
	}
	sizeMB := float64(info.Size()) / (1024 * 1024)
	switch {
	case sizeMB < smallMB:
		return "Small"
	case sizeMB < largeMB:
		return "Medium"
	default:
		return "Large"
	}
}

func bucketByType(path string) string {
	ext := filepath.Ext(path)
	mimeType := mime.TypeByExtension(ext)
	if mimeType == "" {
		return "Unknown"
	}
	mainType := strings.SplitN(mimeType, "/", 2)[0]
	switch strings.ToLower(mainType) {
	case "application":
		return "Applications"
	case "text":
		return "Text"
	case "image":
		return "Image"
	case "audio":
		return "Audio"
	case "video":
		return "Video"
	default:
		return strings.Title(mainType)
	}
}

func bucketByArchiveAge(info os.FileInfo, now time.Time, cutoff time.Duration) (string, bool) {
	if cutoff <= 0 {
		cutoff = 90 * 24 * time.Hour
	}
	if now.Sub(info.ModTime()) > cutoff {
		return "Archive", true
	}
	return "", false
}
