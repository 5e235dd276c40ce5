// Package fixsafety is the C10 Fix-Safety Validator: it grades a suggested
// fix by confidence x file-sensitivity and classifies it as APPROVED,
// MANUAL, or REJECTED. The validator performs no I/O (§4.10).
package fixsafety

import (
	"path/filepath"
	"strings"
)

// CriticalCategory names a security-issue category that unconditionally
// rejects a fix (§4.10 step 2). Read from this static table rather than
// inferred from issue titles, per SPEC_FULL §13's open-question resolution.
type CriticalCategory string

const (
	CategorySQLInjection     CriticalCategory = "sql-injection"
	CategoryCommandInjection CriticalCategory = "command-injection"
	CategoryHardcodedSecret  CriticalCategory = "hardcoded-secret"
	CategoryPathTraversal    CriticalCategory = "path-traversal"
	CategoryAuthBypass       CriticalCategory = "auth-bypass"
	CategoryRCE              CriticalCategory = "rce"
)

// criticalCatalog is the closed set of categories that reject a fix
// outright, independent of confidence. Populated from the same category
// vocabulary the sandbox's security detectors emit (internal/sandbox).
var criticalCatalog = map[CriticalCategory]bool{
	CategorySQLInjection:     true,
	CategoryCommandInjection: true,
	CategoryHardcodedSecret:  true,
	CategoryPathTraversal:    true,
	CategoryAuthBypass:       true,
	CategoryRCE:              true,
}

// IsCritical reports whether category is in the fix-rejecting catalog.
func IsCritical(category CriticalCategory) bool {
	return criticalCatalog[category]
}

const (
	sensitiveThreshold = 0.95
	defaultThreshold   = 0.90
)

// sensitiveExtensions are file extensions that, on their own, make a path
// sensitive regardless of directory.
var sensitiveExtensions = map[string]bool{
	".config":     true,
	".properties": true,
	".yml":        true,
	".yaml":       true,
	".env":        true,
	".key":        true,
	".pem":        true,
	".crt":        true,
	".jks":        true,
	".p12":        true,
}

// sensitiveFilenames are exact basenames that are always sensitive,
// independent of extension.
var sensitiveFilenames = map[string]bool{
	"id_rsa":     true,
	"id_ed25519": true,
	"id_ecdsa":   true,
	"id_dsa":     true,
}

// sensitiveDirFragments are path fragments that mark every file beneath
// them as sensitive.
var sensitiveDirFragments = []string{
	"/config/",
	"/security/",
	"/auth/",
	"/credentials/",
	"/secrets/",
}

// Sensitive reports whether path matches the sensitive-file catalog by
// extension, known key filename, or containing directory fragment (§4.10
// step 3).
func Sensitive(path string) bool {
	normalized := "/" + strings.TrimPrefix(filepath.ToSlash(path), "/")

	base := filepath.Base(normalized)
	if sensitiveFilenames[base] {
		return true
	}
	if ext := filepath.Ext(base); sensitiveExtensions[ext] {
		return true
	}
	for _, frag := range sensitiveDirFragments {
		if strings.Contains(normalized, frag) {
			return true
		}
	}
	return false
}

// RequiredThreshold returns the confidence threshold a fix on path must
// clear: the higher, sensitive-file threshold or the default.
func RequiredThreshold(path string) float64 {
	if Sensitive(path) {
		return sensitiveThreshold
	}
	return defaultThreshold
}
