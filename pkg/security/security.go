package security

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jdziat/simple-batch-runtime/pkg/core"
)

// Security limits and configuration
const (
	// MaxBatchNameLength is the maximum length for batch (job) names
	MaxBatchNameLength = 255

	// MaxStepNameLength is the maximum length for step names
	MaxStepNameLength = 255

	// MaxCommitInterval is the hard limit for rows per transaction
	MaxCommitInterval = 10000

	// MaxCommentLength is the maximum length for stored comments
	MaxCommentLength = 4096

	// MaxTableNameLength is the maximum length for table names
	MaxTableNameLength = 128
)

// validBatchName matches alphanumeric, hyphens, underscores, and dots
var validBatchName = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_\-\.]*$`)

// validTableName matches optionally schema-qualified SQL identifiers
var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// ValidateBatchName validates a batch name
func ValidateBatchName(name string) error {
	if name == "" {
		return core.ErrInvalidBatchName
	}
	if len(name) > MaxBatchNameLength {
		return core.ErrBatchNameTooLong
	}
	if !validBatchName.MatchString(name) {
		return core.ErrInvalidBatchName
	}
	return nil
}

// ValidateTableName validates a table name before it is interpolated into SQL
func ValidateTableName(name string) error {
	if name == "" || len(name) > MaxTableNameLength || !validTableName.MatchString(name) {
		return core.ErrInvalidTableName
	}
	return nil
}

// SanitizeComment truncates and sanitizes comments for storage
func SanitizeComment(msg string) string {
	if msg == "" {
		return ""
	}

	// Remove any null bytes or control characters (except newlines)
	var sanitized strings.Builder
	sanitized.Grow(len(msg))

	for _, r := range msg {
		if r == '\n' || r == '\r' || r == '\t' || (r >= 32 && r != 127) {
			sanitized.WriteRune(r)
		}
	}

	result := sanitized.String()

	if utf8.RuneCountInString(result) > MaxCommentLength {
		runes := []rune(result)
		result = string(runes[:MaxCommentLength-3]) + "..."
	}

	return result
}

// TruncateName shortens a step name to MaxStepNameLength runes
func TruncateName(name string) string {
	if utf8.RuneCountInString(name) <= MaxStepNameLength {
		return name
	}
	return string([]rune(name)[:MaxStepNameLength])
}

// ClampCommitInterval ensures the commit interval is within limits
func ClampCommitInterval(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxCommitInterval {
		return MaxCommitInterval
	}
	return n
}
