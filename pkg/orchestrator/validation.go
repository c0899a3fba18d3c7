package orchestrator

import (
	"fmt"

	"github.com/core-tools/hsu-updater-go/pkg/errors"
)

const (
	minCommitRefLength = 7
	maxCommitRefLength = 40
)

// ValidateCommitRef validates a version-control revision identifier before it
// may be used as a command argument. Accepted values are 7-40 characters
// drawn only from hexadecimal digits (case-insensitive). Anything else --
// whitespace, shell metacharacters, control characters, wrong length -- is
// rejected, and the caller must not execute a command with it.
func ValidateCommitRef(ref string) error {
	if ref == "" {
		return errors.NewValidationError("commit reference cannot be empty", nil)
	}

	if len(ref) < minCommitRefLength || len(ref) > maxCommitRefLength {
		return errors.NewValidationError(
			fmt.Sprintf("commit reference must be %d-%d characters, got %d", minCommitRefLength, maxCommitRefLength, len(ref)),
			nil,
		)
	}

	for _, char := range ref {
		if !isHexChar(char) {
			return errors.NewValidationError("commit reference contains non-hexadecimal characters", nil)
		}
	}

	return nil
}

func isHexChar(char rune) bool {
	return (char >= '0' && char <= '9') ||
		(char >= 'a' && char <= 'f') ||
		(char >= 'A' && char <= 'F')
}
