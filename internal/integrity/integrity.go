// Package integrity verifies the detector model file against a known SHA-256
// hash before the monitor trusts its detections.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	// ErrModelMissing is returned when the model file does not exist.
	ErrModelMissing = errors.New("model file not found")
	// ErrModelTampered is returned when the model hash does not match.
	ErrModelTampered = errors.New("tampered model")
)

// Status is the outcome of a model check.
type Status string

const (
	StatusOK       Status = "ok"
	StatusMissing  Status = "missing"
	StatusTampered Status = "tampered"
	StatusDisabled Status = "disabled"
)

// Trusted reports whether detections may be used.
func (s Status) Trusted() bool {
	return s == StatusOK || s == StatusDisabled
}

// Result describes a completed check.
type Result struct {
	Path     string
	Expected string
	Actual   string
	Status   Status
}

// HashFile returns the lowercase hex SHA-256 of the file at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrModelMissing, path)
		}
		return "", fmt.Errorf("open model: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash model: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify hashes path and compares it with expected. An empty expected hash
// disables the check. The returned error is ErrModelMissing or
// ErrModelTampered (wrapped) when the model must not be trusted.
func Verify(path, expected string) (Result, error) {
	expected = strings.ToLower(strings.TrimSpace(expected))
	res := Result{Path: path, Expected: expected}

	if expected == "" {
		res.Status = StatusDisabled
		return res, nil
	}

	actual, err := HashFile(path)
	if err != nil {
		// unreadable counts as missing
		res.Status = StatusMissing
		return res, err
	}
	res.Actual = actual

	if actual != expected {
		res.Status = StatusTampered
		return res, fmt.Errorf("%w: %s", ErrModelTampered, path)
	}

	res.Status = StatusOK
	return res, nil
}
