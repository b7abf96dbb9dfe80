package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	KindConfiguration      ErrorKind = "ConfigurationError"
	KindArtifactProduction ErrorKind = "ArtifactProductionError"
	KindKeyDerivation      ErrorKind = "KeyDerivationError"
	KindEncryption         ErrorKind = "EncryptionError"
	KindUpload             ErrorKind = "UploadError"
	KindRestoreList        ErrorKind = "RestoreListError"
	KindRestoreObject      ErrorKind = "RestoreObjectError"
)

// Sentinels for errors.Is matching against an *Error of the same kind.
var (
	ErrConfiguration      = errors.New(string(KindConfiguration))
	ErrArtifactProduction = errors.New(string(KindArtifactProduction))
	ErrKeyDerivation      = errors.New(string(KindKeyDerivation))
	ErrEncryption         = errors.New(string(KindEncryption))
	ErrUpload             = errors.New(string(KindUpload))
	ErrRestoreList        = errors.New(string(KindRestoreList))
	ErrRestoreObject      = errors.New(string(KindRestoreObject))
)

var kindSentinels = map[ErrorKind]error{
	KindConfiguration:      ErrConfiguration,
	KindArtifactProduction: ErrArtifactProduction,
	KindKeyDerivation:      ErrKeyDerivation,
	KindEncryption:         ErrEncryption,
	KindUpload:             ErrUpload,
	KindRestoreList:        ErrRestoreList,
	KindRestoreObject:      ErrRestoreObject,
}

// Error carries enough context to locate the failing step. It must never
// be constructed with secret material in Message.
type Error struct {
	Kind      ErrorKind
	Step      string
	RunID     string
	Artifact  ArtifactKind
	RemoteKey string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	var ctx []string
	if e.RunID != "" {
		ctx = append(ctx, "run="+e.RunID)
	}
	if e.Step != "" {
		ctx = append(ctx, "step="+e.Step)
	}
	if e.Artifact != "" {
		ctx = append(ctx, "artifact="+string(e.Artifact))
	}
	if e.RemoteKey != "" {
		ctx = append(ctx, "key="+e.RemoteKey)
	}
	if len(ctx) > 0 {
		b.WriteString(" [" + strings.Join(ctx, " ") + "]")
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// WithRun sets run and step context and returns e.
func (e *Error) WithRun(runID, step string) *Error {
	e.RunID = runID
	e.Step = step
	return e
}

func (e *Error) WithArtifact(kind ArtifactKind) *Error {
	e.Artifact = kind
	return e
}

func (e *Error) WithRemoteKey(key string) *Error {
	e.RemoteKey = key
	return e
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
