package domain

import (
	"context"
	"time"
)

// RunState is a step of the backup state machine.
type RunState string

const (
	StateInit          RunState = "init"
	StateDumping       RunState = "dumping"
	StateSchemaDumping RunState = "schema-dumping"
	StateArchiving     RunState = "archiving"
	StateSnapshotting  RunState = "snapshotting"
	StateEncrypting    RunState = "encrypting"
	StateUploading     RunState = "uploading"
	StateDone          RunState = "done"
	StateFailed        RunState = "failed"
)

// UploadResult is the outcome of one object upload.
type UploadResult struct {
	Artifact EncryptedArtifact
	Key      RemoteKey
	Size     int64
	Err      error
}

// Report describes a finished backup run, successful or not.
type Report struct {
	RunID      string
	State      RunState
	FailedStep RunState
	Artifacts  []Artifact
	Encrypted  []EncryptedArtifact
	Uploads    []UploadResult
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
}

func (r *Report) Succeeded() bool {
	return r.State == StateDone
}

func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// UploadedBytes sums the sizes of successful uploads.
func (r *Report) UploadedBytes() int64 {
	var n int64
	for _, u := range r.Uploads {
		if u.Err == nil {
			n += u.Size
		}
	}
	return n
}

// RestoredObject is the outcome of one downloaded and decrypted object.
type RestoredObject struct {
	Key  string
	Path string
	Err  error
}

type RestoreReport struct {
	Prefix  string
	Objects []RestoredObject
}

// Failed returns the objects that could not be restored.
func (r *RestoreReport) Failed() []RestoredObject {
	var failed []RestoredObject
	for _, o := range r.Objects {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// Notifier is told about every finished backup run.
type Notifier interface {
	Notify(ctx context.Context, report *Report) error
}
