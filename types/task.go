package types

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueTypeReencrypt re-envelopes credentials stored under an old
	// master key version; run before retiring that version
	QueueTypeReencrypt = "credential:reencrypt"
	// QueueTypeDriftScan resolves every wallet assignment and reports
	// drift/inconsistency
	QueueTypeDriftScan = "credential:drift_scan"
)

// ReencryptTask is the payload for QueueTypeReencrypt
type ReencryptTask struct {
	OldKeyVersion int    `json:"oldKeyVersion"`
	RequestedBy   string `json:"requestedBy"`
}

// DriftScanTask is the payload for QueueTypeDriftScan
type DriftScanTask struct {
	RequestedBy string `json:"requestedBy,omitempty"`
}

func NewReencryptTask(task *ReencryptTask) (*asynq.Task, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(QueueTypeReencrypt, payload), nil
}

func NewDriftScanTask(task *DriftScanTask) (*asynq.Task, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(QueueTypeDriftScan, payload), nil
}
