package models

import "encoding/json"

// Outbound event names pushed on the notification channel. This is the
// complete catalog; senders go through the notifications package rather
// than building envelopes by hand.
const (
	EventDeviceAttached       = "device.attached"
	EventDeviceClassified     = "device.classified"
	EventDeviceDetached       = "device.detached"
	EventCopyStarted          = "copy.started"
	EventCopyProgress         = "copy.progress"
	EventCopySkipped          = "copy.skipped"
	EventCopyCompleted        = "copy.completed"
	EventCopyFailed           = "copy.failed"
	EventCardReorganized      = "card.reorganized"
	EventCardReorganizeFailed = "card.reorganize_failed"
	EventCardRenamed          = "card.renamed"
	EventCardRenameFailed     = "card.rename_failed"
	EventCardEjected          = "card.ejected"
	EventServiceStatus        = "service.status"
)

// Inbound command names accepted over the control surface's websocket
// counterpart. The HTTP control surface maps onto the same handlers.
const (
	CommandDescribe          = "describe"
	CommandMonitoringEnable  = "monitoring.enable"
	CommandMonitoringDisable = "monitoring.disable"
	CommandCardRename        = "card.rename"
)

// Classification values for an inspected device.
const (
	ClassificationCamera       = "camera"
	ClassificationPlain        = "plain"
	ClassificationUnclassified = "unclassified"
)

// Notification is a single status push, queued by components and delivered
// best-effort by the backend client.
type Notification struct {
	Event    string
	DeviceID string
	Params   any
}

// Envelope is the wire format for outbound events.
type Envelope struct {
	Data     any    `json:"data,omitempty"`
	Event    string `json:"event"`
	DeviceID string `json:"device_id,omitempty"`
}

// CommandObject is the wire format for inbound commands.
type CommandObject struct {
	Command string          `json:"command"`
	Sender  string          `json:"sender,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type StatusResponse struct {
	Alive             bool `json:"alive"`
	MonitoringEnabled bool `json:"monitoring_enabled"`
	ActiveJobs        int  `json:"active_jobs"`
}

type AttachedParams struct {
	MountPath  string `json:"mount_path"`
	DeviceNode string `json:"device_node"`
	Resolved   bool   `json:"resolved"`
}

type ClassifiedParams struct {
	Classification string   `json:"classification"`
	Folders        []string `json:"folders,omitempty"`
	FileCount      int      `json:"file_count"`
	TotalBytes     int64    `json:"total_bytes"`
}

type CopyStartedParams struct {
	TargetID   string `json:"target_identifier"`
	FileCount  int    `json:"file_count"`
	TotalBytes int64  `json:"bytes_total"`
	ReusedID   bool   `json:"reusing_identifier"`
}

type CopyProgressParams struct {
	Speed      string `json:"speed,omitempty"`
	Percent    int    `json:"percent"`
	BytesDone  int64  `json:"bytes_done"`
	BytesTotal int64  `json:"bytes_total"`
}

type CopySkippedParams struct {
	Reason   string `json:"reason"`
	TargetID string `json:"target_identifier,omitempty"`
}

type CopyCompletedParams struct {
	TargetID  string  `json:"target_identifier"`
	FileCount int     `json:"file_count"`
	Duration  float64 `json:"duration_s"`
}

type CopyFailedParams struct {
	ErrorKind string `json:"error_kind"`
	Detail    string `json:"detail"`
}

type CardReorganizedParams struct {
	TargetID string `json:"target_identifier"`
	Error    string `json:"error,omitempty"`
}

type CardRenameParams struct {
	MountPath string `json:"mount_path"`
	OldFolder string `json:"old_folder"`
	NewFolder string `json:"new_folder"`
	Error     string `json:"error,omitempty"`
}

type CardEjectedParams struct {
	MountPath string `json:"mount_path"`
	Error     string `json:"error,omitempty"`
}
