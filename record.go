package jamfreport

import (
	"encoding/json"

	"github.com/httprunner/JamfReport/internal/jamf"
)

// DeviceRecord is one row of the device report.
type DeviceRecord struct {
	DeviceID   uint64 `json:"device_id"`
	Name       string `json:"name"`
	Model      string `json:"model"`
	OS         string `json:"os"`
	OSIsLatest bool   `json:"os_is_latest"`
}

// SkippedDevice records a listed device whose detail could not be fetched.
type SkippedDevice struct {
	DeviceID uint64
	NotFound bool
	Reason   string
}

// Report is the ordered device list for one build. Only Devices is part
// of the JSON shape; the other fields are for logs and the run journal.
type Report struct {
	RunID         string
	LatestVersion string
	Listed        int
	Devices       []DeviceRecord
	Skipped       []SkippedDevice
}

// NewDeviceRecord joins one device detail with the selected latest version.
// An empty latest version never matches, even for an empty OS version.
func NewDeviceRecord(detail jamf.DeviceDetail, latest string) DeviceRecord {
	return DeviceRecord{
		DeviceID:   detail.ID,
		Name:       detail.Name,
		Model:      detail.Model,
		OS:         detail.OSName + " " + detail.OSVersion,
		OSIsLatest: latest != "" && detail.OSVersion == latest,
	}
}

type reportJSON struct {
	Devices []DeviceRecord `json:"devices"`
}

// MarshalJSON renders {"devices": [...]}, with an empty array rather than null.
func (r Report) MarshalJSON() ([]byte, error) {
	devices := r.Devices
	if devices == nil {
		devices = []DeviceRecord{}
	}
	return json.Marshal(reportJSON{Devices: devices})
}
