// Package bus implements the central event router. Every component runs as a
// named runner owning one inbound channel; the broker fans each event out to
// all registered runners, which ignore events not addressed to them.
package bus

import (
	"github.com/devlink-io/devlink/internal/ota"
)

// Event is the union type carried on the bus. The set of variants is closed:
// every implementation lives in this package so adapters can switch
// exhaustively.
type Event interface {
	// Kind names the variant for logging and metrics.
	Kind() string
}

// NewRunner registers a runner with the broker at runtime. Steady-state
// registration happens at construction; this event exists for late joiners.
type NewRunner struct {
	Name   string
	Sender chan<- Event
}

// OtaNewPackage carries an admin AddOta request to the catalog.
type OtaNewPackage struct {
	Update *ota.Update
}

// OtaDeletePackage carries an admin RemoveOta request to the catalog.
type OtaDeletePackage struct {
	UpdateID string
}

// OtaLink associates a device and/or group with an update.
// Empty strings mean "absent".
type OtaLink struct {
	DeviceID string
	GroupID  string
	ImageID  string
}

// OtaUnlink dissociates a device or clears a group's update pin.
type OtaUnlink struct {
	DeviceID string
	GroupID  string
}

// OtaRequest is a device query received over MQTT.
type OtaRequest struct {
	DeviceID string
	Cmd      ota.Command
}

// OtaResponse is the catalog's answer, published to the device by the MQTT
// adapter. A nil Update.Package means "no update for you".
type OtaResponse struct {
	Update *ota.Update
}

// OtaAddResponse acknowledges an admin AddOta on the control plane.
type OtaAddResponse struct {
	OK      bool
	Message string
}

// OtaGroupListRequest asks the catalog to enumerate group ids.
type OtaGroupListRequest struct{}

// OtaGroupListResponse carries the group ids back to the admin adapter.
type OtaGroupListResponse struct {
	Groups []string
}

// OtaImageListRequest asks the catalog to enumerate stored packages.
type OtaImageListRequest struct{}

// ImageEntry is one element of an image list response.
type ImageEntry struct {
	UpdateID string       `cbor:"update_id"`
	Package  *ota.Package `cbor:"package"`
}

// OtaImageListResponse carries the stored packages back to the admin adapter.
type OtaImageListResponse struct {
	Images []ImageEntry
}

// ApplicationRequest forwards opaque device traffic to the application tier.
type ApplicationRequest struct {
	UID    string
	Target string
	Msg    []byte
}

// ApplicationResponse is application traffic bound for a device.
type ApplicationResponse struct {
	UID    string
	Target string
	Msg    []byte
}

// ApplicationManagementRequest forwards an opaque admin command to the
// application tier.
type ApplicationManagementRequest struct {
	Msg []byte
}

// ApplicationManagementResponse is application traffic bound for the admin
// session.
type ApplicationManagementResponse struct {
	Msg []byte
}

// InfluxDataSave carries a line-protocol record to the telemetry writer.
type InfluxDataSave struct {
	Query string
}

func (NewRunner) Kind() string                     { return "NewRunner" }
func (OtaNewPackage) Kind() string                 { return "OtaNewPackage" }
func (OtaDeletePackage) Kind() string              { return "OtaDeletePackage" }
func (OtaLink) Kind() string                       { return "OtaLink" }
func (OtaUnlink) Kind() string                     { return "OtaUnlink" }
func (OtaRequest) Kind() string                    { return "OtaRequest" }
func (OtaResponse) Kind() string                   { return "OtaResponse" }
func (OtaAddResponse) Kind() string                { return "OtaAddResponse" }
func (OtaGroupListRequest) Kind() string           { return "OtaGroupListRequest" }
func (OtaGroupListResponse) Kind() string          { return "OtaGroupListResponse" }
func (OtaImageListRequest) Kind() string           { return "OtaImageListRequest" }
func (OtaImageListResponse) Kind() string          { return "OtaImageListResponse" }
func (ApplicationRequest) Kind() string            { return "ApplicationRequest" }
func (ApplicationResponse) Kind() string           { return "ApplicationResponse" }
func (ApplicationManagementRequest) Kind() string  { return "ApplicationManagementRequest" }
func (ApplicationManagementResponse) Kind() string { return "ApplicationManagementResponse" }
func (InfluxDataSave) Kind() string                { return "InfluxDataSave" }
