package admin

import (
	"fmt"

	"github.com/devlink-io/devlink/internal/bus"
	"github.com/devlink-io/devlink/internal/ota"
	"github.com/devlink-io/devlink/internal/wire"
)

// Command is the operation requested by a management frame.
type Command uint8

const (
	CmdAddOta Command = iota + 1
	CmdRemoveOta
	CmdLinkOta
	CmdUnlinkOta
	CmdGetGroupList
	CmdGetImageList
	CmdApplication
)

// String names the command for logs.
func (c Command) String() string {
	switch c {
	case CmdAddOta:
		return "AddOta"
	case CmdRemoveOta:
		return "RemoveOta"
	case CmdLinkOta:
		return "LinkOta"
	case CmdUnlinkOta:
		return "UnlinkOta"
	case CmdGetGroupList:
		return "GetGroupList"
	case CmdGetImageList:
		return "GetImageList"
	case CmdApplication:
		return "Application"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ManagementData is the inbound admin frame.
type ManagementData struct {
	Cmd    Command `cbor:"cmd"`
	Target string  `cbor:"target,omitempty"`
	Msg    []byte  `cbor:"msg,omitempty"`
}

// LinkPayload is the body of LinkOta and UnlinkOta frames.
type LinkPayload struct {
	DeviceID string `cbor:"device_id,omitempty"`
	GroupID  string `cbor:"group_id,omitempty"`
	ImageID  string `cbor:"image_id,omitempty"`
}

// ResponseKind tags an outbound admin frame.
type ResponseKind uint8

const (
	RespGroupList ResponseKind = iota + 1
	RespImageList
	RespApplication
	RespAddOta
)

// ResponseData is the outbound admin frame; Msg is a CBOR-encoded payload
// matching Kind.
type ResponseData struct {
	Kind ResponseKind `cbor:"kind"`
	Msg  []byte       `cbor:"msg"`
}

// GroupListPayload is the body of a RespGroupList frame.
type GroupListPayload struct {
	Groups []string `cbor:"groups"`
}

// ImageListPayload is the body of a RespImageList frame.
type ImageListPayload struct {
	Images []bus.ImageEntry `cbor:"images"`
}

// AddOtaPayload is the body of a RespAddOta frame.
type AddOtaPayload struct {
	OK      bool   `cbor:"ok"`
	Message string `cbor:"message,omitempty"`
}

// DecodeCommand turns one management frame into its bus event.
func DecodeCommand(data []byte) (bus.Event, error) {
	var md ManagementData
	if err := wire.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("decode management frame: %w", err)
	}

	switch md.Cmd {
	case CmdAddOta:
		var up ota.Update
		if err := wire.Unmarshal(md.Msg, &up); err != nil {
			return nil, fmt.Errorf("decode AddOta update: %w", err)
		}
		return bus.OtaNewPackage{Update: &up}, nil

	case CmdRemoveOta:
		id := string(md.Msg)
		if id == "" {
			return nil, fmt.Errorf("RemoveOta without update id")
		}
		return bus.OtaDeletePackage{UpdateID: id}, nil

	case CmdLinkOta:
		var link LinkPayload
		if err := wire.Unmarshal(md.Msg, &link); err != nil {
			return nil, fmt.Errorf("decode LinkOta payload: %w", err)
		}
		return bus.OtaLink{DeviceID: link.DeviceID, GroupID: link.GroupID, ImageID: link.ImageID}, nil

	case CmdUnlinkOta:
		var link LinkPayload
		if err := wire.Unmarshal(md.Msg, &link); err != nil {
			return nil, fmt.Errorf("decode UnlinkOta payload: %w", err)
		}
		return bus.OtaUnlink{DeviceID: link.DeviceID, GroupID: link.GroupID}, nil

	case CmdGetGroupList:
		return bus.OtaGroupListRequest{}, nil

	case CmdGetImageList:
		return bus.OtaImageListRequest{}, nil

	case CmdApplication:
		return bus.ApplicationManagementRequest{Msg: md.Msg}, nil

	default:
		return nil, fmt.Errorf("unknown management command %d", uint8(md.Cmd))
	}
}

// EncodeResponse maps a bus event onto an outbound admin frame. It returns
// (nil, nil) for events the control plane does not relay.
func EncodeResponse(ev bus.Event) ([]byte, error) {
	var (
		kind ResponseKind
		body any
	)

	switch e := ev.(type) {
	case bus.OtaGroupListResponse:
		kind, body = RespGroupList, GroupListPayload{Groups: e.Groups}
	case bus.OtaImageListResponse:
		kind, body = RespImageList, ImageListPayload{Images: e.Images}
	case bus.ApplicationManagementResponse:
		return wire.Marshal(ResponseData{Kind: RespApplication, Msg: e.Msg})
	case bus.OtaAddResponse:
		kind, body = RespAddOta, AddOtaPayload{OK: e.OK, Message: e.Message}
	default:
		return nil, nil
	}

	msg, err := wire.Marshal(body)
	if err != nil {
		return nil, err
	}
	return wire.Marshal(ResponseData{Kind: kind, Msg: msg})
}
