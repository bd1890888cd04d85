package mqttadapter

import (
	"fmt"
	"strings"

	"github.com/devlink-io/devlink/internal/ota"
	"github.com/devlink-io/devlink/internal/wire"
)

// Well-known channel tokens. Anything else is application-defined and
// forwarded opaquely.
const (
	ChannelOTA       = "ota"
	ChannelTelemetry = "tel"
)

const (
	suffixPub = "pub"
	suffixSub = "sub"
)

// UplinkFilter is the subscription covering all device publishes.
const UplinkFilter = "+/+/" + suffixPub

// ParseUplink splits "<device-id>/<channel>/pub" into its parts.
func ParseUplink(topic string) (deviceID, channel string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[2] != suffixPub {
		return "", "", false
	}
	if parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// DownlinkTopic builds "<device-id>/<target>/sub".
func DownlinkTopic(deviceID, target string) string {
	return fmt.Sprintf("%s/%s/%s", deviceID, target, suffixSub)
}

// otaRequestFrame is the map form of a device OTA request.
type otaRequestFrame struct {
	Cmd uint8 `cbor:"cmd"`
}

// DecodeOtaRequest decodes a device OTA request payload. Devices either send
// a CBOR map {cmd: u8} or, in the legacy encoding, a single bare byte.
func DecodeOtaRequest(payload []byte) (ota.Command, error) {
	if len(payload) == 0 {
		return 0, fmt.Errorf("empty ota request")
	}

	var frame otaRequestFrame
	if err := wire.Unmarshal(payload, &frame); err == nil {
		cmd := ota.Command(frame.Cmd)
		if !cmd.Valid() {
			return 0, fmt.Errorf("unknown ota command %d", frame.Cmd)
		}
		return cmd, nil
	}

	// Legacy encoding: one raw byte.
	if len(payload) == 1 {
		cmd := ota.Command(payload[0])
		if cmd.Valid() {
			return cmd, nil
		}
	}

	return 0, fmt.Errorf("undecodable ota request (%d bytes)", len(payload))
}

// EncodeOtaResponse serializes the package of an outbound update. A nil
// package becomes the CBOR null sentinel so the device learns "no update".
func EncodeOtaResponse(up *ota.Update) ([]byte, error) {
	if up == nil || up.Package == nil {
		return wire.Null, nil
	}
	return wire.Marshal(up.Package)
}
