package message

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-logfmt/logfmt"
)

// ErrInvalidState is returned when the ack summary is requested before the
// status has been set.
var ErrInvalidState = errors.New("status field is null")

// Ack is the response of a device to one command invocation.
//
// Producers populate the fields progressively, either with a struct literal
// or with the chained setters. Once handed over for encoding an Ack must be
// treated as read-only; it holds no locks of its own.
type Ack struct {
	// CmdSn is the sequence number assigned by the command originator.
	CmdSn int64

	// DeviceID identifies the device that executed the command.
	DeviceID int32

	// DeviceMac is the hardware address of the device in hexadecimal text.
	DeviceMac string

	// Item is the path of the command target on the device.
	Item string

	// Value is the command result.
	Value Value

	Status Status

	// StatusMessage carries details for ERROR, REJECTED and PROGRESS acks.
	StatusMessage string
}

func (a *Ack) SetCmdSn(cmdSn int64) *Ack {
	a.CmdSn = cmdSn
	return a
}

func (a *Ack) SetDeviceID(deviceID int32) *Ack {
	a.DeviceID = deviceID
	return a
}

func (a *Ack) SetDeviceMac(deviceMac string) *Ack {
	a.DeviceMac = deviceMac
	return a
}

func (a *Ack) SetItem(item string) *Ack {
	a.Item = item
	return a
}

func (a *Ack) SetValue(value Value) *Ack {
	a.Value = value
	return a
}

func (a *Ack) SetStatus(status Status) *Ack {
	a.Status = status
	return a
}

func (a *Ack) SetStatusMessage(statusMessage string) *Ack {
	a.StatusMessage = statusMessage
	return a
}

// Message returns a human-readable summary of the ack, e.g.
// "device7@42:PROGRESS:finished %63:compressing".
func (a *Ack) Message() (string, error) {
	if a.Status == StatusUnset {
		return "", ErrInvalidState
	}
	var b strings.Builder
	fmt.Fprintf(&b, "device%d@%d:%s", a.DeviceID, a.CmdSn, a.Status)
	switch a.Status.suffix() {
	case suffixDetail:
		if a.StatusMessage != "" {
			b.WriteString(":" + a.StatusMessage)
		}
	case suffixProgress:
		if pct, ok := a.Value.Truncated(); ok {
			b.WriteString(":finished %" + pct)
		}
		if a.StatusMessage != "" {
			b.WriteString(":" + a.StatusMessage)
		}
	}
	return b.String(), nil
}

// String returns a diagnostic listing of the fields that are present. It is
// not the wire format.
func (a *Ack) String() string {
	fields := []string{
		fmt.Sprintf("cmdSn=%d", a.CmdSn),
		fmt.Sprintf("deviceId=%d", a.DeviceID),
	}
	if a.DeviceMac != "" {
		fields = append(fields, "deviceMac="+a.DeviceMac)
	}
	if a.Item != "" {
		fields = append(fields, "item="+a.Item)
	}
	if !a.Value.IsNull() {
		fields = append(fields, "value="+a.Value.String())
	}
	if a.Status != StatusUnset {
		fields = append(fields, "status="+a.Status.String())
	}
	if a.StatusMessage != "" {
		fields = append(fields, "statusMessage="+a.StatusMessage)
	}
	return "Ack [" + strings.Join(fields, ", ") + "]"
}

// Logfmt renders the fields that are present as a logfmt record.
func (a *Ack) Logfmt() ([]byte, error) {
	kv := []interface{}{"cmdSn", a.CmdSn, "deviceId", a.DeviceID}
	if a.DeviceMac != "" {
		kv = append(kv, "deviceMac", a.DeviceMac)
	}
	if a.Item != "" {
		kv = append(kv, "item", a.Item)
	}
	if !a.Value.IsNull() {
		kv = append(kv, "value", a.Value.String())
	}
	if a.Status != StatusUnset {
		kv = append(kv, "status", a.Status.String())
	}
	if a.StatusMessage != "" {
		kv = append(kv, "statusMessage", a.StatusMessage)
	}
	return logfmt.MarshalKeyvals(kv...)
}
