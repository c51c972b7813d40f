package message

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAck_Message(t *testing.T) {
	tests := map[string]struct {
		ack  *Ack
		want string
	}{
		"OK": {
			new(Ack).SetDeviceID(7).SetCmdSn(42).SetStatus(StatusOK),
			"device7@42:OK",
		},
		"ERROR with status message": {
			new(Ack).SetDeviceID(7).SetCmdSn(42).SetStatus(StatusError).SetStatusMessage("bus fault"),
			"device7@42:ERROR:bus fault",
		},
		"ERROR without status message": {
			new(Ack).SetDeviceID(7).SetCmdSn(42).SetStatus(StatusError),
			"device7@42:ERROR",
		},
		"PROGRESS with percentage": {
			new(Ack).SetDeviceID(7).SetCmdSn(42).SetStatus(StatusProgress).SetValue(FloatValue(63.9)),
			"device7@42:PROGRESS:finished %63",
		},
		"PROGRESS with percentage and status message": {
			new(Ack).SetDeviceID(7).SetCmdSn(42).SetStatus(StatusProgress).SetValue(FloatValue(63.9)).SetStatusMessage("compressing"),
			"device7@42:PROGRESS:finished %63:compressing",
		},
		"PROGRESS with integer percentage": {
			new(Ack).SetDeviceID(7).SetCmdSn(42).SetStatus(StatusProgress).SetValue(IntValue(100)),
			"device7@42:PROGRESS:finished %100",
		},
		"PROGRESS with negative percentage": {
			new(Ack).SetDeviceID(7).SetCmdSn(42).SetStatus(StatusProgress).SetValue(FloatValue(-0.5)),
			"device7@42:PROGRESS:finished %0",
		},
		"PROGRESS out of range is not clamped": {
			new(Ack).SetDeviceID(7).SetCmdSn(42).SetStatus(StatusProgress).SetValue(FloatValue(250.7)),
			"device7@42:PROGRESS:finished %250",
		},
		"PROGRESS beyond 64 bits keeps every digit": {
			new(Ack).SetDeviceID(7).SetCmdSn(42).SetStatus(StatusProgress).SetValue(ParseValue("18446744073709551615")),
			"device7@42:PROGRESS:finished %18446744073709551615",
		},
		"PROGRESS with string value": {
			new(Ack).SetDeviceID(7).SetCmdSn(42).SetStatus(StatusProgress).SetValue(StringValue("63")).SetStatusMessage("compressing"),
			"device7@42:PROGRESS:compressing",
		},
		"PROGRESS without value": {
			new(Ack).SetDeviceID(7).SetCmdSn(42).SetStatus(StatusProgress),
			"device7@42:PROGRESS",
		},
		"REJECTED with empty status message": {
			new(Ack).SetDeviceID(7).SetCmdSn(42).SetStatus(StatusRejected).SetStatusMessage(""),
			"device7@42:REJECTED",
		},
		"REJECTED with status message": {
			new(Ack).SetDeviceID(7).SetCmdSn(42).SetStatus(StatusRejected).SetStatusMessage("busy"),
			"device7@42:REJECTED:busy",
		},
		"TIMEOUT ignores status message": {
			new(Ack).SetDeviceID(7).SetCmdSn(42).SetStatus(StatusTimeout).SetStatusMessage("late"),
			"device7@42:TIMEOUT",
		},
		"OK ignores numeric value": {
			new(Ack).SetDeviceID(7).SetCmdSn(42).SetStatus(StatusOK).SetValue(IntValue(5)),
			"device7@42:OK",
		},
		"negative identifiers": {
			new(Ack).SetDeviceID(-1).SetCmdSn(-9).SetStatus(StatusCanceled),
			"device-1@-9:CANCELED",
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			have, err := tt.ack.Message()
			require.NoError(t, err)
			assert.Equal(t, tt.want, have)
		})
	}
}

func TestAck_Message_StatusUnset(t *testing.T) {
	ack := new(Ack).SetDeviceID(7).SetCmdSn(42).SetStatusMessage("bus fault")

	have, err := ack.Message()

	require.Equal(t, ErrInvalidState, err)
	require.EqualError(t, err, "status field is null")
	require.Empty(t, have)
}

func TestAck_Message_Prefix(t *testing.T) {
	for _, s := range Statuses() {
		for _, id := range []int32{0, 7, 2147483647} {
			for _, sn := range []int64{0, 42, 9223372036854775807} {
				ack := &Ack{DeviceID: id, CmdSn: sn, Status: s, StatusMessage: "x", Value: IntValue(1)}
				have, err := ack.Message()
				require.NoError(t, err)
				want := fmt.Sprintf("device%d@%d:%s", id, sn, s)
				require.True(t, strings.HasPrefix(have, want), "%q does not start with %q", have, want)
			}
		}
	}
}

func TestAck_Setters(t *testing.T) {
	a := new(Ack).
		SetCmdSn(42).
		SetDeviceID(7).
		SetDeviceMac("a0b1c2d3e4f5").
		SetItem("/cmd/reset").
		SetValue(StringValue("done")).
		SetStatus(StatusOK).
		SetStatusMessage("fine")
	b := new(Ack).
		SetStatusMessage("fine").
		SetStatus(StatusOK).
		SetValue(StringValue("done")).
		SetItem("/cmd/reset").
		SetDeviceMac("a0b1c2d3e4f5").
		SetDeviceID(7).
		SetCmdSn(42)

	require.Equal(t, a, b)
	require.Equal(t, &Ack{
		CmdSn:         42,
		DeviceID:      7,
		DeviceMac:     "a0b1c2d3e4f5",
		Item:          "/cmd/reset",
		Value:         StringValue("done"),
		Status:        StatusOK,
		StatusMessage: "fine",
	}, a)

	// Each setter only updates its own field.
	c := *a
	c.SetItem("/cmd/other")
	require.Equal(t, "/cmd/other", c.Item)
	c.Item = a.Item
	require.Equal(t, *a, c)

	// Setters return the receiver.
	require.True(t, a == a.SetCmdSn(43))
}

func TestAck_String(t *testing.T) {
	tests := []struct {
		ack  *Ack
		want string
	}{
		{&Ack{}, "Ack [cmdSn=0, deviceId=0]"},
		{
			new(Ack).SetDeviceID(7).SetCmdSn(42).SetStatus(StatusOK),
			"Ack [cmdSn=42, deviceId=7, status=OK]",
		},
		{
			&Ack{
				CmdSn:         42,
				DeviceID:      7,
				DeviceMac:     "a0b1c2d3e4f5",
				Item:          "/cmd/reset",
				Value:         FloatValue(63.9),
				Status:        StatusProgress,
				StatusMessage: "compressing",
			},
			"Ack [cmdSn=42, deviceId=7, deviceMac=a0b1c2d3e4f5, item=/cmd/reset, value=63.9, status=PROGRESS, statusMessage=compressing]",
		},
	}
	for _, tt := range tests {
		if have := tt.ack.String(); have != tt.want {
			t.Errorf("Ack.String() = %q, want %q", have, tt.want)
		}
	}
}

func TestAck_Logfmt(t *testing.T) {
	ack := new(Ack).SetDeviceID(7).SetCmdSn(42).SetStatus(StatusError).SetStatusMessage("bus fault")

	have, err := ack.Logfmt()

	require.NoError(t, err)
	require.Equal(t, `cmdSn=42 deviceId=7 status=ERROR statusMessage="bus fault"`, string(have))
}
