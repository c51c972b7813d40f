package message

import (
	"encoding/json"
)

// ackAlias is the wire representation of Ack. Optional fields are omitted
// when empty, matching what other dtalk endpoints produce.
type ackAlias struct {
	CmdSn         int64           `json:"cmdSn"`
	DeviceID      int32           `json:"deviceId"`
	DeviceMac     string          `json:"deviceMac,omitempty"`
	Item          string          `json:"item,omitempty"`
	Value         json.RawMessage `json:"value,omitempty"`
	Status        Status          `json:"status,omitempty"`
	StatusMessage string          `json:"statusMessage,omitempty"`
}

// MarshalJSON implements Marshaler.
func (a *Ack) MarshalJSON() ([]byte, error) {
	alias := ackAlias{
		CmdSn:         a.CmdSn,
		DeviceID:      a.DeviceID,
		DeviceMac:     a.DeviceMac,
		Item:          a.Item,
		Status:        a.Status,
		StatusMessage: a.StatusMessage,
	}
	if !a.Value.IsNull() {
		alias.Value = a.Value.Raw()
	}
	return json.Marshal(&alias)
}

// UnmarshalJSON implements Unmarshaler.
func (a *Ack) UnmarshalJSON(data []byte) error {
	alias := ackAlias{}
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	value := NullValue()
	if len(alias.Value) > 0 {
		v, err := RawValue(alias.Value)
		if err != nil {
			return err
		}
		value = v
	}
	*a = Ack{
		CmdSn:         alias.CmdSn,
		DeviceID:      alias.DeviceID,
		DeviceMac:     alias.DeviceMac,
		Item:          alias.Item,
		Value:         value,
		Status:        alias.Status,
		StatusMessage: alias.StatusMessage,
	}
	return nil
}

// Decode returns the Ack encoded in stream.
func Decode(stream []byte) (*Ack, error) {
	ack := &Ack{}
	if err := json.Unmarshal(stream, ack); err != nil {
		return nil, err
	}
	return ack, nil
}
