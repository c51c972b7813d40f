package message

import (
	"encoding/json"
	"fmt"
)

// Status is the outcome of a device command execution at one point in time.
//
// The zero value means the status has not been set.
type Status int

const (
	StatusUnset Status = iota

	// StatusOK means that the command completed successfully.
	StatusOK

	// StatusUnsupported means that the device does not support the operation.
	StatusUnsupported

	// StatusError means that the execution failed.
	StatusError

	// StatusTimeout means that no response was received in time. It is
	// usually produced by the originator rather than the device.
	StatusTimeout

	// StatusRejected means that the device declined to execute the command.
	StatusRejected

	// StatusAccepted means that the execution has started.
	StatusAccepted

	// StatusProgress reports ongoing execution. The value may carry the
	// completion percentage.
	StatusProgress

	// StatusCanceled means that an in-progress command was canceled.
	StatusCanceled
)

// suffixRule selects how Ack.Message decorates the summary of a status.
type suffixRule int

const (
	suffixNone suffixRule = iota
	suffixDetail
	suffixProgress
)

type statusInfo struct {
	name     string
	terminal bool
	suffix   suffixRule
}

// statusTable is indexed by Status.
var statusTable = [...]statusInfo{
	StatusUnset:       {"", false, suffixNone},
	StatusOK:          {"OK", true, suffixNone},
	StatusUnsupported: {"UNSUPPORTED", true, suffixNone},
	StatusError:       {"ERROR", true, suffixDetail},
	StatusTimeout:     {"TIMEOUT", true, suffixNone},
	StatusRejected:    {"REJECTED", true, suffixDetail},
	StatusAccepted:    {"ACCEPTED", false, suffixNone},
	StatusProgress:    {"PROGRESS", false, suffixProgress},
	StatusCanceled:    {"CANCELED", true, suffixNone},
}

var statusNames = func() map[string]Status {
	m := make(map[string]Status, len(statusTable))
	for i, info := range statusTable {
		if info.name != "" {
			m[info.name] = Status(i)
		}
	}
	return m
}()

// Statuses returns every valid status in declaration order.
func Statuses() []Status {
	ss := make([]Status, 0, len(statusTable)-1)
	for i := StatusOK; int(i) < len(statusTable); i++ {
		ss = append(ss, i)
	}
	return ss
}

// ParseStatus returns the status with the given symbolic name.
func ParseStatus(name string) (Status, error) {
	s, ok := statusNames[name]
	if !ok {
		return StatusUnset, fmt.Errorf("unknown status %q", name)
	}
	return s, nil
}

// Valid reports whether s is one of the declared statuses.
func (s Status) Valid() bool {
	return s > StatusUnset && int(s) < len(statusTable)
}

// Terminal reports whether s ends the lifecycle of a command.
func (s Status) Terminal() bool {
	return s.Valid() && statusTable[s].terminal
}

func (s Status) suffix() suffixRule {
	if !s.Valid() {
		return suffixNone
	}
	return statusTable[s].suffix
}

func (s Status) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusTable[s].name
}

// MarshalJSON implements Marshaler.
func (s Status) MarshalJSON() ([]byte, error) {
	if s == StatusUnset {
		return []byte("null"), nil
	}
	if !s.Valid() {
		return nil, fmt.Errorf("cannot encode invalid status %d", int(s))
	}
	return json.Marshal(statusTable[s].name)
}

// UnmarshalJSON implements Unmarshaler.
func (s *Status) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = StatusUnset
		return nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("status should be a string, got %s", data)
	}
	v, err := ParseStatus(name)
	if err != nil {
		return err
	}
	*s = v
	return nil
}
