package smapi

import (
	"strings"
)

// NodeStatus is one entry in a response's node table.
type NodeStatus struct {
	Name string   `json:"name"`
	Data []string `json:"data"`
}

// Response is the structured document every gateway call returns. The
// tables are nested string arrays; which of them are populated depends
// on the resource addressed.
type Response struct {
	Info      [][]string     `json:"info,omitempty"`
	Data      [][]string     `json:"data,omitempty"`
	Node      [][]NodeStatus `json:"node,omitempty"`
	Error     [][]string     `json:"error,omitempty"`
	ErrorCode [][]string     `json:"errorcode,omitempty"`
}

// FirstInfo returns the first info record, or a MalformedResponseError
// when the info table is empty.
func (r *Response) FirstInfo() (string, error) {
	if len(r.Info) == 0 || len(r.Info[0]) == 0 {
		return "", &MalformedResponseError{Want: "info[0][0]"}
	}
	return r.Info[0][0], nil
}

// InfoLines returns the first info record split into lines. Remote
// inventory and user-directory queries pack multi-line text into a
// single record.
func (r *Response) InfoLines() ([]string, error) {
	s, err := r.FirstInfo()
	if err != nil {
		return nil, err
	}
	return strings.Split(s, "\n"), nil
}

// LastInfoRecord returns the final record of the first info table. The
// relocation facility reports its terminal state there.
func (r *Response) LastInfoRecord() (string, error) {
	if len(r.Info) == 0 {
		return "", &MalformedResponseError{Want: "info"}
	}
	last := r.Info[len(r.Info)-1]
	if len(last) == 0 {
		return "", &MalformedResponseError{Want: "info[-1][0]"}
	}
	return last[0], nil
}

// FirstData returns the first data record, or a MalformedResponseError
// when the data table is empty.
func (r *Response) FirstData() (string, error) {
	if len(r.Data) == 0 || len(r.Data[0]) == 0 {
		return "", &MalformedResponseError{Want: "data[0][0]"}
	}
	return r.Data[0][0], nil
}

// DataRows returns the first data table with its header row removed.
// Table dumps put the column header in the first record.
func (r *Response) DataRows() ([]string, error) {
	if len(r.Data) == 0 {
		return nil, &MalformedResponseError{Want: "data"}
	}
	rows := r.Data[0]
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[1:], nil
}

// NodeData returns the first node status record's data field. Node
// status queries report the management-channel state there.
func (r *Response) NodeData() (string, error) {
	if len(r.Node) == 0 || len(r.Node[0]) == 0 || len(r.Node[0][0].Data) == 0 {
		return "", &MalformedResponseError{Want: "node[0][0].data[0]"}
	}
	return r.Node[0][0].Data[0], nil
}

// remoteError returns the first error record plus its code table entry,
// or ("", "") when the response carries no error.
func (r *Response) remoteError() (text, code string) {
	if len(r.Error) > 0 && len(r.Error[0]) > 0 {
		text = strings.Join(r.Error[0], " ")
	}
	if len(r.ErrorCode) > 0 && len(r.ErrorCode[0]) > 0 {
		code = r.ErrorCode[0][0]
	}
	return text, code
}
