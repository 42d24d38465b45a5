package backend

import (
	"errors"
	"fmt"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestClassifyError(t *testing.T) {
	exitErr := fmt.Errorf("exit status 2")

	tests := []struct {
		name    string
		err     error
		output  string
		wantErr error
	}{
		{
			name:    "missing tc binary",
			err:     &exec.Error{Name: "tc", Err: exec.ErrNotFound},
			wantErr: ErrBackendUnavailable,
		},
		{
			name:    "tc device missing",
			err:     exitErr,
			output:  `Cannot find device "eth9"`,
			wantErr: ErrInterfaceNotFound,
		},
		{
			name:    "tc not permitted",
			err:     exitErr,
			output:  "RTNETLINK answers: Operation not permitted",
			wantErr: ErrPermissionDenied,
		},
		{
			name:    "netem module missing",
			err:     exitErr,
			output:  "Error: Specified qdisc kind is unknown.",
			wantErr: ErrBackendUnavailable,
		},
		{
			name:    "netlink EPERM",
			err:     fmt.Errorf("replace netem: %w", unix.EPERM),
			wantErr: ErrPermissionDenied,
		},
		{
			name:    "netlink ENODEV",
			err:     unix.ENODEV,
			wantErr: ErrInterfaceNotFound,
		},
		{
			name:    "netlink EOPNOTSUPP",
			err:     unix.EOPNOTSUPP,
			wantErr: ErrBackendUnavailable,
		},
		{
			name:   "unrelated",
			err:    exitErr,
			output: "Error: something else",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ClassifyError(tc.err, tc.output)
			if tc.wantErr == nil {
				assert.Nil(t, err)
				return
			}
			assert.True(t, errors.Is(err, tc.wantErr), "expected %v, got %v", tc.wantErr, err)
		})
	}
}

func TestWrap(t *testing.T) {
	assert.Nil(t, Wrap("op", nil, ""))

	err := Wrap("tc qdisc del", fmt.Errorf("exit status 2"), "Error: weird\n")
	assert.EqualError(t, err, "tc qdisc del: exit status 2 (output: Error: weird)")

	err = Wrap("lookup", unix.ENODEV, "")
	assert.True(t, errors.Is(err, ErrInterfaceNotFound))
}

func TestNewUnknownType(t *testing.T) {
	_, err := New("carrier-pigeon", Options{})
	assert.True(t, errors.Is(err, ErrBackendUnavailable))
}
