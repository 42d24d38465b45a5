package backend

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

var (
	// ErrBackendUnavailable is returned when the shaping facility is missing
	// (no tc binary, qdisc kind not compiled in, unknown backend type).
	ErrBackendUnavailable = errors.New("shaping backend unavailable")

	// ErrPermissionDenied is returned when the process lacks CAP_NET_ADMIN.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInterfaceNotFound is returned when the named device does not exist.
	ErrInterfaceNotFound = errors.New("interface not found")
)

// tc prints these on stderr; the exit status alone is always 2.
var tcMessages = []struct {
	substr string
	err    error
}{
	{"Cannot find device", ErrInterfaceNotFound},
	{"No such device", ErrInterfaceNotFound},
	{"Operation not permitted", ErrPermissionDenied},
	{"Permission denied", ErrPermissionDenied},
	{"Specified qdisc kind is unknown", ErrBackendUnavailable},
	{"Unknown qdisc", ErrBackendUnavailable},
	{"Specified qdisc not found", ErrBackendUnavailable},
}

// ClassifyError maps a failed backend call onto the backend error taxonomy.
// output is the combined output of a tc invocation, or empty for netlink
// calls. Returns nil if the failure does not match a known category.
func ClassifyError(err error, output string) error {
	if err == nil {
		return nil
	}

	var linkNotFound netlink.LinkNotFoundError
	switch {
	case errors.Is(err, exec.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	case errors.As(err, &linkNotFound), errors.Is(err, unix.ENODEV):
		return fmt.Errorf("%w: %v", ErrInterfaceNotFound, err)
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		return fmt.Errorf("%w: %v (CAP_NET_ADMIN required)", ErrPermissionDenied, err)
	case errors.Is(err, unix.EOPNOTSUPP), errors.Is(err, unix.EPROTONOSUPPORT), errors.Is(err, unix.EAFNOSUPPORT):
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	for _, m := range tcMessages {
		if strings.Contains(output, m.substr) {
			return fmt.Errorf("%w: %s", m.err, strings.TrimSpace(output))
		}
	}
	return nil
}

// Wrap classifies err and falls back to a plain wrap with op as context.
func Wrap(op string, err error, output string) error {
	if err == nil {
		return nil
	}
	if classified := ClassifyError(err, output); classified != nil {
		return fmt.Errorf("%s: %w", op, classified)
	}
	if output = strings.TrimSpace(output); output != "" {
		return fmt.Errorf("%s: %w (output: %s)", op, err, output)
	}
	return fmt.Errorf("%s: %w", op, err)
}
