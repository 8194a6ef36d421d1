// Package devinfo serves and reads the device information register page:
// the firmware version of a node, so hosts can refuse nodes running
// incompatible firmware.
//
// Layout: register 0 holds the length of the version string, registers 1
// onwards hold its bytes.
package devinfo

import (
	"context"
	"fmt"

	"github.com/Masterminds/semver"

	"github.com/notnil/ucan"
	"github.com/notnil/ucan/regstore"
)

// PageNumber is the register page carrying device information.
const PageNumber uint8 = 0xF0

const maxVersionLen = regstore.PageSize - 1

// Page returns a read-only register page announcing version, which must be
// a semantic version.
func Page(version string) (*regstore.Memory, error) {
	if _, err := semver.NewVersion(version); err != nil {
		return nil, fmt.Errorf("devinfo: version %q: %w", version, err)
	}
	if len(version) > maxVersionLen {
		return nil, fmt.Errorf("devinfo: version %q too long", version)
	}
	data := make([]byte, 0, 1+len(version))
	data = append(data, byte(len(version)))
	data = append(data, version...)
	return regstore.NewReadOnly(data), nil
}

// RegisterReader is satisfied by *ucan.Node.
type RegisterReader interface {
	ReadRegisters(ctx context.Context, addr ucan.Address, page, start uint8, count int) ([]byte, error)
}

// ReadVersion fetches the version string announced by the node at addr.
func ReadVersion(ctx context.Context, r RegisterReader, addr ucan.Address) (string, error) {
	head, err := r.ReadRegisters(ctx, addr, PageNumber, 0, 1)
	if err != nil {
		return "", err
	}
	n := int(head[0])
	buf := make([]byte, 0, n)
	for len(buf) < n {
		count := n - len(buf)
		if count > ucan.MaxRegisters {
			count = ucan.MaxRegisters
		}
		chunk, err := r.ReadRegisters(ctx, addr, PageNumber, uint8(1+len(buf)), count)
		if err != nil {
			return "", err
		}
		buf = append(buf, chunk...)
	}
	return string(buf), nil
}

// Check reports an error unless version satisfies constraint, e.g. "~1.2".
func Check(version, constraint string) error {
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("devinfo: version %q: %w", version, err)
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("devinfo: constraint %q: %w", constraint, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("devinfo: version %s does not satisfy %s", v, constraint)
	}
	return nil
}

// Verify reads the version of the node at addr and checks it against
// constraint.
func Verify(ctx context.Context, r RegisterReader, addr ucan.Address, constraint string) (string, error) {
	version, err := ReadVersion(ctx, r, addr)
	if err != nil {
		return "", err
	}
	return version, Check(version, constraint)
}
