package canbus

import "errors"

// ErrUnsupportedFrame is returned by controller drivers for frames the
// underlying driver cannot put on the wire unchanged.
var ErrUnsupportedFrame = errors.New("canbus: frame type not supported by controller driver")

// standardDataOnly rejects frames a driver that only transmits standard
// data frames would otherwise truncate.
func standardDataOnly(frame Frame) error {
	if err := frame.Validate(); err != nil {
		return err
	}
	if frame.Extended || frame.RTR {
		return ErrUnsupportedFrame
	}
	return nil
}

// controllerFrame builds a Frame from the fields a controller reports for a
// received message. The identifier format comes from ext, never from the
// identifier's value.
func controllerFrame(id uint32, ext, rtr bool, dlc uint8, data []byte) (Frame, error) {
	f := Frame{ID: id, Extended: ext, RTR: rtr, Len: dlc}
	if !rtr {
		if int(dlc) > len(data) {
			return Frame{}, ErrInvalidLen
		}
		copy(f.Data[:], data[:min(int(dlc), MaxDataLen)])
	}
	if err := f.Validate(); err != nil {
		return Frame{}, err
	}
	return f, nil
}
