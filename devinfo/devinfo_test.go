package devinfo

import (
	"context"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/notnil/ucan"
)

// pageReader answers reads straight from a page.
type pageReader struct {
	page  ucan.Page
	calls int
	err   error
}

func (r *pageReader) ReadRegisters(_ context.Context, addr ucan.Address, page, start uint8, count int) ([]byte, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	out := make([]byte, count)
	for i := range out {
		out[i] = r.page.ReadRegister(1, page, start+uint8(i))
	}
	return out, nil
}

func TestDeviceInfo(t *testing.T) {
	ctx := context.Background()

	Convey("Given a device info page", t, func() {
		p, err := Page("10.12.3")
		So(err, ShouldBeNil)

		Convey("it holds the length then the version bytes", func() {
			So(p.Get(0, 4), ShouldResemble, []byte{7, '1', '0', '.'})
		})

		Convey("remote writes cannot change it", func() {
			p.WriteRegister(3, PageNumber, 0, 0)
			So(p.Get(0, 1), ShouldResemble, []byte{7})
		})

		Convey("ReadVersion reassembles the string in chunks", func() {
			r := &pageReader{page: p}
			v, err := ReadVersion(ctx, r, 4)
			So(err, ShouldBeNil)
			So(v, ShouldEqual, "10.12.3")
			So(r.calls, ShouldEqual, 3)
		})

		Convey("read errors are returned", func() {
			r := &pageReader{page: p, err: ucan.ErrTimeout}
			_, err := ReadVersion(ctx, r, 4)
			So(errors.Is(err, ucan.ErrTimeout), ShouldBeTrue)
		})

		Convey("Verify checks the constraint", func() {
			r := &pageReader{page: p}
			_, err := Verify(ctx, r, 4, ">= 10.12.3, < 11")
			So(err, ShouldBeNil)
			v, err := Verify(ctx, r, 4, "^2.0.0")
			So(v, ShouldEqual, "10.12.3")
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Page rejects versions that are not semantic", t, func() {
		_, err := Page("DEV")
		So(err, ShouldNotBeNil)
	})

	Convey("Check", t, func() {
		So(Check("1.4.2", "~1.4"), ShouldBeNil)
		So(Check("1.5.0", "~1.4"), ShouldNotBeNil)
		So(Check("garbage", "~1.4"), ShouldNotBeNil)
		So(Check("1.4.2", "not a constraint"), ShouldNotBeNil)
	})
}
