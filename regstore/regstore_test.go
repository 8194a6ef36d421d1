package regstore

import (
	"path/filepath"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestMemory(t *testing.T) {
	Convey("Given a RAM page", t, func() {
		m := NewMemory()

		Convey("remote writes are visible to reads", func() {
			m.WriteRegister(4, 0, 10, 0x55)
			So(m.ReadRegister(4, 0, 10), ShouldEqual, 0x55)
			So(m.Get(9, 3), ShouldResemble, []byte{0, 0x55, 0})
		})

		Convey("Set and Get wrap at the last register", func() {
			m.Set(254, []byte{1, 2, 3})
			So(m.Get(254, 3), ShouldResemble, []byte{1, 2, 3})
			So(m.ReadRegister(0, 0, 0), ShouldEqual, 3)
		})
	})

	Convey("A read-only page ignores remote writes", t, func() {
		m := NewReadOnly([]byte("abc"))
		m.WriteRegister(4, 0, 0, 'z')
		So(m.Get(0, 3), ShouldResemble, []byte("abc"))

		Convey("but can be updated locally", func() {
			m.Set(0, []byte("x"))
			So(m.ReadRegister(0, 0, 0), ShouldEqual, 'x')
		})
	})
}

func TestBank(t *testing.T) {
	Convey("Given a bank with pages 0 and 1", t, func() {
		b := NewBank()
		b.Add(0, NewMemory())
		b.Add(1, NewMemory())

		Convey("Pages serves every page", func() {
			pages := b.Pages()
			So(pages, ShouldHaveLength, 2)
			pages[1].Write(3, 1, 7, 42)
			m, ok := b.Page(1)
			So(ok, ShouldBeTrue)
			So(m.Get(7, 1), ShouldResemble, []byte{42})
		})

		Convey("Commit updates several pages together", func() {
			err := b.Commit(Edit{Page: 0, Reg: 0, Data: []byte{1, 2}}, Edit{Page: 1, Reg: 5, Data: []byte{3}})
			So(err, ShouldBeNil)
			snap, err := b.Snapshot(1, 0, 1)
			So(err, ShouldBeNil)
			So(snap, ShouldHaveLength, 2)
			So(snap[0][0], ShouldEqual, 1)
			So(snap[0][1], ShouldEqual, 2)
			So(snap[1][5], ShouldEqual, 3)
		})

		Convey("unknown pages are an error", func() {
			_, err := b.Snapshot(0, 9)
			So(err, ShouldNotBeNil)
			So(b.Commit(Edit{Page: 9, Data: []byte{1}}), ShouldNotBeNil)
		})

		Convey("snapshots never observe half of a commit", func() {
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < 200; i++ {
					v := byte(i)
					_ = b.Commit(Edit{Page: 0, Reg: 0, Data: []byte{v}}, Edit{Page: 1, Reg: 0, Data: []byte{v}})
				}
			}()
			torn := false
			for i := 0; i < 200; i++ {
				snap, err := b.Snapshot(0, 1)
				if err != nil || snap[0][0] != snap[1][0] {
					torn = true
				}
			}
			wg.Wait()
			So(torn, ShouldBeFalse)
		})
	})
}

func TestNVM(t *testing.T) {
	Convey("Given a register database", t, func() {
		path := filepath.Join(t.TempDir(), "regs.db")
		s, err := Open(path, nil)
		So(err, ShouldBeNil)

		p, err := s.Page(1)
		So(err, ShouldBeNil)

		Convey("unwritten registers read as zero", func() {
			So(p.Get(0, 4), ShouldResemble, []byte{0, 0, 0, 0})
			So(s.Close(), ShouldBeNil)
		})

		Convey("remote and local writes survive a reopen", func() {
			p.WriteRegister(3, 1, 200, 9)
			So(p.Set(10, []byte{4, 5}), ShouldBeNil)
			So(s.Close(), ShouldBeNil)

			s2, err := Open(path, nil)
			So(err, ShouldBeNil)
			defer s2.Close()
			p2, err := s2.Page(1)
			So(err, ShouldBeNil)
			So(p2.Get(200, 1), ShouldResemble, []byte{9})
			So(p2.Get(10, 2), ShouldResemble, []byte{4, 5})

			other, err := s2.Page(2)
			So(err, ShouldBeNil)
			So(other.Get(200, 1), ShouldResemble, []byte{0})
		})

		Convey("concurrent writers leave disk and RAM in agreement", func() {
			b := NewBank()
			b.AddNVM(1, p)
			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(2)
				go func(v byte) {
					defer wg.Done()
					for j := 0; j < 20; j++ {
						p.WriteRegister(3, 1, 42, v)
					}
				}(byte(i))
				go func(v byte) {
					defer wg.Done()
					for j := 0; j < 20; j++ {
						_ = b.Commit(Edit{Page: 1, Reg: 42, Data: []byte{v}})
					}
				}(byte(100 + i))
			}
			wg.Wait()
			inRAM := p.Get(42, 1)
			So(s.Close(), ShouldBeNil)

			s2, err := Open(path, nil)
			So(err, ShouldBeNil)
			defer s2.Close()
			p2, err := s2.Page(1)
			So(err, ShouldBeNil)
			So(p2.Get(42, 1), ShouldResemble, inRAM)
		})

		Convey("bank commits are written through", func() {
			b := NewBank()
			b.AddNVM(1, p)
			So(b.Commit(Edit{Page: 1, Reg: 0, Data: []byte{7}}), ShouldBeNil)
			b.Pages()[1].Write(3, 1, 1, 8)
			So(s.Close(), ShouldBeNil)

			s2, err := Open(path, nil)
			So(err, ShouldBeNil)
			defer s2.Close()
			p2, err := s2.Page(1)
			So(err, ShouldBeNil)
			So(p2.Get(0, 2), ShouldResemble, []byte{7, 8})
		})
	})
}
