package version

import "testing"

import "github.com/bnclabs/ssncore/api"

func TestNewVersionDefaults(t *testing.T) {
	v := NewVersion(api.LSN(10), []byte("payload"))
	if v.CLSN != 10 {
		t.Errorf("expected clsn 10, got %v", v.CLSN)
	} else if v.Pstamp() != 0 {
		t.Errorf("expected pstamp 0, got %v", v.Pstamp())
	} else if v.Sstamp() != ^uint64(0) {
		t.Errorf("expected max sstamp, got %v", v.Sstamp())
	} else if v.Next() != nil {
		t.Errorf("expected nil next")
	}
}

func TestMergePstamp(t *testing.T) {
	v := NewVersion(api.LSN(1), nil)
	v.MergePstamp(5)
	v.MergePstamp(3)
	v.MergePstamp(10)
	if p := v.Pstamp(); p != 10 {
		t.Errorf("expected max-merged 10, got %v", p)
	}
}

func TestMergeSstamp(t *testing.T) {
	v := NewVersion(api.LSN(1), nil)
	v.MergeSstamp(10)
	v.MergeSstamp(20)
	v.MergeSstamp(5)
	if s := v.Sstamp(); s != 5 {
		t.Errorf("expected min-merged 5, got %v", s)
	}
}

func TestLockoutBlocksTryMarkOld(t *testing.T) {
	v := NewVersion(api.LSN(1), nil)
	if !v.TryMarkOld() {
		t.Errorf("expected first TryMarkOld to succeed")
	}
	if !v.TryMarkOld() {
		t.Errorf("expected repeat TryMarkOld to also report success")
	}

	v2 := NewVersion(api.LSN(1), nil)
	v2.SetLockout()
	if !v2.IsLockedOut() {
		t.Errorf("expected lockout bit set")
	}
	if v2.TryMarkOld() {
		t.Errorf("expected TryMarkOld to fail once locked out")
	}
}

func TestReaderBitSetClear(t *testing.T) {
	v := NewVersion(api.LSN(1), nil)
	v.SetReaderBit(3)
	v.SetReaderBit(5)
	if bitmap := v.ReadersBitmap(); bitmap != (1<<3)|(1<<5) {
		t.Errorf("expected bits 3,5 set, got %b", bitmap)
	}
	v.ClearReaderBit(3)
	if bitmap := v.ReadersBitmap(); bitmap != (1 << 5) {
		t.Errorf("expected only bit 5 set, got %b", bitmap)
	}
	// idempotent: clearing an already-clear bit is a no-op.
	v.ClearReaderBit(3)
	if bitmap := v.ReadersBitmap(); bitmap != (1 << 5) {
		t.Errorf("expected only bit 5 set after double-clear, got %b", bitmap)
	}
}

type fakeWriter struct {
	state  int32
	cstamp uint64
}

func (f *fakeWriter) State() int32   { return f.state }
func (f *fakeWriter) Cstamp() uint64 { return f.cstamp }

func TestWriterDefaultsNilThenHoldsLastSet(t *testing.T) {
	v := NewVersion(api.LSN(1), nil)
	if v.Writer() != nil {
		t.Errorf("expected nil writer on a fresh version")
	}
	w := &fakeWriter{state: 1, cstamp: 42}
	v.SetWriter(w)
	got := v.Writer()
	if got == nil || got.State() != 1 || got.Cstamp() != 42 {
		t.Errorf("expected the set writer to be returned, got %v", got)
	}
}

func TestReaderBitDoubleReadDoubleClear(t *testing.T) {
	v := NewVersion(api.LSN(1), nil)
	v.SetReaderBit(7)
	v.SetReaderBit(7)
	v.ClearReaderBit(7)
	v.ClearReaderBit(7)
	if bitmap := v.ReadersBitmap(); bitmap != 0 {
		t.Errorf("expected no bits set, got %b", bitmap)
	}
}
