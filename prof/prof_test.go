package prof

import (
	"bytes"
	"testing"

	"github.com/google/pprof/profile"

	"mpk/lock"
	"mpk/proc"
)

func TestDeviceWriteIsRejected(t *testing.T) {
	d := MkDevice(proc.MkTable())
	cpu := &lock.Cpu_t{ID: 0}
	n, err := d.Write(nil, cpu, []byte("x"))
	if n != 0 || err == 0 {
		t.Fatalf("Write = (%d, %d), want a rejection", n, err)
	}
}

func TestDeviceReadEncodesParseableProfile(t *testing.T) {
	d := MkDevice(proc.MkTable())
	cpu := &lock.Cpu_t{ID: 0}

	buf := make([]byte, 64*1024)
	n, err := d.Read(nil, cpu, buf)
	if err != 0 {
		t.Fatalf("Read failed: %d", err)
	}
	if n == 0 {
		t.Fatal("Read produced an empty profile")
	}

	p, perr := profile.Parse(bytes.NewReader(buf[:n]))
	if perr != nil {
		t.Fatalf("profile.Parse: %v", perr)
	}
	if len(p.SampleType) != 2 {
		t.Fatalf("SampleType has %d entries, want 2", len(p.SampleType))
	}
	if p.SampleType[0].Type != "user" || p.SampleType[1].Type != "system" {
		t.Fatalf("unexpected sample types: %+v", p.SampleType)
	}
	// An empty process table still encodes to a structurally valid,
	// zero-sample profile.
	if len(p.Sample) != 0 {
		t.Fatalf("len(Sample) = %d, want 0 for an empty process table", len(p.Sample))
	}
}
