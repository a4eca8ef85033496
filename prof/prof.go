// Package prof implements the profiling device named in spec.md §6
// (defs.D_PROF): a read-only character device that serves a snapshot
// of per-process CPU accounting encoded as a github.com/google/pprof
// profile, the dependency the teacher's go.mod already requires and
// SPEC_FULL.md's domain-stack table assigns to "console/kernel stats,
// /dev/prof".
//
// _teacher/go.mod is this pack's only trace of this dependency (the
// teacher's own profiling source was not retrieved); the shape below
// follows the pprof/profile package's own documented Sample/Location/
// Function model rather than any teacher source, since there is none
// to imitate here.
package prof

import (
	"bytes"
	"strconv"

	"github.com/google/pprof/profile"

	"mpk/defs"
	"mpk/lock"
	"mpk/proc"
)

// Device serves /dev/prof: each Read produces a fresh encoded
// snapshot, valued in accumulated user/system nanoseconds per live
// process (spec.md §4.10's accounting fields), one sample per
// process-table slot. Offsets are not tracked across calls — like the
// console device, a char device ignores Readi's byte offset entirely
// (spec.md §4.5) — so a reader is expected to issue one read large
// enough to hold the whole encoded profile.
type Device struct {
	Procs *proc.Table_t
}

var _ interface {
	Read(w lock.Waiter, cpu *lock.Cpu_t, dst []byte) (int, defs.Err_t)
	Write(w lock.Waiter, cpu *lock.Cpu_t, src []byte) (int, defs.Err_t)
} = (*Device)(nil)

// MkDevice returns a profiling device reporting on procs.
func MkDevice(procs *proc.Table_t) *Device {
	return &Device{Procs: procs}
}

// Read encodes a fresh snapshot and copies as much of it as fits in
// dst.
func (d *Device) Read(w lock.Waiter, cpu *lock.Cpu_t, dst []byte) (int, defs.Err_t) {
	var buf bytes.Buffer
	if err := d.snapshot(cpu).Write(&buf); err != nil {
		return 0, -defs.EIO
	}
	return copy(dst, buf.Bytes()), 0
}

// Write is rejected: /dev/prof is a read-only reporting device.
func (d *Device) Write(w lock.Waiter, cpu *lock.Cpu_t, src []byte) (int, defs.Err_t) {
	return 0, -defs.EINVAL
}

// sampleTypes describes the two value columns every sample below
// reports, in the order Accnt_t itself tracks them.
var sampleTypes = []*profile.ValueType{
	{Type: "user", Unit: "nanoseconds"},
	{Type: "system", Unit: "nanoseconds"},
}

// snapshot builds a profile.Profile with one Location/Function/Sample
// triple per live process, named after the process itself so a pprof
// consumer's call-graph view degenerates to a flat per-process bar
// chart — the simplest encoding that is still genuinely readable by
// pprof's own tooling.
func (d *Device) snapshot(cpu *lock.Cpu_t) *profile.Profile {
	p := &profile.Profile{SampleType: sampleTypes, PeriodType: sampleTypes[0]}
	for i, info := range d.Procs.Snapshot(cpu) {
		id := uint64(i + 1)
		fn := &profile.Function{ID: id, Name: info.Name, SystemName: info.Name}
		loc := &profile.Location{ID: id, Line: []profile.Line{{Function: fn}}}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{info.Userns, info.Sysns},
			Label: map[string][]string{
				"pid":       {strconv.Itoa(info.Pid)},
				"state":     {info.State.String()},
				"user_secs": {strconv.FormatInt(info.Rusage.UserSecs, 10)},
				"sys_secs":  {strconv.FormatInt(info.Rusage.SysSecs, 10)},
			},
		})
	}
	return p
}
