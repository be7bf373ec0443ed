package wfp

import "fmt"

// FieldOffset is one canary field of a mirrored native structure.
type FieldOffset struct {
	Name   string
	Offset uintptr
}

// Layout records the size and canary-field offsets of a structure
// declaration. The native mirrors record their compiled layout with
// unsafe.Sizeof/Offsetof; the expected side is a hand-checked table of the
// platform's own declaration.
type Layout struct {
	Name   string
	Size   uintptr
	Fields []FieldOffset
}

// VerifyLayout compares a compiled layout against the expected one. Any
// mismatch is a hard error: layout drift means the platform would write
// through pointers typed with the wrong shape.
func VerifyLayout(got, want Layout) error {
	if got.Size != want.Size {
		return fmt.Errorf("wfp: %s size is %d, platform declares %d", want.Name, got.Size, want.Size)
	}
	for _, wf := range want.Fields {
		gf, ok := fieldByName(got, wf.Name)
		if !ok {
			return fmt.Errorf("wfp: %s lacks canary field %s", want.Name, wf.Name)
		}
		if gf.Offset != wf.Offset {
			return fmt.Errorf("wfp: %s.%s is at offset %d, platform declares %d",
				want.Name, wf.Name, gf.Offset, wf.Offset)
		}
	}
	return nil
}

func fieldByName(l Layout, name string) (FieldOffset, bool) {
	for _, f := range l.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldOffset{}, false
}

// verifyLayouts runs VerifyLayout over matched pairs and stops at the first
// mismatch.
func verifyLayouts(pairs []layoutPair) error {
	for _, p := range pairs {
		if err := VerifyLayout(p.got, p.want); err != nil {
			return err
		}
	}
	return nil
}

type layoutPair struct {
	got  Layout
	want Layout
}
