//go:build windows

package wfp

import "unsafe"

// Expected amd64 layouts of the platform's own declarations. The canary
// fields are the ones the decode path dereferences through: the flags
// bitmap, the appId blob, the identity pointers and the per-kind direction
// field. A drift here means the local mirrors are wrong for the running
// platform and the monitor must not start.
var wantLayouts = []Layout{
	{Name: "FWPM_NET_EVENT_HEADER0", Size: 88, Fields: []FieldOffset{
		{"flags", 8}, {"ipProtocol", 16}, {"localPort", 52}, {"scopeId", 56},
		{"appId", 64}, {"userId", 80},
	}},
	{Name: "FWPM_NET_EVENT_HEADER1", Size: 144, Fields: []FieldOffset{
		{"appId", 64}, {"userId", 80},
	}},
	{Name: "FWPM_NET_EVENT_HEADER2", Size: 104, Fields: []FieldOffset{
		{"appId", 64}, {"userId", 80}, {"packageSid", 96},
	}},
	{Name: "FWPM_NET_EVENT_HEADER3", Size: 136, Fields: []FieldOffset{
		{"appId", 64}, {"userId", 80}, {"packageSid", 96}, {"effectiveName", 120},
	}},
	{Name: "FWPM_NET_EVENT_CLASSIFY_DROP0", Size: 16, Fields: []FieldOffset{
		{"filterId", 0}, {"layerId", 8},
	}},
	{Name: "FWPM_NET_EVENT_CLASSIFY_DROP1", Size: 32, Fields: []FieldOffset{
		{"msFwpDirection", 24},
	}},
	{Name: "FWPM_NET_EVENT_CLASSIFY_DROP2", Size: 56, Fields: []FieldOffset{
		{"msFwpDirection", 24},
	}},
	{Name: "FWPM_NET_EVENT_CLASSIFY_ALLOW0", Size: 32, Fields: []FieldOffset{
		{"msFwpDirection", 24},
	}},
	{Name: "FWPM_NET_EVENT_CAPABILITY_DROP0", Size: 24, Fields: []FieldOffset{
		{"filterId", 8},
	}},
	{Name: "FWPM_NET_EVENT0", Size: 104, Fields: []FieldOffset{{"type", 88}}},
	{Name: "FWPM_NET_EVENT1", Size: 160, Fields: []FieldOffset{{"type", 144}}},
	{Name: "FWPM_NET_EVENT2", Size: 120, Fields: []FieldOffset{{"type", 104}}},
	{Name: "FWPM_NET_EVENT3", Size: 152, Fields: []FieldOffset{{"type", 136}}},
}

// gotLayouts records the compiled shapes of the local mirrors.
func gotLayouts() []Layout {
	var (
		h0 rawHeader0
		h1 rawHeader1
		h2 rawHeader2
		h3 rawHeader3
		d0 rawClassifyDrop0
		d1 rawClassifyDrop1
		d2 rawClassifyDrop2
		a0 rawClassifyAllow0
		c0 rawCapability0
		e0 rawEvent0
		e1 rawEvent1
		e2 rawEvent2
		e3 rawEvent3
	)
	return []Layout{
		{Name: "FWPM_NET_EVENT_HEADER0", Size: unsafe.Sizeof(h0), Fields: []FieldOffset{
			{"flags", unsafe.Offsetof(h0.flags)},
			{"ipProtocol", unsafe.Offsetof(h0.ipProtocol)},
			{"localPort", unsafe.Offsetof(h0.localPort)},
			{"scopeId", unsafe.Offsetof(h0.scopeID)},
			{"appId", unsafe.Offsetof(h0.appID)},
			{"userId", unsafe.Offsetof(h0.userID)},
		}},
		{Name: "FWPM_NET_EVENT_HEADER1", Size: unsafe.Sizeof(h1), Fields: []FieldOffset{
			{"appId", unsafe.Offsetof(h1.appID)},
			{"userId", unsafe.Offsetof(h1.userID)},
		}},
		{Name: "FWPM_NET_EVENT_HEADER2", Size: unsafe.Sizeof(h2), Fields: []FieldOffset{
			{"appId", unsafe.Offsetof(h2.appID)},
			{"userId", unsafe.Offsetof(h2.userID)},
			{"packageSid", unsafe.Offsetof(h2.packageSID)},
		}},
		{Name: "FWPM_NET_EVENT_HEADER3", Size: unsafe.Sizeof(h3), Fields: []FieldOffset{
			{"appId", unsafe.Offsetof(h3.appID)},
			{"userId", unsafe.Offsetof(h3.userID)},
			{"packageSid", unsafe.Offsetof(h3.packageSID)},
			{"effectiveName", unsafe.Offsetof(h3.effectiveName)},
		}},
		{Name: "FWPM_NET_EVENT_CLASSIFY_DROP0", Size: unsafe.Sizeof(d0), Fields: []FieldOffset{
			{"filterId", unsafe.Offsetof(d0.filterID)},
			{"layerId", unsafe.Offsetof(d0.layerID)},
		}},
		{Name: "FWPM_NET_EVENT_CLASSIFY_DROP1", Size: unsafe.Sizeof(d1), Fields: []FieldOffset{
			{"msFwpDirection", unsafe.Offsetof(d1.msFwpDirection)},
		}},
		{Name: "FWPM_NET_EVENT_CLASSIFY_DROP2", Size: unsafe.Sizeof(d2), Fields: []FieldOffset{
			{"msFwpDirection", unsafe.Offsetof(d2.msFwpDirection)},
		}},
		{Name: "FWPM_NET_EVENT_CLASSIFY_ALLOW0", Size: unsafe.Sizeof(a0), Fields: []FieldOffset{
			{"msFwpDirection", unsafe.Offsetof(a0.msFwpDirection)},
		}},
		{Name: "FWPM_NET_EVENT_CAPABILITY_DROP0", Size: unsafe.Sizeof(c0), Fields: []FieldOffset{
			{"filterId", unsafe.Offsetof(c0.filterID)},
		}},
		{Name: "FWPM_NET_EVENT0", Size: unsafe.Sizeof(e0), Fields: []FieldOffset{
			{"type", unsafe.Offsetof(e0.typ)},
		}},
		{Name: "FWPM_NET_EVENT1", Size: unsafe.Sizeof(e1), Fields: []FieldOffset{
			{"type", unsafe.Offsetof(e1.typ)},
		}},
		{Name: "FWPM_NET_EVENT2", Size: unsafe.Sizeof(e2), Fields: []FieldOffset{
			{"type", unsafe.Offsetof(e2.typ)},
		}},
		{Name: "FWPM_NET_EVENT3", Size: unsafe.Sizeof(e3), Fields: []FieldOffset{
			{"type", unsafe.Offsetof(e3.typ)},
		}},
	}
}

// VerifyABI cross-checks the compiled mirror layouts against the platform
// declarations. Runs once per session start, never per event.
func VerifyABI() error {
	got := gotLayouts()
	pairs := make([]layoutPair, len(got))
	for i := range got {
		pairs[i] = layoutPair{got: got[i], want: wantLayouts[i]}
	}
	return verifyLayouts(pairs)
}
