package models

import (
	"testing"
)

func strPtr(s string) *string { return &s }
func i64Ptr(v int64) *int64   { return &v }
func tsPtr(v Timestamp) *Timestamp {
	return &v
}

func TestContentHash_Deterministic(t *testing.T) {
	a := EpisodeAction{
		Podcast:   "http://example.com/feed.xml",
		Episode:   "http://example.com/ep1.mp3",
		Action:    ActionPlay,
		Started:   i64Ptr(0),
		Position:  i64Ptr(120),
		Total:     i64Ptr(600),
		GUID:      strPtr("guid-1"),
		Timestamp: tsPtr(1000),
	}
	b := a

	if a.ContentHash() != b.ContentHash() {
		t.Error("identical actions should hash equal")
	}
	if got := a.ContentHash(); got != a.ContentHash() {
		t.Errorf("hash not stable across calls: %q vs %q", got, a.ContentHash())
	}
}

func TestContentHash_SensitiveToLogicalFields(t *testing.T) {
	base := EpisodeAction{
		Podcast: "p", Episode: "e", Action: ActionNew, Timestamp: tsPtr(10),
	}

	changed := base
	changed.Action = ActionDownload
	if base.ContentHash() == changed.ContentHash() {
		t.Error("different actions should hash differently")
	}

	position := base
	position.Action = ActionPlay
	position.Started = i64Ptr(0)
	position.Position = i64Ptr(5)
	position.Total = i64Ptr(10)
	if base.ContentHash() == position.ContentHash() {
		t.Error("play progress should change the hash")
	}

	ts := base
	ts.Timestamp = tsPtr(11)
	if base.ContentHash() == ts.ContentHash() {
		t.Error("client timestamp should change the hash")
	}
}

func TestContentHash_IgnoresDeviceAndModified(t *testing.T) {
	a := EpisodeAction{Podcast: "p", Episode: "e", Action: ActionNew}
	b := a
	b.Device = strPtr("phone")
	b.Modified = 999

	if a.ContentHash() != b.ContentHash() {
		t.Error("device and modified must not contribute to the content hash")
	}
}

func TestContentHash_NilVersusEmptyGUID(t *testing.T) {
	a := EpisodeAction{Podcast: "p", Episode: "e", Action: ActionNew}
	b := a
	b.GUID = strPtr("")

	if a.ContentHash() == b.ContentHash() {
		t.Error("absent and empty guid are distinct states")
	}
}

func TestEpisodeActionValidate(t *testing.T) {
	tests := []struct {
		name    string
		action  EpisodeAction
		wantErr bool
	}{
		{"new ok", EpisodeAction{Podcast: "p", Episode: "e", Action: ActionNew}, false},
		{"delete ok", EpisodeAction{Podcast: "p", Episode: "e", Action: ActionDelete}, false},
		{"play with progress", EpisodeAction{
			Podcast: "p", Episode: "e", Action: ActionPlay,
			Started: i64Ptr(0), Position: i64Ptr(1), Total: i64Ptr(2),
		}, false},
		{"play without progress", EpisodeAction{Podcast: "p", Episode: "e", Action: ActionPlay}, true},
		{"unknown action", EpisodeAction{Podcast: "p", Episode: "e", Action: "listen"}, true},
		{"missing podcast", EpisodeAction{Episode: "e", Action: ActionNew}, true},
		{"missing episode", EpisodeAction{Podcast: "p", Action: ActionNew}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.action.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v; wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDeviceTypeValid(t *testing.T) {
	for _, d := range []DeviceType{DeviceDesktop, DeviceLaptop, DeviceMobile, DeviceServer, DeviceOther} {
		if !d.Valid() {
			t.Errorf("%q should be valid", d)
		}
	}
	if DeviceType("fridge").Valid() {
		t.Error("unknown device type should be invalid")
	}
}

func TestDeviceUpdateValidate(t *testing.T) {
	bad := DeviceType("fridge")
	if err := (DeviceUpdate{Type: &bad}).Validate(); err == nil {
		t.Error("unknown type in patch should fail validation")
	}
	caption := "my phone"
	if err := (DeviceUpdate{Caption: &caption}).Validate(); err != nil {
		t.Errorf("caption-only patch should validate: %v", err)
	}
	if err := (DeviceUpdate{}).Validate(); err != nil {
		t.Errorf("empty patch should validate: %v", err)
	}
}

func TestTimestampZero(t *testing.T) {
	if !Timestamp(0).IsZero() {
		t.Error("zero timestamp should report IsZero")
	}
	if Timestamp(1).IsZero() {
		t.Error("non-zero timestamp should not report IsZero")
	}
	if Now().IsZero() {
		t.Error("Now should not be the epoch")
	}
}
