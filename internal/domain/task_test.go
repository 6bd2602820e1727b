package domain

import "testing"

func TestTerminalStates(t *testing.T) {
	terminal := []TorrentState{StateSeeding, StateFinished, StateFailed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}

	active := []TorrentState{StateFetchingMetadata, StateChecking, StateDownloading, StateUnknown}
	for _, s := range active {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestDisplayFallback(t *testing.T) {
	if got := TorrentState("bogus").Display(); got != "Unknown" {
		t.Errorf("Expected Unknown for unrecognized state, got %q", got)
	}
	if got := StateDownloading.Display(); got != "Downloading" {
		t.Errorf("Expected Downloading, got %q", got)
	}
}

func TestDisplayName(t *testing.T) {
	task := Task{}
	if got := task.DisplayName(); got != "Unknown" {
		t.Errorf("Expected Unknown for unresolved name, got %q", got)
	}
	task.Name = "Ubuntu ISO"
	if got := task.DisplayName(); got != "Ubuntu ISO" {
		t.Errorf("Expected Ubuntu ISO, got %q", got)
	}
}
