package engine

import "testing"

func TestIsMagnet(t *testing.T) {
	if !IsMagnet("magnet:?xt=urn:btih:abcdef") {
		t.Error("magnet URI not recognized")
	}
	if IsMagnet("https://example.com/file.torrent") {
		t.Error("URL misclassified as magnet")
	}
	if IsMagnet("/tmp/file.torrent") {
		t.Error("path misclassified as magnet")
	}
}

func TestIsTorrentURL(t *testing.T) {
	if !IsTorrentURL("https://example.com/file.torrent") {
		t.Error("https URL not recognized")
	}
	if !IsTorrentURL("http://example.com/file.torrent") {
		t.Error("http URL not recognized")
	}
	if IsTorrentURL("magnet:?xt=urn:btih:abcdef") {
		t.Error("magnet misclassified as URL")
	}
	if IsTorrentURL("/tmp/file.torrent") {
		t.Error("path misclassified as URL")
	}
}
