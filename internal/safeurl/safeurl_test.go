package safeurl

import "testing"

func TestIsHTTPOrHTTPS(t *testing.T) {
	tests := []struct {
		url   string
		allow bool
	}{
		{"http://example.com/", true},
		{"https://example.com/path", true},
		{"HTTP://x", true},
		{"HTTPS://x", true},
		{"file:///etc/passwd", false},
		{"ftp://example.com", false},
		{"", false},
		{"not-a-url", false},
		{"javascript:alert(1)", false},
	}
	for _, tt := range tests {
		got := IsHTTPOrHTTPS(tt.url)
		if got != tt.allow {
			t.Errorf("IsHTTPOrHTTPS(%q) = %v, want %v", tt.url, got, tt.allow)
		}
	}
}

func TestIsStreamURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"http://host/path", true},
		{"rtsp://host:554/x", true},
		{"https://cdn.portal.example:8080/live/123.ts?token=abc", true},
		{"rtmp://10.0.0.5/live", true},
		{"mms://media_srv.example/stream", true},
		{"custom://box/ch/1", true},
		{"http://[2001:db8::1]:8000/a", true},
		{"http://bücher.example/x", true},
		{"not-a-url", false},
		{"", false},
		{"ffmpeg http://host/x", false},
		{"ftp://host/file", false},
		{"http:///path", false},
		{"http://-bad.example/", false},
		{"http://host:port/", false},
		{"/media/file_12.mpg", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := IsStreamURL(tt.url); got != tt.want {
				t.Errorf("IsStreamURL(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}
