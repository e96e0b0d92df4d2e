package uploader

import "testing"

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix   string
		rel      string
		expected string
	}{
		{"", "Jane Doe/Book One.m4b", "Jane Doe/Book One.m4b"},
		{"audiobooks/", "Book.m4b", "audiobooks/Book.m4b"},
		{"/a/b/", "x/../y.mp3", "a/b/y.mp3"},
		{"", "../../etc/passwd.m4b", "etc/passwd.m4b"},
	}
	for _, test := range tests {
		if got := ObjectKey(test.prefix, test.rel); got != test.expected {
			t.Errorf("ObjectKey(%q, %q) = %q, expected %q", test.prefix, test.rel, got, test.expected)
		}
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"Book.M4B":     "audio/mp4",
		"a/part1.m4a":  "audio/mp4",
		"Book.mp3":     "audio/mpeg",
		"cover.jpg":    "application/octet-stream",
		"no-extension": "application/octet-stream",
	}
	for in, expected := range tests {
		if got := ContentType(in); got != expected {
			t.Errorf("ContentType(%q) = %q, expected %q", in, got, expected)
		}
	}
}

func TestObsUploader_SatisfiesUploader(t *testing.T) {
	var _ Uploader = (*ObsUploader)(nil)
}
