package services

import (
	"reflect"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		url     string
		warning string
	}{
		{"https://www.storytel.com/pl/books/valid-1", ""},
		{"https://mofibo.dk/book/1", ""},
		{"https://www.scribd.com/audiobook/123", ""},
		{"http://ereolen.dk/ting/object/example", ""},
		{"not-a-url", WarningInvalidURL},
		{"ftp://storytel.com/x", WarningInvalidURL},
		{"https://storytel.com/has space", WarningInvalidURL},
		{"https://example.com/book", WarningUnsupported},
		{"http://localhost:8000/x", WarningUnsupported},
	}

	for _, test := range tests {
		w := Validate(test.url)
		switch {
		case test.warning == "" && w != nil:
			t.Errorf("Validate(%q) = %+v, expected accepted", test.url, w)
		case test.warning != "" && (w == nil || w.Warning != test.warning):
			t.Errorf("Validate(%q) = %+v, expected %q", test.url, w, test.warning)
		case w != nil && w.URL != test.url:
			t.Errorf("warning must reference the url, got %q", w.URL)
		}
	}
}

func TestValidate_TruncatesLongURL(t *testing.T) {
	long := "bad" + strings.Repeat("x", 300)
	w := Validate(long)
	if w == nil {
		t.Fatal("expected warning")
	}
	if len(w.Message) > len("Skipped invalid URL: ")+maxEchoedURL {
		t.Errorf("message too long: %d", len(w.Message))
	}
}

func TestDetect(t *testing.T) {
	s, ok := Detect("https://www.storytel.com/pl/books/x")
	if !ok || s.ID != "storytel" {
		t.Fatalf("Detect = %+v, %v", s, ok)
	}
	if _, ok := Detect("https://storytel"); ok {
		t.Error("single label host must not match")
	}
}

func TestAllAndLookup(t *testing.T) {
	all := All()
	if len(all) != 7 {
		t.Fatalf("expected 7 services, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].ID >= all[i].ID {
			t.Fatal("services must be sorted by id")
		}
	}
	s, ok := Lookup("Storytel")
	if !ok || !s.RequiresShelf || s.ID != "storytel" {
		t.Errorf("Lookup = %+v, %v", s, ok)
	}
	if _, ok := Lookup("audible"); ok {
		t.Error("audible is not supported")
	}
}

func TestSplitURLs(t *testing.T) {
	got := SplitURLs("  https://a.storytel.com/1 \n\n\r\nnot-a-url\r\n")
	expected := []string{"https://a.storytel.com/1", "not-a-url"}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("SplitURLs = %q, expected %q", got, expected)
	}
}
