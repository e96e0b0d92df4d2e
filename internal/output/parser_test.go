package output

import (
	"reflect"
	"strings"
	"testing"
)

func feedAll(lines []string) (*State, []Event) {
	s := NewState()
	var events []Event
	for _, l := range lines {
		events = append(events, s.Feed(Line{Stream: StreamStdout, Text: l})...)
	}
	return s, events
}

func progressOf(events []Event) []int {
	var out []int
	for _, e := range events {
		if e.Kind == KindProgress {
			out = append(out, e.Progress)
		}
	}
	return out
}

func TestFeed_ProgressNeverRegresses(t *testing.T) {
	_, events := feedAll([]string{"10%", "45%", "30%"})
	got := progressOf(events)
	expected := []int{10, 45, 45}
	if !reflect.DeepEqual(got, expected) {
		t.Fatalf("progress = %v, expected %v", got, expected)
	}
}

func TestFeed_StageTable(t *testing.T) {
	tests := []struct {
		name     string
		lines    []string
		progress int
		message  string
	}{
		{"login", []string{"Authenticating with storytel"}, 10, "Authenticating with service..."},
		{"first download line", []string{"Downloading part 1"}, 20, "Downloading audiobook files..."},
		{"download steps", []string{"Downloading part 1", "Downloading part 2", "Downloading part 3"}, 30, "Downloading audiobook files..."},
		{"combine", []string{"Combining files"}, 75, "Combining audio files..."},
		{"chapters", []string{"Adding chapter markers"}, 85, "Adding chapter information..."},
		{"saving", []string{"Saving output"}, 90, "Saving audiobook..."},
		{"finished", []string{"All finished"}, 95, "Finalizing..."},
		{"percent wins over stage", []string{"Downloading 37.5%"}, 37, "Downloading audiobook files..."},
		{"percent clamped", []string{"150%"}, 100, "150%"},
	}

	for _, test := range tests {
		s, _ := feedAll(test.lines)
		if s.Progress != test.progress {
			t.Errorf("%s: progress = %d, expected %d", test.name, s.Progress, test.progress)
		}
		if s.Stage != test.message {
			t.Errorf("%s: stage = %q, expected %q", test.name, s.Stage, test.message)
		}
	}
}

func TestFeed_DownloadStepCapsAt70(t *testing.T) {
	lines := make([]string, 30)
	for i := range lines {
		lines[i] = "downloading chunk"
	}
	s, _ := feedAll(lines)
	if s.Progress != 70 {
		t.Fatalf("expected progress capped at 70, got %d", s.Progress)
	}
}

func TestFeed_UnrecognisedLineBecomesMessage(t *testing.T) {
	long := strings.Repeat("é", 150)
	s, events := feedAll([]string{long})
	if len(events) != 1 || events[0].Kind != KindStage {
		t.Fatalf("expected a single stage event, got %+v", events)
	}
	if n := len([]rune(s.Stage)); n != maxMessageRunes {
		t.Errorf("expected message truncated to %d runes, got %d", maxMessageRunes, n)
	}
	if s.Progress != 0 {
		t.Errorf("unrecognised line must not move progress, got %d", s.Progress)
	}
}

func TestFeed_MetadataFields(t *testing.T) {
	s, events := feedAll([]string{"Title: Book One", "Authors: Jane Doe", "Series: Saga"})
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for _, e := range events {
		if e.Kind != KindMetadata {
			t.Errorf("expected metadata event, got %s", e.Kind)
		}
	}
	expected := map[string]string{"title": "Book One", "author": "Jane Doe", "series": "Saga"}
	if !reflect.DeepEqual(s.Fields, expected) {
		t.Errorf("fields = %v, expected %v", s.Fields, expected)
	}
}

func TestFeed_IsDeterministic(t *testing.T) {
	lines := []string{"Login ok", "Downloading 1/3", "42%", "Title: X", "Saved to: /tmp/a/X.m4b", "done"}
	_, a := feedAll(lines)
	_, b := feedAll(lines)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("same input produced different event sequences")
	}
}

func TestExtractPaths(t *testing.T) {
	tests := []struct {
		line     string
		expected []string
	}{
		{`Saved to: "/data/__task_1__/Jane Doe/Book.m4b"`, []string{"/data/__task_1__/Jane Doe/Book.m4b"}},
		{"Writing to /x/y.mp3", []string{"/x/y.mp3"}},
		{`Output: C:\Books\Book.m4b`, []string{`C:\Books\Book.m4b`}},
		{"created Book/part1.m4a in 3s", []string{"Book/part1.m4a"}},
		{"nothing useful here", nil},
		{"Saved to: cover.jpg", nil},
	}

	for _, test := range tests {
		got := extractPaths(test.line)
		if !reflect.DeepEqual(got, test.expected) {
			t.Errorf("extractPaths(%q) = %v, expected %v", test.line, got, test.expected)
		}
	}
}

func TestFinish(t *testing.T) {
	s := NewState()
	s.Feed(Line{Stream: StreamStdout, Text: "Saved to: a.m4b"})
	s.Feed(Line{Stream: StreamStdout, Text: "Saved to: b.m4b"})
	ev := s.Finish(0)
	if ev.Kind != KindCompletion {
		t.Fatalf("expected completion, got %s", ev.Kind)
	}
	if !reflect.DeepEqual(ev.Candidates, []string{"b.m4b", "a.m4b"}) {
		t.Errorf("candidates = %v, latest must come first", ev.Candidates)
	}

	s = NewState()
	s.Feed(Line{Stream: StreamStderr, Text: "WARNING: slow network"})
	s.Feed(Line{Stream: StreamStderr, Text: "ERROR: login failed ERROR: bad password"})
	ev = s.Finish(1)
	if ev.Kind != KindFailure {
		t.Fatalf("expected failure, got %s", ev.Kind)
	}
	if ev.Error != "ERROR: login failed\nERROR: bad password" {
		t.Errorf("unexpected error text %q", ev.Error)
	}

	ev = NewState().Finish(3)
	if ev.Error != "audiobook-dl exited with code 3" {
		t.Errorf("unexpected fallback error %q", ev.Error)
	}
}

func TestFormatErrors(t *testing.T) {
	tests := []struct {
		lines    []string
		expected string
	}{
		{nil, ""},
		{[]string{"WARNING: x"}, ""},
		{[]string{"Traceback", "ERROR: boom"}, "Traceback\nERROR: boom"},
		{[]string{"prefix ERROR: one ERROR: two"}, "ERROR: one\nERROR: two"},
	}
	for _, test := range tests {
		if got := FormatErrors(test.lines); got != test.expected {
			t.Errorf("FormatErrors(%q) = %q, expected %q", test.lines, got, test.expected)
		}
	}
}

func TestReadLines_SplitsOnCRAndDedupes(t *testing.T) {
	input := "\x1b[32m10%\x1b[0m\r10%\r20%\n\n  \nDone\r\n"
	out := make(chan Line, 16)
	if err := ReadLines(strings.NewReader(input), StreamStdout, out); err != nil {
		t.Fatalf("ReadLines: %v", err)
	}
	close(out)

	var got []string
	for l := range out {
		if l.Stream != StreamStdout {
			t.Errorf("unexpected stream %s", l.Stream)
		}
		got = append(got, l.Text)
	}
	expected := []string{"10%", "20%", "Done"}
	if !reflect.DeepEqual(got, expected) {
		t.Fatalf("lines = %q, expected %q", got, expected)
	}
}

func TestReadLines_OversizedLineDoesNotStopReading(t *testing.T) {
	input := strings.Repeat("x", 2*1024*1024) + "\nTitle: Book\n50%\n"
	out := make(chan Line, 16)
	if err := ReadLines(strings.NewReader(input), StreamStdout, out); err != nil {
		t.Fatalf("ReadLines: %v", err)
	}
	close(out)

	var got []string
	for l := range out {
		got = append(got, l.Text)
	}
	// 切出的各段内容相同，去重后只剩一段
	if len(got) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(got))
	}
	if len(got[0]) != MaxLineBytes {
		t.Errorf("oversized line must be cut at %d bytes, got %d", MaxLineBytes, len(got[0]))
	}
	if got[1] != "Title: Book" || got[2] != "50%" {
		t.Errorf("lines after the oversized one were lost: %q", got[1:])
	}
}

func TestSplitLines_CutsAtMaxLineBytes(t *testing.T) {
	data := []byte(strings.Repeat("a", MaxLineBytes+10) + "\n")
	advance, token, err := SplitLines(data, false)
	if err != nil || advance != MaxLineBytes || len(token) != MaxLineBytes {
		t.Fatalf("SplitLines = %d, %d bytes, %v", advance, len(token), err)
	}
	advance, token, _ = SplitLines(data[advance:], false)
	if advance != 11 || string(token) != "aaaaaaaaaa" {
		t.Errorf("remainder = %d, %q", advance, token)
	}
}
