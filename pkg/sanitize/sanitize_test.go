package sanitize

import "testing"

func TestFilename(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "report.pdf", "report.pdf"},
		{"newlines stripped", "evil\r\nContent-Type: text/html", "evilContent-Type: text/html"},
		{"quotes stripped", `photo".jpg`, "photo.jpg"},
		{"path separators stripped", "../../etc/passwd", "etcpasswd"},
		{"null bytes stripped", "doc\x00.txt", "doc.txt"},
		{"empty falls back", "", "download"},
		{"dots trimmed", "...hidden...", "hidden"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Filename(tc.input); got != tc.want {
				t.Errorf("Filename(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestFilenameTruncatesLongNames(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	got := Filename(string(long))
	if len(got) != 200 {
		t.Errorf("len = %d, want 200", len(got))
	}
}

func TestForHeaderReplacesNonASCII(t *testing.T) {
	if got := ForHeader("résumé.pdf"); got != "r_sum_.pdf" {
		t.Errorf("ForHeader = %q, want r_sum_.pdf", got)
	}
}
