package composer

import (
	"bytes"
	"runtime"
	"strings"
	"testing"
)

func TestReadBody(t *testing.T) {
	t.Parallel()

	body, err := ReadBody(strings.NewReader("line one\nline two\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body != "line one\nline two\n" {
		t.Errorf("body: got %q", body)
	}
}

func TestSeed(t *testing.T) {
	t.Parallel()

	if got := Seed("Hello"); got != "Subject: Hello\n\n" {
		t.Errorf("Seed: got %q", got)
	}
	if got := Seed(""); got != "Subject: \n\n" {
		t.Errorf("Seed with empty subject: got %q", got)
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		draft         string
		wantSubject   string
		wantBody      string
		wantCancelled bool
	}{
		{
			name:        "subject and body",
			draft:       "Subject: Hi there\n\nHello,\nWorld.\n",
			wantSubject: "Hi there",
			wantBody:    "Hello,\nWorld.\n",
		},
		{
			name:        "body without blank separator",
			draft:       "Subject: Hi\nHello.\n",
			wantSubject: "Hi",
			wantBody:    "Hello.\n",
		},
		{
			name:        "no subject header",
			draft:       "just a body\n",
			wantSubject: "",
			wantBody:    "just a body\n",
		},
		{
			name:        "subject only",
			draft:       "Subject: ping\n\n",
			wantSubject: "ping",
			wantBody:    "",
		},
		{
			name:          "empty draft cancels",
			draft:         "",
			wantCancelled: true,
		},
		{
			name:          "blank draft cancels",
			draft:         "Subject: \n\n  \n",
			wantCancelled: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Parse(tt.draft)
			if got.Cancelled != tt.wantCancelled {
				t.Fatalf("Cancelled: got %v, want %v", got.Cancelled, tt.wantCancelled)
			}
			if tt.wantCancelled {
				return
			}
			if got.Subject != tt.wantSubject {
				t.Errorf("Subject: got %q, want %q", got.Subject, tt.wantSubject)
			}
			if got.Body != tt.wantBody {
				t.Errorf("Body: got %q, want %q", got.Body, tt.wantBody)
			}
		})
	}
}

func TestCompose_UnchangedDraftCancels(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("editor spawning requires sh")
	}

	// An editor that exits without touching the draft.
	t.Setenv("VISUAL", "true")

	composed, err := Compose("unchanged")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !composed.Cancelled {
		t.Error("Cancelled: got false, want true for an untouched draft")
	}
}

func TestCompose_EditedDraft(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("editor spawning requires sh")
	}

	// An editor that appends a body line to the draft.
	t.Setenv("VISUAL", `sh -c 'printf "edited body\n" >> "$0"'`)

	composed, err := Compose("Status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if composed.Cancelled {
		t.Fatal("Cancelled: got true, want false for an edited draft")
	}
	if composed.Subject != "Status" {
		t.Errorf("Subject: got %q, want %q", composed.Subject, "Status")
	}
	if composed.Body != "edited body\n" {
		t.Errorf("Body: got %q, want %q", composed.Body, "edited body\n")
	}
}

func TestConfirm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "y accepts", input: "y\n", want: true},
		{name: "yes accepts", input: "yes\n", want: true},
		{name: "uppercase Y accepts", input: "Y\n", want: true},
		{name: "n declines", input: "n\n", want: false},
		{name: "empty line declines", input: "\n", want: false},
		{name: "eof declines", input: "", want: false},
		{name: "anything else declines", input: "sure\n", want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var out bytes.Buffer
			got := Confirm(strings.NewReader(tt.input), &out, []string{"a@example.com", "b@example.com"})
			if got != tt.want {
				t.Errorf("Confirm(%q): got %v, want %v", tt.input, got, tt.want)
			}
			if !strings.Contains(out.String(), "a@example.com, b@example.com") {
				t.Errorf("prompt missing recipients: %q", out.String())
			}
		})
	}
}
